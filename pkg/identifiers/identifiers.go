// Package identifiers validates and normalizes the stable external
// identifiers that serve as node merge keys: EIN, BN, CIK, Canadian
// corporation numbers and Meta page ids.
package identifiers

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidEIN = errors.New("invalid EIN")
	ErrInvalidBN  = errors.New("invalid business number")
	ErrInvalidCIK = errors.New("invalid CIK")
)

var (
	einPattern     = regexp.MustCompile(`^\d{2}-?\d{7}$`)
	bnPattern      = regexp.MustCompile(`^\d{9}(RR\d{4})?$`)
	digitsOnly     = regexp.MustCompile(`^\d+$`)
	nonAlnum       = regexp.MustCompile(`[^0-9A-Za-z]`)
)

// NormalizeEIN returns an EIN in canonical "NN-NNNNNNN" form.
func NormalizeEIN(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !einPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEIN, raw)
	}
	s = strings.ReplaceAll(s, "-", "")
	return s[:2] + "-" + s[2:], nil
}

// NormalizeBN returns a CRA business number in canonical
// "#########RR####" form. A bare 9-digit BN gets the default RR0001
// charity program account appended.
func NormalizeBN(raw string) (string, error) {
	s := strings.ToUpper(nonAlnum.ReplaceAllString(strings.TrimSpace(raw), ""))
	if !bnPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBN, raw)
	}
	if len(s) == 9 {
		s += "RR0001"
	}
	return s, nil
}

// NormalizeCIK zero-pads an SEC central index key to ten digits, the
// form EDGAR's submissions API uses.
func NormalizeCIK(raw string) (string, error) {
	s := strings.TrimLeft(strings.TrimSpace(raw), "0")
	if s == "" || !digitsOnly.MatchString(s) || len(s) > 10 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCIK, raw)
	}
	return fmt.Sprintf("%010s", s), nil
}

// SanitizeKeyPart makes an identifier safe for use inside an
// object-store key: non-alphanumerics collapse to underscores.
func SanitizeKeyPart(raw string) string {
	s := nonAlnum.ReplaceAllString(strings.TrimSpace(raw), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}
