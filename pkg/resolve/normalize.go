// Package resolve reconciles observed mentions against existing graph
// nodes: identifier-first matching with a fuzzy-name fallback weighted
// by jurisdiction, address and shared-director signals.
package resolve

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes is the fixed list of legal-form suffixes stripped
// during name normalization. Order does not matter; stripping repeats
// until no suffix applies, so normalization is idempotent.
var legalSuffixes = []string{
	"inc", "incorporated", "ltd", "limited", "llc", "llp", "lp", "plc",
	"corp", "corporation", "co", "company", "foundation", "fund",
	"society", "association", "assn", "ulc", "sencrl", "srl",
}

var suffixSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(legalSuffixes))
	for _, s := range legalSuffixes {
		m[s] = struct{}{}
	}
	return m
}()

// foldTransformer strips diacritics: NFD decomposition, drop combining
// marks, recompose.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases, strips diacritics and punctuation, and
// removes trailing legal-form suffixes. Idempotent.
func NormalizeName(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '.' || r == ',' || r == '&' || r == '/':
			b.WriteByte(' ')
		}
	}
	tokens := strings.Fields(b.String())
	for len(tokens) > 1 {
		last := tokens[len(tokens)-1]
		if _, ok := suffixSet[last]; !ok {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// PostalPrefix returns the comparison prefix of a postal code: the
// first three characters, uppercased. Covers Canadian FSAs and US ZIP3.
func PostalPrefix(postal string) string {
	p := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(postal), " ", ""))
	if len(p) < 3 {
		return p
	}
	return p[:3]
}
