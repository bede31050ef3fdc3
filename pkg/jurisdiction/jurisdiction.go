// Package jurisdiction holds the fixed jurisdiction code tables used
// across adapters and the graph writer. Codes are ISO 3166-1 alpha-2
// country codes, optionally suffixed with a region ("CA-ON").
package jurisdiction

import "strings"

// Canadian province and territory codes, keyed by the two-letter suffix
// of a "CA-XX" jurisdiction code.
var canadianRegions = map[string]string{
	"AB": "Alberta",
	"BC": "British Columbia",
	"MB": "Manitoba",
	"NB": "New Brunswick",
	"NL": "Newfoundland and Labrador",
	"NS": "Nova Scotia",
	"NT": "Northwest Territories",
	"NU": "Nunavut",
	"ON": "Ontario",
	"PE": "Prince Edward Island",
	"QC": "Quebec",
	"SK": "Saskatchewan",
	"YT": "Yukon",
}

// secCanadianCodes is SEC EDGAR's fixed stateOfIncorporation table for
// Canadian jurisdictions. EDGAR encodes Canadian provinces as A0..A9,
// B0..B2; the literal "CANADA" also appears in older filings. The
// two-letter code "CA" is California, never Canada.
var secCanadianCodes = map[string]string{
	"A0": "CA-AB", // Alberta
	"A1": "CA-BC", // British Columbia
	"A2": "CA-MB", // Manitoba
	"A3": "CA-NB", // New Brunswick
	"A4": "CA-NL", // Newfoundland and Labrador
	"A5": "CA-NS", // Nova Scotia
	"A6": "CA-ON", // Ontario
	"A7": "CA-PE", // Prince Edward Island
	"A8": "CA-QC", // Quebec
	"A9": "CA-SK", // Saskatchewan
	"B0": "CA-YT", // Yukon
	"B1": "CA-NT", // Northwest Territories
	"B2": "CA-NU", // Nunavut
	"CANADA": "CA",
}

// Normalize uppercases a jurisdiction code and strips whitespace.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Country returns the ISO country portion of a jurisdiction code.
func Country(code string) string {
	code = Normalize(code)
	if i := strings.IndexByte(code, '-'); i > 0 {
		return code[:i]
	}
	return code
}

// IsCanadian reports whether a jurisdiction code denotes Canada or a
// Canadian province. This lookup is the only source of the is_canadian
// flag on organizations; names are never inspected.
func IsCanadian(code string) bool {
	return Country(code) == "CA"
}

// FromSECState maps an EDGAR stateOfIncorporation code to a jurisdiction
// code. Canadian filings map to "CA" through the fixed A0..B2/CANADA
// table; anything else is a US state and the code passes through as-is,
// so "CA" stays California.
func FromSECState(state string) (jurisdiction string, canadian bool) {
	state = Normalize(state)
	if _, ok := secCanadianCodes[state]; ok {
		return "CA", true
	}
	return state, false
}

// SECProvince returns the "CA-XX" province code behind an EDGAR Canadian
// state code, or "" when the code is not Canadian (or is bare "CANADA").
func SECProvince(state string) string {
	j := secCanadianCodes[Normalize(state)]
	if j == "CA" {
		return ""
	}
	return j
}

// RegionName returns the Canadian province/territory name for a "CA-XX"
// code, or "" when the code is not a Canadian region.
func RegionName(code string) string {
	code = Normalize(code)
	if !strings.HasPrefix(code, "CA-") {
		return ""
	}
	return canadianRegions[strings.TrimPrefix(code, "CA-")]
}
