package normalize

import (
	"math"
	"strconv"
	"strings"
)

// Vendor publications mark suppressed or unavailable figures with a small
// set of placeholder tokens. These count as valid cell values even though
// they carry no numeric payload.
var vendorMarkerTokens = map[string]bool{
	"isd":                      true,
	"n/a":                      true,
	"na":                       true,
	"--":                       true,
	"---":                      true,
	"----":                     true,
	"n/a (isd)":                true,
	"na (isd)":                 true,
	"insufficient sample data": true,
	"insufficient data":        true,
}

const maxStarRun = 10

var currencySymbols = map[rune]bool{
	'$': true,
	'€': true,
	'£': true,
	'¥': true,
	'₹': true,
}

// IsVendorMarker reports whether the value is a recognized suppression
// marker such as "*", "N/A" or "Insufficient Sample Data".
func IsVendorMarker(value string) bool {
	s := strings.TrimSpace(value)
	if s == "" {
		return false
	}

	if run := starRun(s); run > 0 && run <= maxStarRun {
		return true
	}

	return vendorMarkerTokens[strings.ToLower(s)]
}

// starRun returns the length of the value when it consists entirely of
// '*' characters, and 0 otherwise.
func starRun(s string) int {
	for _, r := range s {
		if r != '*' {
			return 0
		}
	}
	return len(s)
}

// ParseFormattedNumber extracts the numeric magnitude from a formatted
// cell value. One leading currency symbol is dropped, percent signs and
// thousands separators are stripped, and interior whitespace is removed.
// "89.00%" parses to 89, not 0.89. Blank values and vendor markers return
// NaN, as does anything that still fails to parse after cleanup.
func ParseFormattedNumber(value string) float64 {
	s := strings.TrimSpace(value)
	if s == "" || IsVendorMarker(s) {
		return math.NaN()
	}

	runes := []rune(s)
	if currencySymbols[runes[0]] {
		s = string(runes[1:])
	}

	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return math.NaN()
	}

	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return parsed
}

// IsValidNumber reports whether a cell value is acceptable in a numeric
// column. Empty cells and vendor markers are valid. Everything else must
// survive ParseFormattedNumber.
func IsValidNumber(value string) bool {
	s := strings.TrimSpace(value)
	if s == "" {
		return true
	}
	if IsVendorMarker(s) {
		return true
	}
	return !math.IsNaN(ParseFormattedNumber(s))
}
