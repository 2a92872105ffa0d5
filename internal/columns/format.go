package columns

import (
	"regexp"
	"strings"
)

// Format is the detected layout family of an uploaded table.
type Format string

const (
	// FormatWide is the legacy layout: one row per specialty with fixed
	// percentile columns.
	FormatWide Format = "wide"
	// FormatWideVariable carries several variables per row through
	// family-prefixed percentile columns such as tcc_p25 or wrvu_p90.
	FormatWideVariable Format = "wide-variable"
	// FormatNormalized is the long layout: one row per
	// specialty/variable combination with a variable column and counts.
	FormatNormalized Format = "normalized"
)

// PercentileLevels lists the percentiles a survey table can carry, in
// the order columns are probed.
var PercentileLevels = []int{25, 50, 75, 90}

// percentilePatterns matches the accepted spellings per level against a
// normalized header: p25, 25th, 25th %tile, 25th percentile. Median is an
// alias for the 50th and nothing else.
var percentilePatterns = map[int]*regexp.Regexp{
	25: regexp.MustCompile(`\b(p25|25th)\b`),
	50: regexp.MustCompile(`\b(p50|50th|median)\b`),
	75: regexp.MustCompile(`\b(p75|75th)\b`),
	90: regexp.MustCompile(`\b(p90|90th)\b`),
}

// variableFamilies are the column-name prefixes that mark a
// wide-variable layout, e.g. tcc_p25 / wrvu_p50 / cf_p90.
var variableFamilies = []string{"tcc", "wrvu", "cf"}

// PercentileColumn is one recognized percentile column.
type PercentileColumn struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Level  int    `json:"level"`
	Family string `json:"family,omitempty"`
}

// RoleMatch records which header satisfied a role.
type RoleMatch struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Mapping is the result of matching a header row: which column serves
// which role, which columns are percentiles, and what was left over.
type Mapping struct {
	Format      Format             `json:"format"`
	Roles       map[Role]RoleMatch `json:"roles"`
	Percentiles []PercentileColumn `json:"percentiles"`
	Ambiguous   map[Role][]string  `json:"ambiguous,omitempty"`
	Unknown     []string           `json:"unknown,omitempty"`
}

// IsPercentileColumn reports whether a header names a percentile column.
func IsPercentileColumn(header string) bool {
	_, ok := PercentileLevel(header)
	return ok
}

// PercentileLevel extracts the percentile level (25, 50, 75 or 90) a
// header refers to. Headers matching several levels take the lowest.
func PercentileLevel(header string) (int, bool) {
	norm := normalizeHeader(header)
	if norm == "" {
		return 0, false
	}
	for _, level := range PercentileLevels {
		if percentilePatterns[level].MatchString(norm) {
			return level, true
		}
	}
	return 0, false
}

// percentileFamily extracts the variable-family prefix of a normalized
// percentile header, or "" when the column is unprefixed.
func percentileFamily(norm string) string {
	for _, family := range variableFamilies {
		if strings.HasPrefix(norm, family+" ") {
			return family
		}
	}
	return ""
}

// MapHeaders matches a header row against the known roles and percentile
// families. Percentile detection runs first so "Median TCC" counts as a
// p50 column rather than a compensation column. Every header is consumed
// by at most one match; leftovers are reported as unknown, and extra
// headers for an already-filled role are recorded as ambiguous rather
// than dropped.
func MapHeaders(headers []string) Mapping {
	m := Mapping{
		Roles:     make(map[Role]RoleMatch),
		Ambiguous: make(map[Role][]string),
	}
	consumed := make([]bool, len(headers))

	for i, header := range headers {
		norm := normalizeHeader(header)
		if norm == "" {
			continue
		}
		for _, level := range PercentileLevels {
			if !percentilePatterns[level].MatchString(norm) {
				continue
			}
			m.Percentiles = append(m.Percentiles, PercentileColumn{
				Index:  i,
				Name:   header,
				Level:  level,
				Family: percentileFamily(norm),
			})
			consumed[i] = true
			break
		}
	}

	for i, header := range headers {
		if consumed[i] {
			continue
		}
		norm := normalizeHeader(header)
		if norm == "" {
			continue
		}
		for _, role := range roleOrder {
			if !matchesNormalized(norm, role) {
				continue
			}
			if _, taken := m.Roles[role]; taken {
				m.Ambiguous[role] = append(m.Ambiguous[role], header)
			} else {
				m.Roles[role] = RoleMatch{Index: i, Name: header}
			}
			consumed[i] = true
			break
		}
	}

	for i, header := range headers {
		if !consumed[i] && strings.TrimSpace(header) != "" {
			m.Unknown = append(m.Unknown, header)
		}
	}

	m.Format = detectFormat(m)
	return m
}

// HasRole reports whether a column was assigned to the role.
func (m Mapping) HasRole(role Role) bool {
	_, ok := m.Roles[role]
	return ok
}

// PercentileFor returns the first column carrying the given level.
func (m Mapping) PercentileFor(level int) (PercentileColumn, bool) {
	for _, p := range m.Percentiles {
		if p.Level == level {
			return p, true
		}
	}
	return PercentileColumn{}, false
}

// hasFamilyPercentiles reports whether any percentile column carries a
// variable-family prefix.
func (m Mapping) hasFamilyPercentiles() bool {
	for _, p := range m.Percentiles {
		if p.Family != "" {
			return true
		}
	}
	return false
}

// RequiredRoles lists the roles a table of this format must provide.
// Wide-variable tables encode the variable in column families, so the
// variable role is not required there.
func (m Mapping) RequiredRoles() []Role {
	if m.Format == FormatWideVariable {
		return []Role{RoleSpecialty, RoleProviderType, RoleRegion}
	}
	return []Role{RoleSpecialty, RoleProviderType, RoleRegion, RoleVariable}
}

// MissingRoles lists required roles no header satisfied, in a stable
// order.
func (m Mapping) MissingRoles() []Role {
	var missing []Role
	for _, role := range m.RequiredRoles() {
		if !m.HasRole(role) {
			missing = append(missing, role)
		}
	}
	return missing
}

// detectFormat applies the layout precedence: normalized beats
// wide-variable beats the wide fallback.
func detectFormat(m Mapping) Format {
	hasCount := m.HasRole(RoleOrgCount) || m.HasRole(RoleIncumbentCount)
	if m.HasRole(RoleVariable) && len(m.Percentiles) > 0 && hasCount && m.HasRole(RoleSpecialty) {
		return FormatNormalized
	}
	if m.hasFamilyPercentiles() && m.HasRole(RoleSpecialty) && m.HasRole(RoleProviderType) && m.HasRole(RoleRegion) {
		return FormatWideVariable
	}
	return FormatWide
}
