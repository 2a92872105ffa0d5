package columns

import "strings"

// Role is a semantic column role the validation engine cares about.
type Role string

const (
	RoleSpecialty      Role = "specialty"
	RoleProviderType   Role = "provider_type"
	RoleRegion         Role = "region"
	RoleVariable       Role = "variable"
	RoleOrgCount       Role = "n_orgs"
	RoleIncumbentCount Role = "n_incumbents"
	RoleCompensation   Role = "compensation"
)

// roleOrder fixes the priority when a single header could satisfy more
// than one role. Identity roles win over counts and compensation.
var roleOrder = []Role{
	RoleSpecialty,
	RoleProviderType,
	RoleRegion,
	RoleVariable,
	RoleOrgCount,
	RoleIncumbentCount,
	RoleCompensation,
}

// roleAliases holds the accepted spellings per role. Matching is
// case-insensitive and treats underscores as spaces, so "provider_type"
// and "Provider Type" land on the same alias.
var roleAliases = map[Role][]string{
	RoleSpecialty: {
		"specialty",
		"specialty name",
		"medical specialty",
		"specialty_name",
	},
	RoleProviderType: {
		"provider type",
		"provider_type",
		"provider",
		"staff type",
		"job type",
	},
	RoleRegion: {
		"region",
		"geographic region",
		"geographic_region",
		"geography",
	},
	RoleVariable: {
		"variable",
		"benchmark",
		"metric",
		"measure",
		"variable name",
	},
	RoleOrgCount: {
		"n_orgs",
		"n orgs",
		"group count",
		"org count",
	},
	RoleIncumbentCount: {
		"n_incumbents",
		"n incumbents",
		"indv count",
		"incumbent count",
		"n_providers",
	},
	RoleCompensation: {
		"compensation",
		"total compensation",
		"total cash",
		"tcc",
		"salary",
		"annual salary",
	},
}

// normalizeHeader prepares a header for alias and pattern matching:
// lowercase, underscores as spaces, collapsed whitespace.
func normalizeHeader(header string) string {
	s := strings.ToLower(strings.TrimSpace(header))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

// MatchesRole reports whether a header satisfies the given role, either
// exactly or by containing one of the role's aliases.
func MatchesRole(header string, role Role) bool {
	return matchesNormalized(normalizeHeader(header), role)
}

func matchesNormalized(norm string, role Role) bool {
	if norm == "" {
		return false
	}
	for _, alias := range roleAliases[role] {
		a := normalizeHeader(alias)
		if norm == a || strings.Contains(norm, a) {
			return true
		}
	}
	return false
}
