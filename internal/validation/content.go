package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/compdesk/survey-intake/internal/columns"
	"github.com/compdesk/survey-intake/internal/normalize"
)

// runContentChecks is the tier-3 pass: data-quality signals that are
// informational only.
func runContentChecks(rows [][]string, mapping columns.Mapping) []Issue {
	var issues []Issue
	issues = append(issues, checkPercentileOrder(rows, mapping)...)
	issues = append(issues, checkNonPositive(rows, mapping)...)
	issues = append(issues, checkDuplicateRows(rows)...)
	issues = append(issues, checkAmbiguousRoles(mapping)...)
	return issues
}

// checkPercentileOrder flags rows where the 50th percentile exceeds the
// 90th. Runs only when both columns exist, and only over rows where both
// cells parse.
func checkPercentileOrder(rows [][]string, mapping columns.Mapping) []Issue {
	p50, ok50 := mapping.PercentileFor(50)
	p90, ok90 := mapping.PercentileFor(90)
	if !ok50 || !ok90 {
		return nil
	}

	var offending []int
	for i, row := range rows {
		if p50.Index >= len(row) || p90.Index >= len(row) {
			continue
		}
		v50 := normalize.ParseFormattedNumber(row[p50.Index])
		v90 := normalize.ParseFormattedNumber(row[p90.Index])
		if math.IsNaN(v50) || math.IsNaN(v90) {
			continue
		}
		if v50 > v90 {
			offending = append(offending, i+2)
		}
	}
	if len(offending) == 0 {
		return nil
	}

	return []Issue{{
		Severity:        SeverityInfo,
		Tier:            TierContent,
		Category:        CategoryPercentileOrder,
		Message:         fmt.Sprintf("50th percentile exceeds 90th percentile (%q > %q) in %d rows: %s", p50.Name, p90.Name, len(offending), formatNumberList(offending)),
		AffectedRows:    offending,
		AffectedColumns: []string{p50.Name, p90.Name},
		FixInstructions: []string{"Check the highlighted rows for transposed percentile values"},
	}}
}

// checkNonPositive flags parsed percentile values at or below zero, one
// issue per column.
func checkNonPositive(rows [][]string, mapping columns.Mapping) []Issue {
	var issues []Issue
	for _, col := range mapping.Percentiles {
		var offending []int
		for i, row := range rows {
			if col.Index >= len(row) {
				continue
			}
			v := normalize.ParseFormattedNumber(row[col.Index])
			if !math.IsNaN(v) && v <= 0 {
				offending = append(offending, i+2)
			}
		}
		if len(offending) == 0 {
			continue
		}

		issues = append(issues, Issue{
			Severity:        SeverityInfo,
			Tier:            TierContent,
			Category:        CategoryNonPositive,
			Message:         fmt.Sprintf("Column %q has non-positive values in %d rows: %s", col.Name, len(offending), formatNumberList(offending)),
			AffectedRows:    offending,
			AffectedColumns: []string{col.Name},
			FixInstructions: []string{"Verify the highlighted values; percentile benchmarks are expected to be positive"},
		})
	}
	return issues
}

// checkDuplicateRows finds rows that are exact duplicates of each other,
// order-sensitive over the full cell array. Row numbers here are 1-based
// data-row positions. All duplicate sets share one issue.
func checkDuplicateRows(rows [][]string) []Issue {
	groups := make(map[string][]int)
	var order []string

	for i, row := range rows {
		encoded, err := json.Marshal(row)
		if err != nil {
			continue
		}
		key := string(encoded)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i+1)
	}

	var sets [][]int
	for _, key := range order {
		if len(groups[key]) > 1 {
			sets = append(sets, groups[key])
		}
	}
	if len(sets) == 0 {
		return nil
	}

	const maxSampleGroups = 3
	var samples []string
	for i, set := range sets {
		if i == maxSampleGroups {
			break
		}
		samples = append(samples, "rows "+formatNumberList(set))
	}

	var union []int
	for _, set := range sets {
		union = append(union, set...)
	}
	sort.Ints(union)

	noun := "sets"
	if len(sets) == 1 {
		noun = "set"
	}

	return []Issue{{
		Severity:        SeverityInfo,
		Tier:            TierContent,
		Category:        CategoryDuplicateRows,
		Message:         fmt.Sprintf("%d duplicate row %s found (%s)", len(sets), noun, strings.Join(samples, "; ")),
		AffectedRows:    union,
		FixInstructions: []string{"Remove or merge the duplicated rows"},
	}}
}

// checkAmbiguousRoles reports roles that several headers satisfied. The
// first matching column is the one in use; the extras are listed so the
// choice is visible, one issue per role in role-name order.
func checkAmbiguousRoles(mapping columns.Mapping) []Issue {
	if len(mapping.Ambiguous) == 0 {
		return nil
	}

	roles := make([]string, 0, len(mapping.Ambiguous))
	for role := range mapping.Ambiguous {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)

	var issues []Issue
	for _, role := range roles {
		extras := mapping.Ambiguous[columns.Role(role)]
		chosen := mapping.Roles[columns.Role(role)]
		issues = append(issues, Issue{
			Severity:        SeverityInfo,
			Tier:            TierContent,
			Category:        CategoryAmbiguousColumns,
			Message:         fmt.Sprintf("Multiple columns match the %s role; using %q and ignoring %s", role, chosen.Name, formatValueList(extras)),
			AffectedColumns: append([]string{chosen.Name}, extras...),
			FixInstructions: []string{"Rename or remove the extra columns if only one was intended"},
		})
	}
	return issues
}
