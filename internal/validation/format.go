package validation

import (
	"fmt"
	"strings"

	"github.com/compdesk/survey-intake/internal/columns"
	"github.com/compdesk/survey-intake/internal/normalize"
)

// runFormatChecks is the tier-2 pass: cell-level format problems that
// warn but never block.
func runFormatChecks(rows [][]string, mapping columns.Mapping) []Issue {
	var issues []Issue
	issues = append(issues, checkNumericColumns(rows, mapping)...)
	issues = append(issues, checkRequiredValues(rows, mapping)...)
	return issues
}

// checkNumericColumns verifies every percentile cell parses as a number
// once formatting is stripped. Empty cells and vendor markers pass. Each
// column gets at most one issue, carrying all offending rows and the
// first five distinct raw values.
func checkNumericColumns(rows [][]string, mapping columns.Mapping) []Issue {
	var issues []Issue
	for _, col := range mapping.Percentiles {
		var offending []int
		var samples []string
		seen := make(map[string]bool)

		for i, row := range rows {
			if col.Index >= len(row) {
				continue
			}
			cell := row[col.Index]
			if normalize.IsValidNumber(cell) {
				continue
			}
			offending = append(offending, i+2)
			if !seen[cell] {
				seen[cell] = true
				if len(samples) < maxListedNumbers {
					samples = append(samples, cell)
				}
			}
		}
		if len(offending) == 0 {
			continue
		}

		issues = append(issues, Issue{
			Severity:        SeverityWarning,
			Tier:            TierFormat,
			Category:        CategoryNonNumeric,
			Message:         fmt.Sprintf("Column %q contains %d non-numeric values in rows %s (examples: %s)", col.Name, len(offending), formatNumberList(offending), formatValueList(samples)),
			AffectedRows:    offending,
			AffectedColumns: []string{col.Name},
			FixInstructions: []string{
				"Use plain numbers or formatted values such as $120,000 or 15%",
				"Suppressed figures may use vendor markers like N/A, ISD or *",
			},
		})
	}
	return issues
}

// checkRequiredValues flags empty cells in required role columns, one
// issue per role. The variable column's values are never checked against
// a vocabulary; vendors introduce new variable names yearly, so only
// presence and non-emptiness matter.
func checkRequiredValues(rows [][]string, mapping columns.Mapping) []Issue {
	var issues []Issue
	for _, role := range mapping.RequiredRoles() {
		match, ok := mapping.Roles[role]
		if !ok {
			continue
		}

		var offending []int
		for i, row := range rows {
			if match.Index >= len(row) || strings.TrimSpace(row[match.Index]) == "" {
				offending = append(offending, i+2)
			}
		}
		if len(offending) == 0 {
			continue
		}

		issues = append(issues, Issue{
			Severity:        SeverityWarning,
			Tier:            TierFormat,
			Category:        CategoryMissingValues,
			Message:         fmt.Sprintf("Column %q has empty values in %d rows: %s", match.Name, len(offending), formatNumberList(offending)),
			AffectedRows:    offending,
			AffectedColumns: []string{match.Name},
			FixInstructions: []string{"Fill in the empty cells or remove incomplete rows"},
		})
	}
	return issues
}
