package validation

import (
	"fmt"
	"strings"

	"github.com/compdesk/survey-intake/internal/columns"
)

// runStructuralChecks is the tier-1 pass. Zero data rows and zero
// headers are absolute preconditions that return immediately; every
// other check runs and contributes issues independently.
func runStructuralChecks(headers []string, rows [][]string, mapping columns.Mapping) []Issue {
	if len(rows) == 0 {
		return []Issue{{
			Severity:        SeverityCritical,
			Tier:            TierStructural,
			Category:        CategoryNoData,
			Message:         "No data rows found in the file",
			FixInstructions: []string{"Add at least one row of data below the header row"},
		}}
	}
	if len(headers) == 0 {
		return []Issue{{
			Severity:        SeverityCritical,
			Tier:            TierStructural,
			Category:        CategoryNoHeaders,
			Message:         "No column headers found",
			FixInstructions: []string{"Add a header row as the first row of the file"},
		}}
	}

	var issues []Issue
	issues = append(issues, checkDuplicateHeaders(headers)...)
	issues = append(issues, checkBlankHeaders(headers)...)
	issues = append(issues, checkMissingRoles(mapping)...)
	issues = append(issues, checkPercentilePresence(mapping)...)
	issues = append(issues, checkRowLengths(headers, rows)...)
	return issues
}

// checkDuplicateHeaders flags header names that appear more than once,
// compared case-insensitively. All duplicated names land on one issue.
func checkDuplicateHeaders(headers []string) []Issue {
	counts := make(map[string]int)
	firstSpelling := make(map[string]string)
	var order []string

	for _, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			continue
		}
		if counts[key] == 0 {
			firstSpelling[key] = strings.TrimSpace(h)
			order = append(order, key)
		}
		counts[key]++
	}

	var duplicated []string
	for _, key := range order {
		if counts[key] > 1 {
			duplicated = append(duplicated, firstSpelling[key])
		}
	}
	if len(duplicated) == 0 {
		return nil
	}

	return []Issue{{
		Severity:        SeverityCritical,
		Tier:            TierStructural,
		Category:        CategoryDuplicateColumns,
		Message:         fmt.Sprintf("Duplicate column headers found: %s", strings.Join(duplicated, ", ")),
		AffectedColumns: duplicated,
		FixInstructions: []string{"Rename or remove the duplicated columns so every header is unique"},
	}}
}

// checkBlankHeaders flags empty header cells by 1-based position.
func checkBlankHeaders(headers []string) []Issue {
	var positions []int
	for i, h := range headers {
		if strings.TrimSpace(h) == "" {
			positions = append(positions, i+1)
		}
	}
	if len(positions) == 0 {
		return nil
	}

	return []Issue{{
		Severity:        SeverityCritical,
		Tier:            TierStructural,
		Category:        CategoryBlankHeaders,
		Message:         fmt.Sprintf("Blank column headers at positions: %s", formatNumberList(positions)),
		FixInstructions: []string{"Give every column a name in the header row"},
	}}
}

// checkMissingRoles flags required roles no header satisfied, using the
// alias-resolved mapping rather than literal header names.
func checkMissingRoles(mapping columns.Mapping) []Issue {
	missing := mapping.MissingRoles()
	if len(missing) == 0 {
		return nil
	}

	names := make([]string, len(missing))
	for i, role := range missing {
		names[i] = string(role)
	}

	return []Issue{{
		Severity:        SeverityCritical,
		Tier:            TierStructural,
		Category:        CategoryMissingColumns,
		Message:         fmt.Sprintf("Missing required columns: %s", strings.Join(names, ", ")),
		AffectedColumns: names,
		FixInstructions: []string{
			"Add the missing columns to the file",
			"Check for misspelled or renamed headers",
		},
	}}
}

// checkPercentilePresence requires at least one recognizable percentile
// column anywhere in the table.
func checkPercentilePresence(mapping columns.Mapping) []Issue {
	if len(mapping.Percentiles) > 0 {
		return nil
	}

	return []Issue{{
		Severity:        SeverityCritical,
		Tier:            TierStructural,
		Category:        CategoryNoPercentiles,
		Message:         "No percentile columns found (expected p25, p50/median, p75 or p90)",
		FixInstructions: []string{"Add at least one percentile column such as p50 or Median"},
	}}
}

// checkRowLengths flags rows whose cell count differs from the header
// count. Row numbers are spreadsheet-style, so the first data row is
// row 2.
func checkRowLengths(headers []string, rows [][]string) []Issue {
	expected := len(headers)
	var offending []int
	for i, row := range rows {
		if len(row) != expected {
			offending = append(offending, i+2)
		}
	}
	if len(offending) == 0 {
		return nil
	}

	return []Issue{{
		Severity:     SeverityCritical,
		Tier:         TierStructural,
		Category:     CategoryRowLength,
		Message:      fmt.Sprintf("%d rows do not match the %d-column header: rows %s", len(offending), expected, formatNumberList(offending)),
		AffectedRows: offending,
		FixInstructions: []string{
			fmt.Sprintf("Make every row contain exactly %d values", expected),
			"Check for stray delimiters or extra blank cells",
		},
	}}
}
