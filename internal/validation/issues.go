package validation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity ranks how bad an issue is. Only critical issues block an
// upload.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// severityRank orders severities for prioritization, most severe first.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Tier names the validation pass an issue came from. Every check belongs
// to exactly one tier.
type Tier string

const (
	TierStructural Tier = "structural"
	TierFormat     Tier = "format"
	TierContent    Tier = "content"
)

// Category identifies the check that produced an issue.
type Category string

const (
	CategoryNoData           Category = "no_data"
	CategoryNoHeaders        Category = "no_headers"
	CategoryDuplicateColumns Category = "duplicate_columns"
	CategoryBlankHeaders     Category = "blank_headers"
	CategoryMissingColumns   Category = "missing_columns"
	CategoryNoPercentiles    Category = "no_percentile_columns"
	CategoryRowLength        Category = "inconsistent_row_length"
	CategoryNonNumeric       Category = "non_numeric_values"
	CategoryMissingValues    Category = "missing_required_values"
	CategoryPercentileOrder  Category = "percentile_order"
	CategoryNonPositive      Category = "non_positive_values"
	CategoryDuplicateRows    Category = "duplicate_rows"
	CategoryAmbiguousColumns Category = "ambiguous_columns"
)

// CellLocation points at a single offending cell. Row numbers are
// spreadsheet-style: the header row is row 1.
type CellLocation struct {
	Row        int    `json:"row"`
	Column     int    `json:"column"`
	ColumnName string `json:"column_name,omitempty"`
}

// Issue is one finding from one check. Aggregating checks report all
// affected rows and columns on a single issue instead of one issue per
// cell.
type Issue struct {
	Severity        Severity      `json:"severity"`
	Tier            Tier          `json:"tier"`
	Category        Category      `json:"category"`
	Message         string        `json:"message"`
	Cell            *CellLocation `json:"cell,omitempty"`
	AffectedRows    []int         `json:"affected_rows,omitempty"`
	AffectedColumns []string      `json:"affected_columns,omitempty"`
	FixInstructions []string      `json:"fix_instructions,omitempty"`
}

// TierResult collects the issues of one pass.
type TierResult struct {
	Tier   Tier    `json:"tier"`
	Issues []Issue `json:"issues"`
}

// Result is the outcome of a full validation run. Counts and the
// can-proceed verdict are always derived from the issue lists, never
// stored, so they cannot drift.
type Result struct {
	Structural TierResult `json:"structural"`
	Format     TierResult `json:"format"`
	Content    TierResult `json:"content"`
}

// AllIssues returns every issue in tier order: structural, format,
// content.
func (r *Result) AllIssues() []Issue {
	issues := make([]Issue, 0, len(r.Structural.Issues)+len(r.Format.Issues)+len(r.Content.Issues))
	issues = append(issues, r.Structural.Issues...)
	issues = append(issues, r.Format.Issues...)
	issues = append(issues, r.Content.Issues...)
	return issues
}

func (r *Result) countSeverity(s Severity) int {
	n := 0
	for _, issue := range r.AllIssues() {
		if issue.Severity == s {
			n++
		}
	}
	return n
}

// ErrorCount is the number of critical issues across all tiers.
func (r *Result) ErrorCount() int { return r.countSeverity(SeverityCritical) }

// WarningCount is the number of warning issues across all tiers.
func (r *Result) WarningCount() int { return r.countSeverity(SeverityWarning) }

// InfoCount is the number of informational issues across all tiers.
func (r *Result) InfoCount() int { return r.countSeverity(SeverityInfo) }

// TotalIssues is the number of issues across all tiers.
func (r *Result) TotalIssues() int { return len(r.AllIssues()) }

// CanProceed reports whether the upload may continue: true exactly when
// no critical issue exists. Warnings and info never block.
func (r *Result) CanProceed() bool { return r.ErrorCount() == 0 }

// MarshalJSON serializes the result with its derived counts so API
// consumers never recompute them.
func (r *Result) MarshalJSON() ([]byte, error) {
	type alias struct {
		Structural TierResult `json:"structural"`
		Format     TierResult `json:"format"`
		Content    TierResult `json:"content"`
		CanProceed bool       `json:"can_proceed"`
		Errors     int        `json:"error_count"`
		Warnings   int        `json:"warning_count"`
		Infos      int        `json:"info_count"`
		Total      int        `json:"total_issues"`
	}
	return json.Marshal(alias{
		Structural: r.Structural,
		Format:     r.Format,
		Content:    r.Content,
		CanProceed: r.CanProceed(),
		Errors:     r.ErrorCount(),
		Warnings:   r.WarningCount(),
		Infos:      r.InfoCount(),
		Total:      r.TotalIssues(),
	})
}

// maxListedNumbers caps how many row or column numbers appear in a
// message before it switches to "and N more".
const maxListedNumbers = 5

// formatNumberList renders row or position numbers for a message,
// showing at most maxListedNumbers before summarizing the rest.
func formatNumberList(rows []int) string {
	shown := rows
	extra := 0
	if len(rows) > maxListedNumbers {
		shown = rows[:maxListedNumbers]
		extra = len(rows) - maxListedNumbers
	}
	parts := make([]string, len(shown))
	for i, r := range shown {
		parts[i] = fmt.Sprintf("%d", r)
	}
	list := strings.Join(parts, ", ")
	if extra > 0 {
		return fmt.Sprintf("%s and %d more", list, extra)
	}
	return list
}

// formatValueList renders sample offending values for a message, quoted,
// capped at five distinct values.
func formatValueList(values []string) string {
	const maxListedValues = 5
	shown := values
	if len(values) > maxListedValues {
		shown = values[:maxListedValues]
	}
	parts := make([]string, len(shown))
	for i, v := range shown {
		parts[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(parts, ", ")
}
