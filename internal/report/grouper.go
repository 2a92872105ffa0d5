package report

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/compdesk/survey-intake/internal/validation"
)

// GroupedIssue is a display-ready bundle of related validation issues:
// one primary message, one actionable guidance sentence, and the union
// of everything the members touched.
type GroupedIssue struct {
	Primary         string              `json:"primary"`
	Guidance        string              `json:"guidance"`
	Severity        validation.Severity `json:"severity"`
	Count           int                 `json:"count"`
	AffectedRows    []int               `json:"affected_rows,omitempty"`
	AffectedColumns []string            `json:"affected_columns,omitempty"`
}

// PrioritizeIssues orders issues critical first, then warnings, then
// info. The sort is stable: issues of equal severity keep their original
// relative order.
func PrioritizeIssues(issues []validation.Issue) []validation.Issue {
	ordered := make([]validation.Issue, len(issues))
	copy(ordered, issues)
	sort.SliceStable(ordered, func(i, j int) bool {
		return severityRank(ordered[i].Severity) < severityRank(ordered[j].Severity)
	})
	return ordered
}

func severityRank(s validation.Severity) int {
	switch s {
	case validation.SeverityCritical:
		return 0
	case validation.SeverityWarning:
		return 1
	case validation.SeverityInfo:
		return 2
	default:
		return 3
	}
}

// groupRule pairs a predicate with a key derivation and the display
// metadata for the group. Rules are evaluated in order; the first match
// wins.
type groupRule struct {
	match    func(validation.Issue) bool
	key      func(validation.Issue) string
	primary  func(members []validation.Issue, rows []int, cols []string) string
	guidance string
}

func categoryIs(c validation.Category) func(validation.Issue) bool {
	return func(issue validation.Issue) bool { return issue.Category == c }
}

func firstColumn(issue validation.Issue) string {
	if len(issue.AffectedColumns) > 0 {
		return issue.AffectedColumns[0]
	}
	return ""
}

var groupRules = []groupRule{
	{
		match: categoryIs(validation.CategoryMissingColumns),
		key:   func(validation.Issue) string { return "missing-columns" },
		primary: func(members []validation.Issue, rows []int, cols []string) string {
			return fmt.Sprintf("Add %d required columns: %s", len(cols), strings.Join(cols, ", "))
		},
		guidance: "Add the listed columns to the file and upload it again.",
	},
	{
		match: categoryIs(validation.CategoryDuplicateRows),
		key:   func(validation.Issue) string { return "duplicate-rows" },
		primary: func(members []validation.Issue, rows []int, cols []string) string {
			return fmt.Sprintf("%d duplicate rows found", len(rows))
		},
		guidance: "Remove duplicates if they're not needed.",
	},
	{
		match: categoryIs(validation.CategoryDuplicateColumns),
		key:   func(validation.Issue) string { return "duplicate-columns" },
		primary: func(members []validation.Issue, rows []int, cols []string) string {
			return fmt.Sprintf("Duplicate column headers: %s", strings.Join(cols, ", "))
		},
		guidance: "Rename or remove the duplicated columns so every header is unique.",
	},
	{
		match: categoryIs(validation.CategoryNonNumeric),
		key: func(issue validation.Issue) string {
			return "non-numeric:" + firstColumn(issue)
		},
		primary: func(members []validation.Issue, rows []int, cols []string) string {
			return fmt.Sprintf("Column %q contains %d non-numeric values", firstColumn(members[0]), len(rows))
		},
		guidance: "Correct the highlighted values or mark suppressed figures with N/A, ISD or *.",
	},
	{
		match: categoryIs(validation.CategoryMissingValues),
		key: func(issue validation.Issue) string {
			return "missing-field:" + firstColumn(issue)
		},
		primary: func(members []validation.Issue, rows []int, cols []string) string {
			return fmt.Sprintf("Missing values in required column %q", firstColumn(members[0]))
		},
		guidance: "Fill in the empty cells or remove incomplete rows.",
	},
	{
		match: categoryIs(validation.CategoryRowLength),
		key:   func(validation.Issue) string { return "row-length" },
		primary: func(members []validation.Issue, rows []int, cols []string) string {
			return fmt.Sprintf("%d rows have the wrong number of values", len(rows))
		},
		guidance: "Make every row contain the same number of values as the header row.",
	},
}

// fallbackRule groups anything unmatched by (category, severity) and
// keeps the first member's message as the primary.
var fallbackRule = groupRule{
	match: func(validation.Issue) bool { return true },
	key: func(issue validation.Issue) string {
		return fmt.Sprintf("%s|%s", issue.Category, issue.Severity)
	},
	primary: func(members []validation.Issue, rows []int, cols []string) string {
		return members[0].Message
	},
	guidance: "Review the reported details and correct the file.",
}

func ruleFor(issue validation.Issue) groupRule {
	for _, rule := range groupRules {
		if rule.match(issue) {
			return rule
		}
	}
	return fallbackRule
}

// GroupRelatedIssues prioritizes the issues and collapses them into
// display groups. Group membership is pattern-based; rows and columns
// are the union across members, rows deduplicated and sorted ascending.
func GroupRelatedIssues(issues []validation.Issue) []GroupedIssue {
	ordered := PrioritizeIssues(issues)

	type bucket struct {
		rule    groupRule
		members []validation.Issue
	}
	buckets := make(map[string]*bucket)
	var order []string

	for _, issue := range ordered {
		rule := ruleFor(issue)
		key := rule.key(issue)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{rule: rule}
			buckets[key] = b
			order = append(order, key)
		}
		b.members = append(b.members, issue)
	}

	groups := make([]GroupedIssue, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		rows := unionRows(b.members)
		cols := unionColumns(b.members)

		primary := b.rule.primary(b.members, rows, cols)
		if len(b.members) > 1 && !startsWithDigit(primary) {
			primary = fmt.Sprintf("%d %s", len(b.members), primary)
		}

		groups = append(groups, GroupedIssue{
			Primary:         primary,
			Guidance:        b.rule.guidance,
			Severity:        groupSeverity(b.members),
			Count:           len(b.members),
			AffectedRows:    rows,
			AffectedColumns: cols,
		})
	}
	return groups
}

func unionRows(members []validation.Issue) []int {
	seen := make(map[int]bool)
	var rows []int
	for _, m := range members {
		for _, r := range m.AffectedRows {
			if !seen[r] {
				seen[r] = true
				rows = append(rows, r)
			}
		}
	}
	sort.Ints(rows)
	return rows
}

func unionColumns(members []validation.Issue) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, m := range members {
		for _, c := range m.AffectedColumns {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

func groupSeverity(members []validation.Issue) validation.Severity {
	worst := members[0].Severity
	for _, m := range members[1:] {
		if severityRank(m.Severity) < severityRank(worst) {
			worst = m.Severity
		}
	}
	return worst
}

func startsWithDigit(s string) bool {
	for _, r := range s {
		return unicode.IsDigit(r)
	}
	return false
}
