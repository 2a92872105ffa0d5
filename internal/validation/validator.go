package validation

import (
	"github.com/compdesk/survey-intake/internal/columns"
	"github.com/compdesk/survey-intake/internal/debug"
)

// Engine runs the three validation tiers over an uploaded table.
type Engine struct {
	debugMode bool
}

// NewEngine creates a validation engine. Debug mode traces tier timings
// and per-tier issue counts.
func NewEngine(debugMode bool) *Engine {
	return &Engine{debugMode: debugMode}
}

// ValidateAll runs all three tiers over the table and returns their
// combined result. The engine holds no state between calls: the same
// headers and rows always produce the same issues in the same order, and
// the inputs are never modified. All tiers always run; a tier-1 failure
// only decides CanProceed, it does not suppress tier 2 or 3.
func (e *Engine) ValidateAll(headers []string, rows [][]string) *Result {
	debug.DebugHeader(e.debugMode)
	defer debug.DebugFooter(e.debugMode)
	defer debug.DebugTiming(e.debugMode, "three-tier validation")()

	mapping := columns.MapHeaders(headers)
	debug.DebugOutput(e.debugMode, "Detected %s format: %d roles, %d percentile columns, %d unknown headers",
		mapping.Format, len(mapping.Roles), len(mapping.Percentiles), len(mapping.Unknown))

	structural := runStructuralChecks(headers, rows, mapping)
	format := runFormatChecks(rows, mapping)
	content := runContentChecks(rows, mapping)

	debug.DebugOutput(e.debugMode, "Validation issues: %d structural, %d format, %d content",
		len(structural), len(format), len(content))

	return &Result{
		Structural: TierResult{Tier: TierStructural, Issues: structural},
		Format:     TierResult{Tier: TierFormat, Issues: format},
		Content:    TierResult{Tier: TierContent, Issues: content},
	}
}

// Mapping exposes the column mapping used during validation so callers
// can surface unknown headers and ambiguous role matches alongside the
// validation result.
func (e *Engine) Mapping(headers []string) columns.Mapping {
	return columns.MapHeaders(headers)
}
