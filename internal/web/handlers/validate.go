package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/compdesk/survey-intake/internal/columns"
	"github.com/compdesk/survey-intake/internal/report"
	"github.com/compdesk/survey-intake/internal/validation"
)

// ValidateHandler runs the three-tier validation without persisting
// anything, so the frontend can preview a file before committing.
type ValidateHandler struct {
	Logger *zap.SugaredLogger
	Debug  bool
}

// ValidateResponse carries the full tiered result plus the grouped view
// the frontend renders. Mapping exposes the detected format along with
// any ambiguous or unknown headers so callers can warn about them.
type ValidateResponse struct {
	Validation *validation.Result    `json:"validation"`
	Grouped    []report.GroupedIssue `json:"grouped_issues"`
	Mapping    columns.Mapping       `json:"mapping"`
	CanProceed bool                  `json:"can_proceed"`
}

// Validate handles POST /api/validate.
func (h *ValidateHandler) Validate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeUploadRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := parseTable(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	engine := validation.NewEngine(h.Debug)
	result := engine.ValidateAll(req.Table.Headers, req.Table.Rows)

	resp := ValidateResponse{
		Validation: result,
		Grouped:    report.GroupRelatedIssues(result.AllIssues()),
		Mapping:    columns.MapHeaders(req.Table.Headers),
		CanProceed: result.CanProceed(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
