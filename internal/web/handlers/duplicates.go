package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/compdesk/survey-intake/internal/matcher"
	"github.com/compdesk/survey-intake/internal/normalize"
)

// DuplicatesHandler exposes the staged duplicate check on its own, for
// clients that want the verdict before uploading the file body.
type DuplicatesHandler struct {
	Matcher *matcher.Service
}

// CheckRequest identifies the candidate survey. FileHash is optional;
// without it the content stage is skipped.
type CheckRequest struct {
	Metadata  normalize.Metadata `json:"metadata"`
	FileHash  string             `json:"file_hash,omitempty"`
	ExcludeID string             `json:"exclude_id,omitempty"`
}

// Check handles POST /api/duplicates/check.
func (h *DuplicatesHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	result := h.Matcher.CheckForDuplicates(r.Context(), matcher.CheckInput{
		Metadata:  req.Metadata,
		FileHash:  req.FileHash,
		ExcludeID: req.ExcludeID,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
