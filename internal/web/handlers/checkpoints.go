package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/compdesk/survey-intake/internal/checkpoint"
	"github.com/compdesk/survey-intake/internal/upload"
)

// CheckpointsHandler exposes upload checkpoints and the resume flow.
type CheckpointsHandler struct {
	Checkpoints *checkpoint.Store
	Uploads     *upload.Service
	Logger      *zap.SugaredLogger
}

// CheckpointListResponse wraps the checkpoint listing.
type CheckpointListResponse struct {
	Checkpoints []checkpoint.Checkpoint `json:"checkpoints"`
	Count       int                     `json:"count"`
}

// CheckpointResponse pairs one checkpoint with its derived resume data.
type CheckpointResponse struct {
	Checkpoint checkpoint.Checkpoint  `json:"checkpoint"`
	CanResume  bool                   `json:"can_resume"`
	Resume     *checkpoint.ResumeData `json:"resume,omitempty"`
}

// List handles GET /api/uploads/checkpoints. ?resumable=1 narrows the
// listing to uploads that can continue.
func (h *CheckpointsHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		cps []checkpoint.Checkpoint
		err error
	)
	if v := r.URL.Query().Get("resumable"); v == "1" || v == "true" {
		cps, err = h.Checkpoints.Resumable(r.Context())
	} else {
		cps, err = h.Checkpoints.List(r.Context())
	}
	if err != nil {
		h.Logger.Errorw("failed to list checkpoints", "error", err)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	if cps == nil {
		cps = []checkpoint.Checkpoint{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CheckpointListResponse{Checkpoints: cps, Count: len(cps)})
}

// Get handles GET /api/uploads/checkpoints/{id}.
func (h *CheckpointsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cp, found, err := h.Checkpoints.Get(r.Context(), id)
	if err != nil {
		h.Logger.Errorw("failed to load checkpoint", "upload_id", id, "error", err)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Checkpoint not found", http.StatusNotFound)
		return
	}

	resp := CheckpointResponse{Checkpoint: cp, CanResume: checkpoint.CanResume(cp)}
	if resp.CanResume {
		info := checkpoint.ResumeInfo(cp)
		resp.Resume = &info
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Delete handles DELETE /api/uploads/checkpoints/{id}.
func (h *CheckpointsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Checkpoints.Delete(r.Context(), id); err != nil {
		h.Logger.Errorw("failed to delete checkpoint", "upload_id", id, "error", err)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resume handles POST /api/uploads/{id}/resume. The client re-supplies
// the original file (or table); the service continues from the last
// completed batch.
func (h *CheckpointsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req, err := decodeUploadRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := parseTable(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := h.Uploads.Resume(r.Context(), id, *req.Table)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrCheckpointNotFound):
			http.Error(w, "Checkpoint not found", http.StatusNotFound)
		case errors.Is(err, upload.ErrNotResumable), errors.Is(err, upload.ErrTableMismatch):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.Logger.Errorw("resume failed", "upload_id", id, "error", err)
			http.Error(w, "Resume failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(outcome)
}
