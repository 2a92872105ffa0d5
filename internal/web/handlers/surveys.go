package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/compdesk/survey-intake/internal/audit"
	"github.com/compdesk/survey-intake/internal/columns"
	"github.com/compdesk/survey-intake/internal/report"
	"github.com/compdesk/survey-intake/internal/store"
	"github.com/compdesk/survey-intake/internal/upload"
)

// SurveysHandler covers the survey CRUD endpoints, the per-survey
// quantile summary and the audit trail.
type SurveysHandler struct {
	Store   store.Store
	Uploads *upload.Service
	Audit   *audit.Tracker
	Logger  *zap.SugaredLogger
}

// SurveyListResponse wraps the corpus listing.
type SurveyListResponse struct {
	Surveys []store.Survey `json:"surveys"`
	Count   int            `json:"count"`
}

// SummaryResponse is the quantile summary of one stored survey.
type SummaryResponse struct {
	SurveyID string                 `json:"survey_id"`
	Format   columns.Format         `json:"format"`
	RowCount int                    `json:"row_count"`
	Columns  []report.ColumnSummary `json:"columns"`
}

// List handles GET /api/surveys.
func (h *SurveysHandler) List(w http.ResponseWriter, r *http.Request) {
	surveys, err := h.Store.ListSurveys(r.Context())
	if err != nil {
		h.Logger.Errorw("failed to list surveys", "error", err)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	if surveys == nil {
		surveys = []store.Survey{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SurveyListResponse{Surveys: surveys, Count: len(surveys)})
}

// Get handles GET /api/surveys/{id}.
func (h *SurveysHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	survey, found, err := h.Store.GetSurvey(r.Context(), id)
	if err != nil {
		h.Logger.Errorw("failed to load survey", "survey_id", id, "error", err)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Survey not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(survey)
}

// Upload handles POST /api/surveys. The outcome decides the status
// code: 201 when stored, 422 when validation rejected it, 409 when a
// duplicate blocked it.
func (h *SurveysHandler) Upload(w http.ResponseWriter, r *http.Request) {
	req, err := decodeUploadRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := parseTable(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Force = forceParam(r)

	outcome, err := h.Uploads.Process(r.Context(), req)
	if err != nil {
		h.Logger.Errorw("upload failed", "file", req.FileName, "error", err)
		http.Error(w, "Upload failed", http.StatusInternalServerError)
		return
	}

	h.writeOutcome(w, outcome, http.StatusCreated)
}

// Replace handles PUT /api/surveys/{id}: a fresh upload that takes over
// the stored survey's id.
func (h *SurveysHandler) Replace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	_, found, err := h.Store.GetSurvey(r.Context(), id)
	if err != nil {
		h.Logger.Errorw("failed to load survey", "survey_id", id, "error", err)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Survey not found", http.StatusNotFound)
		return
	}

	req, err := decodeUploadRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := parseTable(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Force = forceParam(r)
	req.ReplaceID = id

	outcome, err := h.Uploads.Process(r.Context(), req)
	if err != nil {
		h.Logger.Errorw("replace failed", "survey_id", id, "error", err)
		http.Error(w, "Replace failed", http.StatusInternalServerError)
		return
	}

	h.writeOutcome(w, outcome, http.StatusOK)
}

// Delete handles DELETE /api/surveys/{id}.
func (h *SurveysHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := r.URL.Query().Get("actor")

	if err := h.Uploads.Delete(r.Context(), id, actor); err != nil {
		if errors.Is(err, upload.ErrSurveyNotFound) {
			http.Error(w, "Survey not found", http.StatusNotFound)
			return
		}
		h.Logger.Errorw("delete failed", "survey_id", id, "error", err)
		http.Error(w, "Delete failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Summary handles GET /api/surveys/{id}/summary: the per-percentile-
// column quantile summary computed over the stored rows.
func (h *SurveysHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	survey, found, err := h.Store.GetSurvey(r.Context(), id)
	if err != nil {
		h.Logger.Errorw("failed to load survey", "survey_id", id, "error", err)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Survey not found", http.StatusNotFound)
		return
	}
	if len(survey.Headers) == 0 {
		http.Error(w, "Survey has no stored headers", http.StatusUnprocessableEntity)
		return
	}

	rows, err := h.Store.GetRows(r.Context(), id)
	if err != nil {
		h.Logger.Errorw("failed to load rows", "survey_id", id, "error", err)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}

	mapping := columns.MapHeaders(survey.Headers)
	resp := SummaryResponse{
		SurveyID: id,
		Format:   mapping.Format,
		RowCount: len(rows),
		Columns:  report.SummarizeColumns(mapping, rows),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// AuditResponse wraps one survey's decision trail.
type AuditResponse struct {
	SurveyID string        `json:"survey_id"`
	Entries  []audit.Entry `json:"entries"`
	Count    int           `json:"count"`
}

// History handles GET /api/surveys/{id}/audit. The trail outlives the
// survey itself, so a deleted survey's entries stay readable.
func (h *SurveysHandler) History(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entries, err := h.Audit.History(r.Context(), id)
	if err != nil {
		h.Logger.Errorw("failed to load audit trail", "survey_id", id, "error", err)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuditResponse{SurveyID: id, Entries: entries, Count: len(entries)})
}

// writeOutcome maps an upload outcome onto a status code and sends it.
func (h *SurveysHandler) writeOutcome(w http.ResponseWriter, outcome upload.Outcome, successCode int) {
	code := successCode
	switch outcome.Status {
	case upload.StatusRejected:
		code = http.StatusUnprocessableEntity
	case upload.StatusBlocked:
		code = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(outcome)
}
