package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/compdesk/survey-intake/internal/checkpoint"
	"github.com/compdesk/survey-intake/internal/store"
)

// StatsHandler reports corpus and upload totals for the dashboard.
type StatsHandler struct {
	Store       store.Store
	Checkpoints *checkpoint.Store
	Logger      *zap.SugaredLogger
}

// StatsResponse breaks the corpus down by source, category and year,
// and the upload checkpoints by state.
type StatsResponse struct {
	TotalSurveys   int            `json:"total_surveys"`
	TotalRows      int            `json:"total_rows"`
	BySource       map[string]int `json:"by_source"`
	ByCategory     map[string]int `json:"by_category"`
	ByYear         map[string]int `json:"by_year"`
	UploadsByState map[string]int `json:"uploads_by_state"`
}

// GetStats handles GET /api/stats.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	surveys, err := h.Store.ListSurveys(r.Context())
	if err != nil {
		h.Logger.Errorw("failed to list surveys", "error", err)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		TotalSurveys:   len(surveys),
		BySource:       make(map[string]int),
		ByCategory:     make(map[string]int),
		ByYear:         make(map[string]int),
		UploadsByState: make(map[string]int),
	}
	for _, s := range surveys {
		resp.TotalRows += s.RowCount
		if s.Source != "" {
			resp.BySource[s.Source]++
		}
		if s.DataCategory != "" {
			resp.ByCategory[s.DataCategory]++
		}
		if s.Year != 0 {
			resp.ByYear[strconv.Itoa(s.Year)]++
		}
	}

	cps, err := h.Checkpoints.List(r.Context())
	if err != nil {
		h.Logger.Errorw("failed to list checkpoints", "error", err)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	for _, cp := range cps {
		resp.UploadsByState[string(cp.State)]++
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
