package matcher

import (
	"time"

	"github.com/compdesk/survey-intake/internal/normalize"
)

// MatchType says which detection stage produced the result.
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchContent MatchType = "content"
	MatchSimilar MatchType = "similar"
	MatchNone    MatchType = "none"
)

// Survey is a corpus entry with its metadata already canonicalized and
// its composite key precomputed at corpus-read time.
type Survey struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Metadata     normalize.Metadata `json:"metadata"`
	CompositeKey string             `json:"composite_key"`
	ContentHash  string             `json:"content_hash,omitempty"`
	RowCount     int                `json:"row_count"`
	UploadedAt   time.Time          `json:"uploaded_at"`
}

// CheckInput describes the candidate upload. FileHash wins over
// FileBytes when both are set; ExcludeID removes one stored survey from
// consideration, used by replace flows so a survey is not reported as a
// duplicate of itself.
type CheckInput struct {
	Metadata  normalize.Metadata
	FileBytes []byte
	FileHash  string
	ExcludeID string
}

// SimilarSurvey pairs a corpus entry with its weighted similarity score.
type SimilarSurvey struct {
	Survey     Survey  `json:"survey"`
	Similarity float64 `json:"similarity"`
}

// CheckResult is the outcome of a duplicate check. Matched surveys carry
// enough detail (name, source, year, upload date) for a human to decide
// replace, keep-both or cancel. A non-empty Error means the check
// degraded and "no duplicate" is advisory only.
type CheckResult struct {
	HasDuplicate   bool            `json:"has_duplicate"`
	MatchType      MatchType       `json:"match_type"`
	CompositeKey   string          `json:"composite_key"`
	ExactMatch     *Survey         `json:"exact_match,omitempty"`
	ContentMatch   *Survey         `json:"content_match,omitempty"`
	SimilarSurveys []SimilarSurvey `json:"similar_surveys,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// FieldWeights distributes similarity weight across the metadata fields.
type FieldWeights struct {
	Source       float64
	DataCategory float64
	ProviderType float64
	Year         float64
	SurveyLabel  float64
}

// DefaultWeights returns the production weighting: source carries the
// most signal, the optional label the least.
func DefaultWeights() FieldWeights {
	return FieldWeights{
		Source:       0.3,
		DataCategory: 0.2,
		ProviderType: 0.2,
		Year:         0.2,
		SurveyLabel:  0.1,
	}
}

// Thresholds are the minimum similarity scores that flag a pair, chosen
// by whether the two surveys share a source.
type Thresholds struct {
	SameSource  float64
	CrossSource float64
}

// DefaultThresholds returns the production thresholds: same-source pairs
// flag above 0.8, pairs with a missing source need near-certainty.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SameSource:  0.8,
		CrossSource: 0.95,
	}
}
