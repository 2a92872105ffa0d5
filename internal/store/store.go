package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/compdesk/survey-intake/internal/audit"
	"github.com/compdesk/survey-intake/internal/config"
	"github.com/compdesk/survey-intake/internal/normalize"
)

// Survey is a stored survey as it sits in the corpus. Rows imported from
// the old system have an empty Source and carry their identity in
// LegacyType; Record() picks the right shape for canonicalization.
type Survey struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Source       string    `json:"source"`
	DataCategory string    `json:"data_category"`
	ProviderType string    `json:"provider_type"`
	Year         int       `json:"year"`
	SurveyLabel  string    `json:"survey_label,omitempty"`
	LegacyType   string    `json:"legacy_type,omitempty"`
	ContentHash  string    `json:"content_hash,omitempty"`
	Headers      []string  `json:"headers,omitempty"`
	RowCount     int       `json:"row_count"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Record returns the survey in its canonicalizable shape.
func (s Survey) Record() normalize.Record {
	if s.Source == "" && s.LegacyType != "" {
		return normalize.LegacyRecord{
			Type:         s.LegacyType,
			ProviderType: s.ProviderType,
			Year:         s.Year,
			SurveyLabel:  s.SurveyLabel,
		}
	}
	return normalize.ModernRecord{Meta: normalize.Metadata{
		Source:       s.Source,
		DataCategory: s.DataCategory,
		ProviderType: s.ProviderType,
		Year:         s.Year,
		SurveyLabel:  s.SurveyLabel,
	}}
}

// Store is the persistence boundary for the intake service: the survey
// corpus, the raw rows behind each survey, an opaque key-value area used
// by the checkpoint store, and the audit trail.
type Store interface {
	ListSurveys(ctx context.Context) ([]Survey, error)
	GetSurvey(ctx context.Context, id string) (Survey, bool, error)
	SaveSurvey(ctx context.Context, survey Survey) error
	DeleteSurvey(ctx context.Context, id string) error
	// ReplaceSurvey atomically removes the old survey and its rows and
	// installs the new survey record in its place.
	ReplaceSurvey(ctx context.Context, oldID string, survey Survey) error

	// AppendRows writes a batch of data rows starting at the given
	// 0-based row index. Rewriting an index that already exists must be
	// idempotent so an interrupted batch can be replayed on resume.
	AppendRows(ctx context.Context, surveyID string, startIndex int, rows [][]string) error
	GetRows(ctx context.Context, surveyID string) ([][]string, error)

	GetValue(ctx context.Context, key string) ([]byte, error)
	PutValue(ctx context.Context, key string, value []byte) error
	DeleteValue(ctx context.Context, key string) error

	RecordAudit(ctx context.Context, entry audit.Entry) error
	ListAudit(ctx context.Context, surveyID string) ([]audit.Entry, error)

	Close() error
}

// Open builds the configured backend: an embedded SQLite database by
// default, PostgreSQL when the driver says so.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.Path)
	case "postgres":
		return OpenPostgres(cfg)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Driver)
	}
}
