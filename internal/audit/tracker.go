package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Action is the kind of upload decision being recorded.
type Action string

const (
	ActionUploaded         Action = "uploaded"
	ActionReplaced         Action = "replaced"
	ActionDeleted          Action = "deleted"
	ActionBlockedDuplicate Action = "blocked_duplicate"
	ActionKeptBoth         Action = "kept_both"
	ActionResumed          Action = "resumed"
	ActionRejected         Action = "rejected_validation"
)

// Entry is one audit-trail row: who did what to which survey, and when.
type Entry struct {
	ID        string    `json:"id"`
	SurveyID  string    `json:"survey_id,omitempty"`
	UploadID  string    `json:"upload_id,omitempty"`
	Action    Action    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Recorder persists audit entries. The survey store implements this.
type Recorder interface {
	RecordAudit(ctx context.Context, entry Entry) error
	ListAudit(ctx context.Context, surveyID string) ([]Entry, error)
}

// Tracker writes the upload decision trail. Audit failures are logged
// and reported but must never abort the operation being audited.
type Tracker struct {
	recorder Recorder
	logger   *zap.SugaredLogger
}

// NewTracker creates an audit tracker backed by the given recorder.
func NewTracker(recorder Recorder, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{recorder: recorder, logger: logger.Sugar()}
}

// Record writes one audit entry, stamping it with an id and timestamp.
func (t *Tracker) Record(ctx context.Context, action Action, surveyID, uploadID, detail, actor string) error {
	entry := Entry{
		ID:        uuid.New().String(),
		SurveyID:  surveyID,
		UploadID:  uploadID,
		Action:    action,
		Detail:    detail,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}

	if err := t.recorder.RecordAudit(ctx, entry); err != nil {
		t.logger.Warnw("failed to record audit entry",
			"action", action,
			"survey_id", surveyID,
			"error", err)
		return err
	}
	return nil
}

// History returns the audit trail for one survey, newest first as stored.
func (t *Tracker) History(ctx context.Context, surveyID string) ([]Entry, error) {
	return t.recorder.ListAudit(ctx, surveyID)
}
