package checkpoint

import (
	"time"

	"github.com/compdesk/survey-intake/internal/normalize"
)

// State is the lifecycle position of an upload checkpoint.
type State string

const (
	StateInProgress State = "in_progress"
	StatePaused     State = "paused"
	StateFailed     State = "failed"
	StateCompleted  State = "completed"
)

// Failure records why an upload stopped and whether a resume can
// recover from it.
type Failure struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Meta ties a checkpoint back to the survey being written and the
// metadata the upload was submitted with.
type Meta struct {
	SurveyID string             `json:"survey_id,omitempty"`
	Survey   normalize.Metadata `json:"survey"`
}

// Checkpoint is one upload's persisted progress marker.
type Checkpoint struct {
	UploadID         string    `json:"upload_id"`
	FileName         string    `json:"file_name"`
	FileSize         int64     `json:"file_size"`
	TotalRows        int       `json:"total_rows"`
	RowsProcessed    int       `json:"rows_processed"`
	BatchesCompleted int       `json:"batches_completed"`
	TotalBatches     int       `json:"total_batches"`
	LastBatchIndex   int       `json:"last_batch_index"`
	Timestamp        time.Time `json:"timestamp"`
	Metadata         Meta      `json:"metadata"`
	State            State     `json:"state"`
	Error            *Failure  `json:"error,omitempty"`
}

// ResumeData tells a resumed upload where to pick up.
type ResumeData struct {
	StartRowIndex   int `json:"start_row_index"`
	StartBatchIndex int `json:"start_batch_index"`
	RowsRemaining   int `json:"rows_remaining"`
}

// CanResume reports whether an interrupted upload may continue: the
// checkpoint must be failed or paused, must have rows left, and any
// recorded error must be recoverable.
func CanResume(cp Checkpoint) bool {
	if cp.State != StateFailed && cp.State != StatePaused {
		return false
	}
	if cp.RowsProcessed >= cp.TotalRows {
		return false
	}
	if cp.Error != nil && !cp.Error.Recoverable {
		return false
	}
	return true
}

// ResumeInfo derives the continuation point from a checkpoint.
func ResumeInfo(cp Checkpoint) ResumeData {
	return ResumeData{
		StartRowIndex:   cp.RowsProcessed,
		StartBatchIndex: cp.LastBatchIndex + 1,
		RowsRemaining:   cp.TotalRows - cp.RowsProcessed,
	}
}
