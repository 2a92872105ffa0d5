// Package upload orchestrates the full intake flow: parse, validate,
// duplicate-check, then persist rows in checkpointed batches so an
// interrupted upload can resume where it stopped.
package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/compdesk/survey-intake/internal/audit"
	"github.com/compdesk/survey-intake/internal/checkpoint"
	"github.com/compdesk/survey-intake/internal/debug"
	"github.com/compdesk/survey-intake/internal/fileparse"
	"github.com/compdesk/survey-intake/internal/matcher"
	"github.com/compdesk/survey-intake/internal/normalize"
	"github.com/compdesk/survey-intake/internal/report"
	"github.com/compdesk/survey-intake/internal/store"
	"github.com/compdesk/survey-intake/internal/validation"
)

const defaultBatchSize = 500

// Sentinel errors the transport layers translate into status codes.
var (
	ErrSurveyNotFound     = eris.New("survey not found")
	ErrCheckpointNotFound = eris.New("checkpoint not found")
	ErrNotResumable       = eris.New("upload is not resumable")
	ErrTableMismatch      = eris.New("table does not match checkpoint")
)

// Request describes one upload. FileBytes is parsed by extension unless
// Table is already set (the JSON-table API path). ReplaceID routes the
// upload as a replacement for an existing survey, which keeps its id.
type Request struct {
	FileName  string
	FileBytes []byte
	Table     *fileparse.Table
	Name      string
	Metadata  normalize.Metadata
	Actor     string
	Force     bool
	ReplaceID string
}

// Status is the overall outcome of a processed upload.
type Status string

const (
	// StatusCompleted means every row landed and the checkpoint closed.
	StatusCompleted Status = "completed"
	// StatusRejected means critical validation issues blocked the upload
	// before anything was written.
	StatusRejected Status = "rejected"
	// StatusBlocked means an exact or content duplicate stopped the
	// upload; resubmit with Force to keep both.
	StatusBlocked Status = "blocked"
)

// Outcome reports what happened to an upload, with the full validation
// and duplicate-check details for display.
type Outcome struct {
	Status     Status                `json:"status"`
	SurveyID   string                `json:"survey_id,omitempty"`
	UploadID   string                `json:"upload_id,omitempty"`
	RowCount   int                   `json:"row_count"`
	Validation *validation.Result    `json:"validation,omitempty"`
	Grouped    []report.GroupedIssue `json:"grouped_issues,omitempty"`
	Duplicates *matcher.CheckResult  `json:"duplicates,omitempty"`
}

// Options wires a Service. BatchSize falls back to 500.
type Options struct {
	Store       store.Store
	Matcher     *matcher.Service
	Checkpoints *checkpoint.Store
	Audit       *audit.Tracker
	BatchSize   int
	Logger      *zap.Logger
	Debug       bool
}

// Service runs the intake flow against its injected collaborators.
type Service struct {
	store       store.Store
	matcher     *matcher.Service
	checkpoints *checkpoint.Store
	audit       *audit.Tracker
	validator   *validation.Engine
	batchSize   int
	logger      *zap.SugaredLogger
	debugMode   bool
}

// NewService builds an upload service.
func NewService(opts Options) *Service {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       opts.Store,
		matcher:     opts.Matcher,
		checkpoints: opts.Checkpoints,
		audit:       opts.Audit,
		validator:   validation.NewEngine(opts.Debug),
		batchSize:   batchSize,
		logger:      logger.Sugar(),
		debugMode:   opts.Debug,
	}
}

// Process runs one upload end to end. Validation findings and duplicate
// matches are outcomes, not errors; an error return means infrastructure
// failed (parse, store, checkpoint).
func (s *Service) Process(ctx context.Context, req Request) (Outcome, error) {
	defer debug.DebugTiming(s.debugMode, "upload process")()

	table, err := s.table(req)
	if err != nil {
		return Outcome{}, err
	}

	result := s.validator.ValidateAll(table.Headers, table.Rows)
	grouped := report.GroupRelatedIssues(result.AllIssues())
	outcome := Outcome{
		RowCount:   len(table.Rows),
		Validation: result,
		Grouped:    grouped,
	}

	if !result.CanProceed() {
		outcome.Status = StatusRejected
		s.logger.Infow("upload rejected by validation",
			"file", req.FileName,
			"critical_issues", result.ErrorCount())
		_ = s.audit.Record(ctx, audit.ActionRejected, "", "",
			fmt.Sprintf("%d critical issues in %s", result.ErrorCount(), req.FileName), req.Actor)
		return outcome, nil
	}

	check, fileHash := s.checkDuplicates(ctx, req)
	outcome.Duplicates = &check

	blocking := check.MatchType == matcher.MatchExact || check.MatchType == matcher.MatchContent
	if blocking && !req.Force {
		outcome.Status = StatusBlocked
		matchedID := ""
		if check.ExactMatch != nil {
			matchedID = check.ExactMatch.ID
		} else if check.ContentMatch != nil {
			matchedID = check.ContentMatch.ID
		}
		s.logger.Infow("upload blocked by duplicate",
			"file", req.FileName,
			"match_type", check.MatchType,
			"matched_survey", matchedID)
		_ = s.audit.Record(ctx, audit.ActionBlockedDuplicate, matchedID, "",
			fmt.Sprintf("%s duplicate of %s", check.MatchType, req.FileName), req.Actor)
		return outcome, nil
	}

	surveyID := req.ReplaceID
	if surveyID == "" {
		surveyID = uuid.New().String()
	}
	name := req.Name
	if name == "" {
		name = req.FileName
	}
	survey := store.Survey{
		ID:           surveyID,
		Name:         name,
		Source:       req.Metadata.Source,
		DataCategory: req.Metadata.DataCategory,
		ProviderType: req.Metadata.ProviderType,
		Year:         req.Metadata.Year,
		SurveyLabel:  req.Metadata.SurveyLabel,
		ContentHash:  fileHash,
		Headers:      table.Headers,
		RowCount:     len(table.Rows),
		UploadedAt:   time.Now().UTC(),
	}

	cp, err := s.checkpoints.Create(ctx, checkpoint.Checkpoint{
		FileName:     req.FileName,
		FileSize:     int64(len(req.FileBytes)),
		TotalRows:    len(table.Rows),
		TotalBatches: (len(table.Rows) + s.batchSize - 1) / s.batchSize,
		Metadata:     checkpoint.Meta{SurveyID: surveyID, Survey: req.Metadata},
	})
	if err != nil {
		return Outcome{}, err
	}
	outcome.UploadID = cp.UploadID

	mutated := false
	defer func() {
		if mutated {
			s.matcher.Invalidate()
		}
	}()

	if req.ReplaceID != "" {
		err = s.store.ReplaceSurvey(ctx, req.ReplaceID, survey)
	} else {
		err = s.store.SaveSurvey(ctx, survey)
	}
	if err != nil {
		failure := checkpoint.Failure{Message: err.Error(), Recoverable: false}
		if markErr := s.checkpoints.MarkFailed(ctx, cp.UploadID, failure); markErr != nil {
			s.logger.Warnw("failed to mark checkpoint failed", "upload_id", cp.UploadID, "error", markErr)
		}
		return Outcome{}, eris.Wrapf(err, "failed to save survey %s", surveyID)
	}
	mutated = true

	if err := s.persistBatches(ctx, cp.UploadID, surveyID, table.Rows, 0, 0); err != nil {
		return Outcome{}, err
	}
	if err := s.checkpoints.MarkCompleted(ctx, cp.UploadID); err != nil {
		return Outcome{}, err
	}

	action := audit.ActionUploaded
	switch {
	case req.ReplaceID != "":
		action = audit.ActionReplaced
	case check.HasDuplicate && req.Force:
		action = audit.ActionKeptBoth
	}
	_ = s.audit.Record(ctx, action, surveyID, cp.UploadID,
		fmt.Sprintf("%d rows from %s", len(table.Rows), req.FileName), req.Actor)

	s.logger.Infow("upload completed",
		"survey_id", surveyID,
		"upload_id", cp.UploadID,
		"rows", len(table.Rows))

	outcome.Status = StatusCompleted
	outcome.SurveyID = surveyID
	return outcome, nil
}

// Resume continues an interrupted upload from its checkpoint. The caller
// re-supplies the same table; row counts are cross-checked before any
// write. Already-written batches are replayed harmlessly because row
// appends are idempotent by index.
func (s *Service) Resume(ctx context.Context, uploadID string, table fileparse.Table) (Outcome, error) {
	cp, found, err := s.checkpoints.Get(ctx, uploadID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return Outcome{}, eris.Wrapf(ErrCheckpointNotFound, "upload %s", uploadID)
	}
	if !checkpoint.CanResume(cp) {
		return Outcome{}, eris.Wrapf(ErrNotResumable, "upload %s is %s", uploadID, cp.State)
	}
	if len(table.Rows) != cp.TotalRows {
		return Outcome{}, eris.Wrapf(ErrTableMismatch, "got %d rows, checkpoint expects %d", len(table.Rows), cp.TotalRows)
	}

	info := checkpoint.ResumeInfo(cp)
	s.logger.Infow("resuming upload",
		"upload_id", uploadID,
		"start_row", info.StartRowIndex,
		"rows_remaining", info.RowsRemaining)

	if err := s.persistBatches(ctx, uploadID, cp.Metadata.SurveyID, table.Rows, info.StartRowIndex, info.StartBatchIndex); err != nil {
		return Outcome{}, err
	}
	if err := s.checkpoints.MarkCompleted(ctx, uploadID); err != nil {
		return Outcome{}, err
	}
	s.matcher.Invalidate()

	_ = s.audit.Record(ctx, audit.ActionResumed, cp.Metadata.SurveyID, uploadID,
		fmt.Sprintf("resumed at row %d", info.StartRowIndex), "")

	return Outcome{
		Status:   StatusCompleted,
		SurveyID: cp.Metadata.SurveyID,
		UploadID: uploadID,
		RowCount: cp.TotalRows,
	}, nil
}

// Delete removes a stored survey and invalidates the duplicate-detection
// cache so the deleted survey cannot reappear as a false positive.
func (s *Service) Delete(ctx context.Context, surveyID, actor string) error {
	_, found, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return err
	}
	if !found {
		return eris.Wrapf(ErrSurveyNotFound, "survey %s", surveyID)
	}
	if err := s.store.DeleteSurvey(ctx, surveyID); err != nil {
		return err
	}
	s.matcher.Invalidate()
	_ = s.audit.Record(ctx, audit.ActionDeleted, surveyID, "", "", actor)
	return nil
}

// table returns the pre-parsed table or parses the file bytes.
func (s *Service) table(req Request) (fileparse.Table, error) {
	if req.Table != nil {
		return *req.Table, nil
	}
	return fileparse.Parse(req.FileName, req.FileBytes)
}

// checkDuplicates hashes the file and warms the corpus cache in
// parallel, then runs the staged check. A priming failure is logged and
// left to the check itself, which degrades to an advisory no-duplicate.
// The computed hash is returned so the stored survey can carry it.
func (s *Service) checkDuplicates(ctx context.Context, req Request) (matcher.CheckResult, string) {
	var fileHash string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(req.FileBytes) > 0 {
			fileHash = matcher.HashBytes(req.FileBytes)
		}
		return nil
	})
	g.Go(func() error {
		return s.matcher.Prime(gctx)
	})
	if err := g.Wait(); err != nil {
		s.logger.Warnw("corpus priming failed", "error", err)
	}

	check := s.matcher.CheckForDuplicates(ctx, matcher.CheckInput{
		Metadata:  req.Metadata,
		FileHash:  fileHash,
		ExcludeID: req.ReplaceID,
	})
	return check, fileHash
}

// persistBatches writes rows from startRow onward in fixed-size batches,
// updating the checkpoint after each one. On failure the checkpoint is
// marked failed but recoverable, so Resume can replay from the last good
// batch.
func (s *Service) persistBatches(ctx context.Context, uploadID, surveyID string, rows [][]string, startRow, startBatch int) error {
	batchIndex := startBatch
	for start := startRow; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.store.AppendRows(ctx, surveyID, start, rows[start:end]); err != nil {
			failure := checkpoint.Failure{Message: err.Error(), Recoverable: true}
			if markErr := s.checkpoints.MarkFailed(ctx, uploadID, failure); markErr != nil {
				s.logger.Warnw("failed to mark checkpoint failed", "upload_id", uploadID, "error", markErr)
			}
			return eris.Wrapf(err, "failed to persist batch %d of survey %s", batchIndex, surveyID)
		}
		if err := s.checkpoints.UpdateProgress(ctx, uploadID, end, batchIndex); err != nil {
			return err
		}
		debug.DebugOutput(s.debugMode, "Batch %d persisted: rows %d-%d of %d", batchIndex, start, end-1, len(rows))
		batchIndex++
	}
	return nil
}
