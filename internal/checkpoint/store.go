package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// collectionKey is the single key the whole checkpoint collection lives
// under, as a JSON array.
const collectionKey = "upload_checkpoints"

// defaultRetention is how long abandoned checkpoints survive before a
// read prunes them.
const defaultRetention = 7 * 24 * time.Hour

// KV is the minimal key-value surface the store needs. A missing key
// must yield (nil, nil), not an error.
type KV interface {
	GetValue(ctx context.Context, key string) ([]byte, error)
	PutValue(ctx context.Context, key string, value []byte) error
}

// Store persists upload checkpoints as one JSON collection in a
// key-value area. Every read prunes entries older than the retention
// window as a side effect; there is no separate cleanup job.
type Store struct {
	kv        KV
	retention time.Duration
}

// New creates a checkpoint store with the default 7-day retention.
func New(kv KV) *Store {
	return NewWithRetention(kv, defaultRetention)
}

// NewWithRetention creates a checkpoint store with a custom retention
// window.
func NewWithRetention(kv KV, retention time.Duration) *Store {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Store{kv: kv, retention: retention}
}

// load reads the collection, dropping entries past retention. When the
// prune removed anything the shrunk collection is written back before
// the result is returned.
func (s *Store) load(ctx context.Context) ([]Checkpoint, error) {
	raw, err := s.kv.GetValue(ctx, collectionKey)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read checkpoint collection")
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var all []Checkpoint
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, eris.Wrap(err, "failed to decode checkpoint collection")
	}

	cutoff := time.Now().Add(-s.retention)
	kept := all[:0]
	for _, cp := range all {
		if cp.Timestamp.After(cutoff) {
			kept = append(kept, cp)
		}
	}
	if len(kept) != len(all) {
		if err := s.save(ctx, kept); err != nil {
			return nil, err
		}
	}
	return kept, nil
}

func (s *Store) save(ctx context.Context, all []Checkpoint) error {
	encoded, err := json.Marshal(all)
	if err != nil {
		return eris.Wrap(err, "failed to encode checkpoint collection")
	}
	if err := s.kv.PutValue(ctx, collectionKey, encoded); err != nil {
		return eris.Wrap(err, "failed to write checkpoint collection")
	}
	return nil
}

// Create registers a new checkpoint. A missing upload id is filled in;
// state starts at in_progress and the timestamp at now.
func (s *Store) Create(ctx context.Context, cp Checkpoint) (Checkpoint, error) {
	all, err := s.load(ctx)
	if err != nil {
		return Checkpoint{}, err
	}

	if cp.UploadID == "" {
		cp.UploadID = uuid.New().String()
	}
	if cp.State == "" {
		cp.State = StateInProgress
	}
	cp.Timestamp = time.Now().UTC()

	all = append(all, cp)
	if err := s.save(ctx, all); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// mutate applies fn to the checkpoint with the given id and persists
// the collection.
func (s *Store) mutate(ctx context.Context, uploadID string, fn func(*Checkpoint)) error {
	all, err := s.load(ctx)
	if err != nil {
		return err
	}
	for i := range all {
		if all[i].UploadID == uploadID {
			fn(&all[i])
			all[i].Timestamp = time.Now().UTC()
			return s.save(ctx, all)
		}
	}
	return eris.Errorf("checkpoint %s not found", uploadID)
}

// UpdateProgress records a completed batch: how many rows are written so
// far and which batch index just finished.
func (s *Store) UpdateProgress(ctx context.Context, uploadID string, rowsProcessed, batchIndex int) error {
	return s.mutate(ctx, uploadID, func(cp *Checkpoint) {
		cp.RowsProcessed = rowsProcessed
		cp.BatchesCompleted++
		cp.LastBatchIndex = batchIndex
	})
}

// MarkCompleted finishes a checkpoint and clears any recorded failure.
func (s *Store) MarkCompleted(ctx context.Context, uploadID string) error {
	return s.mutate(ctx, uploadID, func(cp *Checkpoint) {
		cp.State = StateCompleted
		cp.Error = nil
	})
}

// MarkFailed stops a checkpoint with a failure record.
func (s *Store) MarkFailed(ctx context.Context, uploadID string, failure Failure) error {
	return s.mutate(ctx, uploadID, func(cp *Checkpoint) {
		cp.State = StateFailed
		cp.Error = &failure
	})
}

// MarkPaused suspends a checkpoint.
func (s *Store) MarkPaused(ctx context.Context, uploadID string) error {
	return s.mutate(ctx, uploadID, func(cp *Checkpoint) {
		cp.State = StatePaused
	})
}

// Get returns one checkpoint by upload id.
func (s *Store) Get(ctx context.Context, uploadID string) (Checkpoint, bool, error) {
	all, err := s.load(ctx)
	if err != nil {
		return Checkpoint{}, false, err
	}
	for _, cp := range all {
		if cp.UploadID == uploadID {
			return cp, true, nil
		}
	}
	return Checkpoint{}, false, nil
}

// List returns every live checkpoint.
func (s *Store) List(ctx context.Context) ([]Checkpoint, error) {
	return s.load(ctx)
}

// Resumable returns the checkpoints an operator can restart.
func (s *Store) Resumable(ctx context.Context) ([]Checkpoint, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	var resumable []Checkpoint
	for _, cp := range all {
		if CanResume(cp) {
			resumable = append(resumable, cp)
		}
	}
	return resumable, nil
}

// Delete removes one checkpoint by upload id. Deleting an id that is
// already gone is not an error.
func (s *Store) Delete(ctx context.Context, uploadID string) error {
	all, err := s.load(ctx)
	if err != nil {
		return err
	}
	kept := all[:0]
	for _, cp := range all {
		if cp.UploadID != uploadID {
			kept = append(kept, cp)
		}
	}
	if len(kept) == len(all) {
		return nil
	}
	return s.save(ctx, kept)
}
