package matcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/compdesk/survey-intake/internal/debug"
	"github.com/compdesk/survey-intake/internal/normalize"
	"github.com/compdesk/survey-intake/internal/store"
)

// CorpusSource supplies the stored surveys the engine compares against.
type CorpusSource interface {
	ListSurveys(ctx context.Context) ([]store.Survey, error)
}

const (
	defaultCacheTTL = 30 * time.Second
	maxCacheTTL     = 60 * time.Second
)

// Options configures a detection service. Zero values fall back to the
// production defaults.
type Options struct {
	CacheTTL   time.Duration
	Weights    FieldWeights
	Thresholds Thresholds
	Logger     *zap.Logger
	Debug      bool
}

// Service runs the three duplicate-detection stages against a cached
// corpus snapshot. The cache is owned by the service, not a package
// global: callers hold the one instance and must call Invalidate after
// any upload, delete or replace.
type Service struct {
	source     CorpusSource
	weights    FieldWeights
	thresholds Thresholds
	cacheTTL   time.Duration
	logger     *zap.SugaredLogger
	debugMode  bool

	mu        sync.Mutex
	cached    []Survey
	fetchedAt time.Time
}

// NewService creates a duplicate-detection service over the given corpus
// source.
func NewService(source CorpusSource, opts Options) *Service {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}
	weights := opts.Weights
	if weights == (FieldWeights{}) {
		weights = DefaultWeights()
	}
	thresholds := opts.Thresholds
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		source:     source,
		weights:    weights,
		thresholds: thresholds,
		cacheTTL:   ttl,
		logger:     logger.Sugar(),
		debugMode:  opts.Debug,
	}
}

// HashBytes returns the lowercase hex SHA-256 digest of the data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CheckForDuplicates runs the detection stages in precedence order:
// exact composite key, then content hash, then weighted similarity.
// The first stage that matches decides the match type and later stages
// are skipped. Detection never fails the caller: corpus errors degrade
// to a no-duplicate result with Error set, because blocking a legitimate
// upload on a detection outage is the worse failure mode.
func (s *Service) CheckForDuplicates(ctx context.Context, input CheckInput) CheckResult {
	defer debug.DebugTiming(s.debugMode, "duplicate check")()

	result := CheckResult{
		MatchType:    MatchNone,
		CompositeKey: normalize.CompositeKey(input.Metadata),
	}

	corpus, err := s.corpus(ctx)
	if err != nil {
		s.logger.Warnw("duplicate check degraded to no-duplicate",
			"composite_key", result.CompositeKey,
			"error", err)
		result.Error = err.Error()
		return result
	}
	debug.DebugOutput(s.debugMode, "Checking %q against %d stored surveys", result.CompositeKey, len(corpus))

	for i := range corpus {
		candidate := &corpus[i]
		if candidate.ID == input.ExcludeID && input.ExcludeID != "" {
			continue
		}
		if candidate.CompositeKey == result.CompositeKey {
			result.HasDuplicate = true
			result.MatchType = MatchExact
			result.ExactMatch = candidate
			return result
		}
	}

	inputHash := strings.ToLower(strings.TrimSpace(input.FileHash))
	if inputHash == "" && len(input.FileBytes) > 0 {
		inputHash = HashBytes(input.FileBytes)
	}
	if inputHash != "" {
		for i := range corpus {
			candidate := &corpus[i]
			if candidate.ID == input.ExcludeID && input.ExcludeID != "" {
				continue
			}
			if candidate.ContentHash != "" && candidate.ContentHash == inputHash {
				result.HasDuplicate = true
				result.MatchType = MatchContent
				result.ContentMatch = candidate
				return result
			}
		}
	}

	similar := s.similarSurveys(input, corpus)
	if len(similar) > 0 {
		result.HasDuplicate = true
		result.MatchType = MatchSimilar
		result.SimilarSurveys = similar
	}
	return result
}

// similarSurveys scores the candidate against the corpus and keeps
// everything above threshold, sorted by descending similarity. Pairs
// with two different non-empty sources are never kept, whatever their
// score.
func (s *Service) similarSurveys(input CheckInput, corpus []Survey) []SimilarSurvey {
	inputSource := fieldFold(input.Metadata.Source)

	var similar []SimilarSurvey
	for _, candidate := range corpus {
		if candidate.ID == input.ExcludeID && input.ExcludeID != "" {
			continue
		}

		candidateSource := fieldFold(candidate.Metadata.Source)
		bothSourced := inputSource != "" && candidateSource != ""
		if bothSourced && inputSource != candidateSource {
			continue
		}

		threshold := s.thresholds.CrossSource
		if bothSourced {
			threshold = s.thresholds.SameSource
		}

		score := MetadataSimilarity(input.Metadata, candidate.Metadata, s.weights)
		if score > threshold {
			similar = append(similar, SimilarSurvey{Survey: candidate, Similarity: score})
		}
	}

	sort.SliceStable(similar, func(i, j int) bool {
		return similar[i].Similarity > similar[j].Similarity
	})
	return similar
}

// Prime warms the corpus cache so a following check hits it.
func (s *Service) Prime(ctx context.Context) error {
	_, err := s.corpus(ctx)
	return err
}

// Invalidate drops the cached corpus. Upload, delete and replace flows
// must call this immediately after mutating the store; a deleted survey
// lingering in the cache shows up as a false-positive duplicate.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
}

// corpus returns the canonicalized corpus, from cache while fresh.
func (s *Service) corpus(ctx context.Context) ([]Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Since(s.fetchedAt) < s.cacheTTL {
		return s.cached, nil
	}

	records, err := s.source.ListSurveys(ctx)
	if err != nil {
		return nil, err
	}

	surveys := make([]Survey, 0, len(records))
	for _, record := range records {
		meta := normalize.CanonicalMetadata(record.Record())
		surveys = append(surveys, Survey{
			ID:           record.ID,
			Name:         record.Name,
			Metadata:     meta,
			CompositeKey: normalize.CompositeKey(meta),
			ContentHash:  strings.ToLower(strings.TrimSpace(record.ContentHash)),
			RowCount:     record.RowCount,
			UploadedAt:   record.UploadedAt,
		})
	}

	s.cached = surveys
	s.fetchedAt = time.Now()
	debug.DebugOutput(s.debugMode, "Corpus cache refreshed: %d surveys", len(surveys))
	return surveys, nil
}
