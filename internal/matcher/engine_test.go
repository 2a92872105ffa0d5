package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/compdesk/survey-intake/internal/normalize"
	"github.com/compdesk/survey-intake/internal/store"
)

type fakeSource struct {
	surveys []store.Survey
	err     error
	calls   int
}

func (f *fakeSource) ListSurveys(ctx context.Context) ([]store.Survey, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.surveys, nil
}

func modernSurvey(id, source, category, providerType string, year int, label string) store.Survey {
	return store.Survey{
		ID:           id,
		Name:         source + " " + category,
		Source:       source,
		DataCategory: category,
		ProviderType: providerType,
		Year:         year,
		SurveyLabel:  label,
		UploadedAt:   time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func inputFor(source, category, providerType string, year int, label string) CheckInput {
	return CheckInput{Metadata: normalize.Metadata{
		Source:       source,
		DataCategory: category,
		ProviderType: providerType,
		Year:         year,
		SurveyLabel:  label,
	}}
}

func TestCheckForDuplicatesExactMatch(t *testing.T) {
	source := &fakeSource{surveys: []store.Survey{
		modernSurvey("s1", "MGMA", "COMPENSATION", "Physician", 2024, ""),
	}}
	service := NewService(source, Options{})

	result := service.CheckForDuplicates(context.Background(), inputFor("  mgma ", "Compensation", "PHYSICIAN", 2024, ""))

	if !result.HasDuplicate || result.MatchType != MatchExact {
		t.Fatalf("Expected an exact match, got=%+v", result)
	}
	if result.ExactMatch == nil || result.ExactMatch.ID != "s1" {
		t.Errorf("Expected exact match against s1, got=%+v", result.ExactMatch)
	}
}

// When both an exact-key match and a content-hash match exist, the
// result must report exact, never content.
func TestCheckForDuplicatesExactBeatsContent(t *testing.T) {
	hashed := modernSurvey("s2", "SullivanCotter", "COMPENSATION", "Physician", 2024, "")
	hashed.ContentHash = HashBytes([]byte("survey payload"))

	source := &fakeSource{surveys: []store.Survey{
		modernSurvey("s1", "MGMA", "COMPENSATION", "Physician", 2024, ""),
		hashed,
	}}
	service := NewService(source, Options{})

	input := inputFor("MGMA", "COMPENSATION", "Physician", 2024, "")
	input.FileBytes = []byte("survey payload")

	result := service.CheckForDuplicates(context.Background(), input)

	if result.MatchType != MatchExact {
		t.Fatalf("Expected matchType=exact, got=%q", result.MatchType)
	}
	if result.ContentMatch != nil {
		t.Errorf("Expected no content match to be reported once exact wins, got=%+v", result.ContentMatch)
	}
	if len(result.SimilarSurveys) != 0 {
		t.Errorf("Expected no similarity stage after an exact match, got=%v", result.SimilarSurveys)
	}
}

func TestCheckForDuplicatesContentMatch(t *testing.T) {
	hashed := modernSurvey("s2", "SullivanCotter", "COMPENSATION", "Physician", 2024, "")
	hashed.ContentHash = "AB12CD"

	source := &fakeSource{surveys: []store.Survey{hashed}}
	service := NewService(source, Options{})

	input := inputFor("ECG", "CALL_PAY", "APP", 2021, "")
	input.FileHash = "ab12cd"

	result := service.CheckForDuplicates(context.Background(), input)

	if result.MatchType != MatchContent {
		t.Fatalf("Expected matchType=content, got=%+v", result)
	}
	if result.ContentMatch == nil || result.ContentMatch.ID != "s2" {
		t.Errorf("Expected content match against s2, got=%+v", result.ContentMatch)
	}
}

// Two different non-empty sources must never be reported similar, no
// matter how close the rest of the metadata is.
func TestCheckForDuplicatesCrossSourceGuard(t *testing.T) {
	source := &fakeSource{surveys: []store.Survey{
		modernSurvey("s1", "SullivanCotter", "COMPENSATION", "Physician", 2024, "National"),
	}}
	service := NewService(source, Options{})

	result := service.CheckForDuplicates(context.Background(), inputFor("MGMA", "COMPENSATION", "Physician", 2024, "National"))

	if result.HasDuplicate {
		t.Fatalf("Expected no duplicate across different sources, got=%+v", result)
	}
	if len(result.SimilarSurveys) != 0 {
		t.Errorf("Expected empty similar list, got=%v", result.SimilarSurveys)
	}
}

func TestCheckForDuplicatesSameSourceSimilarity(t *testing.T) {
	source := &fakeSource{surveys: []store.Survey{
		// Same source, year off by one: 0.7/0.9 stays under the 0.8 bar.
		modernSurvey("below", "MGMA", "COMPENSATION", "Physician", 2023, ""),
		// Same source, same year, label one edit away: above the bar.
		modernSurvey("high", "MGMA", "COMPENSATION", "Physician", 2024, "Nationals"),
		// Identical metadata apart from the label missing on one side.
		modernSurvey("top", "MGMA", "COMPENSATION", "Physician", 2024, ""),
	}}
	service := NewService(source, Options{})

	input := inputFor("MGMA", "COMPENSATION", "Physician", 2024, "National")
	// Shift the label so no composite key collides.
	result := service.CheckForDuplicates(context.Background(), input)

	if result.MatchType != MatchSimilar {
		t.Fatalf("Expected matchType=similar, got=%+v", result)
	}
	if len(result.SimilarSurveys) != 2 {
		t.Fatalf("Expected two surveys above threshold, got=%d: %+v", len(result.SimilarSurveys), result.SimilarSurveys)
	}
	if result.SimilarSurveys[0].Survey.ID != "top" {
		t.Errorf("Expected the highest score first, got=%q", result.SimilarSurveys[0].Survey.ID)
	}
	if result.SimilarSurveys[0].Similarity < result.SimilarSurveys[1].Similarity {
		t.Errorf("Expected descending similarity, got=%v", result.SimilarSurveys)
	}
	for _, s := range result.SimilarSurveys {
		if s.Survey.ID == "below" {
			t.Errorf("Expected the below-threshold survey to be excluded, got=%v", s)
		}
	}
}

// A candidate with an empty source is only flagged at the stricter
// cross-source threshold.
func TestCheckForDuplicatesEmptySourceThreshold(t *testing.T) {
	legacyNoSource := store.Survey{
		ID:           "legacy-empty",
		Name:         "old import",
		ProviderType: "Physician",
		DataCategory: "",
		Year:         2024,
		UploadedAt:   time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	}
	source := &fakeSource{surveys: []store.Survey{legacyNoSource}}
	service := NewService(source, Options{})

	// Shared fields: provider type and year, both equal: score 1.0 > 0.95.
	match := service.CheckForDuplicates(context.Background(), inputFor("MGMA", "", "Physician", 2024, ""))
	if match.MatchType != MatchSimilar {
		t.Fatalf("Expected a similar match above the cross-source threshold, got=%+v", match)
	}

	// Year differs: score 0.5, below 0.95.
	miss := service.CheckForDuplicates(context.Background(), inputFor("MGMA", "", "Physician", 2023, ""))
	if miss.HasDuplicate {
		t.Errorf("Expected no match below the cross-source threshold, got=%+v", miss)
	}
}

// Legacy corpus rows must canonicalize the same way the upload side
// does, or exact matches are silently missed.
func TestCheckForDuplicatesLegacyDerivation(t *testing.T) {
	legacy := store.Survey{
		ID:           "legacy-1",
		Name:         "historic import",
		LegacyType:   "MGMA Physician Compensation 2022",
		ProviderType: "Physician",
		Year:         2022,
		UploadedAt:   time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	source := &fakeSource{surveys: []store.Survey{legacy}}
	service := NewService(source, Options{})

	result := service.CheckForDuplicates(context.Background(), inputFor("MGMA", "COMPENSATION", "Physician", 2022, ""))

	if result.MatchType != MatchExact {
		t.Fatalf("Expected the legacy row to match exactly after derivation, got=%+v", result)
	}
	if result.ExactMatch.Metadata.Source != "MGMA" || result.ExactMatch.Metadata.DataCategory != "COMPENSATION" {
		t.Errorf("Expected derived metadata on the match, got=%+v", result.ExactMatch.Metadata)
	}
}

func TestCheckForDuplicatesFailsOpen(t *testing.T) {
	source := &fakeSource{err: errors.New("corpus unavailable")}
	service := NewService(source, Options{})

	result := service.CheckForDuplicates(context.Background(), inputFor("MGMA", "COMPENSATION", "Physician", 2024, ""))

	if result.HasDuplicate {
		t.Errorf("Expected detection to fail open, got=%+v", result)
	}
	if result.MatchType != MatchNone {
		t.Errorf("Expected matchType=none on degraded checks, got=%q", result.MatchType)
	}
	if result.Error == "" {
		t.Errorf("Expected the degradation to be visible on the result")
	}
}

func TestCorpusCacheAndInvalidate(t *testing.T) {
	source := &fakeSource{surveys: []store.Survey{
		modernSurvey("s1", "MGMA", "COMPENSATION", "Physician", 2024, ""),
	}}
	service := NewService(source, Options{CacheTTL: time.Minute})
	input := inputFor("ECG", "COMPENSATION", "APP", 2020, "")

	service.CheckForDuplicates(context.Background(), input)
	service.CheckForDuplicates(context.Background(), input)
	if source.calls != 1 {
		t.Fatalf("Expected the second check to hit the cache, got %d fetches", source.calls)
	}

	service.Invalidate()
	service.CheckForDuplicates(context.Background(), input)
	if source.calls != 2 {
		t.Errorf("Expected invalidation to force a refetch, got %d fetches", source.calls)
	}
}

func TestCheckForDuplicatesExcludesReplacedSurvey(t *testing.T) {
	source := &fakeSource{surveys: []store.Survey{
		modernSurvey("s1", "MGMA", "COMPENSATION", "Physician", 2024, ""),
	}}
	service := NewService(source, Options{})

	input := inputFor("MGMA", "COMPENSATION", "Physician", 2024, "")
	input.ExcludeID = "s1"

	result := service.CheckForDuplicates(context.Background(), input)
	if result.HasDuplicate {
		t.Errorf("Expected the survey being replaced to be ignored, got=%+v", result)
	}
}

func TestCacheTTLClamp(t *testing.T) {
	service := NewService(&fakeSource{}, Options{CacheTTL: 5 * time.Minute})
	if service.cacheTTL != maxCacheTTL {
		t.Errorf("Expected TTL clamped to %v, got=%v", maxCacheTTL, service.cacheTTL)
	}

	service = NewService(&fakeSource{}, Options{})
	if service.cacheTTL != defaultCacheTTL {
		t.Errorf("Expected default TTL %v, got=%v", defaultCacheTTL, service.cacheTTL)
	}
}
