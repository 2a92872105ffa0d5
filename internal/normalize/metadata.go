package normalize

import (
	"strconv"
	"strings"
)

// Data categories a survey can belong to.
const (
	CategoryCompensation = "COMPENSATION"
	CategoryCallPay      = "CALL_PAY"
	CategoryMoonlighting = "MOONLIGHTING"
)

// Metadata identifies a survey within the corpus. Source, DataCategory
// and ProviderType are required for new uploads; SurveyLabel is optional
// and Year may be zero on old records that never captured it.
type Metadata struct {
	Source       string `json:"source"`
	DataCategory string `json:"data_category"`
	ProviderType string `json:"provider_type"`
	Year         int    `json:"year"`
	SurveyLabel  string `json:"survey_label,omitempty"`
}

// CompositeKey builds the canonical identity key for a survey. Fields are
// trimmed, lowercased and pipe-joined in a fixed order, so two keys are
// comparable byte for byte. An absent label or year yields an empty
// segment rather than a shifted one.
func CompositeKey(m Metadata) string {
	year := ""
	if m.Year != 0 {
		year = strconv.Itoa(m.Year)
	}
	segments := []string{
		keySegment(m.Source),
		keySegment(m.DataCategory),
		keySegment(m.ProviderType),
		year,
		keySegment(m.SurveyLabel),
	}
	return strings.Join(segments, "|")
}

func keySegment(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Record is a stored survey in whichever shape it was written. Modern
// records carry structured metadata; legacy records only have a free-text
// type description from the old system.
type Record interface {
	canonical() Metadata
}

// ModernRecord wraps metadata captured by the current upload flow.
type ModernRecord struct {
	Meta Metadata
}

func (r ModernRecord) canonical() Metadata {
	m := r.Meta
	m.Source = strings.TrimSpace(m.Source)
	m.DataCategory = strings.TrimSpace(m.DataCategory)
	m.ProviderType = strings.TrimSpace(m.ProviderType)
	m.SurveyLabel = strings.TrimSpace(m.SurveyLabel)
	return m
}

// LegacyRecord is a survey imported from the old system, where identity
// lives in a free-text type such as "MGMA Physician Compensation 2022".
type LegacyRecord struct {
	Type         string
	ProviderType string
	Year         int
	SurveyLabel  string
}

func (r LegacyRecord) canonical() Metadata {
	return Metadata{
		Source:       DeriveSource(r.Type),
		DataCategory: DeriveDataCategory(r.Type),
		ProviderType: strings.TrimSpace(r.ProviderType),
		Year:         r.Year,
		SurveyLabel:  strings.TrimSpace(r.SurveyLabel),
	}
}

// CanonicalMetadata normalizes a stored record into comparable metadata.
// Callers apply it once when reading the corpus so the matching engine
// only ever sees one shape.
func CanonicalMetadata(r Record) Metadata {
	return r.canonical()
}

// DeriveSource extracts the source vendor from a legacy free-text type:
// the first whitespace-delimited token, so "MGMA Physician Compensation
// 2022" derives "MGMA".
func DeriveSource(legacyType string) string {
	fields := strings.Fields(legacyType)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// DeriveDataCategory classifies a legacy free-text type by substring,
// falling back to compensation when nothing more specific matches.
func DeriveDataCategory(legacyType string) string {
	lower := strings.ToLower(legacyType)
	switch {
	case strings.Contains(lower, "call pay"):
		return CategoryCallPay
	case strings.Contains(lower, "moonlighting"):
		return CategoryMoonlighting
	default:
		return CategoryCompensation
	}
}
