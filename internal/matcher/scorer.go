package matcher

import (
	"strings"

	"github.com/compdesk/survey-intake/internal/normalize"
)

// levenshteinDistance computes the edit distance between two strings,
// counted in runes so multi-byte characters cost one edit, not several.
func levenshteinDistance(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	matrix := make([][]int, len(ra)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(rb)+1)
	}
	for i := 0; i <= len(ra); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(rb); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			matrix[i][j] = min3(
				matrix[i-1][j]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j-1]+cost,
			)
		}
	}
	return matrix[len(ra)][len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// StringSimilarity is normalized Levenshtein similarity:
// 1 - distance/max(len), with 1.0 for two empty strings.
func StringSimilarity(a, b string) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshteinDistance(a, b))/float64(maxLen)
}

// fieldFold prepares a metadata field for comparison.
func fieldFold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetadataSimilarity scores two surveys' metadata with the given
// weights. Source and label compare by edit distance; category, provider
// type and year compare exact. Only fields populated on both sides
// contribute, to both the numerator and the total weight, so the score
// is normalized to what was actually comparable. Nothing comparable
// scores zero.
func MetadataSimilarity(a, b normalize.Metadata, weights FieldWeights) float64 {
	score := 0.0
	total := 0.0

	aSource, bSource := fieldFold(a.Source), fieldFold(b.Source)
	if aSource != "" && bSource != "" {
		total += weights.Source
		score += weights.Source * StringSimilarity(aSource, bSource)
	}

	aCategory, bCategory := fieldFold(a.DataCategory), fieldFold(b.DataCategory)
	if aCategory != "" && bCategory != "" {
		total += weights.DataCategory
		if aCategory == bCategory {
			score += weights.DataCategory
		}
	}

	aProvider, bProvider := fieldFold(a.ProviderType), fieldFold(b.ProviderType)
	if aProvider != "" && bProvider != "" {
		total += weights.ProviderType
		if aProvider == bProvider {
			score += weights.ProviderType
		}
	}

	if a.Year != 0 && b.Year != 0 {
		total += weights.Year
		if a.Year == b.Year {
			score += weights.Year
		}
	}

	aLabel, bLabel := fieldFold(a.SurveyLabel), fieldFold(b.SurveyLabel)
	if aLabel != "" && bLabel != "" {
		total += weights.SurveyLabel
		score += weights.SurveyLabel * StringSimilarity(aLabel, bLabel)
	}

	if total == 0 {
		return 0
	}
	return score / total
}
