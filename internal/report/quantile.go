package report

import (
	"math"
	"sort"
	"strings"

	"github.com/compdesk/survey-intake/internal/columns"
	"github.com/compdesk/survey-intake/internal/normalize"
)

// selectionThreshold is the largest input still summarized by sorting a
// copy. Bigger inputs switch to an in-place quickselect.
const selectionThreshold = 10000

// ColumnSummary aggregates one percentile column of a mapped table.
// Statistics cover parseable values only; vendor markers and unparseable
// cells are counted separately. All statistics are zero when Count is.
type ColumnSummary struct {
	Column  string  `json:"column"`
	Level   int     `json:"level"`
	Family  string  `json:"family,omitempty"`
	Count   int     `json:"count"`
	Markers int     `json:"markers"`
	Invalid int     `json:"invalid"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	P25     float64 `json:"p25"`
	P50     float64 `json:"p50"`
	P75     float64 `json:"p75"`
	P90     float64 `json:"p90"`
}

// SummarizeColumns computes a quantile summary for every percentile
// column the mapping recognized, in mapping order.
func SummarizeColumns(mapping columns.Mapping, rows [][]string) []ColumnSummary {
	summaries := make([]ColumnSummary, 0, len(mapping.Percentiles))
	for _, col := range mapping.Percentiles {
		summary := ColumnSummary{Column: col.Name, Level: col.Level, Family: col.Family}
		var values []float64
		for _, row := range rows {
			if col.Index >= len(row) {
				continue
			}
			cell := strings.TrimSpace(row[col.Index])
			if cell == "" {
				continue
			}
			if normalize.IsVendorMarker(cell) {
				summary.Markers++
				continue
			}
			value := normalize.ParseFormattedNumber(cell)
			if math.IsNaN(value) {
				summary.Invalid++
				continue
			}
			values = append(values, value)
		}
		summary.Count = len(values)
		if len(values) > 0 {
			summary.Min, summary.Max = minMax(values)
			summary.P25 = Percentile(values, 25)
			summary.P50 = Percentile(values, 50)
			summary.P75 = Percentile(values, 75)
			summary.P90 = Percentile(values, 90)
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// Percentile returns the nearest-rank percentile of the values, leaving
// the input untouched. Inputs up to selectionThreshold are sorted and
// indexed; larger inputs use a median-of-three quickselect, so the
// result is deterministic either way. NaN for an empty input.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	k := rankIndex(len(values), p)
	work := make([]float64, len(values))
	copy(work, values)
	if len(work) <= selectionThreshold {
		sort.Float64s(work)
		return work[k]
	}
	return quickselect(work, k)
}

// rankIndex converts a percentile to a 0-based nearest-rank index.
func rankIndex(n int, p float64) int {
	if p <= 0 {
		return 0
	}
	if p >= 100 {
		return n - 1
	}
	k := int(math.Ceil(p/100*float64(n))) - 1
	if k < 0 {
		return 0
	}
	if k >= n {
		return n - 1
	}
	return k
}

// quickselect places the k-th smallest value at index k and returns it.
// Partitioning pivots on the median of first, middle and last so no
// random source is involved and sorted inputs stay O(n).
func quickselect(values []float64, k int) float64 {
	lo, hi := 0, len(values)-1
	for lo < hi {
		p := partition(values, lo, hi)
		switch {
		case k == p:
			return values[k]
		case k < p:
			hi = p - 1
		default:
			lo = p + 1
		}
	}
	return values[k]
}

func partition(values []float64, lo, hi int) int {
	mid := lo + (hi-lo)/2
	if values[mid] < values[lo] {
		values[mid], values[lo] = values[lo], values[mid]
	}
	if values[hi] < values[lo] {
		values[hi], values[lo] = values[lo], values[hi]
	}
	if values[hi] < values[mid] {
		values[hi], values[mid] = values[mid], values[hi]
	}
	values[mid], values[hi] = values[hi], values[mid]

	pivot := values[hi]
	i := lo
	for j := lo; j < hi; j++ {
		if values[j] < pivot {
			values[i], values[j] = values[j], values[i]
			i++
		}
	}
	values[i], values[hi] = values[hi], values[i]
	return i
}

func minMax(values []float64) (float64, float64) {
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
