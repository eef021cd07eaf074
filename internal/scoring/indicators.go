// Package scoring holds the per-symbol score functions and the ranking of a
// date's scored rows. Everything here is pure.
package scoring

import "math"

// Minimum history for each score.
const (
	MinBarsForScoring = 50
	MinBarsForTrend   = 200
	MinBarsForRS      = 20
	RSMaxLookback     = 252
	yearBars          = 252
	trendSlopeBars    = 20
)

// SMA is the mean of the last n values, or NaN if there are fewer.
func SMA(values []float64, n int) float64 {
	if n <= 0 || len(values) < n {
		return math.NaN()
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// PercentReturn is the simple return in percent over the last n bars. ok is
// false when history is too short or the base price is not positive.
func PercentReturn(closes []float64, n int) (ret float64, ok bool) {
	if n <= 0 || len(closes) <= n {
		return 0, false
	}
	base := closes[len(closes)-1-n]
	if base <= 0 || math.IsNaN(base) {
		return 0, false
	}
	ret = (closes[len(closes)-1]/base - 1) * 100
	if math.IsNaN(ret) || math.IsInf(ret, 0) {
		return 0, false
	}
	return ret, true
}

// HighOf is the maximum of the last n values, or of all values if fewer.
func HighOf(values []float64, n int) float64 {
	if len(values) > n {
		values = values[len(values)-n:]
	}
	high := math.Inf(-1)
	for _, v := range values {
		high = max(high, v)
	}
	return high
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
