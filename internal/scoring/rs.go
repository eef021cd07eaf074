package scoring

import (
	"math"
	"sort"
)

// NeutralRS is returned when a symbol has too little history or no peers.
const NeutralRS = 50

func rsLookback(n int) int {
	return min(RSMaxLookback, n-1)
}

func rsFromCounts(lower, valid int) int {
	if valid == 0 {
		return NeutralRS
	}
	v := 1 + 99*float64(lower)/float64(valid)
	return int(math.Round(clamp(v, 1, 99)))
}

// RSRating ranks target's trailing return against peers over the same
// horizon. Peers without enough history for that horizon are not counted.
func RSRating(target []float64, peers [][]float64) int {
	lookback := rsLookback(len(target))
	if lookback < MinBarsForRS {
		return NeutralRS
	}
	ret, ok := PercentReturn(target, lookback)
	if !ok {
		return NeutralRS
	}

	lower, valid := 0, 0
	for _, p := range peers {
		pr, ok := PercentReturn(p, lookback)
		if !ok {
			continue
		}
		valid++
		if pr < ret {
			lower++
		}
	}
	return rsFromCounts(lower, valid)
}

// RSRatings computes RSRating for every series against all the others.
// Symbols sharing a lookback share one sorted return table, so a full
// universe costs O(k * n log n) for k distinct lookbacks.
func RSRatings(closes [][]float64) []int {
	out := make([]int, len(closes))
	byLookback := make(map[int][]int)
	for i, c := range closes {
		lookback := rsLookback(len(c))
		if lookback < MinBarsForRS {
			out[i] = NeutralRS
			continue
		}
		byLookback[lookback] = append(byLookback[lookback], i)
	}

	for lookback, members := range byLookback {
		returns := make([]float64, 0, len(closes))
		for _, c := range closes {
			if r, ok := PercentReturn(c, lookback); ok {
				returns = append(returns, r)
			}
		}
		sort.Float64s(returns)

		for _, i := range members {
			ret, ok := PercentReturn(closes[i], lookback)
			if !ok {
				out[i] = NeutralRS
				continue
			}
			// returns includes the symbol itself, which is never strictly lower.
			lower := sort.SearchFloat64s(returns, ret)
			out[i] = rsFromCounts(lower, len(returns)-1)
		}
	}
	return out
}
