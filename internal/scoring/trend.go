package scoring

// TrendTemplate counts how many of the eight moving-average stack conditions
// hold on the last bar. highs may be nil, in which case closes stand in for
// the 52-week high; so does the close of any bar whose high is not positive.
func TrendTemplate(closes, highs []float64) int {
	n := len(closes)
	if n < MinBarsForTrend {
		return 0
	}
	highs = barHighs(closes, highs)

	price := closes[n-1]
	sma50 := SMA(closes, 50)
	sma150 := SMA(closes, 150)
	sma200 := SMA(closes, 200)
	high52 := HighOf(highs, yearBars)

	// Needs 220 bars; SMA of a short slice is NaN and compares false.
	sma200Prior := SMA(closes[:n-trendSlopeBars], 200)

	conditions := [...]bool{
		price > sma150,
		price > sma200,
		sma150 > sma200,
		sma200 > sma200Prior,
		sma50 > sma150,
		sma50 > sma200,
		price > sma50,
		price >= 0.75*high52,
	}
	score := 0
	for _, ok := range conditions {
		if ok {
			score++
		}
	}
	return score
}

// barHighs returns highs with unset (non-positive) entries replaced by that
// bar's close.
func barHighs(closes, highs []float64) []float64 {
	if len(highs) != len(closes) {
		return closes
	}
	out := make([]float64, len(highs))
	for i, h := range highs {
		if h > 0 {
			out[i] = h
		} else {
			out[i] = closes[i]
		}
	}
	return out
}
