package scoring

// Technical scores where price sits in its moving-average stack, 0..100.
func Technical(closes []float64) float64 {
	if len(closes) < MinBarsForTrend {
		return 0
	}
	price := closes[len(closes)-1]
	sma50 := SMA(closes, 50)
	sma150 := SMA(closes, 150)
	sma200 := SMA(closes, 200)

	var score float64
	if price > sma50 && sma50 > 0 {
		excess := (price/sma50 - 1) * 100
		score += 25 + min(25, excess*2.5)
	}
	if price > sma150 {
		score += 20
	}
	if price > sma200 {
		score += 15
	}
	if sma50 > sma150 && sma150 > sma200 {
		score += 15
	}
	return clamp(score, 0, 100)
}
