package scoring

var (
	momentumHorizons = [...]int{5, 21, 63, 126, 252}
	momentumWeights  = [...]float64{0.05, 0.15, 0.30, 0.30, 0.20}
)

// Momentum blends returns over 1w/1m/3m/6m/12m into 0..100. Horizons that
// lack history are dropped and the remaining weights renormalised.
func Momentum(closes []float64) float64 {
	var sum, weight float64
	for i, h := range momentumHorizons {
		ret, ok := PercentReturn(closes, h)
		if !ok {
			continue
		}
		sum += clamp((ret+50)*100/150, 0, 100) * momentumWeights[i]
		weight += momentumWeights[i]
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}
