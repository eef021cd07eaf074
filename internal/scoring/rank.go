package scoring

import (
	"sort"

	"github.com/fedutinova/stockrank/internal/models"
)

// ComposeFunc turns the four component scores into one composite.
type ComposeFunc func(rs, momentum, trend, technical float64) float64

// DefaultCompose weights RS 40%, momentum 25%, trend 15% and technical 20%,
// with the 0..8 trend count scaled to 0..100 first.
func DefaultCompose(rs, momentum, trend, technical float64) float64 {
	return 0.40*rs + 0.25*momentum + 0.15*(trend/8*100) + 0.20*technical
}

// Rank orders rows by composite score descending in place. Equal scores
// keep input order and still get distinct consecutive ranks.
func Rank(rows []models.Ranking) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CompositeScore > rows[j].CompositeScore
	})
	total := len(rows)
	for i := range rows {
		rows[i].CompositeRank = i + 1
		rows[i].CompositePercentile = float64(i+1) / float64(total) * 100
		rows[i].TotalStocksRanked = total
	}
}
