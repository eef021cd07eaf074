package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/fedutinova/stockrank/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linear returns n closes from start growing by step each bar.
func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestSMA(t *testing.T) {
	assert.InDelta(t, 4.0, SMA([]float64{1, 2, 3, 4, 5}, 3), 1e-9)
	assert.True(t, math.IsNaN(SMA([]float64{1, 2}, 3)))
}

func TestPercentReturn(t *testing.T) {
	ret, ok := PercentReturn([]float64{100, 110, 120}, 2)
	require.True(t, ok)
	assert.InDelta(t, 20.0, ret, 1e-9)

	_, ok = PercentReturn([]float64{100, 110}, 2)
	assert.False(t, ok)
	_, ok = PercentReturn([]float64{0, 110, 120}, 2)
	assert.False(t, ok)
}

func TestRSRating(t *testing.T) {
	peers := [][]float64{
		linear(100, 100, 0.1),
		linear(100, 100, 0.2),
		linear(100, 100, 0.3),
	}

	t.Run("outperformer gets 99", func(t *testing.T) {
		assert.Equal(t, 99, RSRating(linear(100, 100, 5), peers))
	})
	t.Run("underperformer gets 1", func(t *testing.T) {
		assert.Equal(t, 1, RSRating(linear(100, 100, -0.5), peers))
	})
	t.Run("short history is neutral", func(t *testing.T) {
		assert.Equal(t, 50, RSRating(linear(20, 100, 5), peers))
	})
	t.Run("no valid peers is neutral", func(t *testing.T) {
		assert.Equal(t, 50, RSRating(linear(100, 100, 5), [][]float64{linear(10, 1, 1)}))
	})
	t.Run("middle of the pack", func(t *testing.T) {
		// 1 + 99*1/3 = 34
		assert.Equal(t, 34, RSRating(linear(100, 100, 0.15), peers))
	})
}

func TestRSRatings_MatchesPairwise(t *testing.T) {
	universe := [][]float64{
		linear(300, 50, 0.5),
		linear(300, 80, -0.1),
		linear(120, 20, 0.4),
		linear(60, 10, 0.01),
		linear(15, 10, 1),
		linear(300, 40, 0.2),
	}
	got := RSRatings(universe)
	for i := range universe {
		peers := make([][]float64, 0, len(universe)-1)
		for j := range universe {
			if j != i {
				peers = append(peers, universe[j])
			}
		}
		assert.Equal(t, RSRating(universe[i], peers), got[i], "series %d", i)
	}
	assert.Equal(t, 50, got[4])
}

func TestMomentum(t *testing.T) {
	assert.Zero(t, Momentum(linear(5, 100, 1)))

	flat := make([]float64, 300)
	for i := range flat {
		flat[i] = 100
	}
	// 0% return maps to 50*100/150 on every horizon.
	assert.InDelta(t, 100.0/3, Momentum(flat), 1e-9)

	// Only the 5-day horizon is usable: +10% maps to 40.
	short := []float64{100, 100, 100, 100, 100, 100, 100, 110}
	assert.InDelta(t, 40.0, Momentum(short), 1e-9)

	assert.InDelta(t, 100.0, Momentum(linear(300, 1, 10)), 1e-9)
}

func TestTrendTemplate(t *testing.T) {
	assert.Zero(t, TrendTemplate(linear(199, 100, 1), nil))
	assert.Equal(t, 8, TrendTemplate(linear(260, 100, 1), nil))

	// With exactly 200 points the slope condition cannot be evaluated.
	assert.Equal(t, 7, TrendTemplate(linear(200, 100, 1), nil))

	falling := linear(260, 400, -1)
	assert.Zero(t, TrendTemplate(falling, nil))
}

func TestTrendTemplate_UnsetHighsFallBackToCloses(t *testing.T) {
	falling := linear(260, 400, -1)
	assert.Zero(t, TrendTemplate(falling, make([]float64, len(falling))))

	// Bars loaded with the high column left at its default.
	last := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	bars := make([]models.PriceBar, len(falling))
	for i, c := range falling {
		bars[i] = models.PriceBar{Symbol: "DOWN", Date: last.AddDate(0, 0, i-len(falling)+1), Close: c}
	}
	series := models.GroupBars(bars, last)
	require.Len(t, series, 1)
	assert.Zero(t, TrendTemplate(series[0].Closes, series[0].Highs))

	// A real high above every close still counts.
	highs := make([]float64, len(falling))
	highs[len(highs)-10] = 1000
	rising := linear(260, 100, 1)
	assert.Equal(t, 7, TrendTemplate(rising, highs))
}

func TestTechnical(t *testing.T) {
	assert.Zero(t, Technical(linear(150, 100, 1)))

	closes := linear(260, 100, 1)
	sma50 := SMA(closes, 50)
	excess := (closes[len(closes)-1]/sma50 - 1) * 100
	want := 25 + math.Min(25, excess*2.5) + 20 + 15 + 15
	assert.InDelta(t, want, Technical(closes), 1e-9)

	assert.Zero(t, Technical(linear(260, 400, -1)))
}

func TestDefaultCompose(t *testing.T) {
	assert.InDelta(t, 100.0, DefaultCompose(100, 100, 8, 100), 1e-9)
	assert.InDelta(t, 0.40*99+0.25*50+0.15*50+0.20*10, DefaultCompose(99, 50, 4, 10), 1e-9)
}

func TestRank_StableTies(t *testing.T) {
	rows := []models.Ranking{
		{Symbol: "A", CompositeScore: 10},
		{Symbol: "B", CompositeScore: 50},
		{Symbol: "C", CompositeScore: 50},
		{Symbol: "D", CompositeScore: 90},
	}
	Rank(rows)

	want := []struct {
		symbol string
		rank   int
	}{{"D", 1}, {"B", 2}, {"C", 3}, {"A", 4}}
	for i, w := range want {
		assert.Equal(t, w.symbol, rows[i].Symbol)
		assert.Equal(t, w.rank, rows[i].CompositeRank)
		assert.InDelta(t, float64(w.rank)/4*100, rows[i].CompositePercentile, 1e-9)
		assert.Equal(t, 4, rows[i].TotalStocksRanked)
	}
}

func TestScoreDate(t *testing.T) {
	date := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	mk := func(symbol string, closes []float64, last time.Time) models.Series {
		s := models.Series{Symbol: symbol, Closes: closes, Highs: closes}
		s.Dates = make([]time.Time, len(closes))
		for i := range closes {
			s.Dates[i] = last.AddDate(0, 0, i-len(closes)+1)
		}
		return s
	}

	series := []models.Series{
		mk("UP", linear(260, 100, 1), date),
		mk("DOWN", linear(260, 400, -1), date),
		mk("SHORT", linear(30, 100, 1), date),                 // RS peer only
		mk("STALE", linear(260, 100, 2), date.AddDate(0, 0, -1)), // no bar on date
	}

	rows := NewScorer(nil).ScoreDate(series, date)
	require.Len(t, rows, 2)
	assert.Equal(t, "UP", rows[0].Symbol)
	assert.Equal(t, 1, rows[0].CompositeRank)
	assert.Equal(t, 8, rows[0].TrendTemplateScore)
	assert.Equal(t, 99, rows[0].RSRating)
	assert.Equal(t, "DOWN", rows[1].Symbol)
	assert.Equal(t, 1, rows[1].RSRating)
	assert.True(t, rows[1].RankingDate.Equal(date))

	custom := NewScorer(func(rs, _, _, _ float64) float64 { return -rs })
	rows = custom.ScoreDate(series, date)
	require.Len(t, rows, 2)
	assert.Equal(t, "DOWN", rows[0].Symbol)
}

func TestScoreDate_PanicSkipsSymbol(t *testing.T) {
	date := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	s := NewScorer(func(rs, _, _, _ float64) float64 {
		if rs == 99 {
			panic("boom")
		}
		return rs
	})
	series := []models.Series{
		{Symbol: "A", Dates: []time.Time{date.AddDate(0, 0, -1), date}, Closes: []float64{1, 2}},
	}
	for i := range 2 {
		closes := linear(60, 100, float64(i+1))
		dates := make([]time.Time, 60)
		for d := range dates {
			dates[d] = date.AddDate(0, 0, d-59)
		}
		series = append(series, models.Series{Symbol: string(rune('X' + i)), Dates: dates, Closes: closes})
	}

	rows := s.ScoreDate(series, date)
	require.Len(t, rows, 1)
	assert.Equal(t, "X", rows[0].Symbol)
}
