package models

import (
	"time"
)

// PriceBar is one daily OHLCV row from the price history.
type PriceBar struct {
	Symbol string    `json:"symbol" db:"symbol"`
	Date   time.Time `json:"date" db:"date"`
	Open   float64   `json:"open" db:"open"`
	High   float64   `json:"high" db:"high"`
	Low    float64   `json:"low" db:"low"`
	Close  float64   `json:"close" db:"close"`
	Volume int64     `json:"volume" db:"volume"`
}

// Ranking is one row of ranking history, keyed by (Symbol, RankingDate).
type Ranking struct {
	Symbol              string    `json:"symbol" db:"symbol"`
	RankingDate         time.Time `json:"ranking_date" db:"ranking_date"`
	RSRating            int       `json:"rs_rating" db:"rs_rating"`
	MomentumScore       float64   `json:"momentum_score" db:"momentum_score"`
	TrendTemplateScore  int       `json:"trend_template_score" db:"trend_template_score"`
	TechnicalScore      float64   `json:"technical_score" db:"technical_score"`
	CompositeScore      float64   `json:"composite_score" db:"composite_score"`
	CompositeRank       int       `json:"composite_rank" db:"composite_rank"`
	CompositePercentile float64   `json:"composite_percentile" db:"composite_percentile"`
	TotalStocksRanked   int       `json:"total_stocks_ranked" db:"total_stocks_ranked"`
}

// Series is one symbol's price history in date order.
type Series struct {
	Symbol string
	Dates  []time.Time
	Closes []float64
	Highs  []float64
}

// Len is the number of bars.
func (s Series) Len() int { return len(s.Closes) }

// Last is the date of the newest bar, zero when empty.
func (s Series) Last() time.Time {
	if len(s.Dates) == 0 {
		return time.Time{}
	}
	return s.Dates[len(s.Dates)-1]
}

// GroupBars splits bars ordered by symbol then date into per-symbol series,
// keeping only bars on or before asOf.
func GroupBars(bars []PriceBar, asOf time.Time) []Series {
	var out []Series
	for _, b := range bars {
		if b.Date.After(asOf) {
			continue
		}
		if len(out) == 0 || out[len(out)-1].Symbol != b.Symbol {
			out = append(out, Series{Symbol: b.Symbol})
		}
		s := &out[len(out)-1]
		s.Dates = append(s.Dates, b.Date)
		s.Closes = append(s.Closes, b.Close)
		s.Highs = append(s.Highs, b.High)
	}
	return out
}
