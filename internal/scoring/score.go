package scoring

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fedutinova/stockrank/internal/models"
)

// Scorer computes one date's ranking table.
type Scorer struct {
	Compose ComposeFunc
}

// NewScorer returns a scorer using compose, or DefaultCompose when nil.
func NewScorer(compose ComposeFunc) *Scorer {
	if compose == nil {
		compose = DefaultCompose
	}
	return &Scorer{Compose: compose}
}

// ScoreDate scores every series that has a bar on date and at least
// MinBarsForScoring bars, then ranks the result. RS peers are all series
// with a bar on date. A symbol whose scoring panics is skipped and logged.
func (s *Scorer) ScoreDate(series []models.Series, date time.Time) []models.Ranking {
	onDate := make([]models.Series, 0, len(series))
	for _, ser := range series {
		if ser.Len() > 0 && ser.Last().Equal(date) {
			onDate = append(onDate, ser)
		}
	}

	closes := make([][]float64, len(onDate))
	for i, ser := range onDate {
		closes[i] = ser.Closes
	}
	rs := RSRatings(closes)

	rows := make([]models.Ranking, 0, len(onDate))
	for i, ser := range onDate {
		if ser.Len() < MinBarsForScoring {
			continue
		}
		row, err := s.scoreOne(ser, rs[i], date)
		if err != nil {
			slog.Warn("Skipping symbol", "symbol", ser.Symbol, "date", date.Format("2006-01-02"), "error", err)
			continue
		}
		rows = append(rows, row)
	}

	Rank(rows)
	return rows
}

func (s *Scorer) scoreOne(ser models.Series, rs int, date time.Time) (row models.Ranking, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scoring panic: %v", r)
		}
	}()

	momentum := Momentum(ser.Closes)
	trend := TrendTemplate(ser.Closes, ser.Highs)
	technical := Technical(ser.Closes)

	return models.Ranking{
		Symbol:             ser.Symbol,
		RankingDate:        date,
		RSRating:           rs,
		MomentumScore:      momentum,
		TrendTemplateScore: trend,
		TechnicalScore:     technical,
		CompositeScore:     s.Compose(float64(rs), momentum, float64(trend), technical),
	}, nil
}
