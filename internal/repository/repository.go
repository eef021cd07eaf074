package repository

import (
	"context"
	"time"

	"github.com/fedutinova/stockrank/internal/models"
)

const dateFormat = "2006-01-02"

// saveBatchSize bounds rows per multi-row INSERT.
const saveBatchSize = 500

// PriceSource is the read side of the price history.
type PriceSource interface {
	// TradingDates returns distinct dates with price data in [from, to], ascending.
	TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error)
	// FetchPrices returns bars in [from, to] ordered by symbol then date.
	// An empty symbols list means every symbol.
	FetchPrices(ctx context.Context, symbols []string, from, to time.Time) ([]models.PriceBar, error)
}

// RankingStore is the ranking history sink.
type RankingStore interface {
	// CalculatedDates returns the dates in [from, to] that already have rankings.
	CalculatedDates(ctx context.Context, from, to time.Time) (map[time.Time]bool, error)
	// SaveRankings inserts rows that are not yet present and returns how many
	// were inserted. Existing (symbol, date) rows are left untouched.
	SaveRankings(ctx context.Context, rows []models.Ranking) (int64, error)
	CountRankings(ctx context.Context, date time.Time) (int64, error)
	TopRankings(ctx context.Context, date time.Time, limit int) ([]models.Ranking, error)
}

// Store is what the worker and dispatcher need from the database.
type Store interface {
	PriceSource
	RankingStore
	SavePrices(ctx context.Context, bars []models.PriceBar) (int64, error)
	Ping(ctx context.Context) error
}

func dayKey(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
