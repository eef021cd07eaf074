package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fedutinova/stockrank/internal/common"
	"github.com/fedutinova/stockrank/internal/database"
	"github.com/fedutinova/stockrank/internal/job"
	"github.com/fedutinova/stockrank/internal/markettest"
	"github.com/fedutinova/stockrank/internal/models"
	"github.com/fedutinova/stockrank/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lastDay = time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

func seededStore(t *testing.T, symbols, bars int) *repository.SQLite {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := repository.NewSQLite(db.DB)
	if symbols > 0 {
		_, err = store.SavePrices(context.Background(),
			markettest.Bars(markettest.Symbols(symbols), markettest.Weekdays(lastDay, bars), 0.5))
		require.NoError(t, err)
	}
	return store
}

func TestRankingHandler_RanksDate(t *testing.T) {
	store := seededStore(t, 12, 260)
	h := NewRankingHandler(store, store, nil)
	ctx := context.Background()

	res, err := h.Handle(ctx, job.NewDateJob(lastDay, "b1", nil, 0))
	require.NoError(t, err)
	assert.Equal(t, 12, res.SymbolsRanked)
	assert.EqualValues(t, 12, res.SymbolsSaved)
	require.Len(t, res.Top5, 5)
	assert.Equal(t, "SYM11", res.Top5[0].Symbol)
	assert.Equal(t, 1, res.Top5[0].Rank)
	assert.GreaterOrEqual(t, res.Top5[0].CompositeScore, res.Top5[4].CompositeScore)

	top, err := store.TopRankings(ctx, lastDay, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "SYM11", top[0].Symbol)
	assert.Equal(t, 12, top[0].TotalStocksRanked)

	// Re-running the same date stores nothing new.
	res, err = h.Handle(ctx, job.NewDateJob(lastDay, "b2", nil, 0))
	require.NoError(t, err)
	assert.Equal(t, 12, res.SymbolsRanked)
	assert.Zero(t, res.SymbolsSaved)

	n, err := store.CountRankings(ctx, lastDay)
	require.NoError(t, err)
	assert.EqualValues(t, 12, n)
}

func TestRankingHandler_SymbolSubset(t *testing.T) {
	store := seededStore(t, 14, 120)
	h := NewRankingHandler(store, store, nil)

	subset := markettest.Symbols(14)[:10]
	res, err := h.Handle(context.Background(), job.NewDateJob(lastDay, "b", subset, 0))
	require.NoError(t, err)
	assert.Equal(t, 10, res.SymbolsRanked)
	assert.Equal(t, "SYM09", res.Top5[0].Symbol)
}

func TestRankingHandler_InsufficientData(t *testing.T) {
	tests := []struct {
		name    string
		symbols int
		bars    int
		date    time.Time
		want    error
	}{
		{"no rows", 0, 0, lastDay, common.ErrNoPriceData},
		{"too few symbols", 5, 260, lastDay, common.ErrTooFewSymbols},
		{"no bar on date", 12, 260, lastDay.AddDate(0, 0, 1), common.ErrTooFewSymbols},
		{"short history", 12, 30, lastDay, common.ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seededStore(t, tt.symbols, tt.bars)
			h := NewRankingHandler(store, store, nil)
			_, err := h.Handle(context.Background(), job.NewDateJob(tt.date, "b", nil, 0))
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, common.IsInsufficientData(err))
		})
	}
}

type brokenStore struct {
	repository.RankingStore
}

func (brokenStore) SaveRankings(context.Context, []models.Ranking) (int64, error) {
	return 0, errors.New("connection reset by peer")
}

func TestRankingHandler_StoreDownIsTransient(t *testing.T) {
	store := seededStore(t, 12, 100)
	h := NewRankingHandler(store, brokenStore{store}, nil)

	_, err := h.Handle(context.Background(), job.NewDateJob(lastDay, "b", nil, 0))
	require.Error(t, err)
	assert.True(t, common.IsUnavailable(err))
	assert.False(t, common.IsInsufficientData(err))
}
