package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fedutinova/stockrank/internal/database"
	"github.com/fedutinova/stockrank/internal/markettest"
	"github.com/fedutinova/stockrank/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLite(db.DB)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSQLite_PricesAndDates(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	dates := markettest.Weekdays(day(2024, 3, 8), 5)
	bars := markettest.Bars([]string{"BBB", "AAA"}, dates, 1)

	n, err := repo.SavePrices(ctx, bars)
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)

	n, err = repo.SavePrices(ctx, bars)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := repo.TradingDates(ctx, day(2024, 3, 5), day(2024, 3, 31))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2024, 3, 5), day(2024, 3, 6), day(2024, 3, 7), day(2024, 3, 8)}, got)

	all, err := repo.FetchPrices(ctx, nil, dates[0], dates[4])
	require.NoError(t, err)
	require.Len(t, all, 10)
	assert.Equal(t, "AAA", all[0].Symbol)
	assert.Equal(t, dates[0], all[0].Date)
	assert.Equal(t, "BBB", all[9].Symbol)

	some, err := repo.FetchPrices(ctx, []string{"BBB"}, dates[3], dates[4])
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, bars[3].Close, some[0].Close)
	assert.Equal(t, bars[3].Volume, some[0].Volume)
}

func TestSQLite_SaveRankingsIdempotent(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	date := day(2024, 3, 8)

	rows := []models.Ranking{
		{Symbol: "AAA", RankingDate: date, RSRating: 99, MomentumScore: 70, TrendTemplateScore: 8, TechnicalScore: 90, CompositeScore: 88, CompositeRank: 1, CompositePercentile: 50, TotalStocksRanked: 2},
		{Symbol: "BBB", RankingDate: date, RSRating: 1, MomentumScore: 20, TrendTemplateScore: 0, TechnicalScore: 0, CompositeScore: 9, CompositeRank: 2, CompositePercentile: 100, TotalStocksRanked: 2},
	}

	n, err := repo.SaveRankings(ctx, rows)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// A re-run with different numbers must not overwrite history.
	rerun := append([]models.Ranking(nil), rows...)
	rerun[0].CompositeScore = 1
	n, err = repo.SaveRankings(ctx, rerun)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := repo.CountRankings(ctx, date)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	top, err := repo.TopRankings(ctx, date, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "AAA", top[0].Symbol)
	assert.InDelta(t, 88.0, top[0].CompositeScore, 1e-9)
	assert.Equal(t, date, top[0].RankingDate)

	done, err := repo.CalculatedDates(ctx, day(2024, 3, 1), day(2024, 3, 31))
	require.NoError(t, err)
	assert.Equal(t, map[time.Time]bool{date: true}, done)
}

func TestSQLite_SaveRankingsManyBatches(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	date := day(2024, 3, 8)

	rows := make([]models.Ranking, 0, saveBatchSize+7)
	for i, sym := range markettest.Symbols(saveBatchSize + 7) {
		rows = append(rows, models.Ranking{Symbol: sym, RankingDate: date, CompositeRank: i + 1})
	}
	n, err := repo.SaveRankings(ctx, rows)
	require.NoError(t, err)
	assert.EqualValues(t, len(rows), n)

	n, err = repo.SaveRankings(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
