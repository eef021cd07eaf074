package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fedutinova/stockrank/internal/common"
	"github.com/fedutinova/stockrank/internal/job"
	"github.com/fedutinova/stockrank/internal/models"
	"github.com/fedutinova/stockrank/internal/repository"
	"github.com/fedutinova/stockrank/internal/scoring"
)

const (
	// LookbackDays covers the 12-month horizons plus the 200-bar averages.
	LookbackDays = 400
	// MinSymbolsPerDate is the smallest universe worth ranking.
	MinSymbolsPerDate = 10
	topN              = 5
)

// RankingHandler computes and stores one trading date's rankings.
type RankingHandler struct {
	prices   repository.PriceSource
	rankings repository.RankingStore
	scorer   *scoring.Scorer
}

func NewRankingHandler(prices repository.PriceSource, rankings repository.RankingStore, compose scoring.ComposeFunc) *RankingHandler {
	return &RankingHandler{
		prices:   prices,
		rankings: rankings,
		scorer:   scoring.NewScorer(compose),
	}
}

// Handle fails with common.ErrInsufficientData when the date cannot be
// ranked and with a common.ErrUnavailable error when the store is down.
func (h *RankingHandler) Handle(ctx context.Context, j *job.Job) (*job.Result, error) {
	if !j.Type.Valid() {
		return nil, fmt.Errorf("unexpected job type: %s", j.Type)
	}
	date := job.TruncateDate(j.CalculationDate)
	from := date.AddDate(0, 0, -LookbackDays)

	bars, err := h.prices.FetchPrices(ctx, j.Symbols, from, date)
	if err != nil {
		return nil, common.WrapUnavailable("fetch prices", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w between %s and %s", common.ErrNoPriceData, from.Format(job.DateLayout), date.Format(job.DateLayout))
	}

	series := models.GroupBars(bars, date)
	onDate := 0
	for _, s := range series {
		if s.Last().Equal(date) {
			onDate++
		}
	}
	if onDate < MinSymbolsPerDate {
		return nil, fmt.Errorf("%w: %d symbols have data on %s, need %d",
			common.ErrTooFewSymbols, onDate, date.Format(job.DateLayout), MinSymbolsPerDate)
	}

	rows := h.scorer.ScoreDate(series, date)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no symbol has %d bars up to %s",
			common.ErrInsufficientData, scoring.MinBarsForScoring, date.Format(job.DateLayout))
	}

	saved, err := h.rankings.SaveRankings(ctx, rows)
	if err != nil {
		return nil, common.WrapUnavailable("save rankings", err)
	}

	slog.Info("Rankings computed",
		"job_id", j.ID,
		"date", date.Format(job.DateLayout),
		"ranked", len(rows),
		"saved", saved)

	return &job.Result{
		SymbolsRanked: len(rows),
		SymbolsSaved:  saved,
		Top5:          topSymbols(rows, topN),
	}, nil
}

func topSymbols(rows []models.Ranking, n int) []job.TopSymbol {
	top := make([]job.TopSymbol, 0, min(n, len(rows)))
	for _, r := range rows[:min(n, len(rows))] {
		top = append(top, job.TopSymbol{Symbol: r.Symbol, CompositeScore: r.CompositeScore, Rank: r.CompositeRank})
	}
	return top
}
