package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fedutinova/stockrank/internal/models"
)

// SQLite implements Store on database/sql with the modernc driver.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (r *SQLite) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLite) SavePrices(ctx context.Context, bars []models.PriceBar) (int64, error) {
	var total int64
	for i := 0; i < len(bars); i += saveBatchSize {
		batch := bars[i:min(i+saveBatchSize, len(bars))]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*7)
		for j, b := range batch {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?)"
			args = append(args, b.Symbol, b.Date.Format(dateFormat), b.Open, b.High, b.Low, b.Close, b.Volume)
		}

		query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
			"INSERT OR IGNORE INTO price_history (symbol, date, open, high, low, close, volume) VALUES %s",
			strings.Join(placeholders, ", "),
		)
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("save prices: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (r *SQLite) TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	const query = `SELECT DISTINCT date FROM price_history
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC`

	rows, err := r.db.QueryContext(ctx, query, from.Format(dateFormat), to.Format(dateFormat))
	if err != nil {
		return nil, fmt.Errorf("trading dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []time.Time
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		d, err := time.Parse(dateFormat, s)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", s, err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (r *SQLite) FetchPrices(ctx context.Context, symbols []string, from, to time.Time) ([]models.PriceBar, error) {
	query := `SELECT symbol, date, open, high, low, close, volume FROM price_history
		WHERE date >= ? AND date <= ?`
	args := []any{from.Format(dateFormat), to.Format(dateFormat)}
	if len(symbols) > 0 {
		query += " AND symbol IN (?" + strings.Repeat(", ?", len(symbols)-1) + ")"
		for _, s := range symbols {
			args = append(args, s)
		}
	}
	query += " ORDER BY symbol ASC, date ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bars []models.PriceBar
	for rows.Next() {
		var b models.PriceBar
		var dateStr string
		if err := rows.Scan(&b.Symbol, &dateStr, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		if b.Date, err = time.Parse(dateFormat, dateStr); err != nil {
			return nil, fmt.Errorf("parse date %q: %w", dateStr, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func (r *SQLite) CalculatedDates(ctx context.Context, from, to time.Time) (map[time.Time]bool, error) {
	const query = `SELECT DISTINCT ranking_date FROM ranking_history
		WHERE ranking_date >= ? AND ranking_date <= ?`

	rows, err := r.db.QueryContext(ctx, query, from.Format(dateFormat), to.Format(dateFormat))
	if err != nil {
		return nil, fmt.Errorf("calculated dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	dates := make(map[time.Time]bool)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		d, err := time.Parse(dateFormat, s)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", s, err)
		}
		dates[d] = true
	}
	return dates, rows.Err()
}

func (r *SQLite) SaveRankings(ctx context.Context, rankings []models.Ranking) (int64, error) {
	if len(rankings) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for i := 0; i < len(rankings); i += saveBatchSize {
		batch := rankings[i:min(i+saveBatchSize, len(rankings))]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*10)
		for j, rk := range batch {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			args = append(args,
				rk.Symbol, rk.RankingDate.Format(dateFormat),
				rk.RSRating, rk.MomentumScore, rk.TrendTemplateScore, rk.TechnicalScore,
				rk.CompositeScore, rk.CompositeRank, rk.CompositePercentile, rk.TotalStocksRanked,
			)
		}

		query := fmt.Sprintf( //nolint:gosec // placeholders are not user input
			`INSERT OR IGNORE INTO ranking_history (symbol, ranking_date, rs_rating, momentum_score,
				trend_template_score, technical_score, composite_score, composite_rank,
				composite_percentile, total_stocks_ranked) VALUES %s`,
			strings.Join(placeholders, ", "),
		)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("save rankings: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

func (r *SQLite) CountRankings(ctx context.Context, date time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ranking_history WHERE ranking_date = ?", date.Format(dateFormat),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rankings: %w", err)
	}
	return n, nil
}

func (r *SQLite) TopRankings(ctx context.Context, date time.Time, limit int) ([]models.Ranking, error) {
	const query = `SELECT symbol, ranking_date, rs_rating, momentum_score, trend_template_score,
			technical_score, composite_score, composite_rank, composite_percentile, total_stocks_ranked
		FROM ranking_history
		WHERE ranking_date = ?
		ORDER BY composite_rank ASC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, date.Format(dateFormat), limit)
	if err != nil {
		return nil, fmt.Errorf("top rankings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Ranking
	for rows.Next() {
		var rk models.Ranking
		var dateStr string
		if err := rows.Scan(&rk.Symbol, &dateStr, &rk.RSRating, &rk.MomentumScore, &rk.TrendTemplateScore,
			&rk.TechnicalScore, &rk.CompositeScore, &rk.CompositeRank, &rk.CompositePercentile, &rk.TotalStocksRanked); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		rk.RankingDate, _ = time.Parse(dateFormat, dateStr)
		out = append(out, rk)
	}
	return out, rows.Err()
}
