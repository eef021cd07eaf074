package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fedutinova/stockrank/internal/database"
	"github.com/fedutinova/stockrank/internal/models"
	"github.com/jackc/pgx/v5"
)

// Postgres implements Store on a pgx pool.
type Postgres struct {
	db *database.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{db: db}
}

func (r *Postgres) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// insertIgnoring runs one multi-row INSERT ... ON CONFLICT DO NOTHING per
// chunk and returns the number of rows actually inserted.
func insertIgnoring(ctx context.Context, q database.Querier, head, conflict string, cols, n int, rowArgs func(i int) []any) (int64, error) {
	var total int64
	for start := 0; start < n; start += saveBatchSize {
		end := min(start+saveBatchSize, n)

		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*cols)
		for i := start; i < end; i++ {
			ph := make([]string, cols)
			for c := range ph {
				ph[c] = fmt.Sprintf("$%d", len(args)+c+1)
			}
			values = append(values, "("+strings.Join(ph, ", ")+")")
			args = append(args, rowArgs(i)...)
		}

		query := head + " VALUES " + strings.Join(values, ", ") + " ON CONFLICT " + conflict + " DO NOTHING"
		tag, err := q.Exec(ctx, query, args...)
		if err != nil {
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (r *Postgres) SavePrices(ctx context.Context, bars []models.PriceBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	var total int64
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		n, err := insertIgnoring(ctx, tx,
			"INSERT INTO price_history (symbol, date, open, high, low, close, volume)",
			"(symbol, date)", 7, len(bars),
			func(i int) []any {
				b := bars[i]
				return []any{b.Symbol, dayKey(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume}
			})
		total = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save prices: %w", err)
	}
	return total, nil
}

func (r *Postgres) TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT DISTINCT date
		FROM price_history
		WHERE date BETWEEN $1 AND $2
		ORDER BY date
	`

	rows, err := r.db.Pool().Query(ctx, query, dayKey(from), dayKey(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query trading dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, dayKey(d))
	}
	return dates, rows.Err()
}

func (r *Postgres) FetchPrices(ctx context.Context, symbols []string, from, to time.Time) ([]models.PriceBar, error) {
	query := `
		SELECT symbol, date, open, high, low, close, volume
		FROM price_history
		WHERE date BETWEEN $1 AND $2
		  AND (cardinality($3::text[]) = 0 OR symbol = ANY($3))
		ORDER BY symbol, date
	`
	if symbols == nil {
		symbols = []string{}
	}

	rows, err := r.db.Pool().Query(ctx, query, dayKey(from), dayKey(to), symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var bars []models.PriceBar
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		b.Date = dayKey(b.Date)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func (r *Postgres) CalculatedDates(ctx context.Context, from, to time.Time) (map[time.Time]bool, error) {
	query := `
		SELECT DISTINCT ranking_date
		FROM ranking_history
		WHERE ranking_date BETWEEN $1 AND $2
	`

	rows, err := r.db.Pool().Query(ctx, query, dayKey(from), dayKey(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query calculated dates: %w", err)
	}
	defer rows.Close()

	dates := make(map[time.Time]bool)
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates[dayKey(d)] = true
	}
	return dates, rows.Err()
}

func (r *Postgres) SaveRankings(ctx context.Context, rankings []models.Ranking) (int64, error) {
	if len(rankings) == 0 {
		return 0, nil
	}
	var total int64
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		n, err := insertIgnoring(ctx, tx,
			`INSERT INTO ranking_history (symbol, ranking_date, rs_rating, momentum_score,
				trend_template_score, technical_score, composite_score, composite_rank,
				composite_percentile, total_stocks_ranked)`,
			"(symbol, ranking_date)", 10, len(rankings),
			func(i int) []any {
				rk := rankings[i]
				return []any{
					rk.Symbol, dayKey(rk.RankingDate),
					rk.RSRating, rk.MomentumScore, rk.TrendTemplateScore, rk.TechnicalScore,
					rk.CompositeScore, rk.CompositeRank, rk.CompositePercentile, rk.TotalStocksRanked,
				}
			})
		total = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save rankings: %w", err)
	}
	return total, nil
}

func (r *Postgres) CountRankings(ctx context.Context, date time.Time) (int64, error) {
	var n int64
	err := r.db.Pool().QueryRow(ctx,
		"SELECT COUNT(*) FROM ranking_history WHERE ranking_date = $1", dayKey(date),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rankings: %w", err)
	}
	return n, nil
}

func (r *Postgres) TopRankings(ctx context.Context, date time.Time, limit int) ([]models.Ranking, error) {
	query := `
		SELECT symbol, ranking_date, rs_rating, momentum_score, trend_template_score,
		       technical_score, composite_score, composite_rank, composite_percentile, total_stocks_ranked
		FROM ranking_history
		WHERE ranking_date = $1
		ORDER BY composite_rank
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, dayKey(date), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rankings: %w", err)
	}
	defer rows.Close()

	var out []models.Ranking
	for rows.Next() {
		var rk models.Ranking
		if err := rows.Scan(&rk.Symbol, &rk.RankingDate, &rk.RSRating, &rk.MomentumScore, &rk.TrendTemplateScore,
			&rk.TechnicalScore, &rk.CompositeScore, &rk.CompositeRank, &rk.CompositePercentile, &rk.TotalStocksRanked); err != nil {
			return nil, err
		}
		out = append(out, rk)
	}
	return out, rows.Err()
}
