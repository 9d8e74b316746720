package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hetulpatel/crossmatch/internal/matches"
)

// HistoryRow is one recorded arbitrage result.
type HistoryRow struct {
	RunID            string    `json:"run_id"`
	PairKey          string    `json:"pair_key"`
	PolyMarketID     string    `json:"poly_market_id"`
	PolyQuestion     string    `json:"poly_question"`
	KalshiMarketID   string    `json:"kalshi_market_id"`
	KalshiQuestion   string    `json:"kalshi_question"`
	MatchScore       float64   `json:"match_score"`
	BestLeg          string    `json:"best_leg"`
	Spread           float64   `json:"spread"`
	Profit           float64   `json:"profit"`
	DaysToResolution *int      `json:"days_to_resolution"`
	AnnualizedReturn *float64  `json:"annualized_return"`
	RecordedAt       time.Time `json:"recorded_at"`
}

const insertArbSQL = `
INSERT INTO arb_opportunities (
	run_id, pair_key,
	poly_market_id, poly_question, poly_yes_price, poly_no_price,
	kalshi_market_id, kalshi_question, kalshi_yes_price, kalshi_no_price,
	match_score, best_leg, spread, profit,
	days_to_resolution, annualized_return, recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertArbitrageResults appends one run's results to the history table.
func (s *Store) InsertArbitrageResults(ctx context.Context, runID string, results []matches.ArbitrageResult) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store not initialized")
	}
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertArbSQL)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	recordedAt := formatTime(time.Now())
	for _, r := range results {
		_, err := stmt.ExecContext(ctx,
			runID,
			r.PairKey(),
			r.PolyMarket.MarketID,
			r.PolyMarket.Question,
			r.PolyMarket.YesPrice,
			r.PolyMarket.NoPrice,
			r.KalshiMarket.MarketID,
			r.KalshiMarket.Question,
			r.KalshiMarket.YesPrice,
			r.KalshiMarket.NoPrice,
			r.MatchScore,
			string(r.BestLeg),
			r.Spread,
			r.Profit,
			nullableInt(r.DaysToResolution),
			nullableFloat(r.AnnualizedReturn),
			recordedAt,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", r.PairKey(), err)
		}
	}
	return tx.Commit()
}

// RecentArbitrage returns the latest recorded results, newest first.
func (s *Store) RecentArbitrage(ctx context.Context, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, pair_key, poly_market_id, poly_question, kalshi_market_id, kalshi_question,
	match_score, best_leg, spread, profit, days_to_resolution, annualized_return, recorded_at
FROM arb_opportunities
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var (
			r          HistoryRow
			polyQ      sql.NullString
			kalshiQ    sql.NullString
			days       sql.NullInt64
			annualized sql.NullFloat64
			recordedAt string
		)
		if err := rows.Scan(&r.RunID, &r.PairKey, &r.PolyMarketID, &polyQ, &r.KalshiMarketID, &kalshiQ,
			&r.MatchScore, &r.BestLeg, &r.Spread, &r.Profit, &days, &annualized, &recordedAt); err != nil {
			return nil, err
		}
		r.PolyQuestion, r.KalshiQuestion = polyQ.String, kalshiQ.String
		if days.Valid {
			d := int(days.Int64)
			r.DaysToResolution = &d
		}
		if annualized.Valid {
			a := annualized.Float64
			r.AnnualizedReturn = &a
		}
		r.RecordedAt = parseTime(recordedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
