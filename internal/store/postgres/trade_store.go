package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, code, name, quantity, buy_price, sell_price,
	buy_at, sell_at, realized_pnl, return_pct, buy_reason, sell_reason`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		if err := rows.Scan(
			&r.ID, &r.Code, &r.Name, &r.Quantity,
			&r.BuyPrice, &r.SellPrice, &r.BuyAt, &r.SellAt,
			&r.RealizedPnL, &r.ReturnPct, &r.BuyReason, &r.SellReason,
		); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Insert records one completed trade pair. A duplicate ID is silently
// skipped via ON CONFLICT DO NOTHING so retried persists stay idempotent.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, code, name, quantity, buy_price, sell_price,
			buy_at, sell_at, realized_pnl, return_pct,
			buy_reason, sell_reason
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Code, rec.Name, rec.Quantity,
		rec.BuyPrice, rec.SellPrice, rec.BuyAt, rec.SellAt,
		rec.RealizedPnL, rec.ReturnPct, rec.BuyReason, rec.SellReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", rec.Code, err)
	}
	return nil
}

// ListByDay returns the completed trades whose sell time falls on the
// given local day, oldest first.
func (s *TradeStore) ListByDay(ctx context.Context, day time.Time) ([]domain.TradeRecord, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE sell_at >= $1 AND sell_at < $2 ORDER BY sell_at ASC`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by day: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by day: %w", err)
	}
	return recs, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
