package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. Only settled
// (terminal) orders land here; live orders exist in the in-memory ledger.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Archive upserts one settled order. Re-archiving the same order ID
// overwrites the row, so a late fill report after a cancel still ends up
// with the final state on disk.
func (s *OrderStore) Archive(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, broker_id, code, side, quantity, limit_price,
			filled, avg_fill_price, status, adjust_count, ambiguous,
			reason, submitted_at, filled_at, cancelled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		) ON CONFLICT (id) DO UPDATE SET
			broker_id = EXCLUDED.broker_id,
			filled = EXCLUDED.filled,
			avg_fill_price = EXCLUDED.avg_fill_price,
			status = EXCLUDED.status,
			adjust_count = EXCLUDED.adjust_count,
			ambiguous = EXCLUDED.ambiguous,
			filled_at = EXCLUDED.filled_at,
			cancelled_at = EXCLUDED.cancelled_at`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.BrokerID, o.Code, string(o.Side), o.Quantity, o.LimitPrice,
		o.Filled, o.AvgFillPrice, string(o.Status), o.AdjustCount, o.Ambiguous,
		o.Reason, o.SubmittedAt, o.FilledAt, o.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: archive order %s: %w", o.ID, err)
	}
	return nil
}

const orderSelectCols = `id, broker_id, code, side, quantity, limit_price,
	filled, avg_fill_price, status, adjust_count, ambiguous,
	reason, submitted_at, filled_at, cancelled_at`

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var side, status string
		if err := rows.Scan(
			&o.ID, &o.BrokerID, &o.Code, &side, &o.Quantity, &o.LimitPrice,
			&o.Filled, &o.AvgFillPrice, &status, &o.AdjustCount, &o.Ambiguous,
			&o.Reason, &o.SubmittedAt, &o.FilledAt, &o.CancelledAt,
		); err != nil {
			return nil, err
		}
		o.Side = domain.OrderSide(side)
		o.Status = domain.OrderStatus(status)
		o.Remaining = o.Quantity - o.Filled
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListByDay returns the orders submitted on the given local day, oldest
// first.
func (s *OrderStore) ListByDay(ctx context.Context, day time.Time) ([]domain.Order, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	query := `SELECT ` + orderSelectCols + ` FROM orders
		WHERE submitted_at >= $1 AND submitted_at < $2 ORDER BY submitted_at ASC`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by day: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by day: %w", err)
	}
	return orders, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
