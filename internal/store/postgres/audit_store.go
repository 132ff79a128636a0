package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one state transition to the audit table.
func (s *AuditStore) Log(ctx context.Context, code string, from, to domain.TradeState, reason string) error {
	const query = `INSERT INTO state_audit (code, from_state, to_state, reason) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, code, string(from), string(to), reason); err != nil {
		return fmt.Errorf("postgres: log state audit %s: %w", code, err)
	}
	return nil
}

// ListByCode returns the most recent transitions for one stock, newest
// first.
func (s *AuditStore) ListByCode(ctx context.Context, code string, limit int) ([]domain.AuditEntry, error) {
	query := `SELECT id, code, from_state, to_state, reason, created_at
		FROM state_audit WHERE code = $1 ORDER BY created_at DESC`
	args := []any{code}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list state audit %s: %w", code, err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.Code, &e.FromState, &e.ToState, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan state audit: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list state audit rows: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)
