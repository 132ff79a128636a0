package domain

import (
	"context"
	"time"
)

// TradeStore persists completed trade pairs. Write-only from the core's
// perspective; the list query exists for reporting tools.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	ListByDay(ctx context.Context, day time.Time) ([]TradeRecord, error)
}

// AuditEntry is a single persisted state transition.
type AuditEntry struct {
	ID        int64
	Code      string
	FromState TradeState
	ToState   TradeState
	Reason    string
	CreatedAt time.Time
}

// AuditStore persists the append-only state transition log.
type AuditStore interface {
	Log(ctx context.Context, code string, from, to TradeState, reason string) error
	ListByCode(ctx context.Context, code string, limit int) ([]AuditEntry, error)
}

// OrderStore archives settled orders for end-of-day reconciliation
// against the brokerage statement. Best-effort, write-mostly.
type OrderStore interface {
	Archive(ctx context.Context, o Order) error
	ListByDay(ctx context.Context, day time.Time) ([]Order, error)
}
