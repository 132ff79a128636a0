package domain

import (
	"context"
	"time"
)

// Broker is the brokerage API surface the core depends on. Calls are
// strictly request/response; implementations handle auth, rate limiting
// and error mapping to the domain sentinels.
type Broker interface {
	// CurrentPrice returns the latest quote for a stock.
	CurrentPrice(ctx context.Context, code string) (Quote, error)
	// HistoricalBars returns minute bars in [from, to), ascending.
	HistoricalBars(ctx context.Context, code string, from, to time.Time) ([]Bar, error)
	// RealtimeBars returns minute bars at or after since, ascending,
	// up to the most recent completed bar.
	RealtimeBars(ctx context.Context, code string, since time.Time) ([]Bar, error)
	// PlaceOrder submits a limit order and returns the broker order ID.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	// OrderStatus queries fill progress for a live order.
	OrderStatus(ctx context.Context, brokerID string) (OrderStatusReport, error)
	// CancelOrder requests cancellation of the unfilled remainder.
	CancelOrder(ctx context.Context, brokerID string) error
}
