package domain

import "time"

// TradeState is the lifecycle state of one stock's trading episode.
type TradeState string

const (
	StateSelected      TradeState = "selected"
	StateBuyCandidate  TradeState = "buy_candidate"
	StateBuyPending    TradeState = "buy_pending"
	StatePositioned    TradeState = "positioned"
	StateSellCandidate TradeState = "sell_candidate"
	StateSellPending   TradeState = "sell_pending"
	StateCompleted     TradeState = "completed"
	StateFailed        TradeState = "failed"
)

// Terminal reports whether the state ends the episode.
func (s TradeState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// StateChange is one append-only audit log entry.
type StateChange struct {
	From      TradeState
	To        TradeState
	Reason    string
	Timestamp time.Time
}

// TradingStock is one stock's live trading episode. At most one exists
// per code at any time.
type TradingStock struct {
	Code       string
	Name       string
	State      TradeState
	SelectedAt time.Time

	Position *Position // set while positioned or selling

	BuyOrderID  string // local order ID, set while a buy is live
	SellOrderID string // local order ID, set while a sell is live

	RealizedPnL float64 // set on completion
	History     []StateChange
}
