package domain

import "time"

// TradeRecord is one completed buy/sell pair with realized P&L. Records
// are write-only: they are persisted for reporting and never read back
// to rebuild live state.
type TradeRecord struct {
	ID          string
	Code        string
	Name        string
	Quantity    int64
	BuyPrice    float64
	SellPrice   float64
	BuyAt       time.Time
	SellAt      time.Time
	RealizedPnL float64
	ReturnPct   float64
	BuyReason   string
	SellReason  string
}
