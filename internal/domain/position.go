package domain

import "time"

// Position is the holding carried on a TradingStock after a buy fill.
type Position struct {
	Quantity   int64
	EntryPrice float64 // average fill price
	EntryAt    time.Time
}

// Value returns the position's notional at the given price.
func (p Position) Value(price float64) float64 {
	return float64(p.Quantity) * price
}

// UnrealizedPnL returns the open profit at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * float64(p.Quantity)
}
