package domain

import "time"

// TradeSignal is emitted by the decision engine to request an order.
type TradeSignal struct {
	ID         string // UUID for dedup
	Source     string // engine name
	Code       string
	Side       OrderSide
	LimitPrice float64
	Quantity   int64
	Reason     string
	CreatedAt  time.Time
}

// BotStatus is a summary of the bot's current operational state.
type BotStatus struct {
	Tracked       int
	OpenPositions int
	LiveOrders    int
	Completed     int
	Failed        int
	UptimeSeconds int64
}
