package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusFailed          OrderStatus = "failed"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// Order is a live or settled exchange order. BrokerID is the identifier
// assigned by the brokerage and changes on cancel-then-resubmit price
// adjustments; ID is the local UUID, stable across the order's lifetime.
type Order struct {
	ID         string
	BrokerID   string
	Code       string
	Side       OrderSide
	Quantity   int64
	LimitPrice float64
	Filled     int64
	Remaining  int64
	Status     OrderStatus

	SubmittedAt time.Time
	// DecisionBarTime is the open of the first decision bar after
	// submission, clipped to session close. Buy expiry counts bar
	// periods from here rather than from the wall clock.
	DecisionBarTime time.Time
	AdjustCount     int
	AvgFillPrice    float64
	Reason          string

	FilledAt    *time.Time
	CancelledAt *time.Time

	// Ambiguous marks an order whose cancel failed and whose fill state
	// the follow-up status query could not confirm either way. It stays
	// pending for the operator to resolve.
	Ambiguous bool
}

// ApplyFill records the cumulative fill total reported by the broker,
// keeping Filled + Remaining == Quantity.
func (o *Order) ApplyFill(totalFilled int64, avgPrice float64, at time.Time) {
	if totalFilled > o.Quantity {
		totalFilled = o.Quantity
	}
	if totalFilled < o.Filled {
		// Broker reports are cumulative; never move backwards.
		return
	}
	o.Filled = totalFilled
	o.Remaining = o.Quantity - totalFilled
	if avgPrice > 0 {
		o.AvgFillPrice = avgPrice
	}
	switch {
	case o.Remaining == 0:
		o.Status = OrderStatusFilled
		t := at
		o.FilledAt = &t
	case o.Filled > 0:
		o.Status = OrderStatusPartiallyFilled
	}
}

// OrderRequest is the input to order placement.
type OrderRequest struct {
	Code       string
	Side       OrderSide
	Quantity   int64
	LimitPrice float64
	Reason     string
}

// OrderResult wraps the broker response after order submission.
type OrderResult struct {
	Success     bool
	BrokerID    string
	Message     string
	ShouldRetry bool
}

// OrderStatusReport is the broker's view of an order as returned by a
// status query. Filled is cumulative.
type OrderStatusReport struct {
	BrokerID  string
	Filled    int64
	Remaining int64
	AvgPrice  float64
	Cancelled bool
}
