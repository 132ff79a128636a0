package domain

import "time"

// Bar is a single OHLCV record for one minute bucket. Time is the bucket
// open time in exchange-local time (KST for KRX).
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Quote is a point-in-time snapshot of the current market for one stock.
type Quote struct {
	Code       string
	Price      float64
	ChangeRate float64 // percent vs previous close
	Volume     int64   // accumulated session volume
	Time       time.Time
}

// BarPeriod is the native bar bucket served by the brokerage.
const BarPeriod = time.Minute

// DecisionBarPeriod is the coarser bucket the decision engine reasons in.
const DecisionBarPeriod = 3 * time.Minute

// NextDecisionBar returns the open time of the first decision bar strictly
// after t, clipped to sessionClose when the boundary would fall past it.
func NextDecisionBar(t, sessionClose time.Time) time.Time {
	b := t.Truncate(DecisionBarPeriod).Add(DecisionBarPeriod)
	if b.After(sessionClose) {
		return sessionClose
	}
	return b
}
