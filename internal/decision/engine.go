// Package decision defines the decision engine contract: a pure function
// over a merged bar view that emits buy or sell intent. The core never
// depends on what the engine looks at, only on the signals it returns.
package decision

import (
	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// Engine inspects bar history to emit trade intents.
type Engine interface {
	Name() string
	// EvaluateBuy looks at an untraded stock's merged view and returns a
	// buy signal, or nil for no action. bars are ascending and
	// session-filtered; implementations must not retain or mutate them.
	EvaluateBuy(code string, bars []domain.Bar) *domain.TradeSignal
	// EvaluateSell looks at a positioned stock's merged view plus the
	// held position and returns a sell signal, or nil to keep holding.
	EvaluateSell(code string, bars []domain.Bar, pos domain.Position) *domain.TradeSignal
}

// Config holds engine tuning knobs.
type Config struct {
	LookbackBars int
	MomentumPct  float64
	TakeProfit   float64
	StopLoss     float64
	Budget       float64 // max notional per position
}
