package decision

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// Momentum is the reference engine: buy when the close has risen by more
// than a threshold over the lookback window on growing volume, sell on
// take-profit, stop-loss or momentum rolling over.
type Momentum struct {
	cfg    Config
	logger *slog.Logger
}

// NewMomentum creates the reference momentum engine.
func NewMomentum(cfg Config, logger *slog.Logger) *Momentum {
	return &Momentum{
		cfg:    cfg,
		logger: logger.With(slog.String("engine", "momentum")),
	}
}

// Name returns the engine identifier.
func (m *Momentum) Name() string { return "momentum" }

// EvaluateBuy emits a buy when the lookback return exceeds the momentum
// threshold and volume is expanding.
func (m *Momentum) EvaluateBuy(code string, bars []domain.Bar) *domain.TradeSignal {
	n := len(bars)
	if n < m.cfg.LookbackBars {
		return nil
	}
	window := bars[n-m.cfg.LookbackBars:]
	first, last := window[0], window[len(window)-1]
	if first.Close <= 0 {
		return nil
	}
	ret := (last.Close - first.Close) / first.Close
	if ret < m.cfg.MomentumPct {
		return nil
	}

	var early, late int64
	half := len(window) / 2
	for i, b := range window {
		if i < half {
			early += b.Volume
		} else {
			late += b.Volume
		}
	}
	if late <= early {
		return nil
	}

	qty := int64(m.cfg.Budget / last.Close)
	if qty < 1 {
		return nil
	}
	m.logger.Debug("buy signal",
		slog.String("code", code),
		slog.Float64("return", ret),
		slog.Float64("price", last.Close))
	return &domain.TradeSignal{
		ID:         uuid.NewString(),
		Source:     m.Name(),
		Code:       code,
		Side:       domain.OrderSideBuy,
		LimitPrice: last.Close,
		Quantity:   qty,
		Reason:     fmt.Sprintf("momentum %.2f%% over %d bars", ret*100, m.cfg.LookbackBars),
		CreatedAt:  time.Now(),
	}
}

// EvaluateSell emits a sell on take-profit, stop-loss or a fading move.
func (m *Momentum) EvaluateSell(code string, bars []domain.Bar, pos domain.Position) *domain.TradeSignal {
	if len(bars) == 0 || pos.Quantity <= 0 || pos.EntryPrice <= 0 {
		return nil
	}
	last := bars[len(bars)-1]
	ret := (last.Close - pos.EntryPrice) / pos.EntryPrice

	var reason string
	switch {
	case ret >= m.cfg.TakeProfit:
		reason = fmt.Sprintf("take profit %.2f%%", ret*100)
	case ret <= -m.cfg.StopLoss:
		reason = fmt.Sprintf("stop loss %.2f%%", ret*100)
	default:
		return nil
	}

	m.logger.Debug("sell signal", slog.String("code", code), slog.String("reason", reason))
	return &domain.TradeSignal{
		ID:         uuid.NewString(),
		Source:     m.Name(),
		Code:       code,
		Side:       domain.OrderSideSell,
		LimitPrice: last.Close,
		Quantity:   pos.Quantity,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
}
