package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
	"github.com/tgparkk/RoboTrader-sub001/internal/notify"
	"github.com/tgparkk/RoboTrader-sub001/internal/orders"
	"github.com/tgparkk/RoboTrader-sub001/internal/trading"
)

// Trader drives the intraday loops: market data refresh, buy/sell
// evaluation, order event handling, and session-close liquidation. It is
// the glue between the state machine, the order manager, and the bar
// cache.
type Trader struct {
	deps     *Dependencies
	retrader *trading.ReTrader
	logger   *slog.Logger

	// runCtx is the loop context; order events arrive on the monitor
	// goroutine which has no context of its own.
	runCtx context.Context

	liquidated bool           // set once the session-close liquidation has run
	selfHeals  map[string]int // last seen self-heal count per code
	startedAt  time.Time
}

// NewTrader creates a Trader and hooks it into the order manager's event
// stream and the re-trade scheduler.
func NewTrader(deps *Dependencies, cooldown time.Duration, maxReTrades int, logger *slog.Logger) *Trader {
	t := &Trader{
		deps:      deps,
		logger:    logger.With(slog.String("component", "trader")),
		selfHeals: make(map[string]int),
		startedAt: time.Now(),
	}
	t.retrader = trading.NewReTrader(deps.Machine, cooldown, maxReTrades, t.reselect, logger)
	deps.Orders.Observe(t.onOrderEvent)
	return t
}

// Start pins the context handed to order event callbacks. Must be called
// before the loops (and the order monitor) are launched; the callbacks
// run on the monitor goroutine, which has no context of its own.
func (t *Trader) Start(ctx context.Context) {
	t.runCtx = ctx
}

// Select starts tracking a stock and opens a trading episode for it.
func (t *Trader) Select(ctx context.Context, code, name string) error {
	if _, err := t.deps.Bars.Track(ctx, code, name, time.Now()); err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			_ = t.deps.Notifier.Notify(ctx, notify.EventCapacity,
				"tracking capacity exceeded",
				fmt.Sprintf("cannot select %s (%s): tracking slots exhausted", code, name))
		}
		return fmt.Errorf("trader: track %s: %w", code, err)
	}
	if err := t.deps.Machine.Select(ctx, code, name); err != nil {
		// A stock with a live episode stays selected; re-announcing it is
		// not an error.
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("trader: select %s: %w", code, err)
	}
	return nil
}

// Close releases the re-trade scheduler's timers.
func (t *Trader) Close() {
	t.retrader.Close()
}

// RefreshLoop refreshes stale tracked stocks in batches on the configured
// interval while the session is open.
func (t *Trader) RefreshLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now().In(t.deps.Session.Location())
			if !t.deps.Session.Contains(now) {
				continue
			}
			if err := t.deps.Bars.RefreshAllDue(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				t.logger.WarnContext(ctx, "refresh cycle failed", slog.String("error", err.Error()))
			}
			t.publishQuotes(ctx)
			t.reportSelfHeals(ctx)
		}
	}
}

// reportSelfHeals alerts once per gap re-backfill so operators know a
// tracked stock's view was rebuilt.
func (t *Trader) reportSelfHeals(ctx context.Context) {
	for _, ts := range t.deps.Bars.List() {
		if ts.SelfHeals > t.selfHeals[ts.Code] {
			t.selfHeals[ts.Code] = ts.SelfHeals
			_ = t.deps.Notifier.Notify(ctx, notify.EventDataGapHealed,
				fmt.Sprintf("data gap healed %s", ts.Code),
				fmt.Sprintf("realtime gap detected, bars re-backfilled (heal #%d)", ts.SelfHeals))
		}
	}
}

// publishQuotes pushes the latest close of every tracked stock into the
// quote cache, when one is wired.
func (t *Trader) publishQuotes(ctx context.Context) {
	if t.deps.Quotes == nil {
		return
	}
	for _, ts := range t.deps.Bars.List() {
		bars, err := t.deps.Bars.GetMergedView(ts.Code)
		if err != nil || len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		_ = t.deps.Quotes.SetQuote(ctx, domain.Quote{
			Code:   ts.Code,
			Price:  last.Close,
			Volume: last.Volume,
			Time:   last.Time,
		})
	}
}

// EvaluateLoop runs the decision engine over every eligible stock on the
// configured interval.
func (t *Trader) EvaluateLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now().In(t.deps.Session.Location())
			if !t.deps.Session.Contains(now) {
				t.maybeLiquidate(ctx, now)
				continue
			}
			t.evaluate(ctx, now)
		}
	}
}

// evaluate runs one decision pass. Selected stocks (and candidates whose
// previous order was cancelled) are evaluated for entry, positioned
// stocks for exit.
func (t *Trader) evaluate(ctx context.Context, now time.Time) {
	for _, st := range t.deps.Machine.InState(domain.StateSelected) {
		t.evaluateBuy(ctx, st, now)
	}
	for _, st := range t.deps.Machine.InState(domain.StateBuyCandidate) {
		if st.BuyOrderID == "" {
			t.evaluateBuy(ctx, st, now)
		}
	}
	for _, st := range t.deps.Machine.InState(domain.StatePositioned) {
		t.evaluateSell(ctx, st, now)
	}
	for _, st := range t.deps.Machine.InState(domain.StateSellCandidate) {
		if st.SellOrderID == "" {
			t.evaluateSell(ctx, st, now)
		}
	}
}

func (t *Trader) usableBars(code string, now time.Time) []domain.Bar {
	bars, err := t.deps.Bars.GetMergedView(code)
	if err != nil {
		return nil
	}
	rep := t.deps.Validator.Validate(bars, now)
	if !rep.OK() {
		t.logger.Debug("data quality rejected",
			slog.String("code", code),
			slog.String("issue", rep.Err().Error()))
		return nil
	}
	return bars
}

func (t *Trader) evaluateBuy(ctx context.Context, st domain.TradingStock, now time.Time) {
	bars := t.usableBars(st.Code, now)
	if bars == nil {
		return
	}
	sig := t.deps.Engine.EvaluateBuy(st.Code, bars)
	if sig == nil {
		return
	}

	if st.State == domain.StateSelected {
		if err := t.deps.Machine.Transition(ctx, st.Code, domain.StateBuyCandidate, sig.Reason); err != nil {
			t.logger.WarnContext(ctx, "buy candidate transition failed",
				slog.String("code", st.Code), slog.String("error", err.Error()))
			return
		}
	}

	o, err := t.deps.Orders.PlaceBuy(ctx, domain.OrderRequest{
		Code:       st.Code,
		Quantity:   sig.Quantity,
		LimitPrice: sig.LimitPrice,
		Reason:     sig.Reason,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return
		}
		t.logger.WarnContext(ctx, "buy submission failed",
			slog.String("code", st.Code), slog.String("error", err.Error()))
		return
	}

	if err := t.deps.Machine.Transition(ctx, st.Code, domain.StateBuyPending, "buy order submitted"); err != nil {
		t.logger.ErrorContext(ctx, "buy pending transition failed",
			slog.String("code", st.Code), slog.String("error", err.Error()))
		return
	}
	_ = t.deps.Machine.Update(st.Code, func(s *domain.TradingStock) {
		s.BuyOrderID = o.ID
	})
	_ = t.deps.Notifier.NotifyOrder(ctx, notify.EventOrderSubmitted, o, sig.Reason)
}

func (t *Trader) evaluateSell(ctx context.Context, st domain.TradingStock, now time.Time) {
	if st.Position == nil {
		return
	}
	bars := t.usableBars(st.Code, now)
	if bars == nil {
		return
	}
	sig := t.deps.Engine.EvaluateSell(st.Code, bars, *st.Position)
	if sig == nil {
		return
	}
	t.placeSell(ctx, st, sig.LimitPrice, sig.Quantity, sig.Reason)
}

func (t *Trader) placeSell(ctx context.Context, st domain.TradingStock, price float64, qty int64, reason string) {
	if st.State == domain.StatePositioned {
		if err := t.deps.Machine.Transition(ctx, st.Code, domain.StateSellCandidate, reason); err != nil {
			t.logger.WarnContext(ctx, "sell candidate transition failed",
				slog.String("code", st.Code), slog.String("error", err.Error()))
			return
		}
	}

	o, err := t.deps.Orders.PlaceSell(ctx, domain.OrderRequest{
		Code:       st.Code,
		Quantity:   qty,
		LimitPrice: price,
		Reason:     reason,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return
		}
		t.logger.WarnContext(ctx, "sell submission failed",
			slog.String("code", st.Code), slog.String("error", err.Error()))
		return
	}

	if err := t.deps.Machine.Transition(ctx, st.Code, domain.StateSellPending, "sell order submitted"); err != nil {
		t.logger.ErrorContext(ctx, "sell pending transition failed",
			slog.String("code", st.Code), slog.String("error", err.Error()))
		return
	}
	_ = t.deps.Machine.Update(st.Code, func(s *domain.TradingStock) {
		s.SellOrderID = o.ID
	})
	_ = t.deps.Notifier.NotifyOrder(ctx, notify.EventOrderSubmitted, o, reason)
}

// maybeLiquidate runs once after the session closes: every live order is
// cancelled and every open position is sold at the last known price.
func (t *Trader) maybeLiquidate(ctx context.Context, now time.Time) {
	if t.liquidated || now.Before(t.deps.Session.CloseAt(now)) {
		return
	}
	t.liquidated = true

	t.logger.InfoContext(ctx, "session closed, liquidating")
	t.deps.Orders.CancelAll(ctx)

	for _, st := range t.deps.Machine.InState(domain.StatePositioned) {
		price, err := t.lastPrice(ctx, st.Code)
		if err != nil {
			t.logger.ErrorContext(ctx, "liquidation price lookup failed",
				slog.String("code", st.Code), slog.String("error", err.Error()))
			_ = t.deps.Machine.Fail(ctx, st.Code, "liquidation failed: no price")
			continue
		}
		t.placeSell(ctx, st, price, st.Position.Quantity, "session close liquidation")
	}
}

// lastPrice prefers the quote cache over a broker round trip.
func (t *Trader) lastPrice(ctx context.Context, code string) (float64, error) {
	if t.deps.Quotes != nil {
		if q, err := t.deps.Quotes.GetQuote(ctx, code); err == nil {
			return q.Price, nil
		}
	}
	q, err := t.deps.Broker.CurrentPrice(ctx, code)
	if err != nil {
		return 0, err
	}
	return q.Price, nil
}

// onOrderEvent bridges order lifecycle events into state machine moves.
// It runs synchronously on the order monitor goroutine.
func (t *Trader) onOrderEvent(ev orders.Event) {
	ctx := t.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	o := ev.Order

	switch ev.Kind {
	case orders.EventFilled:
		if o.Side == domain.OrderSideBuy {
			t.onBuyFilled(ctx, o)
		} else {
			t.onSellFilled(ctx, o)
		}
	case orders.EventCancelled, orders.EventExpired:
		t.onOrderCancelled(ctx, o, ev.Reason)
	case orders.EventAmbiguous:
		t.logger.WarnContext(ctx, "order in ambiguous state, operator attention required",
			slog.String("code", o.Code), slog.String("order_id", o.ID))
		_ = t.deps.Notifier.NotifyOrder(ctx, notify.EventOrderAmbiguous, o, ev.Reason)
	case orders.EventAdjusted:
		_ = t.deps.Notifier.NotifyOrder(ctx, notify.EventOrderAdjusted, o, ev.Reason)
	case orders.EventPartial:
		t.logger.Debug("partial fill",
			slog.String("code", o.Code),
			slog.Int64("filled", o.Filled),
			slog.Int64("remaining", o.Remaining))
	}
}

func (t *Trader) onBuyFilled(ctx context.Context, o domain.Order) {
	filledAt := time.Now()
	if o.FilledAt != nil {
		filledAt = *o.FilledAt
	}
	if err := t.deps.Machine.Transition(ctx, o.Code, domain.StatePositioned, "buy filled"); err != nil {
		t.logger.ErrorContext(ctx, "positioned transition failed",
			slog.String("code", o.Code), slog.String("error", err.Error()))
		return
	}
	_ = t.deps.Machine.Update(o.Code, func(s *domain.TradingStock) {
		s.Position = &domain.Position{
			Quantity:   o.Filled,
			EntryPrice: o.AvgFillPrice,
			EntryAt:    filledAt,
		}
		s.BuyOrderID = ""
	})
	_ = t.deps.Notifier.NotifyOrder(ctx, notify.EventOrderFilled, o, "")
}

func (t *Trader) onSellFilled(ctx context.Context, o domain.Order) {
	st, err := t.deps.Machine.Get(o.Code)
	if err != nil {
		t.logger.ErrorContext(ctx, "sell filled for unknown stock", slog.String("code", o.Code))
		return
	}

	var rec domain.TradeRecord
	if st.Position != nil {
		pos := *st.Position
		sellAt := time.Now()
		if o.FilledAt != nil {
			sellAt = *o.FilledAt
		}
		pnl := (o.AvgFillPrice - pos.EntryPrice) * float64(o.Filled)
		rec = domain.TradeRecord{
			ID:          uuid.NewString(),
			Code:        o.Code,
			Name:        st.Name,
			Quantity:    o.Filled,
			BuyPrice:    pos.EntryPrice,
			SellPrice:   o.AvgFillPrice,
			BuyAt:       pos.EntryAt,
			SellAt:      sellAt,
			RealizedPnL: pnl,
			SellReason:  o.Reason,
		}
		if pos.EntryPrice > 0 {
			rec.ReturnPct = (o.AvgFillPrice - pos.EntryPrice) / pos.EntryPrice
		}
	}

	if err := t.deps.Machine.Transition(ctx, o.Code, domain.StateCompleted, "sell filled"); err != nil {
		t.logger.ErrorContext(ctx, "completed transition failed",
			slog.String("code", o.Code), slog.String("error", err.Error()))
		return
	}
	_ = t.deps.Machine.Update(o.Code, func(s *domain.TradingStock) {
		s.RealizedPnL = rec.RealizedPnL
		s.Position = nil
		s.SellOrderID = ""
	})

	if t.deps.Trades != nil && rec.ID != "" {
		if err := t.deps.Trades.Insert(ctx, rec); err != nil {
			t.logger.ErrorContext(ctx, "trade record insert failed",
				slog.String("code", o.Code), slog.String("error", err.Error()))
		}
	}
	_ = t.deps.Notifier.NotifyTrade(ctx, rec)

	t.retrader.Schedule(ctx, o.Code, st.Name)
}

// onOrderCancelled reverts the pending state one step so the stock can be
// re-evaluated on the next pass. A buy cancelled after a partial fill
// leaves the filled shares outside any position; they are flagged for
// manual reconciliation rather than silently dropped.
func (t *Trader) onOrderCancelled(ctx context.Context, o domain.Order, reason string) {
	if o.Side == domain.OrderSideBuy && o.Filled > 0 {
		t.logger.WarnContext(ctx, "buy cancelled after partial fill, shares unaccounted",
			slog.String("code", o.Code),
			slog.Int64("filled", o.Filled))
		reason = fmt.Sprintf("%s; %d shares filled before cancel, manual reconcile required", reason, o.Filled)
	}
	if err := t.deps.Machine.Revert(ctx, o.Code, reason); err != nil {
		t.logger.WarnContext(ctx, "revert after cancel failed",
			slog.String("code", o.Code), slog.String("error", err.Error()))
		return
	}
	_ = t.deps.Machine.Update(o.Code, func(s *domain.TradingStock) {
		if o.Side == domain.OrderSideBuy {
			s.BuyOrderID = ""
		} else {
			s.SellOrderID = ""
		}
	})
	_ = t.deps.Notifier.NotifyOrder(ctx, notify.EventOrderCancelled, o, reason)
}

// reselect re-opens an episode after the re-trade cool-down.
func (t *Trader) reselect(ctx context.Context, code, name string) {
	if err := t.deps.Machine.Select(ctx, code, name); err != nil {
		t.logger.WarnContext(ctx, "re-trade select failed",
			slog.String("code", code), slog.String("error", err.Error()))
	}
}

// Status reports a point-in-time snapshot of the bot.
func (t *Trader) Status() domain.BotStatus {
	sum := t.deps.Machine.Summary()
	return domain.BotStatus{
		Tracked:       t.deps.Bars.Len(),
		OpenPositions: len(t.deps.Machine.InState(domain.StatePositioned)),
		LiveOrders:    len(t.deps.Ledger.Live()),
		Completed:     sum.Completed,
		Failed:        sum.Failed,
		UptimeSeconds: int64(time.Since(t.startedAt).Seconds()),
	}
}

// SummaryLoop logs a machine-wide snapshot once a minute.
func (t *Trader) SummaryLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sum := t.deps.Machine.Summary()
			status := t.Status()
			t.logger.InfoContext(ctx, "trading summary",
				slog.Int("tracked", status.Tracked),
				slog.Int("episodes", sum.Total),
				slog.Int("open_positions", status.OpenPositions),
				slog.Int("live_orders", status.LiveOrders),
				slog.Int("completed", status.Completed),
				slog.Int("failed", status.Failed),
				slog.Float64("position_value", sum.PositionValue),
				slog.Int64("uptime_seconds", status.UptimeSeconds))
		}
	}
}
