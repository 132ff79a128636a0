package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
	"github.com/tgparkk/RoboTrader-sub001/internal/marketdata"
)

// EventKind classifies an order lifecycle event.
type EventKind string

const (
	EventSubmitted EventKind = "submitted"
	EventPartial   EventKind = "partial_fill"
	EventFilled    EventKind = "filled"
	EventCancelled EventKind = "cancelled"
	EventExpired   EventKind = "expired"
	EventAdjusted  EventKind = "price_adjusted"
	EventAmbiguous EventKind = "ambiguous"
)

// Event is published to observers as orders move through their lifecycle.
// Order is a copy taken after the change was applied.
type Event struct {
	Kind   EventKind
	Order  domain.Order
	Reason string
}

// Observer receives lifecycle events. Observers run synchronously on the
// monitor goroutine and must not block.
type Observer func(Event)

// ManagerConfig holds the lifecycle tuning knobs.
type ManagerConfig struct {
	MonitorInterval      time.Duration
	BuyTimeout           time.Duration
	SellTimeout          time.Duration
	BuyBarExpiryPeriods  int
	PriceAdjustThreshold float64 // fraction the market must move against the limit
	PriceAdjustMax       int
}

// Manager places orders and runs the monitor loop that reconciles fills,
// cancels on timeout or bar-count expiry, and chases moved markets with
// cancel-then-resubmit price adjustments.
type Manager struct {
	broker    domain.Broker
	ledger    *Ledger
	session   marketdata.Session
	cfg       ManagerConfig
	logger    *slog.Logger
	now       func() time.Time
	observers []Observer
	archive   domain.OrderStore // optional
}

// NewManager creates a Manager. Observers registered before Run see every
// event in order.
func NewManager(broker domain.Broker, ledger *Ledger, session marketdata.Session, cfg ManagerConfig, logger *slog.Logger) *Manager {
	return &Manager{
		broker:  broker,
		ledger:  ledger,
		session: session,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "orders")),
		now:     time.Now,
	}
}

// Observe registers an observer. Not safe to call once Run has started.
func (m *Manager) Observe(obs Observer) {
	m.observers = append(m.observers, obs)
}

// SetArchive configures optional persistence for settled orders. Not safe
// to call once Run has started.
func (m *Manager) SetArchive(store domain.OrderStore) {
	m.archive = store
}

// persistSettled archives a terminal order best-effort; a store failure
// never blocks trading.
func (m *Manager) persistSettled(ctx context.Context, o domain.Order) {
	if m.archive == nil || !o.Status.Terminal() {
		return
	}
	if err := m.archive.Archive(ctx, o); err != nil {
		m.logger.Warn("order archive failed",
			slog.String("order_id", o.ID), slog.Any("error", err))
	}
}

func (m *Manager) emit(kind EventKind, o domain.Order, reason string) {
	ev := Event{Kind: kind, Order: o, Reason: reason}
	for _, obs := range m.observers {
		obs(ev)
	}
}

// PlaceBuy submits a limit buy and registers it in the ledger.
func (m *Manager) PlaceBuy(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	req.Side = domain.OrderSideBuy
	return m.place(ctx, req)
}

// PlaceSell submits a limit sell and registers it in the ledger.
func (m *Manager) PlaceSell(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	req.Side = domain.OrderSideSell
	return m.place(ctx, req)
}

func (m *Manager) place(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if req.Code == "" || req.Quantity <= 0 || req.LimitPrice <= 0 {
		return domain.Order{}, fmt.Errorf("orders: place %s: %w", req.Code, domain.ErrInvalidOrder)
	}
	for _, live := range m.ledger.LiveByCode(req.Code) {
		if live.Side == req.Side {
			return domain.Order{}, fmt.Errorf("orders: place %s %s: %w", req.Code, req.Side, domain.ErrAlreadyExists)
		}
	}

	res, err := m.broker.PlaceOrder(ctx, req)
	if err != nil || !res.Success {
		msg := res.Message
		if err != nil {
			msg = err.Error()
		}
		return domain.Order{}, fmt.Errorf("orders: place %s %s: %w: %s", req.Code, req.Side, domain.ErrOrderSubmission, msg)
	}

	now := m.now()
	o := domain.Order{
		ID:              uuid.NewString(),
		BrokerID:        res.BrokerID,
		Code:            req.Code,
		Side:            req.Side,
		Quantity:        req.Quantity,
		LimitPrice:      req.LimitPrice,
		Remaining:       req.Quantity,
		Status:          domain.OrderStatusPending,
		SubmittedAt:     now,
		DecisionBarTime: domain.NextDecisionBar(now, m.session.CloseAt(now)),
		Reason:          req.Reason,
	}
	if err := m.ledger.Register(o); err != nil {
		// The broker accepted the order but we cannot track it; cancel
		// rather than leave it unmonitored.
		if cerr := m.broker.CancelOrder(ctx, o.BrokerID); cerr != nil {
			m.logger.Error("cancel of untracked order failed",
				slog.String("broker_id", o.BrokerID), slog.Any("error", cerr))
		}
		return domain.Order{}, err
	}
	m.logger.Info("order placed",
		slog.String("code", o.Code),
		slog.String("side", string(o.Side)),
		slog.Int64("quantity", o.Quantity),
		slog.Float64("limit", o.LimitPrice),
		slog.String("broker_id", o.BrokerID))
	m.emit(EventSubmitted, o, req.Reason)
	return o, nil
}

// Run executes the monitor loop until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()
	m.logger.Info("order monitor started", slog.Duration("interval", m.cfg.MonitorInterval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("order monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Pass(ctx)
		}
	}
}

// Pass runs one monitor iteration over every live order.
func (m *Manager) Pass(ctx context.Context) {
	for _, o := range m.ledger.Live() {
		if err := m.monitorOne(ctx, o); err != nil {
			m.logger.Warn("monitor order",
				slog.String("code", o.Code),
				slog.String("side", string(o.Side)),
				slog.Any("error", err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (m *Manager) monitorOne(ctx context.Context, o domain.Order) error {
	// 1. Reconcile fills from the broker's view.
	report, err := m.broker.OrderStatus(ctx, o.BrokerID)
	if err != nil {
		return fmt.Errorf("status query: %w: %v", domain.ErrTransientData, err)
	}

	now := m.now()
	wasFilled := o.Filled
	updated, err := m.ledger.Update(o.ID, func(ord *domain.Order) {
		ord.ApplyFill(report.Filled, report.AvgPrice, now)
		if report.Cancelled && ord.Status != domain.OrderStatusFilled {
			ord.Status = domain.OrderStatusCancelled
			t := now
			ord.CancelledAt = &t
		}
	})
	if err != nil {
		return err
	}

	switch {
	case updated.Status == domain.OrderStatusFilled:
		m.logger.Info("order filled",
			slog.String("code", updated.Code),
			slog.String("side", string(updated.Side)),
			slog.Float64("avg_price", updated.AvgFillPrice))
		m.emit(EventFilled, updated, "broker reported full fill")
		m.persistSettled(ctx, updated)
		return nil
	case updated.Status == domain.OrderStatusCancelled:
		m.emit(EventCancelled, updated, "broker reported cancel")
		m.persistSettled(ctx, updated)
		return nil
	case updated.Filled > wasFilled:
		m.emit(EventPartial, updated, "partial fill")
	}

	// 2. Expiry: wall-clock timeout for both sides, bar-count expiry for
	// buys. Whichever trips first wins.
	if reason, expired := m.expiryReason(updated, now); expired {
		return m.cancelOrder(ctx, updated, EventExpired, reason)
	}

	// 3. Price adjustment when the market ran away from an unfilled limit.
	if updated.Filled == 0 && updated.AdjustCount < m.cfg.PriceAdjustMax {
		return m.maybeAdjustPrice(ctx, updated)
	}
	return nil
}

// expiryReason decides whether the order is past its deadline.
func (m *Manager) expiryReason(o domain.Order, now time.Time) (string, bool) {
	timeout := m.cfg.SellTimeout
	if o.Side == domain.OrderSideBuy {
		timeout = m.cfg.BuyTimeout
	}
	if now.Sub(o.SubmittedAt) >= timeout {
		return fmt.Sprintf("unfilled after %s", timeout), true
	}
	if o.Side == domain.OrderSideBuy && m.cfg.BuyBarExpiryPeriods > 0 {
		deadline := o.DecisionBarTime.Add(time.Duration(m.cfg.BuyBarExpiryPeriods) * domain.DecisionBarPeriod)
		if !now.Before(deadline) {
			return fmt.Sprintf("unfilled for %d decision bars", m.cfg.BuyBarExpiryPeriods), true
		}
	}
	return "", false
}

// cancelOrder cancels the unfilled remainder. A failed cancel triggers a
// single status re-query; a confirmed full fill there is authoritative.
// Anything still unclear leaves the order pending and flagged ambiguous.
func (m *Manager) cancelOrder(ctx context.Context, o domain.Order, kind EventKind, reason string) error {
	cerr := m.broker.CancelOrder(ctx, o.BrokerID)
	now := m.now()
	if cerr == nil {
		updated, err := m.ledger.Update(o.ID, func(ord *domain.Order) {
			ord.Status = domain.OrderStatusCancelled
			t := now
			ord.CancelledAt = &t
		})
		if err != nil {
			return err
		}
		m.logger.Info("order cancelled",
			slog.String("code", o.Code),
			slog.String("side", string(o.Side)),
			slog.String("reason", reason))
		m.emit(kind, updated, reason)
		m.persistSettled(ctx, updated)
		return nil
	}

	report, qerr := m.broker.OrderStatus(ctx, o.BrokerID)
	if qerr == nil && report.Remaining == 0 && report.Filled == o.Quantity {
		updated, err := m.ledger.Update(o.ID, func(ord *domain.Order) {
			ord.ApplyFill(report.Filled, report.AvgPrice, now)
		})
		if err != nil {
			return err
		}
		m.logger.Info("cancel raced a full fill, treating as filled",
			slog.String("code", o.Code), slog.String("side", string(o.Side)))
		m.emit(EventFilled, updated, "full fill confirmed after failed cancel")
		m.persistSettled(ctx, updated)
		return nil
	}

	updated, err := m.ledger.Update(o.ID, func(ord *domain.Order) {
		ord.Ambiguous = true
	})
	if err != nil {
		return err
	}
	m.logger.Error("order state ambiguous after failed cancel",
		slog.String("code", o.Code),
		slog.String("broker_id", o.BrokerID),
		slog.Any("cancel_error", cerr))
	m.emit(EventAmbiguous, updated, "cancel failed and fill state unconfirmed")
	return fmt.Errorf("orders: cancel %s: %w", o.Code, domain.ErrOrderAmbiguous)
}

// maybeAdjustPrice chases a market that moved against the limit by more
// than the threshold. The sequence is a compensating transaction: confirm
// the cancel first, resubmit second, and only then swap the broker ID on
// the ledger entry so listeners never see an order ID that does not exist
// at the broker.
func (m *Manager) maybeAdjustPrice(ctx context.Context, o domain.Order) error {
	q, err := m.broker.CurrentPrice(ctx, o.Code)
	if err != nil {
		return fmt.Errorf("current price: %w: %v", domain.ErrTransientData, err)
	}
	if q.Price <= 0 {
		return nil
	}

	var moved float64
	switch o.Side {
	case domain.OrderSideBuy:
		moved = (q.Price - o.LimitPrice) / o.LimitPrice
	case domain.OrderSideSell:
		moved = (o.LimitPrice - q.Price) / o.LimitPrice
	}
	if moved < m.cfg.PriceAdjustThreshold {
		return nil
	}

	if err := m.broker.CancelOrder(ctx, o.BrokerID); err != nil {
		// Do not resubmit on top of an order that may still be live.
		return fmt.Errorf("adjust cancel %s: %w: %v", o.Code, domain.ErrTransientData, err)
	}

	res, err := m.broker.PlaceOrder(ctx, domain.OrderRequest{
		Code:       o.Code,
		Side:       o.Side,
		Quantity:   o.Remaining,
		LimitPrice: q.Price,
		Reason:     "price adjustment",
	})
	if err != nil || !res.Success {
		// Cancel succeeded, resubmission did not: the order is simply
		// cancelled. Listeners are told so they can revert.
		now := m.now()
		updated, uerr := m.ledger.Update(o.ID, func(ord *domain.Order) {
			ord.Status = domain.OrderStatusCancelled
			t := now
			ord.CancelledAt = &t
		})
		if uerr != nil {
			return uerr
		}
		m.emit(EventCancelled, updated, "price adjustment resubmission failed")
		m.persistSettled(ctx, updated)
		return fmt.Errorf("orders: adjust %s: %w", o.Code, domain.ErrOrderSubmission)
	}

	updated, err := m.ledger.Update(o.ID, func(ord *domain.Order) {
		ord.BrokerID = res.BrokerID
		ord.LimitPrice = q.Price
		ord.SubmittedAt = m.now()
		ord.AdjustCount++
	})
	if err != nil {
		return err
	}
	m.logger.Info("order price adjusted",
		slog.String("code", o.Code),
		slog.String("side", string(o.Side)),
		slog.Float64("new_limit", q.Price),
		slog.Int("adjust_count", updated.AdjustCount),
		slog.String("broker_id", res.BrokerID))
	m.emit(EventAdjusted, updated, fmt.Sprintf("market moved %.2f%%", moved*100))
	return nil
}

// CancelAll cancels every live order, used at session end.
func (m *Manager) CancelAll(ctx context.Context) {
	for _, o := range m.ledger.Live() {
		if err := m.cancelOrder(ctx, o, EventCancelled, "session end"); err != nil {
			m.logger.Warn("session-end cancel",
				slog.String("code", o.Code), slog.Any("error", err))
		}
	}
}
