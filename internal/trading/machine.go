// Package trading owns the per-stock episode state machine and intraday
// re-trade scheduling.
package trading

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// transitions enumerates the legal forward edges. Reverts (pending back
// to candidate) and the universal escape to Failed are handled
// separately.
var transitions = map[domain.TradeState][]domain.TradeState{
	domain.StateSelected:      {domain.StateBuyCandidate},
	domain.StateBuyCandidate:  {domain.StateBuyPending},
	domain.StateBuyPending:    {domain.StatePositioned},
	domain.StatePositioned:    {domain.StateSellCandidate},
	domain.StateSellCandidate: {domain.StateSellPending},
	domain.StateSellPending:   {domain.StateCompleted},
}

// reverts maps a pending state back one step for order failures.
var reverts = map[domain.TradeState]domain.TradeState{
	domain.StateBuyPending:  domain.StateBuyCandidate,
	domain.StateSellPending: domain.StateSellCandidate,
}

// Summary is a snapshot of machine-wide state for logging and ops.
type Summary struct {
	ByState   map[domain.TradeState]int
	Total     int
	Completed int
	Failed    int
	// PositionValue is the entry-price notional of all open positions.
	PositionValue float64
}

// Machine is the per-stock trading state machine. One live TradingStock
// exists per code; every state change is appended to the stock's audit
// history and, when a store is configured, persisted best-effort.
type Machine struct {
	logger *slog.Logger
	audit  domain.AuditStore // optional
	now    func() time.Time

	mu      sync.RWMutex
	stocks  map[string]*domain.TradingStock
	byState map[domain.TradeState]map[string]struct{}
}

// NewMachine creates an empty Machine. audit may be nil.
func NewMachine(audit domain.AuditStore, logger *slog.Logger) *Machine {
	return &Machine{
		logger:  logger.With(slog.String("component", "trading")),
		audit:   audit,
		now:     time.Now,
		stocks:  make(map[string]*domain.TradingStock),
		byState: make(map[domain.TradeState]map[string]struct{}),
	}
}

// Select opens a new episode for a stock. A live (non-terminal) episode
// for the same code is an error; a terminal one is replaced, which is how
// re-trades re-enter.
func (m *Machine) Select(ctx context.Context, code, name string) error {
	now := m.now()

	m.mu.Lock()
	if existing, ok := m.stocks[code]; ok && !existing.State.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("trading: select %s: episode in state %s: %w", code, existing.State, domain.ErrAlreadyExists)
	} else if ok {
		m.removeIndexLocked(code, existing.State)
	}
	ts := &domain.TradingStock{
		Code:       code,
		Name:       name,
		State:      domain.StateSelected,
		SelectedAt: now,
		History: []domain.StateChange{{
			To:        domain.StateSelected,
			Reason:    "selected",
			Timestamp: now,
		}},
	}
	m.stocks[code] = ts
	m.addIndexLocked(code, domain.StateSelected)
	m.mu.Unlock()

	m.logger.Info("stock selected", slog.String("code", code), slog.String("name", name))
	m.persistAudit(ctx, code, "", domain.StateSelected, "selected")
	return nil
}

// Transition moves a stock along a legal forward edge.
func (m *Machine) Transition(ctx context.Context, code string, to domain.TradeState, reason string) error {
	from, err := m.apply(code, reason, func(cur domain.TradeState) (domain.TradeState, error) {
		for _, next := range transitions[cur] {
			if next == to {
				return to, nil
			}
		}
		return cur, fmt.Errorf("trading: %s: illegal transition %s -> %s: %w", code, cur, to, domain.ErrInvalidOrder)
	})
	if err != nil {
		return err
	}
	m.logger.Info("state transition",
		slog.String("code", code),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason))
	m.persistAudit(ctx, code, from, to, reason)
	return nil
}

// Revert moves a pending state back one step after an order failure or
// cancellation.
func (m *Machine) Revert(ctx context.Context, code, reason string) error {
	var to domain.TradeState
	from, err := m.apply(code, reason, func(cur domain.TradeState) (domain.TradeState, error) {
		back, ok := reverts[cur]
		if !ok {
			return cur, fmt.Errorf("trading: %s: state %s has no revert: %w", code, cur, domain.ErrInvalidOrder)
		}
		to = back
		return back, nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("state reverted",
		slog.String("code", code),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason))
	m.persistAudit(ctx, code, from, to, reason)
	return nil
}

// Fail moves a stock to the failed state from anywhere non-terminal.
func (m *Machine) Fail(ctx context.Context, code, reason string) error {
	from, err := m.apply(code, reason, func(cur domain.TradeState) (domain.TradeState, error) {
		if cur.Terminal() {
			return cur, fmt.Errorf("trading: %s: already terminal in %s: %w", code, cur, domain.ErrInvalidOrder)
		}
		return domain.StateFailed, nil
	})
	if err != nil {
		return err
	}
	m.logger.Error("episode failed",
		slog.String("code", code),
		slog.String("from", string(from)),
		slog.String("reason", reason))
	m.persistAudit(ctx, code, from, domain.StateFailed, reason)
	return nil
}

// apply runs a state decision under the lock, updating indexes and
// history when the state changes. It returns the previous state.
func (m *Machine) apply(code, reason string, decide func(domain.TradeState) (domain.TradeState, error)) (domain.TradeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.stocks[code]
	if !ok {
		return "", fmt.Errorf("trading: %s: %w", code, domain.ErrNotFound)
	}
	from := ts.State
	to, err := decide(from)
	if err != nil {
		return from, err
	}
	if to == from {
		return from, nil
	}
	m.removeIndexLocked(code, from)
	ts.State = to
	m.addIndexLocked(code, to)
	ts.History = append(ts.History, domain.StateChange{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: m.now(),
	})
	return from, nil
}

// Update applies fn to the stock's auxiliary fields (order IDs, position,
// realized P&L) under the lock. State must not be changed here.
func (m *Machine) Update(code string, fn func(*domain.TradingStock)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.stocks[code]
	if !ok {
		return fmt.Errorf("trading: update %s: %w", code, domain.ErrNotFound)
	}
	state := ts.State
	fn(ts)
	ts.State = state
	return nil
}

// Get returns a deep copy of the stock's episode.
func (m *Machine) Get(code string) (domain.TradingStock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.stocks[code]
	if !ok {
		return domain.TradingStock{}, fmt.Errorf("trading: get %s: %w", code, domain.ErrNotFound)
	}
	return copyStock(ts), nil
}

// InState returns deep copies of every stock currently in the state.
func (m *Machine) InState(state domain.TradeState) []domain.TradingStock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TradingStock, 0, len(m.byState[state]))
	for code := range m.byState[state] {
		out = append(out, copyStock(m.stocks[code]))
	}
	return out
}

// Summary returns per-state counts.
func (m *Machine) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Summary{ByState: make(map[domain.TradeState]int), Total: len(m.stocks)}
	for state, codes := range m.byState {
		s.ByState[state] = len(codes)
	}
	s.Completed = s.ByState[domain.StateCompleted]
	s.Failed = s.ByState[domain.StateFailed]
	for _, ts := range m.stocks {
		if ts.Position != nil {
			s.PositionValue += ts.Position.Value(ts.Position.EntryPrice)
		}
	}
	return s
}

func (m *Machine) addIndexLocked(code string, state domain.TradeState) {
	if m.byState[state] == nil {
		m.byState[state] = make(map[string]struct{})
	}
	m.byState[state][code] = struct{}{}
}

func (m *Machine) removeIndexLocked(code string, state domain.TradeState) {
	if codes, ok := m.byState[state]; ok {
		delete(codes, code)
		if len(codes) == 0 {
			delete(m.byState, state)
		}
	}
}

// persistAudit writes one transition to the audit store, best-effort.
func (m *Machine) persistAudit(ctx context.Context, code string, from, to domain.TradeState, reason string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, code, from, to, reason); err != nil {
		m.logger.Warn("audit persist failed", slog.String("code", code), slog.Any("error", err))
	}
}

func copyStock(ts *domain.TradingStock) domain.TradingStock {
	cp := *ts
	cp.History = make([]domain.StateChange, len(ts.History))
	copy(cp.History, ts.History)
	if ts.Position != nil {
		pos := *ts.Position
		cp.Position = &pos
	}
	return cp
}
