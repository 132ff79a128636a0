// Package orders owns the live-order registry and the order lifecycle:
// placement, fill reconciliation, timeout and bar-count expiry, and
// cancel-then-resubmit price adjustment.
package orders

import (
	"fmt"
	"sync"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// Ledger is the mutex-guarded registry of orders. At most one live order
// exists per (code, side); terminal orders are retained for lookup but
// leave the live index.
type Ledger struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Order
	byBroker map[string]string                      // broker ID -> local ID
	live     map[string]map[domain.OrderSide]string // code -> side -> local ID
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byID:     make(map[string]*domain.Order),
		byBroker: make(map[string]string),
		live:     make(map[string]map[domain.OrderSide]string),
	}
}

// Register adds a freshly submitted order to the live index. A live order
// for the same code and side already existing is an error.
func (l *Ledger) Register(o domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sides, ok := l.live[o.Code]; ok {
		if _, dup := sides[o.Side]; dup {
			return fmt.Errorf("orders: register %s %s: %w", o.Code, o.Side, domain.ErrAlreadyExists)
		}
	}
	cp := o
	l.byID[o.ID] = &cp
	l.byBroker[o.BrokerID] = o.ID
	if l.live[o.Code] == nil {
		l.live[o.Code] = make(map[domain.OrderSide]string)
	}
	l.live[o.Code][o.Side] = o.ID
	return nil
}

// Get returns a copy of the order with the given local ID.
func (l *Ledger) Get(id string) (domain.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.byID[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("orders: get %s: %w", id, domain.ErrNotFound)
	}
	return *o, nil
}

// GetByBroker returns a copy of the order with the given broker ID.
func (l *Ledger) GetByBroker(brokerID string) (domain.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byBroker[brokerID]
	if !ok {
		return domain.Order{}, fmt.Errorf("orders: get broker %s: %w", brokerID, domain.ErrNotFound)
	}
	return *l.byID[id], nil
}

// Live returns copies of all live orders.
func (l *Ledger) Live() []domain.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Order, 0, len(l.live))
	for _, sides := range l.live {
		for _, id := range sides {
			out = append(out, *l.byID[id])
		}
	}
	return out
}

// LiveByCode returns copies of the live orders for one code.
func (l *Ledger) LiveByCode(code string) []domain.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Order
	for _, id := range l.live[code] {
		out = append(out, *l.byID[id])
	}
	return out
}

// Update applies fn to the order under the lock and returns the updated
// copy. When fn leaves the order in a terminal status the order is
// retired from the live index.
func (l *Ledger) Update(id string, fn func(*domain.Order)) (domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.byID[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("orders: update %s: %w", id, domain.ErrNotFound)
	}
	oldBroker := o.BrokerID
	fn(o)
	if o.BrokerID != oldBroker {
		delete(l.byBroker, oldBroker)
		l.byBroker[o.BrokerID] = o.ID
	}
	if o.Status.Terminal() {
		l.retireLocked(o)
	}
	return *o, nil
}

func (l *Ledger) retireLocked(o *domain.Order) {
	if sides, ok := l.live[o.Code]; ok {
		if sides[o.Side] == o.ID {
			delete(sides, o.Side)
		}
		if len(sides) == 0 {
			delete(l.live, o.Code)
		}
	}
}
