package trading

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// ReSelect is invoked when a cool-down elapses and the stock is eligible
// to trade again.
type ReSelect func(ctx context.Context, code, name string)

// ReTrader schedules a completed stock for re-selection after a cool-down.
// The scheduled task fires only if the episode is still completed at fire
// time; anything else (already re-selected, failed, evicted) is skipped.
type ReTrader struct {
	machine   *Machine
	cooldown  time.Duration
	maxPerDay int
	reselect  ReSelect
	logger    *slog.Logger

	mu     sync.Mutex
	counts map[string]int
	timers map[string]*time.Timer
	closed bool
}

// NewReTrader creates a ReTrader. reselect runs on a timer goroutine.
func NewReTrader(machine *Machine, cooldown time.Duration, maxPerDay int, reselect ReSelect, logger *slog.Logger) *ReTrader {
	return &ReTrader{
		machine:   machine,
		cooldown:  cooldown,
		maxPerDay: maxPerDay,
		reselect:  reselect,
		logger:    logger.With(slog.String("component", "retrade")),
		counts:    make(map[string]int),
		timers:    make(map[string]*time.Timer),
	}
}

// Schedule arms the cool-down for a completed stock. It is a no-op when
// the stock already hit the daily re-trade cap or a timer is pending.
func (r *ReTrader) Schedule(ctx context.Context, code, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.maxPerDay > 0 && r.counts[code] >= r.maxPerDay {
		r.logger.Info("re-trade cap reached", slog.String("code", code), slog.Int("count", r.counts[code]))
		return
	}
	if _, pending := r.timers[code]; pending {
		return
	}
	r.counts[code]++
	r.timers[code] = time.AfterFunc(r.cooldown, func() {
		r.fire(ctx, code, name)
	})
	r.logger.Info("re-trade scheduled",
		slog.String("code", code),
		slog.Duration("cooldown", r.cooldown),
		slog.Int("count", r.counts[code]))
}

func (r *ReTrader) fire(ctx context.Context, code, name string) {
	r.mu.Lock()
	delete(r.timers, code)
	closed := r.closed
	r.mu.Unlock()
	if closed || ctx.Err() != nil {
		return
	}

	ts, err := r.machine.Get(code)
	if err != nil || ts.State != domain.StateCompleted {
		r.logger.Info("re-trade skipped",
			slog.String("code", code),
			slog.String("state", string(ts.State)))
		return
	}
	r.logger.Info("re-trade firing", slog.String("code", code))
	r.reselect(ctx, code, name)
}

// Close stops all pending timers.
func (r *ReTrader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for code, t := range r.timers {
		t.Stop()
		delete(r.timers, code)
	}
}
