package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// TrackedStock is a read-only snapshot of one tracked stock's bookkeeping.
type TrackedStock struct {
	Code                string
	Name                string
	SelectedAt          time.Time
	EffectiveSelectedAt time.Time
	DataComplete        bool
	LastBarAt           time.Time
	LastRefreshAt       time.Time
	BarCount            int
	Failures            int
	SelfHeals           int
}

// trackedStock is the mutable record guarded by Cache.mu.
type trackedStock struct {
	code                string
	name                string
	selectedAt          time.Time
	effectiveSelectedAt time.Time
	dataComplete        bool

	backfill []domain.Bar
	realtime []domain.Bar

	lastBarAt     time.Time
	lastRefreshAt time.Time
	failures      int
	selfHeals     int
}

func (ts *trackedStock) snapshot() TrackedStock {
	return TrackedStock{
		Code:                ts.code,
		Name:                ts.name,
		SelectedAt:          ts.selectedAt,
		EffectiveSelectedAt: ts.effectiveSelectedAt,
		DataComplete:        ts.dataComplete,
		LastBarAt:           ts.lastBarAt,
		LastRefreshAt:       ts.lastRefreshAt,
		BarCount:            len(ts.backfill) + len(ts.realtime),
		Failures:            ts.failures,
		SelfHeals:           ts.selfHeals,
	}
}

// CacheConfig holds the cache's tuning knobs.
type CacheConfig struct {
	MaxTracked      int
	EarlyGrace      time.Duration
	RefreshInterval time.Duration
	// GapTolerance is how far past the expected continuation the first
	// new bar may land before the record is considered gapped.
	GapTolerance time.Duration
}

// Cache is the per-stock minute-bar store: a historical backfill plus a
// realtime tail per tracked code, merged on demand into a session-filtered
// ascending view. The mutex is never held across broker calls; refresh
// copies state out, fetches, and applies the result under the lock.
type Cache struct {
	broker  domain.Broker
	session Session
	batches *BatchScheduler
	cfg     CacheConfig
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	stocks map[string]*trackedStock
}

// NewCache creates an empty Cache.
func NewCache(broker domain.Broker, session Session, batches *BatchScheduler, cfg CacheConfig, logger *slog.Logger) *Cache {
	if cfg.GapTolerance <= 0 {
		cfg.GapTolerance = 2 * domain.BarPeriod
	}
	return &Cache{
		broker:  broker,
		session: session,
		batches: batches,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "marketdata")),
		now:     time.Now,
		stocks:  make(map[string]*trackedStock),
	}
}

// Track registers a stock and backfills bars from session open to the
// selection time. Tracking an already-tracked code is a no-op returning
// the existing record. When the cache is full it returns
// domain.ErrCapacityExceeded.
//
// Early-session grace: a selection within the grace window after open may
// legitimately find no bars yet. Such stocks are admitted with
// DataComplete false and promoted once the realtime tail arrives.
func (c *Cache) Track(ctx context.Context, code, name string, selectedAt time.Time) (TrackedStock, error) {
	selectedAt = selectedAt.In(c.session.Location())

	c.mu.Lock()
	if existing, ok := c.stocks[code]; ok {
		snap := existing.snapshot()
		c.mu.Unlock()
		return snap, nil
	}
	if len(c.stocks) >= c.cfg.MaxTracked {
		c.mu.Unlock()
		return TrackedStock{}, fmt.Errorf("marketdata: track %s: %w", code, domain.ErrCapacityExceeded)
	}
	ts := &trackedStock{
		code:                code,
		name:                name,
		selectedAt:          selectedAt,
		effectiveSelectedAt: selectedAt,
	}
	// Reserve the slot before the network call so concurrent Track calls
	// for the same code coalesce onto one record.
	c.stocks[code] = ts
	c.mu.Unlock()

	open := c.session.OpenAt(selectedAt)
	bars, err := c.broker.HistoricalBars(ctx, code, open, selectedAt)
	withinGrace := selectedAt.Sub(open) <= c.cfg.EarlyGrace

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.stocks[code]; !ok || cur != ts {
		return TrackedStock{}, fmt.Errorf("marketdata: track %s: evicted during backfill: %w", code, domain.ErrNotFound)
	}
	ts.lastRefreshAt = c.now()

	switch {
	case err != nil && withinGrace, err == nil && len(bars) == 0 && withinGrace:
		// No data yet this early in the session is expected; admit and
		// let refresh complete the record.
		ts.dataComplete = false
		c.logger.Info("tracked without backfill (early session)",
			slog.String("code", code), slog.Time("selected_at", selectedAt))
	case err != nil:
		delete(c.stocks, code)
		return TrackedStock{}, fmt.Errorf("marketdata: backfill %s: %w: %v", code, domain.ErrTransientData, err)
	case len(bars) == 0:
		delete(c.stocks, code)
		return TrackedStock{}, fmt.Errorf("marketdata: backfill %s: no bars outside grace window: %w", code, domain.ErrTransientData)
	default:
		ts.backfill = filterBars(c.session, selectedAt, bars)
		ts.dataComplete = true
		if n := len(ts.backfill); n > 0 {
			ts.lastBarAt = ts.backfill[n-1].Time
		}
		c.logger.Info("tracked",
			slog.String("code", code),
			slog.Int("backfill_bars", len(ts.backfill)),
			slog.Time("selected_at", selectedAt))
	}
	return ts.snapshot(), nil
}

// RefreshOne fetches the realtime tail for one stock and appends it to the
// record. A tail that starts later than the expected continuation (beyond
// the gap tolerance) marks the record gapped: the realtime bars are
// discarded, the backfill is redone up to the gap boundary, and the
// effective selection time is corrected to that boundary.
func (c *Cache) RefreshOne(ctx context.Context, code string) error {
	c.mu.RLock()
	ts, ok := c.stocks[code]
	if !ok {
		c.mu.RUnlock()
		return fmt.Errorf("marketdata: refresh %s: %w", code, domain.ErrNotFound)
	}
	lastBarAt := ts.lastBarAt
	c.mu.RUnlock()

	open := c.session.OpenAt(c.now().In(c.session.Location()))
	expected := open
	if !lastBarAt.IsZero() {
		expected = lastBarAt.Add(domain.BarPeriod)
	}

	bars, err := c.broker.RealtimeBars(ctx, code, expected)
	if err != nil {
		c.mu.Lock()
		if cur, ok := c.stocks[code]; ok && cur == ts {
			ts.failures++
			ts.lastRefreshAt = c.now()
		}
		c.mu.Unlock()
		return fmt.Errorf("marketdata: refresh %s: %w: %v", code, domain.ErrTransientData, err)
	}
	bars = filterBars(c.session, open, bars)

	var healed []domain.Bar
	gapped := len(bars) > 0 && bars[0].Time.After(expected.Add(c.cfg.GapTolerance))
	if gapped {
		healed, err = c.broker.HistoricalBars(ctx, code, open, bars[0].Time)
		if err != nil {
			c.mu.Lock()
			if cur, ok := c.stocks[code]; ok && cur == ts {
				ts.failures++
				ts.lastRefreshAt = c.now()
			}
			c.mu.Unlock()
			return fmt.Errorf("marketdata: heal backfill %s: %w: %v", code, domain.ErrTransientData, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.stocks[code]
	if !ok || cur != ts {
		return fmt.Errorf("marketdata: refresh %s: evicted during fetch: %w", code, domain.ErrNotFound)
	}
	ts.lastRefreshAt = c.now()
	ts.failures = 0

	if len(bars) == 0 {
		// Nothing new yet; an incomplete record keeps waiting.
		return nil
	}

	if gapped {
		ts.backfill = filterBars(c.session, open, healed)
		ts.realtime = bars
		ts.effectiveSelectedAt = bars[0].Time
		ts.selfHeals++
		c.logger.Warn("bar gap healed",
			slog.String("code", code),
			slog.Time("expected", expected),
			slog.Time("got", bars[0].Time))
	} else {
		ts.realtime = mergeBars(c.session, open, ts.realtime, bars)
	}
	ts.lastBarAt = bars[len(bars)-1].Time
	if !ts.dataComplete {
		ts.dataComplete = true
		if !gapped {
			ts.effectiveSelectedAt = bars[0].Time
		}
	}
	return nil
}

// RefreshAllDue refreshes every tracked stock whose refresh interval has
// elapsed, paced by the batch plan for the current tracked count. Calling
// it again immediately refreshes nothing.
func (c *Cache) RefreshAllDue(ctx context.Context) error {
	now := c.now()

	c.mu.RLock()
	total := len(c.stocks)
	due := make([]string, 0, total)
	for code, ts := range c.stocks {
		if ts.lastRefreshAt.IsZero() || now.Sub(ts.lastRefreshAt) >= c.cfg.RefreshInterval {
			due = append(due, code)
		}
	}
	c.mu.RUnlock()

	if len(due) == 0 {
		return nil
	}
	sort.Strings(due)

	plan := c.batches.Plan(total)
	for i := 0; i < len(due); i += plan.BatchSize {
		end := i + plan.BatchSize
		if end > len(due) {
			end = len(due)
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, code := range due[i:end] {
			code := code
			g.Go(func() error {
				if err := c.RefreshOne(gctx, code); err != nil && !errors.Is(err, domain.ErrNotFound) {
					c.logger.Warn("refresh failed", slog.String("code", code), slog.Any("error", err))
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if plan.Delay > 0 && end < len(due) {
			select {
			case <-ctx.Done():
				return fmt.Errorf("marketdata: refresh all: %w", domain.ErrContextDone)
			case <-time.After(plan.Delay):
			}
		}
	}
	return nil
}

// GetMergedView returns the backfill and realtime bars merged into one
// session-filtered ascending slice. The slice is a copy.
func (c *Cache) GetMergedView(code string) ([]domain.Bar, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.stocks[code]
	if !ok {
		return nil, fmt.Errorf("marketdata: merged view %s: %w", code, domain.ErrNotFound)
	}
	return mergeBars(c.session, ts.selectedAt, ts.backfill, ts.realtime), nil
}

// Snapshot returns the bookkeeping snapshot for one tracked stock.
func (c *Cache) Snapshot(code string) (TrackedStock, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.stocks[code]
	if !ok {
		return TrackedStock{}, fmt.Errorf("marketdata: snapshot %s: %w", code, domain.ErrNotFound)
	}
	return ts.snapshot(), nil
}

// List returns snapshots for every tracked stock, ordered by code.
func (c *Cache) List() []TrackedStock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TrackedStock, 0, len(c.stocks))
	for _, ts := range c.stocks {
		out = append(out, ts.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Len returns the number of tracked stocks.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stocks)
}

// Evict removes a stock from the cache. Evicting an unknown code is a
// no-op.
func (c *Cache) Evict(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stocks, code)
}

// Session returns the trading session the cache filters against.
func (c *Cache) Session() Session {
	return c.session
}
