// Package app provides the top-level application lifecycle for the
// trading bot. It wires the broker, caches, stores, managers and loops,
// starts the goroutines, and tears everything down on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tgparkk/RoboTrader-sub001/internal/config"
)

// App is the root application object. It owns the configuration, logger,
// and a list of cleanup functions that are called in reverse order on
// shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// configured watchlist, starts the trading loops, and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("paper", a.cfg.Broker.Paper),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	trader := NewTrader(deps,
		a.cfg.Trading.ReTradeCooldown.Duration,
		a.cfg.Trading.MaxReTradesPerDay,
		a.logger,
	)
	a.closers = append(a.closers, trader.Close)

	for _, entry := range a.cfg.Trading.Watchlist {
		code, name := splitWatchEntry(entry)
		if code == "" {
			continue
		}
		if err := trader.Select(ctx, code, name); err != nil {
			a.logger.WarnContext(ctx, "watchlist select failed",
				slog.String("code", code),
				slog.String("error", err.Error()),
			)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	trader.Start(ctx)
	g.Go(func() error { return deps.Orders.Run(ctx) })
	g.Go(func() error { return trader.RefreshLoop(ctx, a.cfg.MarketData.RefreshInterval.Duration) })
	g.Go(func() error { return trader.EvaluateLoop(ctx, a.cfg.Decision.Interval.Duration) })
	g.Go(func() error { return trader.SummaryLoop(ctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is
// safe to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// splitWatchEntry parses a watchlist entry of the form "code" or
// "code:name".
func splitWatchEntry(entry string) (code, name string) {
	code, name, found := strings.Cut(strings.TrimSpace(entry), ":")
	if !found {
		name = code
	}
	return code, name
}
