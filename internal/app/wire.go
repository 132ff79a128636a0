package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tgparkk/RoboTrader-sub001/internal/broker/kis"
	"github.com/tgparkk/RoboTrader-sub001/internal/cache/redis"
	"github.com/tgparkk/RoboTrader-sub001/internal/config"
	"github.com/tgparkk/RoboTrader-sub001/internal/decision"
	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
	"github.com/tgparkk/RoboTrader-sub001/internal/marketdata"
	"github.com/tgparkk/RoboTrader-sub001/internal/notify"
	"github.com/tgparkk/RoboTrader-sub001/internal/orders"
	"github.com/tgparkk/RoboTrader-sub001/internal/store/postgres"
	"github.com/tgparkk/RoboTrader-sub001/internal/trading"
)

// Dependencies bundles everything the trading loops need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Session   marketdata.Session
	Broker    domain.Broker
	Bars      *marketdata.Cache
	Validator *marketdata.Validator
	Ledger    *orders.Ledger
	Orders    *orders.Manager
	Machine   *trading.Machine
	Engine    decision.Engine
	Notifier  *notify.Notifier

	// Optional, nil when the backing service is disabled.
	Quotes       domain.QuoteCache
	Trades       domain.TradeStore
	Audit        domain.AuditStore
	OrderArchive domain.OrderStore
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	session, err := marketdata.NewSession(cfg.Session.Open, cfg.Session.Close, cfg.Session.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: session: %w", err)
	}

	deps := &Dependencies{Session: session}

	// --- Redis (optional: quote cache and shared API rate limit) ---
	var limiter domain.RateLimiter
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Quotes = redis.NewQuoteCache(redisClient)
		limiter = redis.NewRateLimiter(redisClient, cfg.Broker.RateLimit,
			time.Duration(cfg.Broker.RateWindowMs)*time.Millisecond)

		// One bot per account. The TTL outlives a trading day so a crashed
		// instance cannot be shadowed until the lock expires or is released.
		lock := redis.NewInstanceLock(redisClient)
		release, err := lock.Acquire(ctx, cfg.Broker.AccountNo, 24*time.Hour)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: instance lock: %w", err)
		}
		closers = append(closers, release)
	}

	// --- PostgreSQL (optional: trade records and state audit) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.OrderArchive = postgres.NewOrderStore(pool)
	}

	// --- Broker ---
	deps.Broker = kis.NewClient(kis.Config{
		BaseURL:     cfg.Broker.BaseURL,
		AppKey:      cfg.Broker.AppKey,
		AppSecret:   cfg.Broker.AppSecret,
		AccountNo:   cfg.Broker.AccountNo,
		AccountProd: cfg.Broker.AccountProd,
		Paper:       cfg.Broker.Paper,
		MaxInFlight: int64(cfg.Broker.MaxInFlight),
		RateLimit:   cfg.Broker.RateLimit,
		RateWindow:  time.Duration(cfg.Broker.RateWindowMs) * time.Millisecond,
		Location:    session.Location(),
	}, limiter, logger)

	// --- Market data ---
	deps.Bars = marketdata.NewCache(deps.Broker, session, marketdata.NewBatchScheduler(nil),
		marketdata.CacheConfig{
			MaxTracked:      cfg.MarketData.MaxTracked,
			EarlyGrace:      cfg.MarketData.EarlyGrace.Duration,
			RefreshInterval: cfg.MarketData.RefreshInterval.Duration,
		}, logger)
	deps.Validator = marketdata.NewValidator(session, marketdata.ValidatorConfig{
		MinBars:            cfg.MarketData.MinBars,
		MaxGapBars:         cfg.MarketData.MaxGapBars,
		DiscontinuityLimit: cfg.MarketData.DiscontinuityLimit,
		StaleAfter:         cfg.MarketData.StaleAfter.Duration,
		OpenGrace:          cfg.MarketData.EarlyGrace.Duration,
	})

	// --- Orders ---
	deps.Ledger = orders.NewLedger()
	deps.Orders = orders.NewManager(deps.Broker, deps.Ledger, session, orders.ManagerConfig{
		MonitorInterval:      cfg.Orders.MonitorInterval.Duration,
		BuyTimeout:           cfg.Orders.BuyTimeout.Duration,
		SellTimeout:          cfg.Orders.SellTimeout.Duration,
		BuyBarExpiryPeriods:  cfg.Orders.BuyBarExpiryPeriods,
		PriceAdjustThreshold: cfg.Orders.PriceAdjustThreshold,
		PriceAdjustMax:       cfg.Orders.PriceAdjustMax,
	}, logger)
	if deps.OrderArchive != nil {
		deps.Orders.SetArchive(deps.OrderArchive)
	}

	// --- Trading state ---
	deps.Machine = trading.NewMachine(deps.Audit, logger)

	// --- Decision engine ---
	engineCfg := decision.Config{
		LookbackBars: cfg.Decision.LookbackBars,
		MomentumPct:  cfg.Decision.MomentumPct,
		TakeProfit:   cfg.Decision.TakeProfit,
		StopLoss:     cfg.Decision.StopLoss,
		Budget:       cfg.Trading.BudgetPerStock,
	}
	switch cfg.Decision.Engine {
	case "", "momentum":
		deps.Engine = decision.NewMomentum(engineCfg, logger)
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown decision engine %q", cfg.Decision.Engine)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
