// Package config defines the top-level configuration for the trading bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ROBOTRADER_* environment variables.
type Config struct {
	Broker     BrokerConfig     `toml:"broker"`
	Session    SessionConfig    `toml:"session"`
	MarketData MarketDataConfig `toml:"market_data"`
	Orders     OrdersConfig     `toml:"orders"`
	Trading    TradingConfig    `toml:"trading"`
	Decision   DecisionConfig   `toml:"decision"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// BrokerConfig holds KIS open-API credentials and endpoints.
type BrokerConfig struct {
	BaseURL      string `toml:"base_url"`
	AppKey       string `toml:"app_key"`
	AppSecret    string `toml:"app_secret"`
	AccountNo    string `toml:"account_no"`
	AccountProd  string `toml:"account_prod"`
	Paper        bool   `toml:"paper"`
	MaxInFlight  int    `toml:"max_in_flight"`
	RateLimit    int    `toml:"rate_limit"`
	RateWindowMs int    `toml:"rate_window_ms"`
}

// SessionConfig describes the trading session in exchange-local time.
type SessionConfig struct {
	Open     string `toml:"open"`  // "09:00"
	Close    string `toml:"close"` // "15:30"
	Timezone string `toml:"timezone"`
}

// MarketDataConfig holds bar cache and data quality parameters.
type MarketDataConfig struct {
	MaxTracked         int      `toml:"max_tracked"`
	EarlyGrace         duration `toml:"early_grace"`
	RefreshInterval    duration `toml:"refresh_interval"`
	MinBars            int      `toml:"min_bars"`
	StaleAfter         duration `toml:"stale_after"`
	MaxGapBars         int      `toml:"max_gap_bars"`
	DiscontinuityLimit float64  `toml:"discontinuity_limit"` // fraction, 0.30 = 30%
}

// OrdersConfig holds order lifecycle parameters.
type OrdersConfig struct {
	MonitorInterval      duration `toml:"monitor_interval"`
	BuyTimeout           duration `toml:"buy_timeout"`
	SellTimeout          duration `toml:"sell_timeout"`
	BuyBarExpiryPeriods  int      `toml:"buy_bar_expiry_periods"`
	PriceAdjustThreshold float64  `toml:"price_adjust_threshold"` // fraction, 0.005 = 0.5%
	PriceAdjustMax       int      `toml:"price_adjust_max"`
}

// TradingConfig holds episode and re-trade parameters.
type TradingConfig struct {
	// Watchlist entries are "code" or "code:name"; each is selected at
	// startup. Further selections arrive through the Trader API.
	Watchlist         []string `toml:"watchlist"`
	ReTradeCooldown   duration `toml:"retrade_cooldown"`
	MaxReTradesPerDay int      `toml:"max_retrades_per_day"`
	BudgetPerStock    float64  `toml:"budget_per_stock"`
}

// DecisionConfig holds decision engine parameters.
type DecisionConfig struct {
	Engine       string   `toml:"engine"`
	Interval     duration `toml:"interval"`
	LookbackBars int      `toml:"lookback_bars"`
	MomentumPct  float64  `toml:"momentum_pct"`
	TakeProfit   float64  `toml:"take_profit"`
	StopLoss     float64  `toml:"stop_loss"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			BaseURL:      "https://openapi.koreainvestment.com:9443",
			AccountProd:  "01",
			Paper:        false,
			MaxInFlight:  5,
			RateLimit:    15,
			RateWindowMs: 1000,
		},
		Session: SessionConfig{
			Open:     "09:00",
			Close:    "15:30",
			Timezone: "Asia/Seoul",
		},
		MarketData: MarketDataConfig{
			MaxTracked:         80,
			EarlyGrace:         duration{10 * time.Minute},
			RefreshInterval:    duration{30 * time.Second},
			MinBars:            5,
			StaleAfter:         duration{5 * time.Minute},
			MaxGapBars:         2,
			DiscontinuityLimit: 0.30,
		},
		Orders: OrdersConfig{
			MonitorInterval:      duration{10 * time.Second},
			BuyTimeout:           duration{300 * time.Second},
			SellTimeout:          duration{180 * time.Second},
			BuyBarExpiryPeriods:  5,
			PriceAdjustThreshold: 0.005,
			PriceAdjustMax:       3,
		},
		Trading: TradingConfig{
			ReTradeCooldown:   duration{30 * time.Minute},
			MaxReTradesPerDay: 2,
			BudgetPerStock:    1_000_000,
		},
		Decision: DecisionConfig{
			Engine:       "momentum",
			Interval:     duration{30 * time.Second},
			LookbackBars: 20,
			MomentumPct:  0.01,
			TakeProfit:   0.02,
			StopLoss:     0.015,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "robotrader",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Notify: NotifyConfig{
			Events: []string{"order_filled", "order_ambiguous", "trade_completed", "fatal"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Broker
	if c.Broker.BaseURL == "" {
		errs = append(errs, "broker: base_url must not be empty")
	}
	if c.Broker.AppKey == "" || c.Broker.AppSecret == "" {
		errs = append(errs, "broker: app_key and app_secret are required")
	}
	if c.Broker.AccountNo == "" {
		errs = append(errs, "broker: account_no is required")
	}
	if c.Broker.MaxInFlight < 1 {
		errs = append(errs, "broker: max_in_flight must be >= 1")
	}
	if c.Broker.RateLimit < 1 {
		errs = append(errs, "broker: rate_limit must be >= 1")
	}

	// Session
	if _, err := time.Parse("15:04", c.Session.Open); err != nil {
		errs = append(errs, fmt.Sprintf("session: open %q must be HH:MM", c.Session.Open))
	}
	if _, err := time.Parse("15:04", c.Session.Close); err != nil {
		errs = append(errs, fmt.Sprintf("session: close %q must be HH:MM", c.Session.Close))
	}
	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("session: unknown timezone %q", c.Session.Timezone))
	}

	// Market data
	if c.MarketData.MaxTracked < 1 {
		errs = append(errs, "market_data: max_tracked must be >= 1")
	}
	if c.MarketData.RefreshInterval.Duration <= 0 {
		errs = append(errs, "market_data: refresh_interval must be > 0")
	}
	if c.MarketData.MinBars < 1 {
		errs = append(errs, "market_data: min_bars must be >= 1")
	}
	if c.MarketData.DiscontinuityLimit <= 0 || c.MarketData.DiscontinuityLimit >= 1 {
		errs = append(errs, "market_data: discontinuity_limit must be in (0, 1)")
	}

	// Orders
	if c.Orders.MonitorInterval.Duration <= 0 {
		errs = append(errs, "orders: monitor_interval must be > 0")
	}
	if c.Orders.BuyTimeout.Duration <= 0 || c.Orders.SellTimeout.Duration <= 0 {
		errs = append(errs, "orders: buy_timeout and sell_timeout must be > 0")
	}
	if c.Orders.BuyBarExpiryPeriods < 1 {
		errs = append(errs, "orders: buy_bar_expiry_periods must be >= 1")
	}
	if c.Orders.PriceAdjustThreshold <= 0 {
		errs = append(errs, "orders: price_adjust_threshold must be > 0")
	}
	if c.Orders.PriceAdjustMax < 0 {
		errs = append(errs, "orders: price_adjust_max must be >= 0")
	}

	// Trading
	if c.Trading.ReTradeCooldown.Duration < 0 {
		errs = append(errs, "trading: retrade_cooldown must be >= 0")
	}
	if c.Trading.BudgetPerStock <= 0 {
		errs = append(errs, "trading: budget_per_stock must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
