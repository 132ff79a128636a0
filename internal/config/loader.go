package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ROBOTRADER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ROBOTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.BaseURL, "ROBOTRADER_BROKER_BASE_URL")
	setStr(&cfg.Broker.AppKey, "ROBOTRADER_BROKER_APP_KEY")
	setStr(&cfg.Broker.AppSecret, "ROBOTRADER_BROKER_APP_SECRET")
	setStr(&cfg.Broker.AccountNo, "ROBOTRADER_BROKER_ACCOUNT_NO")
	setStr(&cfg.Broker.AccountProd, "ROBOTRADER_BROKER_ACCOUNT_PROD")
	setBool(&cfg.Broker.Paper, "ROBOTRADER_BROKER_PAPER")
	setInt(&cfg.Broker.MaxInFlight, "ROBOTRADER_BROKER_MAX_IN_FLIGHT")
	setInt(&cfg.Broker.RateLimit, "ROBOTRADER_BROKER_RATE_LIMIT")
	setInt(&cfg.Broker.RateWindowMs, "ROBOTRADER_BROKER_RATE_WINDOW_MS")

	// ── Session ──
	setStr(&cfg.Session.Open, "ROBOTRADER_SESSION_OPEN")
	setStr(&cfg.Session.Close, "ROBOTRADER_SESSION_CLOSE")
	setStr(&cfg.Session.Timezone, "ROBOTRADER_SESSION_TIMEZONE")

	// ── Market data ──
	setInt(&cfg.MarketData.MaxTracked, "ROBOTRADER_MARKET_DATA_MAX_TRACKED")
	setDuration(&cfg.MarketData.EarlyGrace, "ROBOTRADER_MARKET_DATA_EARLY_GRACE")
	setDuration(&cfg.MarketData.RefreshInterval, "ROBOTRADER_MARKET_DATA_REFRESH_INTERVAL")
	setInt(&cfg.MarketData.MinBars, "ROBOTRADER_MARKET_DATA_MIN_BARS")
	setDuration(&cfg.MarketData.StaleAfter, "ROBOTRADER_MARKET_DATA_STALE_AFTER")
	setInt(&cfg.MarketData.MaxGapBars, "ROBOTRADER_MARKET_DATA_MAX_GAP_BARS")
	setFloat64(&cfg.MarketData.DiscontinuityLimit, "ROBOTRADER_MARKET_DATA_DISCONTINUITY_LIMIT")

	// ── Orders ──
	setDuration(&cfg.Orders.MonitorInterval, "ROBOTRADER_ORDERS_MONITOR_INTERVAL")
	setDuration(&cfg.Orders.BuyTimeout, "ROBOTRADER_ORDERS_BUY_TIMEOUT")
	setDuration(&cfg.Orders.SellTimeout, "ROBOTRADER_ORDERS_SELL_TIMEOUT")
	setInt(&cfg.Orders.BuyBarExpiryPeriods, "ROBOTRADER_ORDERS_BUY_BAR_EXPIRY_PERIODS")
	setFloat64(&cfg.Orders.PriceAdjustThreshold, "ROBOTRADER_ORDERS_PRICE_ADJUST_THRESHOLD")
	setInt(&cfg.Orders.PriceAdjustMax, "ROBOTRADER_ORDERS_PRICE_ADJUST_MAX")

	// ── Trading ──
	setDuration(&cfg.Trading.ReTradeCooldown, "ROBOTRADER_TRADING_RETRADE_COOLDOWN")
	setInt(&cfg.Trading.MaxReTradesPerDay, "ROBOTRADER_TRADING_MAX_RETRADES_PER_DAY")
	setFloat64(&cfg.Trading.BudgetPerStock, "ROBOTRADER_TRADING_BUDGET_PER_STOCK")

	// ── Decision ──
	setStr(&cfg.Decision.Engine, "ROBOTRADER_DECISION_ENGINE")
	setDuration(&cfg.Decision.Interval, "ROBOTRADER_DECISION_INTERVAL")
	setInt(&cfg.Decision.LookbackBars, "ROBOTRADER_DECISION_LOOKBACK_BARS")
	setFloat64(&cfg.Decision.MomentumPct, "ROBOTRADER_DECISION_MOMENTUM_PCT")
	setFloat64(&cfg.Decision.TakeProfit, "ROBOTRADER_DECISION_TAKE_PROFIT")
	setFloat64(&cfg.Decision.StopLoss, "ROBOTRADER_DECISION_STOP_LOSS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ROBOTRADER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ROBOTRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ROBOTRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ROBOTRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ROBOTRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ROBOTRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ROBOTRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ROBOTRADER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ROBOTRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ROBOTRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ROBOTRADER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ROBOTRADER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ROBOTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ROBOTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ROBOTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ROBOTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ROBOTRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ROBOTRADER_REDIS_TLS_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ROBOTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ROBOTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ROBOTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ROBOTRADER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "ROBOTRADER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
