package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withCreds fills the fields Defaults leaves empty so Validate passes.
func withCreds(cfg Config) Config {
	cfg.Broker.AppKey = "key"
	cfg.Broker.AppSecret = "secret"
	cfg.Broker.AccountNo = "12345678-01"
	return cfg
}

func TestDefaultsValidateWithCredentials(t *testing.T) {
	cfg := withCreds(Defaults())
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	cfg.Session.Open = "9am"
	cfg.MarketData.DiscontinuityLimit = 1.5
	cfg.Orders.BuyTimeout = duration{0}
	cfg.Trading.BudgetPerStock = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "log_level")
	assert.Contains(t, msg, "app_key and app_secret")
	assert.Contains(t, msg, `open "9am"`)
	assert.Contains(t, msg, "discontinuity_limit")
	assert.Contains(t, msg, "buy_timeout")
	assert.Contains(t, msg, "budget_per_stock")
}

func TestValidatePostgresOnlyWhenEnabled(t *testing.T) {
	cfg := withCreds(Defaults())
	cfg.Postgres.Host = ""
	assert.NoError(t, cfg.Validate(), "disabled postgres is not validated")

	cfg.Postgres.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host")

	// A DSN substitutes for host/port/database.
	cfg.Postgres.DSN = "postgres://u:p@db:5432/robotrader"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[broker]
app_key = "k"
app_secret = "s"
account_no = "12345678-01"

[market_data]
refresh_interval = "45s"
max_tracked = 40

[trading]
watchlist = ["005930:samsung", "000660"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.MarketData.RefreshInterval.Duration)
	assert.Equal(t, 40, cfg.MarketData.MaxTracked)
	assert.Equal(t, []string{"005930:samsung", "000660"}, cfg.Trading.Watchlist)

	// Untouched sections keep their defaults.
	assert.Equal(t, "09:00", cfg.Session.Open)
	assert.Equal(t, 300*time.Second, cfg.Orders.BuyTimeout.Duration)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[market_data]
refresh_interval = "soon"
`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROBOTRADER_BROKER_APP_KEY", "env-key")
	t.Setenv("ROBOTRADER_BROKER_PAPER", "true")
	t.Setenv("ROBOTRADER_ORDERS_BUY_TIMEOUT", "240s")
	t.Setenv("ROBOTRADER_TRADING_BUDGET_PER_STOCK", "500000")
	t.Setenv("ROBOTRADER_NOTIFY_EVENTS", "order_filled, fatal")
	t.Setenv("ROBOTRADER_REDIS_TLS_ENABLED", "true")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "env-key", cfg.Broker.AppKey)
	assert.True(t, cfg.Broker.Paper)
	assert.Equal(t, 240*time.Second, cfg.Orders.BuyTimeout.Duration)
	assert.Equal(t, 500000.0, cfg.Trading.BudgetPerStock)
	assert.Equal(t, []string{"order_filled", "fatal"}, cfg.Notify.Events)
	assert.True(t, cfg.Redis.TLSEnabled)
}

func TestEnvOverrideEmptyIsIgnored(t *testing.T) {
	t.Setenv("ROBOTRADER_BROKER_BASE_URL", "")
	cfg := Defaults()
	applyEnvOverrides(&cfg)
	assert.Equal(t, Defaults().Broker.BaseURL, cfg.Broker.BaseURL)
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("3m")))
	assert.Equal(t, 3*time.Minute, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "3m0s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("never")))
}

func TestRedactedConfig(t *testing.T) {
	cfg := withCreds(Defaults())
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Broker.AppKey)
	assert.Equal(t, "***", red.Broker.AccountNo)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Empty secrets stay empty, the original is untouched.
	assert.Empty(t, red.Redis.Password)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
