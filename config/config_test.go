package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbBot/internal/adapters/logger"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, cfg.Symbols)
	assert.Equal(t, 1.0, cfg.Leverage)
	assert.Equal(t, 100000.0, cfg.InitialFunds)
	assert.Equal(t, 100, cfg.PositionSize)
	assert.Equal(t, 3, cfg.OpeningRangeBars)
	assert.Equal(t, "0.02", cfg.RetestBuffer.String())
	assert.Equal(t, 90*time.Minute, cfg.MaxBreakoutWait)
	assert.Equal(t, 9*time.Hour+30*time.Minute, cfg.MarketOpen)
	assert.Equal(t, "America/New_York", cfg.MarketLocation.String())
	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.IsTestnet)
	assert.Zero(t, cfg.RiskMaxDailyOrders)

	assert.Error(t, cfg.ValidateLive(), "credentials are only required live")
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("SYMBOLS", " aapl, msft ,,tsla")
	t.Setenv("LEVERAGE", "2.5")
	t.Setenv("RETEST_BUFFER", "0.05")
	t.Setenv("MAX_RETEST_WAIT_MINUTES", "0")
	t.Setenv("MARKET_OPEN", "14:30")
	t.Setenv("MARKET_TIMEZONE", "UTC")
	t.Setenv("POLL_INTERVAL_SECONDS", "15")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, cfg.Symbols)
	assert.Equal(t, 2.5, cfg.Leverage)
	assert.Zero(t, cfg.MaxRetestWait)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
	assert.NoError(t, cfg.ValidateLive())

	orbCfg := cfg.ORBConfig()
	assert.Equal(t, "0.05", orbCfg.RetestBuffer.String())
	assert.Equal(t, 14*time.Hour+30*time.Minute, orbCfg.MarketOpen)
	assert.Equal(t, time.UTC, orbCfg.Location)
	assert.NoError(t, orbCfg.Validate())
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"leverage", "LEVERAGE", "0", "LEVERAGE must be positive"},
		{"leverage format", "LEVERAGE", "x", "invalid LEVERAGE"},
		{"funds", "INITIAL_FUNDS", "-1", "INITIAL_FUNDS cannot be negative"},
		{"decimal", "ENTRY_OFFSET", "one cent", "invalid ENTRY_OFFSET"},
		{"clock", "MARKET_OPEN", "9.30", "invalid MARKET_OPEN"},
		{"timezone", "MARKET_TIMEZONE", "Mars/Olympus", "invalid MARKET_TIMEZONE"},
		{"position size", "POSITION_SIZE", "0", "position size must be positive"},
		{"poll interval", "POLL_INTERVAL_SECONDS", "0", "POLL_INTERVAL_SECONDS must be positive"},
		{"symbols", "SYMBOLS", " , ", "SYMBOLS must list at least one symbol"},
		{"risk limits", "RISK_MAX_NOTIONAL", "-5", "risk limits cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseClock(t *testing.T) {
	d, err := parseClock(" 09:30 ")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute, d)

	_, err = parseClock("25:00")
	assert.Error(t, err)
}
