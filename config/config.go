package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"orbBot/internal/adapters/logger" // Import the logger package for LogLevel
	"orbBot/internal/strategy/orb"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading Parameters
	Symbols      []string
	Leverage     float64
	InitialFunds float64 // Backtest deposit per (symbol, day)
	UseBracket   bool    // Record backtest entries as bracket orders

	// Bracket offsets (backtest ledger)
	StopLossOffset   float64
	TakeProfitOffset float64

	// ORB Strategy Parameters
	PositionSize     int
	OpeningRangeBars int
	ConfirmationBars int
	RetestBuffer     decimal.Decimal
	EntryOffset      decimal.Decimal
	StopOffset       decimal.Decimal
	MaxBreakoutWait  time.Duration
	MaxRetestWait    time.Duration
	MarketOpen       time.Duration // Offset from midnight
	MarketLocation   *time.Location

	// Live polling
	PollInterval      time.Duration
	PollMaxIterations int
	OpeningRangeDelay time.Duration

	// Pre-trade risk limits (zero disables)
	RiskMaxPositionSize int
	RiskMaxNotional     float64
	RiskMaxDailyOrders  int

	// Storage
	DataDir     string
	DBPath      string
	JournalPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter

	// Connection Settings (Example for Binance client)
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
// Exchange credentials are not required here; see ValidateLive.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Trading Parameters
	cfg.Symbols = getEnvAsList("SYMBOLS", []string{"BTCUSDT"})
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}

	cfg.Leverage, err = getEnvAsFloatRequired("LEVERAGE", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.InitialFunds, err = getEnvAsFloatRequired("INITIAL_FUNDS", 100000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_FUNDS: %v", err))
	} else if cfg.InitialFunds < 0 {
		errs = append(errs, "INITIAL_FUNDS cannot be negative")
	}
	cfg.UseBracket = getEnvAsBool("USE_BRACKET", false)

	cfg.StopLossOffset, err = getEnvAsFloatRequired("STOP_LOSS_OFFSET", 1.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_OFFSET: %v", err))
	} else if cfg.StopLossOffset <= 0 {
		errs = append(errs, "STOP_LOSS_OFFSET must be positive")
	}
	cfg.TakeProfitOffset, err = getEnvAsFloatRequired("TAKE_PROFIT_OFFSET", 2.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_OFFSET: %v", err))
	} else if cfg.TakeProfitOffset <= 0 {
		errs = append(errs, "TAKE_PROFIT_OFFSET must be positive")
	}

	// ORB Strategy Parameters
	defaults := orb.DefaultConfig()
	cfg.PositionSize, err = getEnvAsIntRequired("POSITION_SIZE", defaults.PositionSize)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POSITION_SIZE: %v", err))
	}
	cfg.OpeningRangeBars = getEnvAsInt("OPENING_RANGE_BARS", defaults.OpeningRangeBars)
	cfg.ConfirmationBars = getEnvAsInt("CONFIRMATION_BARS", defaults.ConfirmationBars)

	for _, d := range []struct {
		key string
		dst *decimal.Decimal
		def decimal.Decimal
	}{
		{"RETEST_BUFFER", &cfg.RetestBuffer, defaults.RetestBuffer},
		{"ENTRY_OFFSET", &cfg.EntryOffset, defaults.EntryOffset},
		{"STOP_OFFSET", &cfg.StopOffset, defaults.StopOffset},
	} {
		*d.dst, err = getEnvAsDecimalRequired(d.key, d.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", d.key, err))
		}
	}

	cfg.MaxBreakoutWait = getEnvAsDuration("MAX_BREAKOUT_WAIT_MINUTES", defaults.MaxBreakoutWait, time.Minute)
	cfg.MaxRetestWait = getEnvAsDuration("MAX_RETEST_WAIT_MINUTES", defaults.MaxRetestWait, time.Minute)

	cfg.MarketOpen, err = parseClock(getEnv("MARKET_OPEN", "09:30"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARKET_OPEN: %v", err))
	}
	tz := getEnv("MARKET_TIMEZONE", "America/New_York")
	cfg.MarketLocation, err = time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARKET_TIMEZONE %q: %v", tz, err))
	}

	// Validate strategy parameters through the strategy itself
	if len(errs) == 0 {
		if err := cfg.ORBConfig().Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Live polling
	cfg.PollInterval = getEnvAsDuration("POLL_INTERVAL_SECONDS", 60*time.Second, time.Second)
	if cfg.PollInterval <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollMaxIterations = getEnvAsInt("POLL_MAX_ITERATIONS", 390) // One US equity session of 1-minute bars
	if cfg.PollMaxIterations < 0 {
		errs = append(errs, "POLL_MAX_ITERATIONS cannot be negative")
	}
	cfg.OpeningRangeDelay = getEnvAsDuration("OPENING_RANGE_DELAY_SECONDS", 5*time.Minute, time.Second)
	if cfg.OpeningRangeDelay < 0 {
		errs = append(errs, "OPENING_RANGE_DELAY_SECONDS cannot be negative")
	}

	// Risk limits
	cfg.RiskMaxPositionSize = getEnvAsInt("RISK_MAX_POSITION_SIZE", 0)
	cfg.RiskMaxNotional, err = getEnvAsFloatRequired("RISK_MAX_NOTIONAL", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_MAX_NOTIONAL: %v", err))
	}
	cfg.RiskMaxDailyOrders = getEnvAsInt("RISK_MAX_DAILY_ORDERS", 0)
	if cfg.RiskMaxPositionSize < 0 || cfg.RiskMaxNotional < 0 || cfg.RiskMaxDailyOrders < 0 {
		errs = append(errs, "risk limits cannot be negative")
	}

	// Storage
	cfg.DataDir = getEnv("DATA_DIR", "./data/bars")
	cfg.DBPath = getEnv("DB_PATH", "./data/backtests.db")
	cfg.JournalPath = getEnv("JOURNAL_PATH", "./data/journal")

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// ValidateLive checks the settings only the live bot needs.
func (c *Config) ValidateLive() error {
	var errs []string
	if c.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if c.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}
	if c.PollMaxIterations == 0 {
		errs = append(errs, "POLL_MAX_ITERATIONS must be positive for live trading")
	}
	if len(errs) > 0 {
		return fmt.Errorf("live configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ORBConfig builds the state machine configuration.
func (c *Config) ORBConfig() orb.Config {
	return orb.Config{
		OpeningRangeBars: c.OpeningRangeBars,
		ConfirmationBars: c.ConfirmationBars,
		RetestBuffer:     c.RetestBuffer,
		EntryOffset:      c.EntryOffset,
		StopOffset:       c.StopOffset,
		PositionSize:     c.PositionSize,
		MaxBreakoutWait:  c.MaxBreakoutWait,
		MaxRetestWait:    c.MaxRetestWait,
		MarketOpen:       c.MarketOpen,
		Location:         c.MarketLocation,
	}
}

// parseClock parses HH:MM into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// For non-required fields, default is acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimalRequired(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(valueStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration reads an integer count of unit.
func getEnvAsDuration(key string, defaultValue, unit time.Duration) time.Duration {
	n := getEnvAsInt(key, -1)
	if n < 0 && os.Getenv(key) == "" {
		return defaultValue
	}
	return time.Duration(n) * unit
}

// getEnvAsList reads a comma-separated list, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
