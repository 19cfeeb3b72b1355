package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"time"

	"orbBot/config"
	"orbBot/internal/adapters/binanceclient"
	"orbBot/internal/adapters/journal"
	"orbBot/internal/adapters/logger"
	"orbBot/internal/app"
	"orbBot/internal/ports"
	"orbBot/internal/risk"
	"orbBot/internal/strategy/orb"
)

func main() {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if err := cfg.ValidateLive(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", ports.Fields{"level": cfg.LogLevel.String()})

	// 3. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:      cfg.APIKey,
		SecretKey:   cfg.SecretKey,
		UseTestnet:  cfg.IsTestnet,
		Logger:      appLogger,
		Location:    cfg.MarketLocation,
		SessionOpen: cfg.MarketOpen,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	if err := binanceClient.SetServerTime(ctx); err != nil {
		log.Fatalf("FATAL: Failed to synchronize server time: %v", err)
	}
	if err := pingWithRetry(ctx, binanceClient, cfg, appLogger); err != nil {
		log.Fatalf("FATAL: Binance API unreachable: %v", err)
	}
	for _, symbol := range cfg.Symbols {
		if err := binanceClient.SetLeverage(ctx, symbol, max(1, int(cfg.Leverage))); err != nil {
			// Continue with the account's current leverage
			appLogger.Warn(ctx, "Continuing with current leverage", ports.Fields{"symbol": symbol})
		}
	}
	appLogger.Info(ctx, "Binance client initialized")

	// 4. Initialize Journal
	sink, err := journal.NewFileSink(cfg.JournalPath)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize journal")
		log.Fatalf("FATAL: Failed to initialize journal: %v", err)
	}

	// 5. Initialize Risk Guard and Strategy
	guard, err := risk.NewGuard(risk.Config{
		MaxPositionSize: cfg.RiskMaxPositionSize,
		MaxNotional:     cfg.RiskMaxNotional,
		MaxDailyOrders:  cfg.RiskMaxDailyOrders,
		LongOnly:        true,
		Location:        cfg.MarketLocation,
	}, binanceClient, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk guard: %v", err)
	}
	machine, err := orb.NewMachine(cfg.ORBConfig(), guard, sink, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize ORB state machine")
		log.Fatalf("FATAL: Failed to initialize ORB state machine: %v", err)
	}

	// 6. Initialize Session Supervisor
	supervisor, err := app.NewSupervisor(app.SessionConfig{
		Symbols:           cfg.Symbols,
		OpeningRangeDelay: cfg.OpeningRangeDelay,
		Poll: app.PollPolicy{
			Interval:      cfg.PollInterval,
			MaxIterations: cfg.PollMaxIterations,
		},
	}, machine, binanceClient, app.NewRegistry(cfg.MarketLocation), appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize session supervisor")
		log.Fatalf("FATAL: Failed to initialize session supervisor: %v", err)
	}

	// 7. Start the Session
	if err := supervisor.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Session supervisor exited with error")
		log.Fatalf("FATAL: Session supervisor exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}

// pingWithRetry checks connectivity, waiting ReconnectDelay between attempts.
func pingWithRetry(ctx context.Context, client *binanceclient.Client, cfg *config.Config, appLogger ports.Logger) error {
	var err error
	for attempt := 0; attempt <= cfg.MaxReconnectAttempts; attempt++ {
		if err = client.Ping(ctx); err == nil {
			return nil
		}
		appLogger.Warn(ctx, "Ping failed, retrying", ports.Fields{
			"attempt": attempt + 1,
			"delay":   cfg.ReconnectDelay.String(),
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.ReconnectDelay):
		}
	}
	return fmt.Errorf("no response after %d attempts: %w", cfg.MaxReconnectAttempts+1, err)
}
