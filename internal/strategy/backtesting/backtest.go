package backtesting

import (
	"context"
	"fmt"

	"orbBot/internal/domain"
	"orbBot/internal/ledger"
	"orbBot/internal/ports"
	"orbBot/internal/series"
)

// Strategy is driven by the replay engine.
type Strategy interface {
	// StartStrategy is called once with a fresh ledger, before the first step.
	// It may consume data of its own synchronously.
	StartStrategy(ctx context.Context, tc *ledger.TradingContext) error
	// OnTick is called for every replayed bar after the ledger's price has been updated.
	OnTick(ctx context.Context, tc *ledger.TradingContext, bar *domain.Bar) error
}

// BacktestConfig holds configuration for a replay.
type BacktestConfig struct {
	Symbol           string
	InitialFunds     float64
	Leverage         float64
	StopLossOffset   float64
	TakeProfitOffset float64
}

// StopReason tells why a replay terminated.
type StopReason string

const (
	StopExhausted StopReason = "EXHAUSTED"
	StopInsolvent StopReason = "INSOLVENT"
)

// Engine replays a price series through a strategy and a ledger.
type Engine struct {
	cfg      BacktestConfig
	strategy Strategy
	prices   *series.Series[domain.Bar]
	logger   ports.Logger

	tc    *ledger.TradingContext
	it    *series.Iterator[domain.Bar]
	steps int
}

// NewEngine creates an engine over prices. The series is replayed in
// ascending time order.
func NewEngine(cfg BacktestConfig, strategy Strategy, prices *series.Series[domain.Bar], logger ports.Logger) (*Engine, error) {
	if strategy == nil || prices == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for backtest engine")
	}
	return &Engine{cfg: cfg, strategy: strategy, prices: prices.ToAscending(), logger: logger}, nil
}

// Ledger returns the ledger of the current or last run.
func (e *Engine) Ledger() *ledger.TradingContext { return e.tc }

// Steps returns how many price entries the last run consumed.
func (e *Engine) Steps() int { return e.steps }

// Run replays the whole series. It terminates when the series is exhausted
// or available funds turn negative; both paths force-close open orders and
// produce the result.
func (e *Engine) Run(ctx context.Context) (*domain.BacktestResult, error) {
	if err := e.initialize(ctx); err != nil {
		return nil, err
	}

	var reason StopReason
	for reason == "" {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest %s canceled: %w: %w", e.cfg.Symbol, ports.ErrContextCanceled, err)
		}
		var err error
		reason, err = e.step(ctx)
		if err != nil {
			return nil, err
		}
	}
	return e.finish(ctx, reason), nil
}

func (e *Engine) initialize(ctx context.Context) error {
	tc, err := ledger.New(ledger.Config{
		Symbol:           e.cfg.Symbol,
		InitialFunds:     e.cfg.InitialFunds,
		Leverage:         e.cfg.Leverage,
		StopLossOffset:   e.cfg.StopLossOffset,
		TakeProfitOffset: e.cfg.TakeProfitOffset,
	})
	if err != nil {
		return fmt.Errorf("create ledger for %s: %w", e.cfg.Symbol, err)
	}
	e.tc = tc
	e.it = e.prices.Iterator()
	e.steps = 0

	e.logger.Debug(ctx, "Starting strategy", ports.Fields{"symbol": e.cfg.Symbol, "bars": e.prices.Len()})
	if err := e.strategy.StartStrategy(ctx, tc); err != nil {
		return fmt.Errorf("start strategy for %s: %w", e.cfg.Symbol, err)
	}
	return nil
}

// step consumes one entry. It returns a non-empty reason once the replay must stop.
func (e *Engine) step(ctx context.Context) (StopReason, error) {
	entry, ok := e.it.Next()
	if !ok {
		return StopExhausted, nil
	}
	e.steps++
	bar := entry.Item
	tc := e.tc

	tc.SetMarket(bar.ClosePrice(), entry.Instant)
	funds := tc.AvailableFunds()
	tc.FundsHistory.Append(funds, entry.Instant)
	if funds < 0 {
		e.logger.Info(ctx, "Available funds negative, stopping replay", ports.Fields{
			"symbol": e.cfg.Symbol,
			"funds":  funds,
			"time":   entry.Instant,
		})
		return StopInsolvent, nil
	}

	if err := e.strategy.OnTick(ctx, tc, &bar); err != nil {
		return "", fmt.Errorf("strategy tick for %s at %s: %w", e.cfg.Symbol, entry.Instant, err)
	}
	tc.ProfitLoss.Append(tc.OnTickPL(), entry.Instant)
	if closed, ok := tc.SettleComplex(); ok {
		e.logger.Debug(ctx, "Bracket order settled", ports.Fields{
			"orderID": closed.ID,
			"reason":  string(closed.CloseReason),
			"price":   closed.ClosePrice,
		})
	}
	tc.MarketHistory.Append(bar, entry.Instant)
	return "", nil
}

func (e *Engine) finish(ctx context.Context, reason StopReason) *domain.BacktestResult {
	tc := e.tc
	forced := tc.CloseAll(domain.CloseReasonEndOfData)

	result := &domain.BacktestResult{
		PL:          tc.ClosedPL(),
		Orders:      tc.ClosedOrders(),
		InitialFund: e.cfg.InitialFunds,
		FinalValue:  e.cfg.InitialFunds + tc.ClosedPL(),
		Commissions: tc.Commissions(),
		Insolvent:   reason == StopInsolvent,
	}
	e.logger.Info(ctx, "Backtest finished", ports.Fields{
		"symbol":      e.cfg.Symbol,
		"reason":      string(reason),
		"steps":       e.steps,
		"forceClosed": len(forced),
		"pl":          result.PL,
		"finalValue":  result.FinalValue,
		"commissions": result.Commissions,
	})
	return result
}
