package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
	"orbBot/internal/series"
	"orbBot/internal/strategy/analytics"
	"orbBot/internal/strategy/backtesting"
	"orbBot/internal/strategy/orb"
)

// Parameter names accepted in a ParameterRange.
const (
	ParamOpeningRangeBars = "opening_range_bars"
	ParamConfirmationBars = "confirmation_bars"
	ParamRetestBuffer     = "retest_buffer"
	ParamEntryOffset      = "entry_offset"
	ParamStopOffset       = "stop_offset"
	ParamBreakoutWait     = "max_breakout_wait_minutes"
	ParamRetestWait       = "max_retest_wait_minutes"
)

// ParameterRange defines a range for a parameter to optimize
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// Session is one (symbol, trading day) replayed for every combination.
type Session struct {
	Symbol string
	Date   time.Time
}

// DayData serves the stored bars of a trading day. *csvbars.Store satisfies it.
type DayData interface {
	Day(symbol, timeframe string, date time.Time) ([]*domain.Bar, error)
}

// OptimizationResult holds the results of a parameter optimization
type OptimizationResult struct {
	Parameters map[string]float64
	Config     orb.Config
	Metrics    *analytics.PerformanceMetrics // Aggregated over all sessions
	Sessions   int
	Score      float64
}

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	ParameterRanges []ParameterRange
	Base            orb.Config
	Backtest        backtesting.BacktestConfig // Symbol is taken from each session
	Bracket         bool
	Sessions        []Session
	Concurrency     int
	ScoreFunction   func(*analytics.PerformanceMetrics) float64
}

// Optimizer grid-searches ORB parameters over a fixed set of sessions.
type Optimizer struct {
	config OptimizerConfig
	data   DayData
	logger ports.Logger
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig, data DayData, logger ports.Logger) (*Optimizer, error) {
	if data == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for optimizer")
	}
	if len(config.Sessions) == 0 {
		return nil, fmt.Errorf("no sessions to optimize over: %w", ports.ErrInvalidRequest)
	}
	for _, r := range config.ParameterRanges {
		if r.Step <= 0 || r.Max < r.Min {
			return nil, fmt.Errorf("parameter %s: bad range [%v, %v] step %v: %w", r.Name, r.Min, r.Max, r.Step, ports.ErrInvalidRequest)
		}
		if err := applyParameter(&orb.Config{}, r.Name, r.Min); err != nil {
			return nil, err
		}
	}
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	return &Optimizer{config: config, data: data, logger: logger}, nil
}

// Optimize replays every session for every parameter combination and
// returns the results sorted by descending score. Combinations whose
// configuration is invalid are skipped.
func (o *Optimizer) Optimize(ctx context.Context) ([]OptimizationResult, error) {
	combinations := o.generateParameterCombinations()
	o.logger.Info(ctx, "Starting parameter sweep", ports.Fields{
		"combinations": len(combinations),
		"sessions":     len(o.config.Sessions),
	})

	var mu sync.Mutex
	results := make([]OptimizationResult, 0, len(combinations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Concurrency)

	for _, params := range combinations {
		cfg := o.config.Base
		if err := applyParameters(&cfg, params); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			o.logger.Debug(ctx, "Skipping invalid combination", ports.Fields{"params": params, "error": err.Error()})
			continue
		}
		params := params
		g.Go(func() error {
			res, err := o.evaluate(gctx, cfg)
			if err != nil {
				return err
			}
			res.Parameters = params
			res.Score = o.config.ScoreFunction(res.Metrics)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortResultsByScore(results)
	return results, nil
}

// evaluate runs all sessions with cfg and aggregates them into one result.
// The aggregate funds series has one point per session: deposit plus the
// cumulative P&L after it.
func (o *Optimizer) evaluate(ctx context.Context, cfg orb.Config) (OptimizationResult, error) {
	deposit := o.config.Backtest.InitialFunds
	agg := &domain.BacktestResult{InitialFund: deposit, FinalValue: deposit}
	funds := series.New[float64]()

	for _, s := range o.config.Sessions {
		res, err := o.runSession(ctx, cfg, s)
		if err != nil {
			return OptimizationResult{}, fmt.Errorf("session %s %s: %w", s.Symbol, s.Date.Format("2006-01-02"), err)
		}
		agg.PL += res.PL
		agg.Commissions += res.Commissions
		agg.Orders = append(agg.Orders, res.Orders...)
		agg.Insolvent = agg.Insolvent || res.Insolvent
		agg.FinalValue = deposit + agg.PL
		funds.Append(agg.FinalValue, s.Date)
	}

	return OptimizationResult{
		Config:   cfg,
		Metrics:  analytics.Analyze(agg, funds.ToAscending()),
		Sessions: len(o.config.Sessions),
	}, nil
}

func (o *Optimizer) runSession(ctx context.Context, cfg orb.Config, s Session) (*domain.BacktestResult, error) {
	fiveMinute, err := o.data.Day(s.Symbol, domain.Timeframe5m, s.Date)
	if err != nil {
		return nil, err
	}
	oneMinute, err := o.data.Day(s.Symbol, domain.Timeframe1m, s.Date)
	if err != nil {
		return nil, err
	}
	prices := series.New[domain.Bar]()
	for _, b := range oneMinute {
		prices.Append(*b, b.Datetime)
	}

	state := orb.NewSymbolTradingState(s.Symbol, s.Date)
	strategy, err := orb.NewStrategy(cfg, &replaySource{bars: fiveMinute}, state, nil, o.logger, o.config.Bracket)
	if err != nil {
		return nil, err
	}
	btCfg := o.config.Backtest
	btCfg.Symbol = s.Symbol
	engine, err := backtesting.NewEngine(btCfg, strategy, prices, o.logger)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx)
}

// replaySource serves one day of 5-minute bars to a single run.
type replaySource struct {
	bars []*domain.Bar
	pos  int
}

func (r *replaySource) NextBar(ctx context.Context, symbol, timeframe string, date time.Time) (*domain.Bar, error) {
	if r.pos >= len(r.bars) {
		return nil, ports.ErrNoMoreData
	}
	b := r.bars[r.pos]
	r.pos++
	return b, nil
}

// generateParameterCombinations generates all possible parameter combinations
func (o *Optimizer) generateParameterCombinations() []map[string]float64 {
	var combinations []map[string]float64
	var currentCombination map[string]float64

	var generate func(int)
	generate = func(paramIndex int) {
		if paramIndex == len(o.config.ParameterRanges) {
			// Create a copy of the current combination
			combination := make(map[string]float64, len(currentCombination))
			for k, v := range currentCombination {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}

		param := o.config.ParameterRanges[paramIndex]
		steps := int(math.Floor((param.Max-param.Min)/param.Step + 1e-9))
		for i := 0; i <= steps; i++ {
			value := param.Min + float64(i)*param.Step
			if param.IsInt {
				value = math.Round(value)
			} else {
				value = math.Round(value*1e6) / 1e6
			}
			currentCombination[param.Name] = value
			generate(paramIndex + 1)
		}
	}

	currentCombination = make(map[string]float64)
	generate(0)
	return combinations
}

func applyParameters(cfg *orb.Config, params map[string]float64) error {
	for name, value := range params {
		if err := applyParameter(cfg, name, value); err != nil {
			return err
		}
	}
	return nil
}

func applyParameter(cfg *orb.Config, name string, value float64) error {
	switch name {
	case ParamOpeningRangeBars:
		cfg.OpeningRangeBars = int(value)
	case ParamConfirmationBars:
		cfg.ConfirmationBars = int(value)
	case ParamRetestBuffer:
		cfg.RetestBuffer = decimal.NewFromFloat(value)
	case ParamEntryOffset:
		cfg.EntryOffset = decimal.NewFromFloat(value)
	case ParamStopOffset:
		cfg.StopOffset = decimal.NewFromFloat(value)
	case ParamBreakoutWait:
		cfg.MaxBreakoutWait = time.Duration(value * float64(time.Minute))
	case ParamRetestWait:
		cfg.MaxRetestWait = time.Duration(value * float64(time.Minute))
	default:
		return fmt.Errorf("unknown parameter %q: %w", name, ports.ErrInvalidRequest)
	}
	return nil
}

// sortResultsByScore sorts optimization results by score in descending order
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// DefaultScoreFunction provides a default scoring function for optimization
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	// Combines several metrics into a single score
	score := 0.0

	// Weight different metrics; an unbounded profit factor is capped
	score += metrics.WinRate * 0.3
	score += math.Min(metrics.ProfitFactor, 5) / 5 * 0.2
	score += (1 - metrics.MaxDrawdown) * 0.2
	score += metrics.ReturnOnInvestment * 0.3

	return score
}
