package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"orbBot/config"
	"orbBot/internal/adapters/csvbars"
	"orbBot/internal/adapters/journal"
	"orbBot/internal/adapters/sqlite"
	"orbBot/internal/domain"
	"orbBot/internal/ports"
	"orbBot/internal/strategy/analytics"
	"orbBot/internal/strategy/backtesting"
	"orbBot/internal/strategy/orb"
)

const dayLayout = "2006-01-02"

type runOptions struct {
	Symbols     []string
	From        string
	To          string
	Deposit     float64
	Leverage    float64
	DataDir     string
	DBPath      string
	Concurrency int
	NoSave      bool
}

// runSummary is one printed row.
type runSummary struct {
	RunID      string
	Symbol     string
	Date       time.Time
	FinalState orb.State
	Result     *domain.BacktestResult
	Metrics    *analytics.PerformanceMetrics
	Err        error
}

// dayRange bounds the trading days to replay. Zero values are open ends.
type dayRange struct {
	from time.Time
	to   time.Time
}

func parseDayRange(from, to string, loc *time.Location) (dayRange, error) {
	var r dayRange
	var err error
	if from != "" {
		if r.from, err = time.ParseInLocation(dayLayout, from, loc); err != nil {
			return r, fmt.Errorf("bad --from: %w", err)
		}
	}
	if to != "" {
		if r.to, err = time.ParseInLocation(dayLayout, to, loc); err != nil {
			return r, fmt.Errorf("bad --to: %w", err)
		}
	}
	if !r.from.IsZero() && !r.to.IsZero() && r.to.Before(r.from) {
		return r, fmt.Errorf("--from must not be after --to")
	}
	return r, nil
}

func (r dayRange) filter(dates []time.Time) []time.Time {
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if !r.from.IsZero() && d.Before(r.from) {
			continue
		}
		if !r.to.IsZero() && d.After(r.to) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// runBacktests replays every (symbol, day) in the range. A failing run is
// reported in its summary and does not stop the others.
func runBacktests(ctx context.Context, cfg *config.Config, opts runOptions, logger ports.Logger) ([]runSummary, error) {
	days, err := parseDayRange(opts.From, opts.To, cfg.MarketLocation)
	if err != nil {
		return nil, err
	}
	store, err := csvbars.New(csvbars.Config{Dir: opts.DataDir, Location: cfg.MarketLocation, Logger: logger})
	if err != nil {
		return nil, err
	}

	var repo *sqlite.Repository
	if !opts.NoSave {
		repo, err = sqlite.NewRepository(sqlite.Config{DBPath: opts.DBPath, Logger: logger})
		if err != nil {
			return nil, err
		}
		defer repo.Close()
	}

	var sink ports.LogSink
	if cfg.JournalPath != "" {
		fs, err := journal.NewFileSink(filepath.Join(cfg.JournalPath, "backtest"))
		if err != nil {
			return nil, err
		}
		sink = fs
	}

	var (
		mu        sync.Mutex
		summaries []runSummary
	)
	g := new(errgroup.Group)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	for _, symbol := range opts.Symbols {
		dates, err := store.Dates(symbol, domain.Timeframe1m)
		if err != nil {
			logger.Error(ctx, err, "Skipping symbol, no 1m bars", ports.Fields{"symbol": symbol})
			mu.Lock()
			summaries = append(summaries, runSummary{Symbol: symbol, Err: err})
			mu.Unlock()
			continue
		}
		for _, date := range days.filter(dates) {
			symbol, date := symbol, date
			g.Go(func() error {
				s := runOne(ctx, cfg, opts, store, repo, sink, logger, symbol, date)
				mu.Lock()
				summaries = append(summaries, s)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return summaries, fmt.Errorf("backtests canceled: %w: %w", ports.ErrContextCanceled, err)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Symbol != summaries[j].Symbol {
			return summaries[i].Symbol < summaries[j].Symbol
		}
		return summaries[i].Date.Before(summaries[j].Date)
	})
	return summaries, nil
}

func runOne(ctx context.Context, cfg *config.Config, opts runOptions, store *csvbars.Store, repo *sqlite.Repository,
	sink ports.LogSink, logger ports.Logger, symbol string, date time.Time) runSummary {
	summary := runSummary{Symbol: symbol, Date: date}

	prices, err := store.Series(symbol, domain.Timeframe1m, date)
	if err != nil {
		summary.Err = err
		return summary
	}
	state := orb.NewSymbolTradingState(symbol, date)
	strategy, err := orb.NewStrategy(cfg.ORBConfig(), store, state, sink, logger, cfg.UseBracket)
	if err != nil {
		summary.Err = err
		return summary
	}
	engine, err := backtesting.NewEngine(backtesting.BacktestConfig{
		Symbol:           symbol,
		InitialFunds:     opts.Deposit,
		Leverage:         opts.Leverage,
		StopLossOffset:   cfg.StopLossOffset,
		TakeProfitOffset: cfg.TakeProfitOffset,
	}, strategy, prices, logger)
	if err != nil {
		summary.Err = err
		return summary
	}

	result, err := engine.Run(ctx)
	if err != nil {
		logger.Error(ctx, err, "Backtest failed", ports.Fields{"symbol": symbol, "date": date.Format(dayLayout)})
		summary.Err = err
		return summary
	}
	summary.FinalState = state.CurrentState
	summary.Result = result
	summary.Metrics = analytics.Analyze(result, engine.Ledger().FundsHistory)

	if repo != nil {
		id, err := repo.SaveRun(ctx, &domain.BacktestRun{
			Symbol:     symbol,
			TestDate:   date,
			Leverage:   opts.Leverage,
			FinalState: state.CurrentState.String(),
			Result:     result,
		})
		if err != nil {
			logger.Error(ctx, err, "Failed to save backtest run", ports.Fields{"symbol": symbol})
			summary.Err = err
			return summary
		}
		summary.RunID = id
	}
	return summary
}

func printSummaries(w io.Writer, summaries []runSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Symbol\tDate\tState\tTrades\tPL\tCommissions\tFinalValue\tMaxDD\tRun")
	var totalPL float64
	for _, s := range summaries {
		if s.Err != nil {
			fmt.Fprintf(tw, "%s\t%s\tERROR\t-\t-\t-\t-\t-\t%v\n", s.Symbol, formatDay(s.Date), s.Err)
			continue
		}
		totalPL += s.Result.PL
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f%%\t%s\n",
			s.Symbol, formatDay(s.Date), s.FinalState, s.Metrics.TotalTrades,
			s.Result.PL, s.Result.Commissions, s.Result.FinalValue, s.Metrics.MaxDrawdown*100, s.RunID)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nRuns: %d  Total PL: %.2f\n", len(summaries), totalPL)
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dayLayout)
}
