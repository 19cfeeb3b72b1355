package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"orbBot/config"
	"orbBot/internal/adapters/csvbars"
	"orbBot/internal/adapters/logger"
	"orbBot/internal/domain"
	"orbBot/internal/ports"
	"orbBot/internal/strategy/backtesting"
	"orbBot/internal/strategy/optimization"
)

func newOptimizeCmd(cfg *config.Config, opts *runOptions, symbols *string) *cobra.Command {
	var (
		params []string
		top    int
	)

	cmd := &cobra.Command{
		Use:     "optimize",
		Short:   "Grid-search ORB parameters over the stored sessions",
		Example: "  backtest_runner optimize --symbols AAPL --param confirmation_bars=1:3:1 --param retest_buffer=0.01:0.05:0.02",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *symbols != "" {
				opts.Symbols = splitSymbols(*symbols)
			}
			ranges, err := parseRanges(params)
			if err != nil {
				return err
			}
			appLogger := logger.NewStdLogger(cfg.LogLevel)
			results, err := runOptimization(cmd.Context(), cfg, *opts, ranges, appLogger)
			if err != nil {
				return err
			}
			printOptimization(cmd.OutOrStdout(), results, top)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "name=min:max:step, repeatable")
	cmd.Flags().IntVar(&top, "top", 10, "results to print")
	return cmd
}

// parseRanges parses name=min:max:step flags. Bar counts are integer parameters.
func parseRanges(raw []string) ([]optimization.ParameterRange, error) {
	ranges := make([]optimization.ParameterRange, 0, len(raw))
	for _, p := range raw {
		name, bounds, ok := strings.Cut(p, "=")
		parts := strings.Split(bounds, ":")
		if !ok || len(parts) != 3 {
			return nil, fmt.Errorf("bad --param %q, want name=min:max:step", p)
		}
		var vals [3]float64
		for i, s := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("bad --param %q: %w", p, err)
			}
			vals[i] = v
		}
		name = strings.TrimSpace(name)
		ranges = append(ranges, optimization.ParameterRange{
			Name:  name,
			Min:   vals[0],
			Max:   vals[1],
			Step:  vals[2],
			IsInt: strings.HasSuffix(name, "_bars"),
		})
	}
	return ranges, nil
}

func runOptimization(ctx context.Context, cfg *config.Config, opts runOptions, ranges []optimization.ParameterRange, logger ports.Logger) ([]optimization.OptimizationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	days, err := parseDayRange(opts.From, opts.To, cfg.MarketLocation)
	if err != nil {
		return nil, err
	}
	store, err := csvbars.New(csvbars.Config{Dir: opts.DataDir, Location: cfg.MarketLocation, Logger: logger})
	if err != nil {
		return nil, err
	}

	var sessions []optimization.Session
	for _, symbol := range opts.Symbols {
		dates, err := store.Dates(symbol, domain.Timeframe1m)
		if err != nil {
			return nil, fmt.Errorf("list sessions of %s: %w", symbol, err)
		}
		for _, d := range days.filter(dates) {
			sessions = append(sessions, optimization.Session{Symbol: symbol, Date: d})
		}
	}

	optimizer, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		ParameterRanges: ranges,
		Base:            cfg.ORBConfig(),
		Backtest: backtesting.BacktestConfig{
			InitialFunds:     opts.Deposit,
			Leverage:         opts.Leverage,
			StopLossOffset:   cfg.StopLossOffset,
			TakeProfitOffset: cfg.TakeProfitOffset,
		},
		Bracket:     cfg.UseBracket,
		Sessions:    sessions,
		Concurrency: opts.Concurrency,
	}, store, logger)
	if err != nil {
		return nil, err
	}
	return optimizer.Optimize(ctx)
}

func printOptimization(w io.Writer, results []optimization.OptimizationResult, top int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Rank\tScore\tParameters\tTrades\tWinRate\tNetProfit\tMaxDD")
	for i, r := range results {
		if top > 0 && i >= top {
			break
		}
		fmt.Fprintf(tw, "%d\t%.4f\t%s\t%d\t%.2f%%\t%.2f\t%.2f%%\n",
			i+1, r.Score, formatParams(r.Parameters), r.Metrics.TotalTrades,
			r.Metrics.WinRate*100, r.Metrics.NetProfit, r.Metrics.MaxDrawdown*100)
	}
	tw.Flush()
}

func formatParams(params map[string]float64) string {
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + "=" + strconv.FormatFloat(params[n], 'f', -1, 64)
	}
	return strings.Join(parts, " ")
}
