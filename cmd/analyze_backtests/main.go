package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"orbBot/config"
	"orbBot/internal/adapters/logger"
	"orbBot/internal/adapters/sqlite"
	"orbBot/internal/domain"
	"orbBot/internal/ports"
	"orbBot/internal/strategy/analytics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		dbPath string
		limit  int
		symbol string
	)

	openRepo := func() (*sqlite.Repository, error) {
		return sqlite.NewRepository(sqlite.Config{DBPath: dbPath, Logger: logger.NewStdLogger(cfg.LogLevel)})
	}

	cmd := &cobra.Command{
		Use:   "analyze_backtests",
		Short: "Summarize stored backtest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			runs, err := loadRuns(cmd.Context(), repo, limit, strings.ToUpper(symbol))
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backtest runs found. Run backtest_runner first.")
				return nil
			}
			printRuns(cmd.OutOrStdout(), runs)
			printTotals(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", cfg.DBPath, "SQLite database holding the runs")
	cmd.Flags().IntVar(&limit, "limit", 50, "most recent runs to analyze (0 for all)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "only runs of this symbol")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its closed orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			run, err := repo.FindRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s: %w", args[0], ports.ErrNotFound)
			}
			printRun(cmd.OutOrStdout(), analyzedRun{run: run, metrics: analytics.Analyze(run.Result, nil)})
			return nil
		},
	})

	return cmd
}

type analyzedRun struct {
	run     *domain.BacktestRun
	metrics *analytics.PerformanceMetrics
}

// loadRuns fetches the listed runs with their closed orders and analyzes them.
func loadRuns(ctx context.Context, repo ports.BacktestRepository, limit int, symbol string) ([]analyzedRun, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	listed, err := repo.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]analyzedRun, 0, len(listed))
	for _, r := range listed {
		if symbol != "" && r.Symbol != symbol {
			continue
		}
		run, err := repo.FindRun(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if run == nil {
			continue
		}
		out = append(out, analyzedRun{run: run, metrics: analytics.Analyze(run.Result, nil)})
	}
	return out, nil
}

func printRuns(w io.Writer, runs []analyzedRun) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(tw, "Run\tSymbol\tDate\tState\tTrades\tWinRate\tPL\tCommissions\tFinalValue\tROI%\t")
	for _, a := range runs {
		r, m := a.run, a.metrics
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
			r.ID, r.Symbol, r.TestDate.Format("2006-01-02"), r.FinalState,
			m.TotalTrades, m.WinRate*100, r.Result.PL, r.Result.Commissions, r.Result.FinalValue,
			m.ReturnOnInvestment*100)
	}
	tw.Flush()
}

// printTotals aggregates runs per final state and per symbol.
func printTotals(w io.Writer, runs []analyzedRun) {
	states := make(map[string]int)
	plBySymbol := make(map[string]float64)
	var trades, wins int
	for _, a := range runs {
		states[a.run.FinalState]++
		plBySymbol[a.run.Symbol] += a.run.Result.PL
		trades += a.metrics.TotalTrades
		wins += a.metrics.WinningTrades
	}

	fmt.Fprintln(w, "\n## Final states")
	for _, s := range sortedKeys(states) {
		fmt.Fprintf(w, "%-26s %d\n", s, states[s])
	}
	fmt.Fprintln(w, "\n## PL by symbol")
	for _, s := range sortedKeys(plBySymbol) {
		fmt.Fprintf(w, "%-10s %10.2f\n", s, plBySymbol[s])
	}
	winRate := 0.0
	if trades > 0 {
		winRate = float64(wins) / float64(trades) * 100
	}
	fmt.Fprintf(w, "\nRuns: %d  Trades: %d  Win rate: %.2f%%\n", len(runs), trades, winRate)
}

func printRun(w io.Writer, a analyzedRun) {
	r, m := a.run, a.metrics
	fmt.Fprintf(w, "Run %s  %s  %s  leverage %.0fx\n", r.ID, r.Symbol, r.TestDate.Format("2006-01-02"), r.Leverage)
	fmt.Fprintf(w, "Final state: %s  Insolvent: %t\n", r.FinalState, r.Result.Insolvent)
	fmt.Fprintf(w, "PL: %.2f  Commissions: %.2f  Final value: %.2f  ROI: %.2f%%\n",
		r.Result.PL, r.Result.Commissions, r.Result.FinalValue, m.ReturnOnInvestment*100)
	fmt.Fprintf(w, "Trades: %d  Win rate: %.2f%%  Profit factor: %.2f  Expectancy: %.2f\n\n",
		m.TotalTrades, m.WinRate*100, m.ProfitFactor, m.Expectancy)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Order\tAmount\tOpen\tOpenTime\tClose\tCloseTime\tReason\tPL")
	for _, o := range r.Result.Orders {
		fmt.Fprintf(tw, "%d\t%d\t%.2f\t%s\t%.2f\t%s\t%s\t%.2f\n",
			o.ID, o.Amount, o.OpenPrice, o.OpenTime.Format("15:04"), o.ClosePrice, o.CloseTime.Format("15:04"),
			o.CloseReason, o.PL())
	}
	tw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
