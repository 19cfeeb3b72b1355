package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"orbBot/config"
	"orbBot/internal/adapters/logger"
	"orbBot/internal/ports"
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
	opts := runOptions{
		Symbols:     cfg.Symbols,
		Deposit:     cfg.InitialFunds,
		Leverage:    cfg.Leverage,
		DataDir:     cfg.DataDir,
		DBPath:      cfg.DBPath,
		Concurrency: 4,
	}
	var symbols string

	cmd := &cobra.Command{
		Use:   "backtest_runner",
		Short: "Replay stored 1m/5m bars through the ORB strategy, one run per symbol and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			if symbols != "" {
				opts.Symbols = splitSymbols(symbols)
			}
			if len(opts.Symbols) == 0 {
				return fmt.Errorf("no symbols: set --symbols or SYMBOLS")
			}
			if opts.Deposit <= 0 {
				return fmt.Errorf("--deposit must be positive")
			}
			if opts.Leverage < 1 {
				return fmt.Errorf("--leverage must be at least 1")
			}

			appLogger := logger.NewStdLogger(cfg.LogLevel)
			ctx := context.Background()
			appLogger.Info(ctx, "Starting backtests", ports.Fields{
				"symbols":  strings.Join(opts.Symbols, ","),
				"from":     opts.From,
				"to":       opts.To,
				"deposit":  opts.Deposit,
				"leverage": opts.Leverage,
			})

			summaries, err := runBacktests(ctx, cfg, opts, appLogger)
			if err != nil {
				return err
			}
			printSummaries(cmd.OutOrStdout(), summaries)
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&symbols, "symbols", "", "comma separated symbols (default from SYMBOLS)")
	f.StringVar(&opts.From, "from", "", "first trading day, YYYY-MM-DD (default: first day on file)")
	f.StringVar(&opts.To, "to", "", "last trading day, YYYY-MM-DD (default: last day on file)")
	f.Float64Var(&opts.Deposit, "deposit", opts.Deposit, "initial funds per run")
	f.Float64Var(&opts.Leverage, "leverage", opts.Leverage, "ledger leverage")
	f.StringVar(&opts.DataDir, "data-dir", opts.DataDir, "directory holding <SYMBOL>_<tf>.csv bar files")
	f.StringVar(&opts.DBPath, "db", opts.DBPath, "SQLite database runs are saved to")
	f.IntVar(&opts.Concurrency, "concurrency", opts.Concurrency, "runs executed in parallel")
	f.BoolVar(&opts.NoSave, "no-save", false, "do not persist runs")

	cmd.AddCommand(newOptimizeCmd(cfg, &opts, &symbols))
	return cmd
}

func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
