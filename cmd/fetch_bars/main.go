package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"orbBot/config"
	"orbBot/internal/adapters/binanceclient"
	"orbBot/internal/adapters/csvbars"
	"orbBot/internal/adapters/logger"
	"orbBot/internal/domain"
	"orbBot/internal/ports"
)

const dayLayout = "2006-01-02"

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

type fetchOptions struct {
	Symbols    []string
	Timeframes []string
	From       time.Time
	To         time.Time
	DataDir    string
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		symbols    string
		timeframes string
		fromStr    string
		toStr      string
		dataDir    string
		baseURL    string
		days       int
	)

	cmd := &cobra.Command{
		Use:   "fetch_bars",
		Short: "Download 1m and 5m bars from Binance futures into the CSV data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := fetchOptions{
				Symbols:    cfg.Symbols,
				Timeframes: splitList(timeframes, false),
				DataDir:    dataDir,
			}
			if symbols != "" {
				opts.Symbols = splitList(symbols, true)
			}
			if len(opts.Symbols) == 0 {
				return fmt.Errorf("no symbols: set --symbols or SYMBOLS")
			}

			loc := cfg.MarketLocation
			opts.To = time.Now().In(loc)
			if toStr != "" {
				to, err := time.ParseInLocation(dayLayout, toStr, loc)
				if err != nil {
					return fmt.Errorf("bad --to: %w", err)
				}
				opts.To = to.AddDate(0, 0, 1).Add(-time.Millisecond) // Inclusive of the whole day
			}
			opts.From = domain.TradingDate(opts.To).AddDate(0, 0, -days)
			if fromStr != "" {
				from, err := time.ParseInLocation(dayLayout, fromStr, loc)
				if err != nil {
					return fmt.Errorf("bad --from: %w", err)
				}
				opts.From = from
			}
			if !opts.From.Before(opts.To) {
				return fmt.Errorf("--from must be before --to")
			}

			// 2. Initialize Logger
			appLogger := logger.NewStdLogger(cfg.LogLevel)

			// 3. Initialize Exchange Client (Binance Adapter)
			client, err := binanceclient.New(binanceclient.Config{
				APIKey:     cfg.APIKey,
				SecretKey:  cfg.SecretKey,
				UseTestnet: cfg.IsTestnet,
				BaseURL:    baseURL,
				Logger:     appLogger,
				Location:   loc,
			})
			if err != nil {
				return fmt.Errorf("initialize Binance client: %w", err)
			}

			written, err := fetchAll(cmd.Context(), client, opts, appLogger)
			for _, path := range written {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&symbols, "symbols", "", "comma separated symbols (default from SYMBOLS)")
	f.StringVar(&timeframes, "timeframes", domain.Timeframe1m+","+domain.Timeframe5m, "comma separated timeframes")
	f.StringVar(&fromStr, "from", "", "first day, YYYY-MM-DD (default: --days before --to)")
	f.StringVar(&toStr, "to", "", "last day, YYYY-MM-DD (default: now)")
	f.IntVar(&days, "days", 30, "days to fetch when --from is not set")
	f.StringVar(&dataDir, "data-dir", cfg.DataDir, "output directory")
	f.StringVar(&baseURL, "base-url", "", "override the Binance futures API URL")

	return cmd
}

// fetchAll downloads every (symbol, timeframe) concurrently and writes one
// file per pair. The first failure cancels the remaining downloads.
func fetchAll(ctx context.Context, source barFetcher, opts fetchOptions, logger ports.Logger) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	paths := make([]string, len(opts.Symbols)*len(opts.Timeframes))
	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range opts.Symbols {
		for j, tf := range opts.Timeframes {
			slot := i*len(opts.Timeframes) + j
			symbol, tf := symbol, tf
			g.Go(func() error {
				bars, err := source.FetchBarsRange(gctx, symbol, tf, opts.From, opts.To)
				if err != nil {
					return fmt.Errorf("fetch %s %s: %w", symbol, tf, err)
				}
				path := csvbars.Path(opts.DataDir, symbol, tf)
				if err := csvbars.WriteBars(path, bars); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				logger.Info(gctx, "Saved bars", ports.Fields{"symbol": symbol, "timeframe": tf, "bars": len(bars), "file": path})
				paths[slot] = path
				return nil
			})
		}
	}
	err := g.Wait()

	written := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			written = append(written, p)
		}
	}
	return written, err
}

type barFetcher interface {
	FetchBarsRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*domain.Bar, error)
}

func splitList(raw string, upper bool) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if upper {
			s = strings.ToUpper(s)
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
