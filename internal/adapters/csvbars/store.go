package csvbars

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
	"orbBot/internal/series"
)

// Header is the column layout of a bar file.
var Header = []string{"datetime", "symbol", "open", "high", "low", "close", "volume"}

// Naive datetimes (no offset) are read in the store's location.
const naiveLayout = "2006-01-02 15:04:05"

// Store serves bars from <dir>/<SYMBOL>_<timeframe>.csv files. Files are
// parsed once and cached.
type Store struct {
	dir    string
	loc    *time.Location
	logger ports.Logger

	mu      sync.Mutex
	files   map[string][]*domain.Bar // Sorted bars per (symbol, timeframe)
	cursors map[string]int           // Bars served per (symbol, timeframe, date)
}

var _ ports.BarSource = (*Store)(nil)

// Config holds configuration for the CSV bar store.
type Config struct {
	Dir      string
	Location *time.Location // Market time zone trading dates are taken in
	Logger   ports.Logger
}

// New creates a store reading from cfg.Dir.
func New(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for CSV bar store")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("data directory must be set: %w", ports.ErrConfigurationError)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		dir:     cfg.Dir,
		loc:     loc,
		logger:  cfg.Logger,
		files:   make(map[string][]*domain.Bar),
		cursors: make(map[string]int),
	}, nil
}

// Path returns the file holding symbol's bars of timeframe.
func Path(dir, symbol, timeframe string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.csv", strings.ToUpper(symbol), timeframe))
}

// NextBar serves the bars of the trading day of date in chronological order.
// Returns ErrNoMoreData once they are exhausted.
func (s *Store) NextBar(ctx context.Context, symbol, timeframe string, date time.Time) (*domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bars, err := s.Day(symbol, timeframe, date)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|%s|%s", symbol, timeframe, domain.TradingDate(date.In(s.loc)).Format(time.DateOnly))
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.cursors[key]
	if i >= len(bars) {
		return nil, ports.ErrNoMoreData
	}
	s.cursors[key] = i + 1
	return bars[i], nil
}

// Rewind resets every cursor of symbol so its days can be replayed again.
func (s *Store) Rewind(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cursors {
		if strings.HasPrefix(k, symbol+"|") {
			delete(s.cursors, k)
		}
	}
}

// Day returns the bars of symbol and timeframe on the trading day of date.
func (s *Store) Day(symbol, timeframe string, date time.Time) ([]*domain.Bar, error) {
	all, err := s.load(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	day := make([]*domain.Bar, 0)
	for _, b := range all {
		if domain.SameTradingDay(b.Datetime, date, s.loc) {
			day = append(day, b)
		}
	}
	return day, nil
}

// Series returns the day's bars as a replay series keyed by bar time.
func (s *Store) Series(symbol, timeframe string, date time.Time) (*series.Series[domain.Bar], error) {
	bars, err := s.Day(symbol, timeframe, date)
	if err != nil {
		return nil, err
	}
	out := series.New[domain.Bar]()
	for _, b := range bars {
		out.Append(*b, b.Datetime)
	}
	return out, nil
}

// Dates returns the distinct trading days present for symbol and timeframe.
func (s *Store) Dates(symbol, timeframe string) ([]time.Time, error) {
	all, err := s.load(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	var dates []time.Time
	for _, b := range all {
		d := domain.TradingDate(b.Datetime.In(s.loc))
		if len(dates) == 0 || !dates[len(dates)-1].Equal(d) {
			dates = append(dates, d)
		}
	}
	return dates, nil
}

func (s *Store) load(symbol, timeframe string) ([]*domain.Bar, error) {
	key := symbol + "|" + timeframe
	s.mu.Lock()
	defer s.mu.Unlock()
	if bars, ok := s.files[key]; ok {
		return bars, nil
	}

	path := Path(s.dir, symbol, timeframe)
	bars, err := ReadBars(path, s.loc)
	if err != nil {
		return nil, err
	}
	s.files[key] = bars
	s.logger.Debug(context.Background(), "Bar file loaded", ports.Fields{"path": path, "bars": len(bars)})
	return bars, nil
}

// ReadBars parses a bar file and returns its bars sorted by time.
func ReadBars(path string, loc *time.Location) ([]*domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("bar file %s: %w", path, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("open bar file %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	if len(header) < len(Header) || !strings.EqualFold(strings.TrimSpace(header[0]), Header[0]) {
		return nil, fmt.Errorf("bar file %s: unexpected header %v: %w", path, header, ports.ErrInvalidRequest)
	}

	bars := make([]*domain.Bar, 0)
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s line %d: %w", path, line, err)
		}
		bar, err := parseRow(row, loc)
		if err != nil {
			return nil, fmt.Errorf("parse %s line %d: %w", path, line, err)
		}
		if bar == nil {
			continue // Blank line
		}
		bar.Timeframe = timeframeOf(path)
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Datetime.Before(bars[j].Datetime) })
	return bars, nil
}

func timeframeOf(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.LastIndex(name, "_"); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// parseRow returns nil for an empty row.
func parseRow(row []string, loc *time.Location) (*domain.Bar, error) {
	if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
		return nil, nil
	}
	if len(row) < len(Header) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(Header), len(row))
	}

	ts, err := parseTime(strings.TrimSpace(row[0]), loc)
	if err != nil {
		return nil, err
	}
	values := make([]decimal.Decimal, 5)
	for i, raw := range row[2:7] {
		v, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", Header[i+2], err)
		}
		values[i] = v
	}
	if values[1].LessThan(values[2]) {
		return nil, fmt.Errorf("high %s below low %s", values[1], values[2])
	}

	return &domain.Bar{
		Symbol:   strings.TrimSpace(row[1]),
		Datetime: ts,
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}, nil
}

func parseTime(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.In(loc), nil
	}
	t, err := time.ParseInLocation(naiveLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid datetime %q", raw)
	}
	return t, nil
}

// WriteBars writes bars to path in the store layout, replacing the file.
func WriteBars(path string, bars []*domain.Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(Header); err != nil {
		return err
	}
	for _, b := range bars {
		if err := writer.Write([]string{
			b.Datetime.Format(time.RFC3339),
			b.Symbol,
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			b.Volume.String(),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}
