package orb

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
)

// Config holds the parameters of the opening-range breakout setup.
type Config struct {
	OpeningRangeBars int             // 5-minute bars forming the opening range (3 = 15 minutes)
	ConfirmationBars int             // Consecutive 1-minute closes above the high needed for a breakout
	RetestBuffer     decimal.Decimal // Added to the opening high to get the retest level
	EntryOffset      decimal.Decimal // Added to the opening high to get the entry price
	StopOffset       decimal.Decimal // Subtracted from the opening low to get the stop price
	PositionSize     int             // Fixed long order size
	MaxBreakoutWait  time.Duration   // Zero disables the breakout timeout
	MaxRetestWait    time.Duration   // Zero disables the retest timeout
	MarketOpen       time.Duration   // Session open as an offset from midnight
	Location         *time.Location  // Exchange time zone
}

// DefaultConfig returns the standard 15-minute ORB parameters for a US equity session.
func DefaultConfig() Config {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Config{
		OpeningRangeBars: 3,
		ConfirmationBars: 2,
		RetestBuffer:     decimal.RequireFromString("0.02"),
		EntryOffset:      decimal.RequireFromString("0.01"),
		StopOffset:       decimal.RequireFromString("0.01"),
		PositionSize:     100,
		MaxBreakoutWait:  90 * time.Minute,
		MaxRetestWait:    30 * time.Minute,
		MarketOpen:       9*time.Hour + 30*time.Minute,
		Location:         loc,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.OpeningRangeBars <= 0 {
		return fmt.Errorf("opening range bars must be positive: %w", ports.ErrConfigurationError)
	}
	if c.ConfirmationBars <= 0 {
		return fmt.Errorf("confirmation bars must be positive: %w", ports.ErrConfigurationError)
	}
	if c.PositionSize <= 0 {
		return fmt.Errorf("position size must be positive: %w", ports.ErrConfigurationError)
	}
	if c.RetestBuffer.IsNegative() || c.EntryOffset.IsNegative() || c.StopOffset.IsNegative() {
		return fmt.Errorf("price offsets cannot be negative: %w", ports.ErrConfigurationError)
	}
	if c.MaxBreakoutWait < 0 || c.MaxRetestWait < 0 {
		return fmt.Errorf("wait limits cannot be negative: %w", ports.ErrConfigurationError)
	}
	return nil
}

// Event describes what a call into the machine did.
type Event string

const (
	EventNone              Event = ""
	EventMarketOpen        Event = "MARKET_OPEN"
	EventOpeningBar        Event = "OPENING_BAR"
	EventOpeningRangeSet   Event = "OPENING_RANGE_SET"
	EventBreakoutCandidate Event = "BREAKOUT_CANDIDATE"
	EventBreakoutReset     Event = "BREAKOUT_RESET"
	EventBreakoutConfirmed Event = "BREAKOUT_CONFIRMED"
	EventRetestConfirmed   Event = "RETEST_CONFIRMED"
	EventTimeout           Event = "TIMEOUT"
)

// Machine drives SymbolTradingState transitions. The same Machine logic
// serves live polling and backtest replay; only the executor differs.
type Machine struct {
	cfg      Config
	executor ports.OrderExecutor
	sink     ports.LogSink
	logger   ports.Logger
}

// NewMachine creates a state machine placing entries through executor.
// sink may be nil.
func NewMachine(cfg Config, executor ports.OrderExecutor, sink ports.LogSink, logger ports.Logger) (*Machine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for ORB machine")
	}
	if executor == nil {
		return nil, fmt.Errorf("order executor is required for ORB machine")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Machine{cfg: cfg, executor: executor, sink: sink, logger: logger}, nil
}

// Config returns the machine's configuration.
func (m *Machine) Config() Config { return m.cfg }

// MarketOpenAt returns the session open for the trading day of date.
func (m *Machine) MarketOpenAt(date time.Time) time.Time {
	return domain.TradingDate(date.In(m.cfg.Location)).Add(m.cfg.MarketOpen)
}

// Open moves a waiting state into opening-range collection once now has
// reached the session open.
func (m *Machine) Open(ctx context.Context, st *SymbolTradingState, now time.Time) Event {
	if st.CurrentState != WaitingForMarketOpen || now.Before(m.MarketOpenAt(st.TestDate)) {
		return EventNone
	}
	st.beginCollecting(now)
	m.logger.Info(ctx, "Market open, collecting opening range", ports.Fields{"symbol": st.Symbol, "time": now})
	return EventMarketOpen
}

// AddOpeningBar feeds one 5-minute bar into opening-range collection.
// A nil bar is a data gap and bars stamped before the session open are
// skipped; neither changes anything. The range is stamped with the close of
// its last bar, so breakout monitoring starts on the same bar boundary
// whatever the caller's clock says.
func (m *Machine) AddOpeningBar(ctx context.Context, st *SymbolTradingState, bar *domain.Bar) (Event, error) {
	if st.CurrentState != CollectingOpeningRange {
		return EventNone, fmt.Errorf("add opening bar for %s in state %s: %w", st.Symbol, st.CurrentState, ports.ErrInvalidState)
	}
	if bar == nil {
		return EventNone, nil
	}
	if bar.Datetime.Before(m.MarketOpenAt(st.TestDate)) {
		m.logger.Debug(ctx, "Skipping pre-session bar", ports.Fields{"symbol": st.Symbol, "time": bar.Datetime})
		return EventNone, nil
	}
	st.FiveMinuteBars = append(st.FiveMinuteBars, bar)
	if len(st.FiveMinuteBars) < m.cfg.OpeningRangeBars {
		return EventOpeningBar, nil
	}

	st.completeOpeningRange(bar.Datetime.Add(fiveMinutes))
	m.logger.Info(ctx, "Opening range established", ports.Fields{
		"symbol": st.Symbol,
		"high":   st.OpeningRange.High.String(),
		"low":    st.OpeningRange.Low.String(),
	})
	m.journal(ctx, st, fmt.Sprintf("OPENING_RANGE high=%s low=%s bars=%d",
		st.OpeningRange.High, st.OpeningRange.Low, len(st.FiveMinuteBars)))
	return EventOpeningRangeSet, nil
}

// OnBar is the per-tick callback for the monitoring states. A nil bar is a
// data gap: no transition and no journal entry. Bars in any other state are
// ignored. On an executor error the state is left unchanged.
func (m *Machine) OnBar(ctx context.Context, st *SymbolTradingState, bar *domain.Bar, now time.Time) (Event, error) {
	if bar == nil || !st.CurrentState.Monitorable() {
		return EventNone, nil
	}

	if m.timedOut(st, now) {
		from := st.CurrentState
		st.timeout()
		m.logger.Info(ctx, "Monitoring timed out", ports.Fields{"symbol": st.Symbol, "state": from.String(), "time": now})
		m.journal(ctx, st, fmt.Sprintf("TIMEOUT state=%s", from))
		return EventTimeout, nil
	}

	switch st.CurrentState {
	case MonitoringForBreakout:
		if bar.Datetime.Before(st.BreakoutStartTime) {
			return EventNone, nil // Bar belongs to the opening range window
		}
		return m.onBreakoutBar(ctx, st, bar, now), nil
	case MonitoringForRetest:
		return m.onRetestBar(ctx, st, bar, now)
	}
	return EventNone, nil
}

func (m *Machine) timedOut(st *SymbolTradingState, now time.Time) bool {
	switch st.CurrentState {
	case MonitoringForBreakout:
		return m.cfg.MaxBreakoutWait > 0 && now.After(st.BreakoutStartTime.Add(m.cfg.MaxBreakoutWait))
	case MonitoringForRetest:
		return m.cfg.MaxRetestWait > 0 && now.After(st.RetestStartTime.Add(m.cfg.MaxRetestWait))
	}
	return false
}

func (m *Machine) onBreakoutBar(ctx context.Context, st *SymbolTradingState, bar *domain.Bar, now time.Time) Event {
	high := st.OpeningRange.High
	if !bar.Close.GreaterThan(high) {
		if len(st.OneMinuteBreakoutBars) > 0 {
			m.logger.Debug(ctx, "Breakout attempt invalidated", ports.Fields{"symbol": st.Symbol, "close": bar.Close.String()})
			st.OneMinuteBreakoutBars = nil
			return EventBreakoutReset
		}
		return EventNone
	}

	st.OneMinuteBreakoutBars = append(st.OneMinuteBreakoutBars, bar)
	if len(st.OneMinuteBreakoutBars) < m.cfg.ConfirmationBars {
		return EventBreakoutCandidate
	}
	for _, b := range st.OneMinuteBreakoutBars {
		if !b.Close.GreaterThan(high) {
			return EventBreakoutCandidate
		}
	}

	st.confirmBreakout(bar, now)
	m.logger.Info(ctx, "Breakout confirmed", ports.Fields{
		"symbol": st.Symbol,
		"price":  st.Breakout.Price.String(),
		"high":   st.Breakout.High.String(),
	})
	m.journal(ctx, st, fmt.Sprintf("BREAKOUT price=%s high=%s or_high=%s",
		st.Breakout.Price, st.Breakout.High, high))
	return EventBreakoutConfirmed
}

// ClassifyRetest applies the retest tie-break: a low at or above the retest
// level is shallow, otherwise a close at or below the opening high is deep.
func ClassifyRetest(bar *domain.Bar, openingHigh, buffer decimal.Decimal) (RetestKind, bool) {
	level := openingHigh.Add(buffer)
	switch {
	case bar.Low.GreaterThanOrEqual(level):
		return RetestShallow, true
	case bar.Close.LessThanOrEqual(openingHigh):
		return RetestDeep, true
	default:
		return "", false
	}
}

func (m *Machine) onRetestBar(ctx context.Context, st *SymbolTradingState, bar *domain.Bar, now time.Time) (Event, error) {
	kind, ok := ClassifyRetest(bar, st.OpeningRange.High, m.cfg.RetestBuffer)
	if !ok {
		return EventNone, nil
	}

	setup := &Setup{
		Kind:     kind,
		Entry:    st.OpeningRange.High.Add(m.cfg.EntryOffset),
		Stop:     st.OpeningRange.Low.Sub(m.cfg.StopOffset),
		Quantity: m.cfg.PositionSize,
		Time:     now,
	}
	conf, err := m.executor.PlaceOrder(ctx, st.Symbol, domain.Buy, setup.Quantity, setup.Entry.InexactFloat64())
	if err != nil {
		m.logger.Error(ctx, err, "Entry order failed, state unchanged", ports.Fields{"symbol": st.Symbol, "retest": string(kind)})
		return EventNone, fmt.Errorf("place entry for %s: %w", st.Symbol, err)
	}
	setup.Confirmation = conf
	st.completeSetup(setup)

	fields := ports.Fields{
		"symbol":   st.Symbol,
		"retest":   string(kind),
		"entry":    setup.Entry.String(),
		"stop":     setup.Stop.String(),
		"quantity": setup.Quantity,
	}
	if conf != nil {
		fields["orderID"] = conf.OrderID
	}
	m.logger.Info(ctx, "Retest confirmed, entry placed", fields)
	m.journal(ctx, st, fmt.Sprintf("RETEST kind=%s low=%s close=%s", kind, bar.Low, bar.Close))
	m.journal(ctx, st, fmt.Sprintf("ORDER side=%s qty=%d entry=%s stop=%s", domain.Buy, setup.Quantity, setup.Entry, setup.Stop))
	return EventRetestConfirmed, nil
}

func (m *Machine) journal(ctx context.Context, st *SymbolTradingState, line string) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Write(line, st.Symbol); err != nil {
		m.logger.Warn(ctx, "Journal write failed", ports.Fields{"symbol": st.Symbol, "error": err.Error()})
	}
}
