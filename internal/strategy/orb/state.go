package orb

import (
	"time"

	"github.com/shopspring/decimal"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
)

// State is the stage of the opening-range breakout setup for one symbol.
type State int

const (
	WaitingForMarketOpen State = iota
	CollectingOpeningRange
	MonitoringForBreakout
	MonitoringForRetest
	SetupComplete
	Timeout
)

func (s State) String() string {
	switch s {
	case WaitingForMarketOpen:
		return "WAITING_FOR_MARKET_OPEN"
	case CollectingOpeningRange:
		return "COLLECTING_OPENING_RANGE"
	case MonitoringForBreakout:
		return "MONITORING_FOR_BREAKOUT"
	case MonitoringForRetest:
		return "MONITORING_FOR_RETEST"
	case SetupComplete:
		return "SETUP_COMPLETE"
	case Timeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Monitorable reports whether the state consumes 1-minute bars.
func (s State) Monitorable() bool {
	return s == MonitoringForBreakout || s == MonitoringForRetest
}

// Terminal reports whether monitoring of the symbol has ended.
func (s State) Terminal() bool {
	return s == SetupComplete || s == Timeout
}

// RetestKind classifies a confirmed retest.
type RetestKind string

const (
	RetestShallow RetestKind = "SHALLOW" // Held above the retest level
	RetestDeep    RetestKind = "DEEP"    // Closed back at or below the opening high
)

// OpeningRange is the high/low band of the first minutes of the session.
type OpeningRange struct {
	High decimal.Decimal
	Low  decimal.Decimal
}

// BreakoutData records the bar that confirmed the breakout.
type BreakoutData struct {
	Price decimal.Decimal
	Time  time.Time
	High  decimal.Decimal
}

// Setup is the entry produced by a confirmed retest.
type Setup struct {
	Kind         RetestKind
	Entry        decimal.Decimal
	Stop         decimal.Decimal
	Quantity     int
	Time         time.Time
	Confirmation *ports.OrderConfirmation
}

// SymbolTradingState is the per-(symbol, trading day) state of the strategy.
// It is mutated only by Machine transitions and is owned by a single task.
type SymbolTradingState struct {
	Symbol       string
	TestDate     time.Time
	CurrentState State

	OpeningRange          OpeningRange
	Breakout              BreakoutData
	FiveMinuteBars        []*domain.Bar
	OneMinuteBreakoutBars []*domain.Bar

	MarketOpenTime    time.Time
	BreakoutStartTime time.Time
	RetestStartTime   time.Time

	Setup *Setup
}

// NewSymbolTradingState creates the state for symbol on date.
func NewSymbolTradingState(symbol string, date time.Time) *SymbolTradingState {
	st := &SymbolTradingState{Symbol: symbol}
	st.Reset(date)
	return st
}

// Reset clears everything collected so far and starts a new trading day.
func (st *SymbolTradingState) Reset(date time.Time) {
	*st = SymbolTradingState{
		Symbol:       st.Symbol,
		TestDate:     domain.TradingDate(date),
		CurrentState: WaitingForMarketOpen,
	}
}

func (st *SymbolTradingState) beginCollecting(now time.Time) {
	st.CurrentState = CollectingOpeningRange
	st.MarketOpenTime = now
	st.FiveMinuteBars = nil
}

// completeOpeningRange fixes the range from the collected 5-minute bars.
func (st *SymbolTradingState) completeOpeningRange(now time.Time) {
	high := st.FiveMinuteBars[0].High
	low := st.FiveMinuteBars[0].Low
	for _, b := range st.FiveMinuteBars[1:] {
		high = decimal.Max(high, b.High)
		low = decimal.Min(low, b.Low)
	}
	st.OpeningRange = OpeningRange{High: high, Low: low}
	st.OneMinuteBreakoutBars = nil
	st.BreakoutStartTime = now
	st.CurrentState = MonitoringForBreakout
}

func (st *SymbolTradingState) confirmBreakout(bar *domain.Bar, now time.Time) {
	st.Breakout = BreakoutData{Price: bar.Close, Time: now, High: bar.High}
	st.RetestStartTime = now
	st.CurrentState = MonitoringForRetest
}

func (st *SymbolTradingState) completeSetup(setup *Setup) {
	st.Setup = setup
	st.CurrentState = SetupComplete
}

func (st *SymbolTradingState) timeout() {
	st.CurrentState = Timeout
	st.OneMinuteBreakoutBars = nil
}

// Snapshot returns a copy of the state safe to hand to other goroutines.
func (st *SymbolTradingState) Snapshot() SymbolTradingState {
	cp := *st
	cp.FiveMinuteBars = append([]*domain.Bar(nil), st.FiveMinuteBars...)
	cp.OneMinuteBreakoutBars = append([]*domain.Bar(nil), st.OneMinuteBreakoutBars...)
	if st.Setup != nil {
		setup := *st.Setup
		cp.Setup = &setup
	}
	return cp
}

const fiveMinutes = 5 * time.Minute
