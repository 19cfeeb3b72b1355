package backtesting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbBot/internal/domain"
	"orbBot/internal/ledger"
	"orbBot/internal/ports"
	"orbBot/internal/series"
	"orbBot/internal/strategy/orb"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...ports.Fields) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...ports.Fields)  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...ports.Fields)  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {
}

// MockStrategy buys on the configured tick and records what it saw.
type MockStrategy struct {
	buyOnTick int // 1-based; 0 never buys
	quantity  int
	bracket   bool
	startErr  error
	tickErr   error

	started    bool
	ticks      int
	seenPrices []float64
}

func (m *MockStrategy) StartStrategy(ctx context.Context, tc *ledger.TradingContext) error {
	m.started = true
	return m.startErr
}

func (m *MockStrategy) OnTick(ctx context.Context, tc *ledger.TradingContext, bar *domain.Bar) error {
	if m.tickErr != nil {
		return m.tickErr
	}
	m.ticks++
	m.seenPrices = append(m.seenPrices, tc.CurrentPrice())
	if m.ticks == m.buyOnTick {
		if m.bracket {
			tc.ComplexOrder(tc.Symbol(), m.quantity, tc.CurrentPrice())
		} else {
			tc.Order(tc.Symbol(), true, m.quantity, tc.CurrentPrice())
		}
	}
	return nil
}

var base = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func priceSeries(closes ...float64) *series.Series[domain.Bar] {
	s := series.New[domain.Bar]()
	for i, c := range closes {
		ts := base.Add(time.Duration(i) * time.Minute)
		s.Append(*domain.NewBar("AAPL", domain.Timeframe1m, ts, c, c, c, c), ts)
	}
	return s
}

func testConfig(funds, leverage float64) BacktestConfig {
	return BacktestConfig{Symbol: "AAPL", InitialFunds: funds, Leverage: leverage, StopLossOffset: 1, TakeProfitOffset: 2}
}

func TestBacktest_RunsToExhaustion(t *testing.T) {
	strat := &MockStrategy{buyOnTick: 2, quantity: 10}
	engine, err := NewEngine(testConfig(10000, 1), strat, priceSeries(100, 101, 102, 104), &mockLogger{})
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, strat.started)
	assert.Equal(t, 4, strat.ticks)
	assert.Equal(t, []float64{100, 101, 102, 104}, strat.seenPrices, "ledger price is set before the tick")
	assert.False(t, result.Insolvent)

	tc := engine.Ledger()
	assert.Equal(t, 4, tc.FundsHistory.Len())
	assert.Equal(t, 4, tc.ProfitLoss.Len())
	assert.Equal(t, 4, tc.MarketHistory.Len())

	// Bought 10 at 101, force-closed at 104.
	require.Len(t, result.Orders, 1)
	assert.Empty(t, tc.Orders())
	assert.Equal(t, domain.CloseReasonEndOfData, result.Orders[0].CloseReason)
	assert.InDelta(t, 30.0, result.PL, 1e-9)
	assert.InDelta(t, 10030.0, result.FinalValue, 1e-9)
	assert.InDelta(t, 2*domain.Commission(10), result.Commissions, 1e-9)
	assert.Equal(t, 10000.0, result.InitialFund)
}

func TestBacktest_EmptySeries(t *testing.T) {
	strat := &MockStrategy{}
	engine, err := NewEngine(testConfig(500, 1), strat, series.New[domain.Bar](), &mockLogger{})
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, strat.started)
	assert.Zero(t, strat.ticks)
	assert.Empty(t, result.Orders)
	assert.Equal(t, 500.0, result.FinalValue)
}

func TestBacktest_ReplaysInAscendingOrder(t *testing.T) {
	s := series.New[domain.Bar]()
	for _, i := range []int{2, 0, 1} {
		ts := base.Add(time.Duration(i) * time.Minute)
		c := float64(100 + i)
		s.Append(*domain.NewBar("AAPL", domain.Timeframe1m, ts, c, c, c, c), ts)
	}
	strat := &MockStrategy{}
	engine, err := NewEngine(testConfig(1000, 1), strat, s, &mockLogger{})
	require.NoError(t, err)

	_, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101, 102}, strat.seenPrices)
}

func TestBacktest_Insolvency(t *testing.T) {
	strat := &MockStrategy{buyOnTick: 1, quantity: 100}
	prices := priceSeries(10, 9.5, 9, 8.5, 8, 7.5)
	engine, err := NewEngine(testConfig(1.0, 1), strat, prices, &mockLogger{})
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Insolvent)
	assert.Less(t, engine.Steps(), prices.Len(), "terminated before the series was exhausted")
	assert.Less(t, result.FinalValue, 1.0)
	assert.Empty(t, engine.Ledger().Orders())
	require.Len(t, result.Orders, 1)

	last, ok := engine.Ledger().FundsHistory.Last()
	require.True(t, ok)
	assert.Less(t, last.Item, 0.0)
	// The insolvent tick is logged in funds history only.
	assert.Equal(t, engine.Ledger().FundsHistory.Len()-1, engine.Ledger().ProfitLoss.Len())
}

func TestBacktest_InsolvencyWithBracketOrders(t *testing.T) {
	strat := &MockStrategy{buyOnTick: 1, quantity: 100, bracket: true}
	engine, err := NewEngine(testConfig(50, 1), strat, priceSeries(10, 10, 10), &mockLogger{})
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Insolvent, "bracket margin counts against available funds")
	assert.Empty(t, engine.Ledger().ComplexOrders())
}

func TestBacktest_BracketSettledByEngine(t *testing.T) {
	strat := &MockStrategy{buyOnTick: 1, quantity: 10, bracket: true}
	engine, err := NewEngine(testConfig(10000, 1), strat, priceSeries(100, 100.5, 102.5, 103), &mockLogger{})
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Orders, 1)
	assert.Equal(t, domain.CloseReasonTakeProfit, result.Orders[0].CloseReason)
	assert.Equal(t, 102.0, result.Orders[0].ClosePrice)
	assert.InDelta(t, 20.0, result.PL, 1e-9)

	pl := engine.Ledger().ProfitLoss.Values()
	commission := domain.Commission(10)
	assert.InDelta(t, -commission, pl[0], 1e-9)
	assert.InDelta(t, 20-commission, pl[2], 1e-9)
	assert.Zero(t, pl[3], "settled bracket no longer marked")
}

func TestBacktest_Errors(t *testing.T) {
	errBoom := errors.New("boom")

	_, err := NewEngine(testConfig(1000, 1), nil, priceSeries(1), &mockLogger{})
	assert.Error(t, err)

	engine, err := NewEngine(testConfig(1000, 1), &MockStrategy{startErr: errBoom}, priceSeries(1), &mockLogger{})
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	assert.ErrorIs(t, err, errBoom)

	engine, err = NewEngine(testConfig(1000, 1), &MockStrategy{tickErr: errBoom}, priceSeries(1), &mockLogger{})
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	assert.ErrorIs(t, err, errBoom)

	engine, err = NewEngine(testConfig(1000, 0), &MockStrategy{}, priceSeries(1), &mockLogger{})
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine, err = NewEngine(testConfig(1000, 1), &MockStrategy{}, priceSeries(1, 2), &mockLogger{})
	require.NoError(t, err)
	_, err = engine.Run(ctx)
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
}

// memBarSource serves 5-minute bars for the ORB strategy.
type memBarSource struct {
	bars []*domain.Bar
	pos  int
}

func (m *memBarSource) NextBar(ctx context.Context, symbol, timeframe string, date time.Time) (*domain.Bar, error) {
	if m.pos >= len(m.bars) {
		return nil, ports.ErrNoMoreData
	}
	b := m.bars[m.pos]
	m.pos++
	return b, nil
}

func TestBacktest_ORBEndToEnd(t *testing.T) {
	fiveMin := &memBarSource{}
	for i, hl := range [][2]float64{{100, 98}, {99.5, 97}, {99, 98.5}} {
		ts := base.Add(time.Duration(5*i) * time.Minute)
		fiveMin.bars = append(fiveMin.bars, domain.NewBar("AAPL", domain.Timeframe5m, ts, hl[1], hl[0], hl[1], hl[0]))
	}

	oneMin := series.New[domain.Bar]()
	add := func(minute int, high, low, close float64) {
		ts := base.Add(time.Duration(minute) * time.Minute)
		oneMin.Append(*domain.NewBar("AAPL", domain.Timeframe1m, ts, close, high, low, close), ts)
	}
	add(5, 101, 98, 100.5) // inside the opening window, ignored
	add(15, 100, 99, 99.8)
	add(16, 101.2, 100, 101)   // candidate
	add(17, 102.1, 101, 102)   // breakout confirmed
	add(18, 102.5, 101.5, 102) // low holds above the retest level
	add(19, 103, 102, 103)
	add(20, 104, 103, 104)

	cfg := orb.DefaultConfig()
	cfg.Location = time.UTC
	st := orb.NewSymbolTradingState("AAPL", base)
	strat, err := orb.NewStrategy(cfg, fiveMin, st, nil, &mockLogger{}, false)
	require.NoError(t, err)

	engine, err := NewEngine(testConfig(100000, 1), strat, oneMin, &mockLogger{})
	require.NoError(t, err)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, orb.SetupComplete, st.CurrentState)
	require.NotNil(t, st.Setup)
	assert.Equal(t, orb.RetestShallow, st.Setup.Kind)

	require.Len(t, result.Orders, 1)
	o := result.Orders[0]
	assert.Equal(t, 100, o.Amount)
	assert.InDelta(t, 100.01, o.OpenPrice, 1e-9)
	assert.Equal(t, 104.0, o.ClosePrice)
	assert.InDelta(t, (104-100.01)*100, result.PL, 1e-6)
}

func TestBacktest_ORBIgnoresOvernightBars(t *testing.T) {
	midnight := base.Truncate(24 * time.Hour)
	fiveMin := &memBarSource{}
	for _, minute := range []int{0, 5, 10} {
		ts := midnight.Add(time.Duration(minute) * time.Minute)
		fiveMin.bars = append(fiveMin.bars, domain.NewBar("AAPL", domain.Timeframe5m, ts, 50, 51, 49, 50))
	}
	for i, high := range []float64{100, 101, 102} {
		ts := base.Add(time.Duration(5*i) * time.Minute)
		fiveMin.bars = append(fiveMin.bars, domain.NewBar("AAPL", domain.Timeframe5m, ts, 99, high, 98, 99))
	}

	oneMin := series.New[domain.Bar]()
	for _, minute := range []int{15, 20} {
		ts := midnight.Add(time.Duration(minute) * time.Minute)
		oneMin.Append(*domain.NewBar("AAPL", domain.Timeframe1m, ts, 52, 53, 51, 52), ts)
	}
	ts := base.Add(20 * time.Minute)
	oneMin.Append(*domain.NewBar("AAPL", domain.Timeframe1m, ts, 101, 101.5, 100.5, 101), ts)

	cfg := orb.DefaultConfig()
	cfg.Location = time.UTC
	st := orb.NewSymbolTradingState("AAPL", base)
	strat, err := orb.NewStrategy(cfg, fiveMin, st, nil, &mockLogger{}, false)
	require.NoError(t, err)

	engine, err := NewEngine(testConfig(100000, 1), strat, oneMin, &mockLogger{})
	require.NoError(t, err)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, st.OpeningRange.High.Equal(decimal.NewFromInt(102)), "high %s", st.OpeningRange.High)
	assert.True(t, st.OpeningRange.Low.Equal(decimal.NewFromInt(98)), "low %s", st.OpeningRange.Low)
	assert.Equal(t, base.Add(15*time.Minute), st.BreakoutStartTime)
	assert.Equal(t, orb.MonitoringForBreakout, st.CurrentState)
	assert.Empty(t, result.Orders)
}
