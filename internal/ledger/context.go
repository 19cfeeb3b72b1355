package ledger

import (
	"fmt"
	"slices"
	"time"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
	"orbBot/internal/series"
)

// Config holds the parameters a TradingContext is bound to.
type Config struct {
	Symbol           string
	Instruments      []string
	InitialFunds     float64
	Leverage         float64
	StopLossOffset   float64 // Bracket stop distance below the entry price
	TakeProfitOffset float64 // Bracket take-profit distance above the entry price
}

// TradingContext is the ledger of a single trading task. It tracks open,
// bracket and closed orders, realized P&L, commissions and the current
// market price, and records history logs as time series.
//
// A TradingContext is owned by exactly one goroutine and is not safe for
// concurrent use.
type TradingContext struct {
	cfg Config

	currentPrice   float64
	currentInstant time.Time

	nextID        int64
	orders        []*domain.Order
	complexOrders []*domain.ComplexOrder
	closedOrders  []*domain.ClosedOrder
	closedPL      float64
	commissions   float64

	ProfitLoss    *series.Series[float64]    // OnTickPL per tick
	FundsHistory  *series.Series[float64]    // Available funds per tick
	MarketHistory *series.Series[domain.Bar] // Bars replayed so far
}

// New creates an empty ledger.
func New(cfg Config) (*TradingContext, error) {
	if cfg.Leverage <= 0 {
		return nil, fmt.Errorf("leverage must be positive, got %v: %w", cfg.Leverage, ports.ErrConfigurationError)
	}
	if cfg.InitialFunds < 0 {
		return nil, fmt.Errorf("initial funds cannot be negative, got %v: %w", cfg.InitialFunds, ports.ErrConfigurationError)
	}
	if len(cfg.Instruments) == 0 && cfg.Symbol != "" {
		cfg.Instruments = []string{cfg.Symbol}
	}
	return &TradingContext{
		cfg:           cfg,
		ProfitLoss:    series.New[float64](),
		FundsHistory:  series.New[float64](),
		MarketHistory: series.New[domain.Bar](),
	}, nil
}

// Symbol returns the symbol the ledger trades.
func (tc *TradingContext) Symbol() string { return tc.cfg.Symbol }

// Instruments returns the instruments the ledger is bound to.
func (tc *TradingContext) Instruments() []string { return slices.Clone(tc.cfg.Instruments) }

// InitialFunds returns the starting deposit.
func (tc *TradingContext) InitialFunds() float64 { return tc.cfg.InitialFunds }

// Leverage returns the margin leverage.
func (tc *TradingContext) Leverage() float64 { return tc.cfg.Leverage }

// CurrentPrice returns the last price set on the ledger.
func (tc *TradingContext) CurrentPrice() float64 { return tc.currentPrice }

// CurrentInstant returns the time of the last price set on the ledger.
func (tc *TradingContext) CurrentInstant() time.Time { return tc.currentInstant }

// SetMarket updates the current price and instant. Callers must do this
// before logging or invoking the strategy for a tick.
func (tc *TradingContext) SetMarket(price float64, at time.Time) {
	tc.currentPrice = price
	tc.currentInstant = at
}

// Orders returns the currently open orders in the order they were placed.
func (tc *TradingContext) Orders() []*domain.Order { return slices.Clone(tc.orders) }

// ComplexOrders returns the active bracket orders.
func (tc *TradingContext) ComplexOrders() []*domain.ComplexOrder {
	return slices.Clone(tc.complexOrders)
}

// ClosedOrders returns every order closed so far, oldest first.
func (tc *TradingContext) ClosedOrders() []*domain.ClosedOrder {
	return slices.Clone(tc.closedOrders)
}

// ClosedPL returns the running realized P&L.
func (tc *TradingContext) ClosedPL() float64 { return tc.closedPL }

// Commissions returns the running commission total.
func (tc *TradingContext) Commissions() float64 { return tc.commissions }

// Order opens a position of amount units at price. Sells are recorded with a
// negative amount. Funds are not checked here.
func (tc *TradingContext) Order(instrument string, isBuy bool, amount int, price float64) *domain.Order {
	side := domain.Buy
	if !isBuy {
		side = domain.Sell
	}
	o := tc.newOrder(instrument, side.Sign()*abs(amount), price)
	tc.orders = append(tc.orders, o)
	return o
}

// ComplexOrder opens a long bracket order whose stop-loss and take-profit are
// derived from the configured offsets.
func (tc *TradingContext) ComplexOrder(instrument string, amount int, price float64) *domain.ComplexOrder {
	co := &domain.ComplexOrder{
		Order:           *tc.newOrder(instrument, abs(amount), price),
		StopLossPrice:   price - tc.cfg.StopLossOffset,
		TakeProfitPrice: price + tc.cfg.TakeProfitOffset,
	}
	tc.complexOrders = append(tc.complexOrders, co)
	return co
}

func (tc *TradingContext) newOrder(instrument string, signedAmount int, price float64) *domain.Order {
	tc.nextID++
	tc.commissions += domain.Commission(signedAmount)
	return &domain.Order{
		ID:         tc.nextID,
		Instrument: instrument,
		OpenTime:   tc.currentInstant,
		OpenPrice:  price,
		Amount:     signedAmount,
	}
}

// Close closes an open order at the current price and instant.
// It fails with ErrOrderNotOpen if the order is not in the open set, which
// indicates the caller's bookkeeping has diverged from the ledger.
func (tc *TradingContext) Close(order *domain.Order) (*domain.ClosedOrder, error) {
	if order == nil {
		return nil, fmt.Errorf("close: nil order: %w", ports.ErrOrderNotOpen)
	}
	idx := slices.IndexFunc(tc.orders, func(o *domain.Order) bool { return o.ID == order.ID })
	if idx < 0 {
		return nil, fmt.Errorf("close: order %d: %w", order.ID, ports.ErrOrderNotOpen)
	}
	open := tc.orders[idx]
	tc.orders = slices.Delete(tc.orders, idx, idx+1)
	return tc.settle(open, tc.currentPrice, domain.CloseReasonMarket), nil
}

// SettleComplex realizes the first bracket order if the current price touches
// its stop or take-profit, removing it from the active set. It returns false
// when there is no bracket order or neither level was touched.
func (tc *TradingContext) SettleComplex() (*domain.ClosedOrder, bool) {
	if len(tc.complexOrders) == 0 {
		return nil, false
	}
	first := tc.complexOrders[0]
	exit, reason, ok := first.Exit(tc.currentPrice)
	if !ok {
		return nil, false
	}
	tc.complexOrders = tc.complexOrders[1:]
	return tc.settle(&first.Order, exit, reason), true
}

// CloseAll force-closes every open and bracket order at the current price.
func (tc *TradingContext) CloseAll(reason domain.CloseReason) []*domain.ClosedOrder {
	closed := make([]*domain.ClosedOrder, 0, len(tc.orders)+len(tc.complexOrders))
	for _, o := range tc.orders {
		closed = append(closed, tc.settle(o, tc.currentPrice, reason))
	}
	for _, co := range tc.complexOrders {
		closed = append(closed, tc.settle(&co.Order, tc.currentPrice, reason))
	}
	tc.orders = nil
	tc.complexOrders = nil
	return closed
}

// settle is the only place realized P&L changes.
func (tc *TradingContext) settle(o *domain.Order, price float64, reason domain.CloseReason) *domain.ClosedOrder {
	c := &domain.ClosedOrder{
		Order:       *o,
		ClosePrice:  price,
		CloseTime:   tc.currentInstant,
		CloseReason: reason,
	}
	tc.closedOrders = append(tc.closedOrders, c)
	tc.closedPL += c.PL()
	tc.commissions += domain.Commission(o.Amount)
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
