package ledger

import (
	"context"
	"strconv"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
)

// Executor fills orders directly into a TradingContext. It is the backtest
// counterpart of the exchange adapter.
type Executor struct {
	tc      *TradingContext
	bracket bool
}

// NewExecutor creates an executor for tc. With bracket set, buys are opened
// as complex orders carrying the ledger's stop-loss and take-profit offsets.
func NewExecutor(tc *TradingContext, bracket bool) *Executor {
	return &Executor{tc: tc, bracket: bracket}
}

// PlaceOrder opens the order at price and confirms it as filled.
func (e *Executor) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity int, price float64) (*ports.OrderConfirmation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var id int64
	if e.bracket && side == domain.Buy {
		id = e.tc.ComplexOrder(symbol, quantity, price).ID
	} else {
		id = e.tc.Order(symbol, side == domain.Buy, quantity, price).ID
	}
	return &ports.OrderConfirmation{
		OrderID:   strconv.FormatInt(id, 10),
		Symbol:    symbol,
		Side:      string(side),
		Quantity:  float64(quantity),
		Price:     price,
		Status:    "FILLED",
		Timestamp: e.tc.CurrentInstant(),
	}, nil
}
