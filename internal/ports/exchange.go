package ports

import (
	"context"
	"time"

	"orbBot/internal/domain"
)

// BarSource supplies bars per (symbol, timeframe, trading date) in
// chronological order.
type BarSource interface {
	// NextBar returns the next bar after the last one served for the key.
	// It returns (nil, nil) when no new bar is available yet and
	// ErrNoMoreData once the stream for that date is exhausted.
	NextBar(ctx context.Context, symbol, timeframe string, date time.Time) (*domain.Bar, error)
}

// OrderConfirmation represents the essential details returned after placing an order.
type OrderConfirmation struct {
	OrderID   string    // Venue order ID (ledger ID in backtests)
	Symbol    string    // Symbol for the order
	Side      string    // Order side (BUY, SELL)
	Quantity  float64   // Quantity requested
	Price     float64   // Limit price of the order
	Status    string    // Order status (e.g., NEW, FILLED)
	Timestamp time.Time // Time the confirmation was generated
}

// OrderExecutor routes orders to a venue. Implementations must not retry;
// the caller decides what to do with an error.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity int, price float64) (*OrderConfirmation, error)
}
