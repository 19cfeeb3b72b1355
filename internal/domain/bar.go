package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents a single OHLC candle for a symbol.
// Prices are kept as decimals so level comparisons (e.g. high + 0.02) are exact.
type Bar struct {
	Symbol    string          // Trading symbol
	Timeframe string          // Bar interval (e.g., "1m", "5m")
	Datetime  time.Time       // Start time of the interval
	Open      decimal.Decimal // Opening price
	High      decimal.Decimal // Highest price
	Low       decimal.Decimal // Lowest price
	Close     decimal.Decimal // Closing price
	Volume    decimal.Decimal // Traded volume
}

// ClosePrice returns the close as a float64 for ledger arithmetic.
func (b *Bar) ClosePrice() float64 {
	return b.Close.InexactFloat64()
}

// NewBar builds a bar from float prices. Mostly useful in tests and adapters
// that already hold parsed floats.
func NewBar(symbol, timeframe string, at time.Time, open, high, low, close float64) *Bar {
	return &Bar{
		Symbol:    symbol,
		Timeframe: timeframe,
		Datetime:  at,
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
	}
}
