package domain

import "time"

// Order is an open position recorded by the ledger.
// Amount is signed: positive for long, negative for short.
type Order struct {
	ID         int64
	Instrument string
	OpenTime   time.Time
	OpenPrice  float64
	Amount     int
}

// PL returns the unrealized profit or loss of the order at price.
func (o *Order) PL(price float64) float64 {
	return (price - o.OpenPrice) * float64(o.Amount)
}

// Margin returns the funds the order ties up under the given leverage.
func (o *Order) Margin(leverage float64) float64 {
	return float64(abs(o.Amount)) * o.OpenPrice / leverage
}

// ClosedOrder is an order together with its exit. It is created once, by the
// ledger's close operation, and never mutated afterwards.
type ClosedOrder struct {
	Order
	ClosePrice  float64
	CloseTime   time.Time
	CloseReason CloseReason
}

// PL returns the realized profit or loss.
func (c *ClosedOrder) PL() float64 {
	return (c.ClosePrice - c.OpenPrice) * float64(c.Amount)
}

// ComplexOrder is a bracket order: an open order with stop-loss and
// take-profit exits fixed at creation time.
type ComplexOrder struct {
	Order
	StopLossPrice   float64
	TakeProfitPrice float64
}

// Exit reports whether price touches one of the bracket levels and, if so,
// the level it exits at. The stop is checked first.
func (c *ComplexOrder) Exit(price float64) (float64, CloseReason, bool) {
	switch {
	case price <= c.StopLossPrice:
		return c.StopLossPrice, CloseReasonStopLoss, true
	case price >= c.TakeProfitPrice:
		return c.TakeProfitPrice, CloseReasonTakeProfit, true
	default:
		return 0, "", false
	}
}

// Commission returns the fee charged for opening or closing amount units.
func Commission(amount int) float64 {
	return CommissionBase + float64(abs(amount))*CommissionPerUnit
}

// Commission schedule applied on every open and every close.
const (
	CommissionBase    = 1.0
	CommissionPerUnit = 0.005
)

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
