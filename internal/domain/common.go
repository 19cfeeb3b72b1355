package domain

import "time"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() int {
	if s == Sell {
		return -1
	}
	return 1
}

// Timeframes served by bar sources.
const (
	Timeframe1m = "1m"
	Timeframe5m = "5m"
)

// CloseReason indicates why an order was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonMarket     CloseReason = "Market"      // Closed by an explicit close call
	CloseReasonEndOfData  CloseReason = "END_OF_DATA" // Forced close when the replay finishes
	CloseReasonUnknown    CloseReason = "Unknown"
)

// TradingDate truncates t to midnight of its calendar day, in t's location.
func TradingDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameTradingDay reports whether a and b fall on the same calendar day in loc.
func SameTradingDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
