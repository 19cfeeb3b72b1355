package ledger

// PL returns realized P&L plus the unrealized P&L of open and bracket orders
// at the current price, net of commissions.
func (tc *TradingContext) PL() float64 {
	pl := tc.closedPL
	for _, o := range tc.orders {
		pl += o.PL(tc.currentPrice)
	}
	for _, co := range tc.complexOrders {
		pl += co.PL(tc.currentPrice)
	}
	return pl - tc.commissions
}

// OnTickPL marks the first bracket order against the current price: a touch
// of the stop or take-profit realizes the move to that level. The order is
// not removed; see SettleComplex. Returns 0 when no bracket order exists.
func (tc *TradingContext) OnTickPL() float64 {
	if len(tc.complexOrders) == 0 {
		return 0
	}
	first := tc.complexOrders[0]
	var realized float64
	if exit, _, ok := first.Exit(tc.currentPrice); ok {
		realized = (exit - first.OpenPrice) * float64(first.Amount)
	}
	return realized - tc.commissions
}

// NetValue returns the deposit plus total P&L.
func (tc *TradingContext) NetValue() float64 {
	return tc.cfg.InitialFunds + tc.PL()
}

// MarginUsed returns the funds tied up by open and bracket orders under the
// ledger's leverage.
func (tc *TradingContext) MarginUsed() float64 {
	var used float64
	for _, o := range tc.orders {
		used += o.Margin(tc.cfg.Leverage)
	}
	for _, co := range tc.complexOrders {
		used += co.Margin(tc.cfg.Leverage)
	}
	return used
}

// AvailableFunds returns net value minus margin used.
func (tc *TradingContext) AvailableFunds() float64 {
	return tc.NetValue() - tc.MarginUsed()
}
