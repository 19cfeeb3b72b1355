package domain

import "time"

// BacktestResult is the summary produced once a replay terminates.
type BacktestResult struct {
	PL          float64        // Realized P&L (closedPl)
	Orders      []*ClosedOrder // Every order closed during the run, forced closes included
	InitialFund float64
	FinalValue  float64 // InitialFund + PL
	Commissions float64
	Insolvent   bool // Replay stopped because available funds went negative
}

// BacktestRun is a persisted backtest result for one (symbol, trading day).
type BacktestRun struct {
	ID         string // ULID assigned by the repository
	Symbol     string
	TestDate   time.Time
	Leverage   float64
	FinalState string // Final ORB state of the symbol
	Result     *BacktestResult
	CreatedAt  time.Time
}
