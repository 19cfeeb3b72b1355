package analytics

import (
	"math"
	"sort"
	"time"

	"orbBot/internal/domain"
	"orbBot/internal/series"
)

// PerformanceMetrics holds performance metrics for a backtest run
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	GrossProfit        float64
	GrossLoss          float64
	NetProfit          float64
	Commissions        float64
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64
	FinalValue         float64
	ReturnOnInvestment float64
	Insolvent          bool

	// Advanced Metrics
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	Expectancy           float64
	CloseReasons         map[domain.CloseReason]int
	MonthlyReturns       map[string]float64

	// Funds history metrics
	MaxDrawdown float64 // Largest peak-to-trough fall as a fraction of the peak
	Drawdowns   []Drawdown
	EquityCurve []EquityPoint
}

// Drawdown represents a drawdown period of the available funds
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// Analyze calculates performance metrics from a backtest result and the
// per-tick available funds recorded by the ledger. fundsHistory may be nil.
func Analyze(result *domain.BacktestResult, fundsHistory *series.Series[float64]) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		CloseReasons:   make(map[domain.CloseReason]int),
		MonthlyReturns: make(map[string]float64),
		Drawdowns:      make([]Drawdown, 0),
		EquityCurve:    make([]EquityPoint, 0),
	}
	if result == nil {
		return metrics
	}
	metrics.FinalValue = result.FinalValue
	metrics.Commissions = result.Commissions
	metrics.Insolvent = result.Insolvent
	if result.InitialFund > 0 {
		metrics.ReturnOnInvestment = (result.FinalValue - result.InitialFund) / result.InitialFund
	}

	analyzeTrades(metrics, result.Orders)
	if fundsHistory != nil {
		analyzeFunds(metrics, fundsHistory)
	}
	return metrics
}

func analyzeTrades(metrics *PerformanceMetrics, orders []*domain.ClosedOrder) {
	if len(orders) == 0 {
		return
	}

	// Sort by close time without touching the caller's slice
	sorted := make([]*domain.ClosedOrder, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CloseTime.Before(sorted[j].CloseTime)
	})

	var consecutiveWins, consecutiveLosses int
	var totalDuration time.Duration
	for _, o := range sorted {
		pl := o.PL()
		metrics.TotalTrades++
		metrics.CloseReasons[o.CloseReason]++
		metrics.MonthlyReturns[o.CloseTime.Format("2006-01")] += pl
		totalDuration += o.CloseTime.Sub(o.OpenTime)

		if pl > 0 {
			metrics.WinningTrades++
			metrics.GrossProfit += pl
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			metrics.LosingTrades++
			metrics.GrossLoss += pl
			consecutiveLosses++
			consecutiveWins = 0
		}
		metrics.MaxConsecutiveWins = max(metrics.MaxConsecutiveWins, consecutiveWins)
		metrics.MaxConsecutiveLosses = max(metrics.MaxConsecutiveLosses, consecutiveLosses)
	}

	metrics.NetProfit = metrics.GrossProfit + metrics.GrossLoss
	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	metrics.AverageTradeDuration = totalDuration / time.Duration(metrics.TotalTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.GrossProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = metrics.GrossLoss / float64(metrics.LosingTrades)
	}
	if metrics.GrossLoss != 0 {
		metrics.ProfitFactor = metrics.GrossProfit / -metrics.GrossLoss
	} else if metrics.GrossProfit > 0 {
		metrics.ProfitFactor = math.Inf(1)
	}
	metrics.Expectancy = (metrics.WinRate * metrics.AverageWin) + ((1 - metrics.WinRate) * metrics.AverageLoss)
}

func analyzeFunds(metrics *PerformanceMetrics, fundsHistory *series.Series[float64]) {
	entries := fundsHistory.ToAscending().Entries()
	if len(entries) == 0 {
		return
	}

	peak := entries[0].Item
	var current *Drawdown
	for _, e := range entries {
		value := e.Item
		var depth float64
		if value >= peak {
			peak = value
			if current != nil {
				current.EndTime = e.Instant
				current.EndValue = value
				current.Duration = current.EndTime.Sub(current.StartTime)
				metrics.Drawdowns = append(metrics.Drawdowns, *current)
				current = nil
			}
		} else {
			if peak > 0 {
				depth = (peak - value) / peak
			}
			if current == nil {
				current = &Drawdown{StartTime: e.Instant, StartValue: peak}
			}
			current.Depth = math.Max(current.Depth, depth)
			current.EndValue = value
			metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, depth)
		}
		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{Time: e.Instant, Value: value, Drawdown: depth})
	}

	// Close any open drawdown
	if current != nil {
		current.EndTime = entries[len(entries)-1].Instant
		current.Duration = current.EndTime.Sub(current.StartTime)
		metrics.Drawdowns = append(metrics.Drawdowns, *current)
	}
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{
			Month:  date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}
