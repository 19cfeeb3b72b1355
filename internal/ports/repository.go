package ports

import (
	"context"

	"orbBot/internal/domain"
)

// BacktestRepository stores and retrieves finished backtest runs.
type BacktestRepository interface {
	// SaveRun persists a run with its closed orders and returns the assigned ID.
	SaveRun(ctx context.Context, run *domain.BacktestRun) (string, error)
	// FindRun retrieves a run (including its closed orders) by ID.
	// Returns nil, nil if not found.
	FindRun(ctx context.Context, id string) (*domain.BacktestRun, error)
	// ListRuns retrieves the most recent runs, newest first, without their orders.
	ListRuns(ctx context.Context, limit int) ([]*domain.BacktestRun, error)
	// FindClosedOrders retrieves the closed orders recorded for a run.
	FindClosedOrders(ctx context.Context, runID string) ([]*domain.ClosedOrder, error)
}
