package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...ports.Fields) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...ports.Fields)  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...ports.Fields)  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

var testDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func sampleRun(symbol string, created time.Time) *domain.BacktestRun {
	open := testDate.Add(9*time.Hour + 48*time.Minute)
	return &domain.BacktestRun{
		Symbol:     symbol,
		TestDate:   testDate,
		Leverage:   2,
		FinalState: "SETUP_COMPLETE",
		CreatedAt:  created,
		Result: &domain.BacktestResult{
			PL:          399,
			InitialFund: 100000,
			FinalValue:  100399,
			Commissions: 3,
			Orders: []*domain.ClosedOrder{
				{
					Order:       domain.Order{ID: 1, Instrument: symbol, OpenTime: open, OpenPrice: 100.01, Amount: 100},
					ClosePrice:  104,
					CloseTime:   open.Add(6 * time.Hour),
					CloseReason: domain.CloseReasonEndOfData,
				},
				{
					Order:       domain.Order{ID: 2, Instrument: symbol, OpenTime: open, OpenPrice: 100.01, Amount: -5},
					ClosePrice:  99,
					CloseTime:   open.Add(time.Hour),
					CloseReason: domain.CloseReasonStopLoss,
				},
			},
		},
	}
}

func TestRepository_SaveAndFindRun(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	run := sampleRun("AAPL", time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC))
	id, err := repo.SaveRun(ctx, run)
	require.NoError(t, err)
	assert.Len(t, id, 26)
	assert.Equal(t, id, run.ID)

	got, err := repo.FindRun(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.True(t, got.TestDate.Equal(testDate))
	assert.True(t, got.CreatedAt.Equal(run.CreatedAt))
	assert.Equal(t, 2.0, got.Leverage)
	assert.Equal(t, "SETUP_COMPLETE", got.FinalState)
	assert.Equal(t, 399.0, got.Result.PL)
	assert.Equal(t, 100399.0, got.Result.FinalValue)
	assert.False(t, got.Result.Insolvent)

	require.Len(t, got.Result.Orders, 2)
	first := got.Result.Orders[0]
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, 100, first.Amount)
	assert.Equal(t, 100.01, first.OpenPrice)
	assert.Equal(t, domain.CloseReasonEndOfData, first.CloseReason)
	assert.True(t, first.CloseTime.Equal(run.Result.Orders[0].CloseTime))
	assert.Equal(t, -5, got.Result.Orders[1].Amount)
	assert.InDelta(t, run.Result.Orders[1].PL(), got.Result.Orders[1].PL(), 1e-9)
}

func TestRepository_FindRunNotFound(t *testing.T) {
	repo := setupTestDB(t)
	got, err := repo.FindRun(context.Background(), "01HQ0000000000000000000000")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_SaveRunValidation(t *testing.T) {
	repo := setupTestDB(t)
	_, err := repo.SaveRun(context.Background(), &domain.BacktestRun{Symbol: "AAPL"})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestRepository_ListRuns(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i, symbol := range []string{"AAPL", "MSFT", "TSLA"} {
		id, err := repo.SaveRun(ctx, sampleRun(symbol, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	insolvent := sampleRun("NVDA", base.Add(3*time.Second))
	insolvent.Result.Insolvent = true
	insolvent.Result.Orders = nil
	_, err := repo.SaveRun(ctx, insolvent)
	require.NoError(t, err)

	runs, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "NVDA", runs[0].Symbol, "newest first")
	assert.True(t, runs[0].Result.Insolvent)
	assert.Equal(t, "TSLA", runs[1].Symbol)
	assert.Nil(t, runs[1].Result.Orders)

	all, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, ids[0], all[3].ID)

	orders, err := repo.FindClosedOrders(ctx, ids[1])
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	orders, err = repo.FindClosedOrders(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, orders)
}
