package sqlite

import (
	"context"
	cryptoRand "crypto/rand"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/oklog/ulid/v2"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
)

// Repository implements ports.BacktestRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger

	idMu    sync.Mutex
	entropy io.Reader
}

var _ ports.BacktestRepository = (*Repository)(nil)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/backtests.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1) // Parallel backtests serialize their writes through one connection
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", ports.Fields{"path": dbPath})

	// Seed a PRNG from crypto/rand; monotonic entropy keeps IDs created in the
	// same millisecond sorted.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	repo := &Repository{
		db:      db,
		logger:  cfg.Logger,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
	}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS backtest_runs (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		test_date TIMESTAMP NOT NULL,
		leverage REAL NOT NULL,
		final_state TEXT NOT NULL,
		pl REAL NOT NULL,
		initial_fund REAL NOT NULL,
		final_value REAL NOT NULL,
		commissions REAL NOT NULL,
		insolvent INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS closed_orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES backtest_runs (id),
		order_id INTEGER NOT NULL,
		instrument TEXT NOT NULL,
		amount INTEGER NOT NULL,
		open_price REAL NOT NULL,
		open_time TIMESTAMP NOT NULL,
		close_price REAL NOT NULL,
		close_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL
	);
	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_backtest_runs_symbol_date ON backtest_runs (symbol, test_date);
	CREATE INDEX IF NOT EXISTS idx_closed_orders_run ON closed_orders (run_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

func (r *Repository) newID(at time.Time) (string, error) {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), r.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// SaveRun stores the run and its closed orders in one transaction and
// returns the assigned ID. run.ID and a zero run.CreatedAt are filled in.
func (r *Repository) SaveRun(ctx context.Context, run *domain.BacktestRun) (string, error) {
	if run == nil || run.Result == nil {
		return "", fmt.Errorf("save run: missing result: %w", ports.ErrInvalidRequest)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	id, err := r.newID(run.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w: %w", ports.ErrDBConnection, err)
	}
	defer tx.Rollback() // No-op after commit

	const runQuery = `
	INSERT INTO backtest_runs (id, symbol, test_date, leverage, final_state, pl, initial_fund,
	                           final_value, commissions, insolvent, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res := run.Result
	if _, err := tx.ExecContext(ctx, runQuery,
		id, run.Symbol, run.TestDate.UTC(), run.Leverage, run.FinalState, res.PL, res.InitialFund,
		res.FinalValue, res.Commissions, res.Insolvent, run.CreatedAt.UTC()); err != nil {
		return "", fmt.Errorf("failed to insert backtest run for symbol %s: %w: %w", run.Symbol, ports.ErrQueryFailed, err)
	}

	const orderQuery = `
	INSERT INTO closed_orders (run_id, order_id, instrument, amount, open_price, open_time,
	                           close_price, close_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, orderQuery)
	if err != nil {
		return "", fmt.Errorf("failed to prepare closed order insert: %w: %w", ports.ErrQueryFailed, err)
	}
	defer stmt.Close()
	for _, o := range res.Orders {
		if _, err := stmt.ExecContext(ctx,
			id, o.ID, o.Instrument, o.Amount, o.OpenPrice, o.OpenTime.UTC(),
			o.ClosePrice, o.CloseTime.UTC(), string(o.CloseReason)); err != nil {
			return "", fmt.Errorf("failed to insert closed order %d for run %s: %w: %w", o.ID, id, ports.ErrQueryFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit backtest run %s: %w: %w", id, ports.ErrQueryFailed, err)
	}
	run.ID = id
	r.logger.Debug(ctx, "Backtest run saved", ports.Fields{"runID": id, "symbol": run.Symbol, "orders": len(res.Orders)})
	return id, nil
}

const runColumns = `id, symbol, test_date, leverage, final_state, pl, initial_fund,
	       final_value, commissions, insolvent, created_at`

// FindRun retrieves a run with its closed orders. Returns nil, nil if not found.
func (r *Repository) FindRun(ctx context.Context, id string) (*domain.BacktestRun, error) {
	query := `SELECT ` + runColumns + ` FROM backtest_runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Backtest run not found", ports.Fields{"runID": id})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query backtest run %s: %w: %w", id, ports.ErrQueryFailed, err)
	}

	orders, err := r.FindClosedOrders(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Result.Orders = orders
	return run, nil
}

// ListRuns retrieves the most recent runs, newest first, without their orders.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*domain.BacktestRun, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `SELECT ` + runColumns + ` FROM backtest_runs ORDER BY id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	runs := make([]*domain.BacktestRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backtest run during ListRuns: %w", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backtest run rows: %w", err)
	}
	return runs, nil
}

// FindClosedOrders retrieves the closed orders of a run in close order.
func (r *Repository) FindClosedOrders(ctx context.Context, runID string) ([]*domain.ClosedOrder, error) {
	const query = `
	SELECT order_id, instrument, amount, open_price, open_time, close_price, close_time, close_reason
	FROM closed_orders
	WHERE run_id = ? ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed orders for run %s: %w: %w", runID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	orders := make([]*domain.ClosedOrder, 0)
	for rows.Next() {
		o, err := scanClosedOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan closed order for run %s: %w", runID, err)
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating closed order rows: %w", err)
	}
	return orders, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRun scans a row into a domain.BacktestRun with an order-less result.
func scanRun(s scanner) (*domain.BacktestRun, error) {
	run := &domain.BacktestRun{Result: &domain.BacktestResult{}}
	res := run.Result
	err := s.Scan(
		&run.ID, &run.Symbol, &run.TestDate, &run.Leverage, &run.FinalState, &res.PL, &res.InitialFund,
		&res.FinalValue, &res.Commissions, &res.Insolvent, &run.CreatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	return run, nil
}

// scanClosedOrder scans a row into a domain.ClosedOrder.
func scanClosedOrder(s scanner) (*domain.ClosedOrder, error) {
	o := &domain.ClosedOrder{}
	var closeReason sql.NullString
	err := s.Scan(
		&o.ID, &o.Instrument, &o.Amount, &o.OpenPrice, &o.OpenTime,
		&o.ClosePrice, &o.CloseTime, &closeReason)
	if err != nil {
		return nil, err
	}
	if closeReason.Valid && closeReason.String != "" {
		o.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		o.CloseReason = domain.CloseReasonUnknown // Default if NULL
	}
	return o, nil
}
