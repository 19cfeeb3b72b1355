package app

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...ports.Fields) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockBarSource serves scripted bars per symbol and timeframe. A nil entry is
// a data gap; an exhausted script returns ErrNoMoreData.
type mockBarSource struct {
	mu    sync.Mutex
	bars  map[string][]*domain.Bar
	errs  map[string]error
	calls map[string]int
}

func newMockBarSource() *mockBarSource {
	return &mockBarSource{
		bars:  make(map[string][]*domain.Bar),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func key(symbol, timeframe string) string { return symbol + "|" + timeframe }

func (m *mockBarSource) script(symbol, timeframe string, bars ...*domain.Bar) {
	m.bars[key(symbol, timeframe)] = append(m.bars[key(symbol, timeframe)], bars...)
}

func (m *mockBarSource) NextBar(ctx context.Context, symbol, timeframe string, date time.Time) (*domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(symbol, timeframe)
	m.calls[k]++
	if err := m.errs[k]; err != nil {
		return nil, err
	}
	queue := m.bars[k]
	if len(queue) == 0 {
		return nil, ports.ErrNoMoreData
	}
	m.bars[k] = queue[1:]
	return queue[0], nil
}

func (m *mockBarSource) callCount(symbol, timeframe string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key(symbol, timeframe)]
}

type placedOrder struct {
	symbol   string
	quantity int
	price    float64
}

type mockExecutor struct {
	mu     sync.Mutex
	orders []placedOrder
	err    error
}

func (m *mockExecutor) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity int, price float64) (*ports.OrderConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.orders = append(m.orders, placedOrder{symbol: symbol, quantity: quantity, price: price})
	return &ports.OrderConfirmation{
		OrderID:  strconv.Itoa(len(m.orders)),
		Symbol:   symbol,
		Side:     string(side),
		Quantity: float64(quantity),
		Price:    price,
		Status:   "NEW",
	}, nil
}

var errFeedDown = errors.New("feed down")
