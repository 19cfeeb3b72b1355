package orb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
)

type mockLogger struct {
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...ports.Fields) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...ports.Fields) {
	m.infoMsgs = append(m.infoMsgs, msg)
}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...ports.Fields) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

type placedOrder struct {
	symbol   string
	side     domain.OrderSide
	quantity int
	price    float64
}

type mockExecutor struct {
	orders []placedOrder
	err    error
}

func (m *mockExecutor) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity int, price float64) (*ports.OrderConfirmation, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.orders = append(m.orders, placedOrder{symbol: symbol, side: side, quantity: quantity, price: price})
	return &ports.OrderConfirmation{OrderID: fmt.Sprint(len(m.orders)), Symbol: symbol, Status: "NEW"}, nil
}

type mockSink struct {
	lines map[string][]string
	err   error
}

func (m *mockSink) Write(line, destination string) error {
	if m.err != nil {
		return m.err
	}
	if m.lines == nil {
		m.lines = make(map[string][]string)
	}
	m.lines[destination] = append(m.lines[destination], line)
	return nil
}

var errSinkDown = errors.New("sink down")

// mockBarSource serves pre-loaded bars per timeframe.
type mockBarSource struct {
	bars map[string][]*domain.Bar
	pos  map[string]int
	err  error
}

func (m *mockBarSource) NextBar(ctx context.Context, symbol, timeframe string, date time.Time) (*domain.Bar, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.pos == nil {
		m.pos = make(map[string]int)
	}
	i := m.pos[timeframe]
	if i >= len(m.bars[timeframe]) {
		return nil, ports.ErrNoMoreData
	}
	m.pos[timeframe] = i + 1
	return m.bars[timeframe][i], nil
}
