package binanceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...ports.Fields) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...ports.Fields)  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...ports.Fields)  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {
}

var sessionDay = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func minute(m int) time.Time { return sessionDay.Add(9*time.Hour + time.Duration(m)*time.Minute) }

// fakeExchange serves 1-minute klines starting at 09:30 and records orders.
type fakeExchange struct {
	mu       sync.Mutex
	closes   []float64
	orders   []map[string]string
	orderErr bool
}

func (f *fakeExchange) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		start, err := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		require.NoError(t, err)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		rows := [][]interface{}{}
		for i, c := range f.closes {
			open := minute(30 + i)
			if open.UnixMilli() < start || (limit > 0 && len(rows) >= limit) {
				continue
			}
			p := strconv.FormatFloat(c, 'f', 2, 64)
			rows = append(rows, []interface{}{
				open.UnixMilli(), p, p, p, p, "10",
				open.Add(time.Minute).UnixMilli() - 1, "1000", 5, "5", "500", "0",
			})
		}
		_ = json.NewEncoder(w).Encode(rows)
	})
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.orderErr {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprint(w, `{"code":-2019,"msg":"Margin is insufficient."}`)
			return
		}
		form := map[string]string{}
		for k := range r.Form {
			form[k] = r.Form.Get(k)
		}
		f.orders = append(f.orders, form)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"orderId":     42,
			"symbol":      form["symbol"],
			"side":        form["side"],
			"price":       form["price"],
			"origQty":     form["quantity"],
			"status":      "NEW",
			"timeInForce": form["timeInForce"],
			"type":        form["type"],
			"updateTime":  minute(47).UnixMilli(),
		})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeExchange, now time.Time) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c, err := New(Config{
		APIKey:      "key",
		SecretKey:   "secret",
		BaseURL:     srv.URL,
		Logger:      &mockLogger{},
		Location:    time.UTC,
		SessionOpen: 9*time.Hour + 30*time.Minute,
	})
	require.NoError(t, err)
	c.now = func() time.Time { return now }
	return c
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNextBar_ServesClosedBarsInOrder(t *testing.T) {
	f := &fakeExchange{closes: []float64{100, 101, 102}}
	now := minute(31).Add(30 * time.Second)
	c := newTestClient(t, f, now)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	b, err := c.NextBar(ctx, "BTCUSDT", domain.Timeframe1m, sessionDay)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Datetime.Equal(minute(30)))
	assert.Equal(t, "100", b.Close.String())
	assert.Equal(t, "BTCUSDT", b.Symbol)

	// 09:31 is still forming.
	b, err = c.NextBar(ctx, "BTCUSDT", domain.Timeframe1m, sessionDay)
	require.NoError(t, err)
	assert.Nil(t, b)

	now = minute(33)
	b, err = c.NextBar(ctx, "BTCUSDT", domain.Timeframe1m, sessionDay)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Datetime.Equal(minute(31)), "no bar is skipped once the cursor exists")

	b, err = c.NextBar(ctx, "BTCUSDT", domain.Timeframe1m, sessionDay)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Datetime.Equal(minute(32)))
}

func TestNextBar_LateStartBeginsAtLatestClosedBar(t *testing.T) {
	f := &fakeExchange{closes: []float64{100, 101, 102, 103}}
	c := newTestClient(t, f, minute(33).Add(10*time.Second))

	b, err := c.NextBar(context.Background(), "BTCUSDT", domain.Timeframe1m, sessionDay)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Datetime.Equal(minute(32)))
}

func TestNextBar_DayOver(t *testing.T) {
	f := &fakeExchange{}
	c := newTestClient(t, f, sessionDay.Add(30*time.Hour))

	_, err := c.NextBar(context.Background(), "BTCUSDT", domain.Timeframe1m, sessionDay)
	assert.ErrorIs(t, err, ports.ErrNoMoreData)
}

func TestNextBar_UnsupportedTimeframe(t *testing.T) {
	c := newTestClient(t, &fakeExchange{}, minute(40))
	_, err := c.NextBar(context.Background(), "BTCUSDT", "1h", sessionDay)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestPlaceOrder(t *testing.T) {
	f := &fakeExchange{}
	c := newTestClient(t, f, minute(47))

	conf, err := c.PlaceOrder(context.Background(), "BTCUSDT", domain.Buy, 3, 100.01)
	require.NoError(t, err)
	assert.Equal(t, "42", conf.OrderID)
	assert.Equal(t, "NEW", conf.Status)
	assert.Equal(t, 100.01, conf.Price)
	assert.Equal(t, 3.0, conf.Quantity)

	require.Len(t, f.orders, 1)
	o := f.orders[0]
	assert.Equal(t, "BUY", o["side"])
	assert.Equal(t, "LIMIT", o["type"])
	assert.Equal(t, "GTC", o["timeInForce"])
	assert.Equal(t, "100.01", o["price"])
	assert.Equal(t, "3", o["quantity"])
}

func TestPlaceOrder_Errors(t *testing.T) {
	f := &fakeExchange{orderErr: true}
	c := newTestClient(t, f, minute(47))

	_, err := c.PlaceOrder(context.Background(), "BTCUSDT", domain.Buy, 3, 100.01)
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)

	_, err = c.PlaceOrder(context.Background(), "BTCUSDT", domain.Buy, 0, 100.01)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestFetchBarsRange(t *testing.T) {
	f := &fakeExchange{closes: []float64{100, 101, 102}}
	c := newTestClient(t, f, minute(40))

	bars, err := c.FetchBarsRange(context.Background(), "BTCUSDT", domain.Timeframe1m, minute(31), minute(40))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "101", bars[0].Close.String())
	assert.Equal(t, domain.Timeframe1m, bars[1].Timeframe)
}
