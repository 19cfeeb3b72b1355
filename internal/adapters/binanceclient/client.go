package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	maxKlinesLimit = 1500
)

var intervals = map[string]time.Duration{
	domain.Timeframe1m: time.Minute,
	domain.Timeframe5m: 5 * time.Minute,
}

// Client implements ports.BarSource and ports.OrderExecutor using the
// go-binance futures API.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	location      *time.Location
	sessionOpen   time.Duration

	mu      sync.Mutex
	cursors map[string]time.Time // Next bar open time per (symbol, timeframe, date)
	now     func() time.Time
}

var (
	_ ports.BarSource     = (*Client)(nil)
	_ ports.OrderExecutor = (*Client)(nil)
)

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey      string
	SecretKey   string
	UseTestnet  bool
	BaseURL     string // Overrides the production/testnet URL when set
	Logger      ports.Logger
	Location    *time.Location // Time zone trading dates are interpreted in
	SessionOpen time.Duration  // Offset from midnight where bar cursors start
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
		// Allow creation for public endpoints, but log warning.
		// Authentication errors will occur if private endpoints are called.
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", ports.Fields{"baseURL": client.BaseURL})
	default:
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", ports.Fields{"baseURL": client.BaseURL})
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		location:      loc,
		sessionOpen:   cfg.SessionOpen,
		cursors:       make(map[string]time.Time),
		now:           time.Now,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := ports.Fields{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2014, -2015: // API-key format invalid / invalid key, IP, or permissions
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019, -3005: // Margin or balance is insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4003, -4014, -4015: // Qty, price or leverage not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4047: // Exceeded the maximum allowable position at current leverage
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", ports.Fields{"symbol": symbol, "leverage": leverage})
	return nil
}

// PlaceOrder places a GTC limit order at price. The order is not retried.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity int, price float64) (*ports.OrderConfirmation, error) {
	op := "PlaceOrder"
	if quantity <= 0 || price <= 0 {
		return nil, fmt.Errorf("%s: quantity %d at %v: %w", op, quantity, price, ports.ErrInvalidRequest)
	}

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)). // Direct conversion, values match
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(strconv.Itoa(quantity)).
		Price(decimal.NewFromFloat(price).StringFixed(2)).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	conf := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", ports.Fields{
		"symbol":   symbol,
		"side":     string(side),
		"quantity": quantity,
		"price":    conf.Price,
		"orderID":  conf.OrderID,
		"status":   conf.Status,
	})
	return conf, nil
}

// NextBar serves closed bars of the trading day of date one at a time. A
// cursor starts at the session open or, when first asked later in the day,
// at the most recently closed bar. It returns (nil, nil) while the next bar
// has not closed yet and ErrNoMoreData once the day is over.
func (c *Client) NextBar(ctx context.Context, symbol, timeframe string, date time.Time) (*domain.Bar, error) {
	op := "NextBar"
	interval, ok := intervals[timeframe]
	if !ok {
		return nil, fmt.Errorf("%s: unsupported timeframe %q: %w", op, timeframe, ports.ErrInvalidRequest)
	}

	dayStart := domain.TradingDate(date.In(c.location))
	dayEnd := dayStart.Add(24 * time.Hour)
	key := fmt.Sprintf("%s|%s|%s", symbol, timeframe, dayStart.Format(time.DateOnly))
	now := c.now()

	c.mu.Lock()
	from, ok := c.cursors[key]
	if !ok {
		from = dayStart.Add(c.sessionOpen)
		if latest := now.Truncate(interval).Add(-interval); latest.After(from) {
			from = latest
		}
		c.cursors[key] = from
	}
	c.mu.Unlock()

	if !from.Before(dayEnd) {
		return nil, ports.ErrNoMoreData
	}
	if from.Add(interval).After(now) {
		return nil, nil // The bar starting at from has not closed yet
	}

	klines, err := c.futuresClient.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		StartTime(from.UnixMilli()).
		EndTime(dayEnd.UnixMilli() - 1).
		Limit(1).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(klines) == 0 {
		if !now.Before(dayEnd) {
			return nil, ports.ErrNoMoreData
		}
		c.logger.Debug(ctx, "No bar available yet", ports.Fields{"symbol": symbol, "timeframe": timeframe, "from": from})
		return nil, nil
	}

	bar, err := translateBinanceKline(klines[0], symbol, timeframe)
	if err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
	}
	if bar.Datetime.Add(interval).After(now) {
		return nil, nil // Still forming
	}

	c.mu.Lock()
	c.cursors[key] = bar.Datetime.Add(interval)
	c.mu.Unlock()
	return bar, nil
}

// FetchBarsRange fetches all bars for a symbol/timeframe between start and end time.
func (c *Client) FetchBarsRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*domain.Bar, error) {
	op := "FetchBarsRange"
	var all []*domain.Bar
	from := start

	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(timeframe).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			bar, err := translateBinanceKline(bk, symbol, timeframe)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline range: %w", err), op)
			}
			all = append(all, bar)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if from.After(end) || len(klines) < maxKlinesLimit {
			break
		}
	}

	c.logger.Debug(ctx, op+" complete", ports.Fields{"symbol": symbol, "timeframe": timeframe, "bars": len(all)})
	return all, nil
}

// --- Translation Helpers ---

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderConfirmation {
	price, _ := strconv.ParseFloat(order.Price, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)

	return &ports.OrderConfirmation{
		OrderID:   strconv.FormatInt(order.OrderID, 10),
		Symbol:    order.Symbol,
		Side:      string(order.Side),
		Quantity:  origQty,
		Price:     price,
		Status:    string(order.Status),
		Timestamp: time.UnixMilli(order.UpdateTime),
	}
}

func translateBinanceKline(bk *futures.Kline, symbol, timeframe string) (*domain.Bar, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	values := make([]decimal.Decimal, 5)
	for i, raw := range []string{bk.Open, bk.High, bk.Low, bk.Close, bk.Volume} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing kline value '%s': %w", raw, err)
		}
		values[i] = v
	}

	return &domain.Bar{
		Symbol:    symbol, // Use passed symbol as it's not in futures.Kline
		Timeframe: timeframe,
		Datetime:  time.UnixMilli(bk.OpenTime),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}
