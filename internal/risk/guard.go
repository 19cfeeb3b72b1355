package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
)

// Config holds the pre-trade limits. A zero value disables a limit.
type Config struct {
	MaxPositionSize int            // Largest quantity per order
	MaxNotional     float64        // Largest quantity * price per order
	MaxDailyOrders  int            // Orders accepted per trading day, all symbols
	LongOnly        bool           // Reject sell orders
	Location        *time.Location // Time zone trading days are counted in
}

// Stats holds the guard's counters for the current trading day.
type Stats struct {
	Day      time.Time
	Accepted int
	Rejected int
}

// Guard checks every order against the limits before handing it to the
// wrapped executor. Only orders the venue accepted count toward the daily limit.
type Guard struct {
	config Config
	next   ports.OrderExecutor
	logger ports.Logger

	mu    sync.Mutex
	stats Stats
	now   func() time.Time
}

var _ ports.OrderExecutor = (*Guard)(nil)

// NewGuard wraps next with the limits in config.
func NewGuard(config Config, next ports.OrderExecutor, logger ports.Logger) (*Guard, error) {
	if next == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for risk guard")
	}
	if config.MaxPositionSize < 0 || config.MaxNotional < 0 || config.MaxDailyOrders < 0 {
		return nil, fmt.Errorf("risk limits cannot be negative: %w", ports.ErrConfigurationError)
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Guard{config: config, next: next, logger: logger, now: time.Now}, nil
}

// PlaceOrder validates the order and forwards it. The daily slot is taken
// before the venue call and released if the venue fails.
func (g *Guard) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity int, price float64) (*ports.OrderConfirmation, error) {
	g.mu.Lock()
	err := g.validateLocked(side, quantity, price)
	if err != nil {
		g.stats.Rejected++
	} else {
		g.stats.Accepted++
	}
	day := g.stats.Day
	g.mu.Unlock()
	if err != nil {
		g.logger.Warn(ctx, "Order rejected by risk guard", ports.Fields{
			"symbol":   symbol,
			"side":     string(side),
			"quantity": quantity,
			"price":    price,
			"reason":   err.Error(),
		})
		return nil, fmt.Errorf("order for %s: %w", symbol, err)
	}

	conf, err := g.next.PlaceOrder(ctx, symbol, side, quantity, price)
	if err != nil {
		g.mu.Lock()
		if g.stats.Day.Equal(day) {
			g.stats.Accepted--
		}
		g.mu.Unlock()
		return nil, err
	}
	return conf, nil
}

// ValidateOrder reports whether an order would pass the limits now.
func (g *Guard) ValidateOrder(side domain.OrderSide, quantity int, price float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateLocked(side, quantity, price)
}

func (g *Guard) validateLocked(side domain.OrderSide, quantity int, price float64) error {
	g.rollDayLocked()
	if quantity <= 0 || price <= 0 {
		return fmt.Errorf("quantity %d at price %v: %w", quantity, price, ports.ErrInvalidRequest)
	}
	if g.config.LongOnly && side == domain.Sell {
		return fmt.Errorf("sell orders not allowed: %w", ports.ErrRiskLimitExceeded)
	}
	if g.config.MaxPositionSize > 0 && quantity > g.config.MaxPositionSize {
		return fmt.Errorf("quantity %d exceeds maximum %d: %w", quantity, g.config.MaxPositionSize, ports.ErrRiskLimitExceeded)
	}
	if notional := float64(quantity) * price; g.config.MaxNotional > 0 && notional > g.config.MaxNotional {
		return fmt.Errorf("notional %.2f exceeds maximum %.2f: %w", notional, g.config.MaxNotional, ports.ErrRiskLimitExceeded)
	}
	if g.config.MaxDailyOrders > 0 && g.stats.Accepted >= g.config.MaxDailyOrders {
		return fmt.Errorf("daily orders %d reached maximum %d: %w", g.stats.Accepted, g.config.MaxDailyOrders, ports.ErrRiskLimitExceeded)
	}
	return nil
}

// rollDayLocked resets the counters when the trading day changes.
func (g *Guard) rollDayLocked() {
	today := domain.TradingDate(g.now().In(g.config.Location))
	if !g.stats.Day.Equal(today) {
		g.stats = Stats{Day: today}
	}
}

// GetStats returns the counters of the current trading day.
func (g *Guard) GetStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	return g.stats
}
