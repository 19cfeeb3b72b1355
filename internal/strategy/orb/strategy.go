package orb

import (
	"context"
	"errors"
	"fmt"

	"orbBot/internal/domain"
	"orbBot/internal/ledger"
	"orbBot/internal/ports"
)

// Strategy adapts the ORB machine to the backtest engine. Opening-range
// bars are pulled synchronously from a 5-minute bar source when the replay
// starts; every replayed 1-minute bar is then fed to the machine.
type Strategy struct {
	cfg     Config
	bars    ports.BarSource
	state   *SymbolTradingState
	sink    ports.LogSink
	logger  ports.Logger
	bracket bool

	machine *Machine
}

// NewStrategy creates a backtest strategy for state. With bracket set,
// entries are recorded as bracket orders.
func NewStrategy(cfg Config, bars ports.BarSource, state *SymbolTradingState, sink ports.LogSink, logger ports.Logger, bracket bool) (*Strategy, error) {
	if bars == nil || state == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for ORB strategy")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Strategy{cfg: cfg, bars: bars, state: state, sink: sink, logger: logger, bracket: bracket}, nil
}

// State returns the symbol state driven by the strategy.
func (s *Strategy) State() *SymbolTradingState { return s.state }

// StartStrategy binds the machine to the replay ledger, opens the session
// and collects the opening range.
func (s *Strategy) StartStrategy(ctx context.Context, tc *ledger.TradingContext) error {
	m, err := NewMachine(s.cfg, ledger.NewExecutor(tc, s.bracket), s.sink, s.logger)
	if err != nil {
		return err
	}
	s.machine = m

	st := s.state
	m.Open(ctx, st, m.MarketOpenAt(st.TestDate))
	for st.CurrentState == CollectingOpeningRange {
		bar, err := s.bars.NextBar(ctx, st.Symbol, domain.Timeframe5m, st.TestDate)
		if errors.Is(err, ports.ErrNoMoreData) || (err == nil && bar == nil) {
			s.logger.Warn(ctx, "Opening range incomplete, no more 5m bars", ports.Fields{
				"symbol": st.Symbol,
				"bars":   len(st.FiveMinuteBars),
			})
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch opening bar for %s: %w", st.Symbol, err)
		}
		if _, err := m.AddOpeningBar(ctx, st, bar); err != nil {
			return err
		}
	}
	return nil
}

// OnTick feeds one replayed bar into the machine.
func (s *Strategy) OnTick(ctx context.Context, tc *ledger.TradingContext, bar *domain.Bar) error {
	if s.machine == nil {
		return fmt.Errorf("on tick before start for %s: %w", s.state.Symbol, ports.ErrInvalidState)
	}
	_, err := s.machine.OnBar(ctx, s.state, bar, tc.CurrentInstant())
	return err
}
