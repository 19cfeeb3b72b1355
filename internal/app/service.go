package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"orbBot/internal/domain"
	"orbBot/internal/ports"
	"orbBot/internal/strategy/orb"
)

// SessionConfig holds the live session parameters.
type SessionConfig struct {
	Symbols           []string
	OpeningRangeDelay time.Duration // Wait between 5-minute fetches while collecting the opening range
	Poll              PollPolicy
}

// SymbolResult is the outcome of one symbol's session task.
type SymbolResult struct {
	Symbol   string
	State    orb.State
	Stop     PollStop
	Ticks    int
	Err      error
	Finished time.Time
}

// SessionReport collects the per-symbol results of a session.
type SessionReport struct {
	Date    time.Time
	mu      sync.Mutex
	Results map[string]SymbolResult
}

func (r *SessionReport) record(res SymbolResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Results[res.Symbol] = res
}

// Supervisor runs the live ORB session: one task per symbol, each driving its
// own state through the shared machine.
type Supervisor struct {
	cfg      SessionConfig
	machine  *orb.Machine
	bars     ports.BarSource
	registry *Registry
	poller   *Poller
	logger   ports.Logger

	now func() time.Time
}

// NewSupervisor creates a supervisor. The machine's executor routes live orders.
func NewSupervisor(cfg SessionConfig, machine *orb.Machine, bars ports.BarSource, registry *Registry, logger ports.Logger) (*Supervisor, error) {
	if machine == nil || bars == nil || registry == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Supervisor")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required: %w", ports.ErrConfigurationError)
	}
	if cfg.OpeningRangeDelay < 0 {
		return nil, fmt.Errorf("opening range delay cannot be negative: %w", ports.ErrConfigurationError)
	}
	poller, err := NewPoller(cfg.Poll, logger)
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		cfg:      cfg,
		machine:  machine,
		bars:     bars,
		registry: registry,
		poller:   poller,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Registry returns the supervisor's state registry.
func (s *Supervisor) Registry() *Registry { return s.registry }

// Start runs today's session until it ends or a shutdown signal arrives.
func (s *Supervisor) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting ORB session supervisor...", ports.Fields{"symbols": s.cfg.Symbols})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", ports.Fields{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	report, err := s.RunSession(ctx, s.now().In(s.machine.Config().Location))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	for _, symbol := range s.registry.Symbols() {
		res, ok := report.Results[symbol]
		if !ok {
			continue
		}
		fields := ports.Fields{"symbol": symbol, "state": res.State.String(), "ticks": res.Ticks, "stop": string(res.Stop)}
		if res.Err != nil {
			s.logger.Error(ctx, res.Err, "Symbol abandoned", fields)
			continue
		}
		s.logger.Info(ctx, "Symbol session finished", fields)
	}
	s.logger.Info(ctx, "ORB session supervisor stopped.")
	return nil
}

// RunSession runs every configured symbol for the trading day of date in
// parallel. A failing symbol is recorded and abandoned; the others continue.
// The returned error is non-nil only when ctx was canceled.
func (s *Supervisor) RunSession(ctx context.Context, date time.Time) (*SessionReport, error) {
	report := &SessionReport{Date: domain.TradingDate(date), Results: make(map[string]SymbolResult)}

	var g errgroup.Group
	for _, symbol := range s.cfg.Symbols {
		st := s.registry.StateFor(symbol, date)
		symbol := symbol
		g.Go(func() error {
			res := s.runSymbol(ctx, st)
			report.record(res)
			if res.Err != nil {
				s.logger.Error(ctx, res.Err, "Symbol task failed", ports.Fields{"symbol": symbol, "state": res.State.String()})
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("session %s: %w", report.Date.Format(time.DateOnly), err)
	}
	return report, nil
}

func (s *Supervisor) runSymbol(ctx context.Context, st *orb.SymbolTradingState) (res SymbolResult) {
	res.Symbol = st.Symbol
	defer func() {
		s.registry.Publish(st)
		res.State = st.CurrentState
		res.Finished = s.now()
	}()

	if st.CurrentState.Terminal() {
		return res
	}
	if err := s.awaitMarketOpen(ctx, st); err != nil {
		res.Err = err
		return res
	}
	if err := s.collectOpeningRange(ctx, st); err != nil {
		res.Err = err
		return res
	}

	res.Stop, res.Ticks, res.Err = s.poller.Run(ctx, func(ctx context.Context) (bool, error) {
		return s.pollOnce(ctx, st)
	})
	return res
}

func (s *Supervisor) awaitMarketOpen(ctx context.Context, st *orb.SymbolTradingState) error {
	if st.CurrentState != orb.WaitingForMarketOpen {
		return nil
	}
	openAt := s.machine.MarketOpenAt(st.TestDate)
	if wait := openAt.Sub(s.now()); wait > 0 {
		s.logger.Info(ctx, "Waiting for market open", ports.Fields{"symbol": st.Symbol, "openAt": openAt, "wait": wait.String()})
		if err := sleepCtx(ctx, wait); err != nil {
			return fmt.Errorf("wait for market open of %s: %w", st.Symbol, err)
		}
	}
	s.machine.Open(ctx, st, s.now())
	s.registry.Publish(st)
	return nil
}

func (s *Supervisor) collectOpeningRange(ctx context.Context, st *orb.SymbolTradingState) error {
	gaps := 0
	for st.CurrentState == orb.CollectingOpeningRange {
		bar, err := s.bars.NextBar(ctx, st.Symbol, domain.Timeframe5m, st.TestDate)
		if err != nil {
			return fmt.Errorf("fetch opening bar for %s: %w", st.Symbol, err)
		}
		if bar == nil {
			gaps++
			if s.cfg.Poll.MaxIterations > 0 && gaps > s.cfg.Poll.MaxIterations {
				return fmt.Errorf("opening range for %s: no 5m bar after %d attempts: %w", st.Symbol, gaps, ports.ErrNoMoreData)
			}
		} else {
			ev, err := s.machine.AddOpeningBar(ctx, st, bar)
			if err != nil {
				return err
			}
			if ev == orb.EventNone {
				continue // pre-session bar
			}
		}
		s.registry.Publish(st)

		if st.CurrentState == orb.CollectingOpeningRange && s.cfg.OpeningRangeDelay > 0 {
			if err := sleepCtx(ctx, s.cfg.OpeningRangeDelay); err != nil {
				return fmt.Errorf("collect opening range for %s: %w", st.Symbol, err)
			}
		}
	}
	return nil
}

// pollOnce is one live tick: fetch the latest 1-minute bar and feed it to the machine.
func (s *Supervisor) pollOnce(ctx context.Context, st *orb.SymbolTradingState) (bool, error) {
	if !st.CurrentState.Monitorable() {
		return false, nil
	}
	bar, err := s.bars.NextBar(ctx, st.Symbol, domain.Timeframe1m, st.TestDate)
	if errors.Is(err, ports.ErrNoMoreData) {
		s.logger.Info(ctx, "Session data ended while monitoring", ports.Fields{"symbol": st.Symbol, "state": st.CurrentState.String()})
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetch bar for %s: %w", st.Symbol, err)
	}

	event, err := s.machine.OnBar(ctx, st, bar, s.now())
	if err != nil {
		return false, err
	}
	if event != orb.EventNone {
		s.registry.Publish(st)
		s.logger.Debug(ctx, "State machine event", ports.Fields{"symbol": st.Symbol, "event": string(event), "state": st.CurrentState.String()})
	}
	return st.CurrentState.Monitorable(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
