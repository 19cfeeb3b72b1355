package app

import (
	"context"
	"fmt"
	"time"

	"orbBot/internal/ports"
)

// PollPolicy bounds a poll loop to at most MaxIterations ticks spaced
// Interval apart. MaxIterations <= 0 means unbounded.
type PollPolicy struct {
	Interval      time.Duration
	MaxIterations int
}

// PollStop tells why a poll loop ended.
type PollStop string

const (
	PollDone      PollStop = "DONE"      // Tick reported nothing left to monitor
	PollExhausted PollStop = "EXHAUSTED" // Iteration budget used up
	PollCanceled  PollStop = "CANCELED"  // Context canceled
	PollFailed    PollStop = "FAILED"    // Tick returned an error
)

// TickFunc performs one poll iteration. It returns false once polling should stop.
type TickFunc func(ctx context.Context) (bool, error)

// Poller runs a TickFunc on a ticker until it is done, the budget runs out,
// or the context is canceled. The first tick runs immediately.
type Poller struct {
	policy PollPolicy
	logger ports.Logger
}

// NewPoller creates a poller with the given policy.
func NewPoller(policy PollPolicy, logger ports.Logger) (*Poller, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for poller")
	}
	if policy.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive: %w", ports.ErrConfigurationError)
	}
	return &Poller{policy: policy, logger: logger}, nil
}

// Run polls and returns why it stopped together with the number of ticks run.
func (p *Poller) Run(ctx context.Context, tick TickFunc) (PollStop, int, error) {
	ticker := time.NewTicker(p.policy.Interval)
	defer ticker.Stop()

	iterations := 0
	for {
		if ctx.Err() != nil {
			return PollCanceled, iterations, nil
		}
		if p.policy.MaxIterations > 0 && iterations >= p.policy.MaxIterations {
			p.logger.Debug(ctx, "Poll budget exhausted", ports.Fields{"iterations": iterations})
			return PollExhausted, iterations, nil
		}

		iterations++
		more, err := tick(ctx)
		if err != nil {
			return PollFailed, iterations, err
		}
		if !more {
			return PollDone, iterations, nil
		}

		select {
		case <-ctx.Done():
			return PollCanceled, iterations, nil
		case <-ticker.C:
		}
	}
}
