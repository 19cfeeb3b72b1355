package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbBot/internal/ports"
)

func TestNewPoller_Validation(t *testing.T) {
	_, err := NewPoller(PollPolicy{Interval: 0, MaxIterations: 3}, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewPoller(PollPolicy{Interval: time.Millisecond}, nil)
	assert.Error(t, err)
}

func TestPoller_Run(t *testing.T) {
	errTick := errors.New("tick failed")

	tests := []struct {
		name      string
		policy    PollPolicy
		tick      func(n int) (bool, error)
		wantStop  PollStop
		wantTicks int
		wantErr   error
	}{
		{
			name:      "stops when tick is done",
			policy:    PollPolicy{Interval: time.Millisecond, MaxIterations: 10},
			tick:      func(n int) (bool, error) { return n < 3, nil },
			wantStop:  PollDone,
			wantTicks: 3,
		},
		{
			name:      "budget bounds the loop",
			policy:    PollPolicy{Interval: time.Millisecond, MaxIterations: 4},
			tick:      func(n int) (bool, error) { return true, nil },
			wantStop:  PollExhausted,
			wantTicks: 4,
		},
		{
			name:      "tick error stops immediately",
			policy:    PollPolicy{Interval: time.Millisecond, MaxIterations: 4},
			tick:      func(n int) (bool, error) { return true, errTick },
			wantStop:  PollFailed,
			wantTicks: 1,
			wantErr:   errTick,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPoller(tt.policy, &mockLogger{})
			require.NoError(t, err)

			n := 0
			stop, ticks, err := p.Run(context.Background(), func(ctx context.Context) (bool, error) {
				n++
				return tt.tick(n)
			})
			assert.Equal(t, tt.wantStop, stop)
			assert.Equal(t, tt.wantTicks, ticks)
			assert.Equal(t, tt.wantTicks, n)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPoller_Canceled(t *testing.T) {
	p, err := NewPoller(PollPolicy{Interval: time.Hour}, &mockLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stop, ticks, err := p.Run(ctx, func(ctx context.Context) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.Equal(t, PollCanceled, stop)
	assert.Zero(t, ticks)

	// Cancellation during the wait between ticks.
	ctx, cancel = context.WithCancel(context.Background())
	stop, ticks, err = p.Run(ctx, func(ctx context.Context) (bool, error) {
		cancel()
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, PollCanceled, stop)
	assert.Equal(t, 1, ticks)
}
