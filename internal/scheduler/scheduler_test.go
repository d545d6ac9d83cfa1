package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 3, 1, 12, 30, 17, 0, time.UTC)
	next := s.nextTick(now)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 31, 0, 0, time.UTC), next)

	// Exactly on a boundary advances a full interval.
	boundary := time.Date(2026, 3, 1, 12, 31, 0, 0, time.UTC)
	assert.Equal(t, boundary.Add(time.Minute), s.nextTick(boundary))
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 30, 17, 0, time.UTC)
	assert.Equal(t, now.Add(time.Minute), s.nextTick(now))
}

func TestRunInvokesSweepAndStops(t *testing.T) {
	s := New(Options{Interval: 20 * time.Millisecond}, zerolog.Nop())

	var calls atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			calls.Add(1)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
}

func TestRunSurvivesSweepError(t *testing.T) {
	s := New(Options{Interval: 15 * time.Millisecond}, zerolog.Nop())

	var calls atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = s.Run(ctx, func(context.Context, time.Time) error {
			calls.Add(1)
			return errors.New("sweep failed")
		})
	}()

	// Errors are logged, not fatal; the loop keeps ticking.
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestNewPanicsOnBadInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}
