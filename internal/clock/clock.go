// Package clock abstracts the suspension points of the agent so tests can run
// cadence-driven loops without waiting on wall time.
package clock

import (
	"context"
	"sync"
	"time"
)

// Sleeper pauses the caller. Sleep returns ctx.Err() if ctx ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Real returns a Sleeper backed by a timer.
func Real() Sleeper { return realSleeper{} }

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recorder is a Sleeper for tests. It returns immediately and records every
// requested duration.
type Recorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

// Sleeps returns a copy of the recorded durations.
func (r *Recorder) Sleeps() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

// Total returns the sum of the recorded durations.
func (r *Recorder) Total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, d := range r.sleeps {
		sum += d
	}
	return sum
}
