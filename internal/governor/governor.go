// Package governor implements sliding-window admission control for
// calls to the reasoning service, plus advisory success/failure
// bookkeeping. Acquire suspends callers without busy-waiting until the
// trailing window has room.
package governor

import (
	"context"
	"sync"
	"time"

	"familiar/internal/logging"
)

// Governor admits at most MaxCalls calls within the trailing Window.
// Admission state is a bounded ordered set of call timestamps; entries
// older than the window are evicted lazily on each admission check, so
// memory is capped by MaxCalls regardless of call volume.
type Governor struct {
	maxCalls int
	window   time.Duration

	mu    sync.Mutex
	calls []time.Time // ordered, len <= maxCalls

	// Advisory counters. These never influence admission; callers use
	// them for observability and backoff hints.
	successes      int64
	failures       int64
	streak         int64 // consecutive failures
	lastFailure    time.Time
	lastFailureErr error

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Governor admitting maxCalls per trailing window.
func New(maxCalls int, window time.Duration) *Governor {
	if maxCalls < 1 {
		maxCalls = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Governor{
		maxCalls: maxCalls,
		window:   window,
		calls:    make([]time.Time, 0, maxCalls),
		now:      time.Now,
	}
}

// Acquire suspends the caller until fewer than maxCalls calls have
// occurred within the trailing window, then records the call. It
// returns early with ctx.Err() on cancellation. Safe to call with any
// number of concurrent waiters; each waiter sleeps until the oldest
// in-window timestamp ages out rather than polling.
func (g *Governor) Acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := g.now()
		g.evictLocked(now)

		if len(g.calls) < g.maxCalls {
			g.calls = append(g.calls, now)
			g.mu.Unlock()
			return nil
		}

		// Window is full: the earliest admission slot opens when the
		// oldest timestamp ages out.
		wait := g.calls[0].Add(g.window).Sub(now)
		g.mu.Unlock()

		if wait <= 0 {
			continue
		}
		logging.API("governor: window full (%d/%d), waiting %v", g.maxCalls, g.maxCalls, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// evictLocked drops timestamps that have aged out of the window.
func (g *Governor) evictLocked(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.calls) && !g.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.calls = append(g.calls[:0], g.calls[i:]...)
	}
}

// RecordSuccess notes that the call admitted by the last Acquire
// completed successfully.
func (g *Governor) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes++
	g.streak = 0
}

// RecordFailure notes that the call failed. err may be nil.
func (g *Governor) RecordFailure(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	g.streak++
	g.lastFailure = g.now()
	g.lastFailureErr = err
}

// Stats is a snapshot of the governor's advisory counters.
type Stats struct {
	InWindow            int
	MaxCalls            int
	Window              time.Duration
	Successes           int64
	Failures            int64
	ConsecutiveFailures int64
	LastFailure         time.Time
	LastError           error
}

// Stats returns a consistent snapshot.
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evictLocked(g.now())
	return Stats{
		InWindow:            len(g.calls),
		MaxCalls:            g.maxCalls,
		Window:              g.window,
		Successes:           g.successes,
		Failures:            g.failures,
		ConsecutiveFailures: g.streak,
		LastFailure:         g.lastFailure,
		LastError:           g.lastFailureErr,
	}
}
