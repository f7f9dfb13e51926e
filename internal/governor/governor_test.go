package governor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcquireUnderLimit(t *testing.T) {
	g := New(3, time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("first %d acquires should be immediate, took %v", 3, elapsed)
	}
}

func TestAcquireBlocksUntilWindowAges(t *testing.T) {
	window := 200 * time.Millisecond
	g := New(2, window)
	ctx := context.Background()

	if err := g.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := g.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	// Third call must wait until the first timestamp ages out.
	start := time.Now()
	if err := g.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)
	if elapsed < window/2 {
		t.Errorf("third acquire admitted after %v, want at least ~%v", elapsed, window)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	g := New(1, time.Hour)
	ctx := context.Background()

	if err := g.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	err := g.Acquire(cancelCtx)
	if err == nil {
		t.Fatal("Acquire should fail when context expires while waiting")
	}
	if err != context.DeadlineExceeded {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestLazyEviction(t *testing.T) {
	g := New(2, 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(80 * time.Millisecond)

	// Both timestamps aged out; should admit immediately.
	start := time.Now()
	if err := g.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 30*time.Millisecond {
		t.Errorf("aged-out window should admit immediately, took %v", elapsed)
	}

	if s := g.Stats(); s.InWindow != 1 {
		t.Errorf("in-window count = %d, want 1", s.InWindow)
	}
}

func TestAdvisoryCounters(t *testing.T) {
	g := New(10, time.Minute)

	g.RecordFailure(nil)
	g.RecordFailure(errors.New("model overloaded"))
	if s := g.Stats(); s.ConsecutiveFailures != 2 || s.Failures != 2 {
		t.Errorf("stats after two failures: %+v", s)
	}
	if s := g.Stats(); s.LastError == nil || s.LastError.Error() != "model overloaded" {
		t.Errorf("last error = %v, want the most recent failure", s.LastError)
	}

	g.RecordSuccess()
	s := g.Stats()
	if s.ConsecutiveFailures != 0 {
		t.Errorf("success should reset streak, got %d", s.ConsecutiveFailures)
	}
	if s.Successes != 1 {
		t.Errorf("successes = %d, want 1", s.Successes)
	}
}

func TestConcurrentWaitersBounded(t *testing.T) {
	g := New(2, 100*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 6)
	for i := 0; i < 6; i++ {
		go func() { done <- g.Acquire(ctx) }()
	}
	for i := 0; i < 6; i++ {
		if err := <-done; err != nil {
			t.Fatalf("waiter %d: %v", i, err)
		}
	}
}
