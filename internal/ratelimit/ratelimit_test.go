package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestZeroRPSDisablesThrottling(t *testing.T) {
	lim := New(0, 1)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 1000; i++ {
		if err := lim.Acquire(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("expected unbounded acquisition rate, took %v for 1000 acquires", elapsed)
	}
}

func TestBurstIsAvailableImmediately(t *testing.T) {
	lim := New(1, 5)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := lim.Acquire(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("expected burst of 5 to be free, took %v", elapsed)
	}
}

func TestSteadyStateRateIsBounded(t *testing.T) {
	lim := New(10, 1)
	ctx := context.Background()
	lim.Acquire(ctx) // consume the initial token
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := lim.Acquire(ctx); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)
	// The bucket is already drained, so 5 tokens at 10/s take ~0.5s; 350ms leaves room for timer slack.
	if elapsed < 350*time.Millisecond {
		t.Fatalf("acquired too fast for a 10 rps limiter: %v", elapsed)
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	lim := New(0.1, 1)
	lim.Acquire(context.Background()) // drain the only token
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := lim.Acquire(ctx); err == nil {
		t.Fatal("expected context deadline to abort Acquire")
	}
}
