package stream

import (
	"context"
	"testing"
	"time"

	"github.com/xiangxn/perpx/internal/ingest"
)

// TestNextBackoffDoublesUpToMax checks the backoff sequence doubles each
// step and never exceeds the configured ceiling.
func TestNextBackoffDoublesUpToMax(t *testing.T) {
	backoff := initialBackoff
	for i := 0; i < 10; i++ {
		backoff = nextBackoff(backoff)
		if backoff > maxBackoff {
			t.Fatalf("backoff exceeded the ceiling: %v > %v", backoff, maxBackoff)
		}
	}
	if backoff != maxBackoff {
		t.Errorf("backoff after many steps = %v, want it to have settled at the ceiling %v", backoff, maxBackoff)
	}
}

// TestNextBackoffStartsBelowMax sanity-checks one doubling step from the
// initial value.
func TestNextBackoffStartsBelowMax(t *testing.T) {
	if got := nextBackoff(initialBackoff); got != 2*initialBackoff {
		t.Errorf("nextBackoff(%v) = %v, want %v", initialBackoff, got, 2*initialBackoff)
	}
}

// TestRunReturnsErrorOnUnreachableInitialConnection checks the very first
// dial failing surfaces as an error instead of silently retrying forever
// — this is the condition the caller maps to a fatal startup exit.
func TestRunReturnsErrorOnUnreachableInitialConnection(t *testing.T) {
	dispatcher := ingest.New(1, 10)
	r := New("ws://127.0.0.1:1/does-not-exist", "", dispatcher)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Run(ctx); err == nil {
		t.Error("expected an error dialing an unreachable address")
	}
}
