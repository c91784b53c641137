package api

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNextTimestampIsStrictlyIncreasing(t *testing.T) {
	t.Cleanup(func() {
		atomic.StoreInt64(&lastTimestamp, 0)
	})
	atomic.StoreInt64(&lastTimestamp, 0)

	prev := nextTimestamp()
	for i := 0; i < 1000; i++ {
		next := nextTimestamp()
		if next <= prev {
			t.Fatalf("timestamp went backwards: %d after %d", next, prev)
		}
		prev = next
	}
}

func TestNextTimestampAdvancesPastLast(t *testing.T) {
	t.Cleanup(func() {
		atomic.StoreInt64(&lastTimestamp, 0)
	})

	base := time.Now().Add(time.Second).UnixNano()
	atomic.StoreInt64(&lastTimestamp, base)

	if got := nextTimestamp(); got != base+1 {
		t.Fatalf("expected %d, got %d", base+1, got)
	}
}

func TestEnvIntFallsBackOnInvalid(t *testing.T) {
	t.Setenv("PRISM_TEST_INT", "abc")
	if got := envInt("PRISM_TEST_INT", 7); got != 7 {
		t.Fatalf("expected default, got %d", got)
	}
	t.Setenv("PRISM_TEST_INT", "12")
	if got := envInt("PRISM_TEST_INT", 7); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
}

func TestEnvDur(t *testing.T) {
	t.Setenv("PRISM_TEST_DUR", "250ms")
	if got := envDur("PRISM_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", got)
	}
	t.Setenv("PRISM_TEST_DUR", "-1s")
	if got := envDur("PRISM_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("expected default for negative duration, got %v", got)
	}
}
