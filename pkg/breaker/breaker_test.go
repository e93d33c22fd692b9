package breaker

import (
	"testing"
	"time"
)

func TestTripAndRecover(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	b := NewWithClock(Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		ResetTimeout:        50 * time.Millisecond,
		HalfOpenMaxInFlight: 1,
	}, clock)

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("expected allow before trip, iteration %d", i)
		}
		b.RecordFailure()
	}

	if got := b.GetState(); got != Open {
		t.Fatalf("expected OPEN after threshold failures, got %s", got)
	}
	if b.Allow() {
		t.Fatal("expected Allow to refuse immediately after trip")
	}

	now = now.Add(100 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected Allow to admit the probe after reset timeout")
	}
	if got := b.GetState(); got != HalfOpen {
		t.Fatalf("expected HALF_OPEN after reset timeout, got %s", got)
	}

	b.RecordSuccess()
	if got := b.GetState(); got != Closed {
		t.Fatalf("expected CLOSED after success threshold met, got %s", got)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := NewWithClock(Config{FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: 10 * time.Millisecond, HalfOpenMaxInFlight: 1}, clock)

	b.Allow()
	b.RecordFailure()
	now = now.Add(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected probe to be admitted")
	}
	b.RecordFailure()
	if got := b.GetState(); got != Open {
		t.Fatalf("expected failure in HALF_OPEN to reopen, got %s", got)
	}
}

func TestHalfOpenMaxInFlight(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := NewWithClock(Config{FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: 10 * time.Millisecond, HalfOpenMaxInFlight: 1}, clock)

	b.Allow()
	b.RecordFailure()
	now = now.Add(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("first probe should be admitted")
	}
	if b.Allow() {
		t.Fatal("second concurrent probe should be refused while one is in flight")
	}
}

func TestRecordSuccessResetsClosedFailureCount(t *testing.T) {
	b := New(Config{FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: time.Second, HalfOpenMaxInFlight: 1})
	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordFailure()
	b.RecordSuccess()
	stats := b.GetStats()
	if stats.Failures != 0 {
		t.Fatalf("expected failures reset to 0 after success in CLOSED, got %d", stats.Failures)
	}
}
