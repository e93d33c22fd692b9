// Package breaker implements the three-state Circuit Breaker that gates
// every outbound Transport call: CLOSED, OPEN, and HALF_OPEN, with a
// single mutex serializing every method.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// Config configures a Breaker's thresholds.
type Config struct {
	FailureThreshold    int
	SuccessThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxInFlight int
}

// DefaultConfig returns the spec's defaults: 5 failures to open, 2
// successes to close, a 30s reset timeout, and one half-open probe.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxInFlight: 1,
	}
}

// Stats is a snapshot of breaker counters.
type Stats struct {
	State              State
	Failures           int
	Successes          int
	FailureThreshold   int
	SuccessThreshold   int
	HalfOpenInFlight   int
}

// Breaker gates outbound calls. The zero value is not usable; construct
// with New.
type Breaker struct {
	mu sync.Mutex

	cfg Config
	now func() time.Time

	state            State
	failures         int
	successes        int
	lastFailureTime  time.Time
	halfOpenInFlight int
}

// New constructs a Breaker in the CLOSED state with cfg.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:   cfg,
		now:   time.Now,
		state: Closed,
	}
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(cfg Config, clock func() time.Time) *Breaker {
	b := New(cfg)
	b.now = clock
	return b
}

// Allow reports whether a call should proceed. In CLOSED it always
// returns true. In OPEN it returns true only after the reset timeout
// has elapsed, at which point it transitions to HALF_OPEN and the
// triggering call becomes the first probe. In HALF_OPEN it returns true
// while fewer than HalfOpenMaxInFlight probes are outstanding.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true

	case Open:
		if b.now().Before(b.lastFailureTime.Add(b.cfg.ResetTimeout)) {
			return false
		}
		b.transitionLocked(HalfOpen)
		b.halfOpenInFlight = 1
		return true

	case HalfOpen:
		if b.halfOpenInFlight < b.cfg.HalfOpenMaxInFlight {
			b.halfOpenInFlight++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful call. In HALF_OPEN it counts
// toward SuccessThreshold and transitions to CLOSED once reached; in
// CLOSED it resets the consecutive-failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.successes++
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		if b.successes >= b.cfg.SuccessThreshold {
			b.transitionLocked(Closed)
		}
	case Closed:
		b.failures = 0
	}
}

// RecordFailure records a failed call. lastFailureTime is updated
// unconditionally. In CLOSED, consecutive failures reaching
// FailureThreshold trip the breaker to OPEN. Any failure in HALF_OPEN
// trips it back to OPEN immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = b.now()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionLocked(Open)
		}
	case HalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.transitionLocked(Open)
	}
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to CLOSED with counters cleared.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(Closed)
	b.halfOpenInFlight = 0
}

// GetStats returns a snapshot of the breaker's counters.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:            b.state,
		Failures:         b.failures,
		Successes:        b.successes,
		FailureThreshold: b.cfg.FailureThreshold,
		SuccessThreshold: b.cfg.SuccessThreshold,
		HalfOpenInFlight: b.halfOpenInFlight,
	}
}

// transitionLocked moves to newState and clears the failure/success
// counters. The caller must hold mu.
func (b *Breaker) transitionLocked(newState State) {
	b.state = newState
	b.failures = 0
	b.successes = 0
}
