// Package eval implements the Evaluator: resolves a flag key to a typed
// result against the cache, stale cache, bootstrap seed, and default
// value, in that order, and never performs network I/O or panics for an
// ordinary lookup failure.
package eval

import (
	"math/rand"
	"time"

	"github.com/flagkit/flagkit-go/pkg/model"
	"github.com/flagkit/flagkit-go/pkg/store"
)

// JitterConfig adds a small uniform delay inside Evaluate to blur
// cache-hit timing. Disabled by default.
type JitterConfig struct {
	Enabled bool
	MinMs   int
	MaxMs   int
}

// Evaluator resolves flag keys against a Store and an optional
// bootstrap seed.
type Evaluator struct {
	store     *store.Store
	bootstrap map[string]model.FlagState
	jitter    JitterConfig
	sleep     func(time.Duration)
	nowMillis func() int64
}

// New constructs an Evaluator over s with the given bootstrap seed
// (nil is fine) and jitter configuration.
func New(s *store.Store, bootstrap map[string]model.FlagState, jitter JitterConfig) *Evaluator {
	return &Evaluator{
		store:     s,
		bootstrap: bootstrap,
		jitter:    jitter,
		sleep:     time.Sleep,
		nowMillis: func() int64 { return time.Now().UnixMilli() },
	}
}

// Evaluate resolves key against the cache, stale cache, bootstrap, and
// defaultValue, in that order. expectedType, if non-empty, is checked
// only against a fresh cache hit; a mismatch yields defaultValue with
// reason TYPE_MISMATCH.
func (e *Evaluator) Evaluate(key string, defaultValue interface{}, expectedType model.FlagType) model.EvaluationResult {
	if e.jitter.Enabled {
		e.applyJitter()
	}

	now := e.nowMillis()

	if key == "" {
		return model.EvaluationResult{
			FlagKey:   key,
			Value:     defaultValue,
			Reason:    model.ReasonError,
			Timestamp: now,
		}
	}

	if fresh, ok := e.store.Get(key); ok {
		if expectedType != "" && fresh.InferredType() != expectedType {
			return model.EvaluationResult{
				FlagKey:   key,
				Value:     defaultValue,
				Reason:    model.ReasonTypeMismatch,
				Timestamp: now,
			}
		}
		return model.EvaluationResult{
			FlagKey:   key,
			Value:     fresh.Value,
			Enabled:   fresh.Enabled,
			Reason:    model.ReasonCached,
			Version:   fresh.Version,
			Timestamp: now,
		}
	}

	if stale, ok := e.store.GetStale(key); ok {
		return model.EvaluationResult{
			FlagKey:   key,
			Value:     stale.Value,
			Enabled:   stale.Enabled,
			Reason:    model.ReasonStaleCache,
			Version:   stale.Version,
			Timestamp: now,
		}
	}

	if bootstrapped, ok := e.bootstrap[key]; ok {
		return model.EvaluationResult{
			FlagKey:   key,
			Value:     bootstrapped.Value,
			Enabled:   bootstrapped.Enabled,
			Reason:    model.ReasonBootstrap,
			Version:   bootstrapped.Version,
			Timestamp: now,
		}
	}

	return model.EvaluationResult{
		FlagKey:   key,
		Value:     defaultValue,
		Reason:    model.ReasonFlagNotFound,
		Timestamp: now,
	}
}

func (e *Evaluator) applyJitter() {
	min, max := e.jitter.MinMs, e.jitter.MaxMs
	if max <= min {
		e.sleep(time.Duration(min) * time.Millisecond)
		return
	}
	delta := rand.Intn(max - min + 1)
	e.sleep(time.Duration(min+delta) * time.Millisecond)
}
