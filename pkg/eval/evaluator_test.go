package eval

import (
	"testing"
	"time"

	"github.com/flagkit/flagkit-go/pkg/model"
	"github.com/flagkit/flagkit-go/pkg/store"
	"github.com/stretchr/testify/assert"
)

func TestEvaluateReturnsCachedValue(t *testing.T) {
	s := store.New(10)
	s.Set("dark-mode", model.FlagState{Key: "dark-mode", Value: true, Enabled: true, Version: 3, FlagType: model.FlagTypeBoolean}, time.Minute)
	e := New(s, nil, JitterConfig{})

	result := e.Evaluate("dark-mode", false, "")
	assert.Equal(t, model.ReasonCached, result.Reason)
	assert.Equal(t, true, result.Value)
	assert.EqualValues(t, 3, result.Version)
}

func TestEvaluateTypeMismatchReturnsDefault(t *testing.T) {
	s := store.New(10)
	s.Set("limit", model.FlagState{Key: "limit", Value: "not-a-number", FlagType: model.FlagTypeString}, time.Minute)
	e := New(s, nil, JitterConfig{})

	result := e.Evaluate("limit", 42, model.FlagTypeNumber)
	assert.Equal(t, model.ReasonTypeMismatch, result.Reason)
	assert.Equal(t, 42, result.Value)
}

func TestEvaluateFallsBackToStaleCache(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := store.NewWithClock(10, clock)
	s.Set("f", model.FlagState{Key: "f", Value: "stale-value", Version: 1}, time.Millisecond)
	now = now.Add(2 * time.Millisecond)

	e := New(s, nil, JitterConfig{})
	result := e.Evaluate("f", "default", "")
	assert.Equal(t, model.ReasonStaleCache, result.Reason)
	assert.Equal(t, "stale-value", result.Value)
}

func TestEvaluateFallsBackToBootstrap(t *testing.T) {
	s := store.New(10)
	bootstrap := map[string]model.FlagState{
		"dark-mode": {Key: "dark-mode", Value: true, Version: 0},
		"limit":     {Key: "limit", Value: float64(42), Version: 0},
	}
	e := New(s, bootstrap, JitterConfig{})

	result := e.Evaluate("dark-mode", false, "")
	assert.Equal(t, model.ReasonBootstrap, result.Reason)
	assert.Equal(t, true, result.Value)

	result = e.Evaluate("limit", 0, "")
	assert.Equal(t, model.ReasonBootstrap, result.Reason)
	assert.Equal(t, float64(42), result.Value)
}

func TestEvaluateFlagNotFoundReturnsDefault(t *testing.T) {
	s := store.New(10)
	e := New(s, nil, JitterConfig{})

	result := e.Evaluate("missing", "x", "")
	assert.Equal(t, model.ReasonFlagNotFound, result.Reason)
	assert.Equal(t, "x", result.Value)
}

func TestEvaluateEmptyKeyReturnsError(t *testing.T) {
	s := store.New(10)
	e := New(s, nil, JitterConfig{})

	result := e.Evaluate("", "x", "")
	assert.Equal(t, model.ReasonError, result.Reason)
	assert.Equal(t, "x", result.Value)
}

func TestEvaluateAppliesJitterUnconditionally(t *testing.T) {
	s := store.New(10)
	e := New(s, nil, JitterConfig{Enabled: true, MinMs: 5, MaxMs: 10})

	var slept time.Duration
	e.sleep = func(d time.Duration) { slept = d }

	e.Evaluate("missing", "x", "")
	assert.GreaterOrEqual(t, slept, 5*time.Millisecond)
	assert.LessOrEqual(t, slept, 10*time.Millisecond)
}
