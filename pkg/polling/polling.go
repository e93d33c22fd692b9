// Package polling implements the Polling Manager: periodic refresh with
// jittered interval and multiplicative backoff on error, scheduled on a
// dedicated worker goroutine.
package polling

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config configures a Manager.
type Config struct {
	BaseInterval      time.Duration
	Jitter            time.Duration
	BackoffMultiplier float64
	MaxInterval       time.Duration
}

// DefaultConfig returns the spec's polling defaults: 1s jitter, 2x
// backoff multiplier, 5 minute interval cap.
func DefaultConfig(baseInterval time.Duration) Config {
	return Config{
		BaseInterval:      baseInterval,
		Jitter:            time.Second,
		BackoffMultiplier: 2,
		MaxInterval:       5 * time.Minute,
	}
}

// Manager runs onPoll on a background goroutine at Config.BaseInterval,
// backing off on error and resetting on success. The zero value is not
// usable; construct with New.
type Manager struct {
	onPoll func()
	cfg    Config
	log    *logrus.Entry

	mu              sync.Mutex
	running         bool
	currentInterval time.Duration
	consecutiveErrs int
	stopCh          chan struct{}
	doneCh          chan struct{}
	pollNowCh       chan struct{}
	rng             *rand.Rand
}

// New constructs a Manager that calls onPoll on each tick. A nil logger
// falls back to the standard logrus logger.
func New(onPoll func(), cfg Config, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		onPoll:          onPoll,
		cfg:             cfg,
		log:             log,
		currentInterval: cfg.BaseInterval,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the scheduling loop if not already running.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.pollNowCh = make(chan struct{}, 1)
	m.mu.Unlock()

	m.log.Debugf("polling started with interval %s", m.currentInterval)
	go m.loop()
}

// Stop cancels the scheduled task without waiting for the worker to
// exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()
	m.log.Debug("polling stopped")
}

// Shutdown stops the manager and waits up to 5s for the worker to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	wasRunning := m.running
	doneCh := m.doneCh
	m.mu.Unlock()
	if !wasRunning {
		return
	}
	m.Stop()
	if doneCh != nil {
		select {
		case <-doneCh:
		case <-time.After(5 * time.Second):
		}
	}
}

// IsActive reports whether the scheduling loop is running.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// CurrentInterval returns the interval the next poll will be scheduled
// with, before jitter.
func (m *Manager) CurrentInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentInterval
}

// OnSuccess resets the consecutive-error counter and the interval to
// BaseInterval.
func (m *Manager) OnSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveErrs = 0
	m.currentInterval = m.cfg.BaseInterval
}

// OnError increments the consecutive-error counter and multiplies the
// interval by BackoffMultiplier, capped at MaxInterval.
func (m *Manager) OnError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveErrs++
	next := time.Duration(float64(m.currentInterval) * m.cfg.BackoffMultiplier)
	if next > m.cfg.MaxInterval {
		next = m.cfg.MaxInterval
	}
	m.currentInterval = next
	m.log.Debugf("polling backoff: interval=%s consecutive_errors=%d", m.currentInterval, m.consecutiveErrs)
}

// Reset clears the consecutive-error counter and interval back to
// BaseInterval, without affecting the running scheduling loop.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveErrs = 0
	m.currentInterval = m.cfg.BaseInterval
}

// PollNow triggers an out-of-band poll without disturbing the regular
// schedule. It is a no-op if the manager is not running.
func (m *Manager) PollNow() {
	m.mu.Lock()
	running := m.running
	ch := m.pollNowCh
	m.mu.Unlock()
	if !running {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (m *Manager) loop() {
	defer close(m.doneCh)
	timer := time.NewTimer(m.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.pollNowCh:
			m.poll()
		case <-timer.C:
			m.poll()
			timer.Reset(m.nextDelay())
		}
	}
}

func (m *Manager) poll() {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("poll panic: %v", r)
			m.OnError()
		}
	}()
	m.onPoll()
}

func (m *Manager) nextDelay() time.Duration {
	m.mu.Lock()
	base := m.currentInterval
	jitterMax := m.cfg.Jitter
	m.mu.Unlock()
	if jitterMax <= 0 {
		return base
	}
	jitter := time.Duration(m.rng.Int63n(int64(jitterMax) + 1))
	return base + jitter
}
