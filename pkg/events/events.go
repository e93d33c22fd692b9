// Package events implements the Event Queue: a bounded, non-blocking
// mailbox of analytics events with periodic and size-triggered batch
// flushes to the service.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/flagkit/flagkit-go/pkg/model"
	"github.com/flagkit/flagkit-go/pkg/transport"
	"github.com/sirupsen/logrus"
)

// Event is a single queued analytics event.
type Event struct {
	Type          string                 `json:"type"`
	Timestamp     string                 `json:"timestamp"`
	SessionID     string                 `json:"sessionId"`
	EnvironmentID string                 `json:"environmentId,omitempty"`
	SDKVersion    string                 `json:"sdkVersion"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
}

// batchEndpoint is the relative path the Event Queue posts batches to.
const batchEndpoint = "/sdk/events/batch"

// DefaultMaxSize is the buffer ceiling when none is configured; events
// tracked while the buffer is full are dropped.
const DefaultMaxSize = 1000

// DefaultBatchSize triggers a flush once the buffer reaches this size.
const DefaultBatchSize = 10

// DefaultFlushInterval is the periodic flush cadence.
const DefaultFlushInterval = 30 * time.Second

// poster is the minimal shape the Event Queue needs from the Transport;
// kept as an unexported interface so tests can supply a fake.
type poster interface {
	Post(ctx context.Context, path string, body []byte) (*transport.Response, error)
}

// Queue is the Event Queue. The zero value is not usable; construct
// with New.
type Queue struct {
	poster        poster
	sessionID     string
	sdkVersion    string
	maxSize       int
	batchSize     int
	flushInterval time.Duration
	log           *logrus.Entry
	now           func() time.Time

	mu            sync.Mutex
	buffer        []Event
	environmentID string
	running       bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	flushCh       chan struct{}
}

// Config configures a Queue.
type Config struct {
	SessionID     string
	SDKVersion    string
	MaxSize       int
	BatchSize     int
	FlushInterval time.Duration
}

// New constructs a Queue that posts batches through poster. A nil
// logger falls back to the standard logrus logger.
func New(p poster, cfg Config, log *logrus.Entry) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Queue{
		poster:        p,
		sessionID:     cfg.SessionID,
		sdkVersion:    cfg.SDKVersion,
		maxSize:       cfg.MaxSize,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		log:           log,
		now:           time.Now,
	}
}

// SetEnvironmentID records the environment id to attach to subsequently
// tracked events.
func (q *Queue) SetEnvironmentID(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.environmentID = id
}

// Start launches the periodic flush loop.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.flushCh = make(chan struct{}, 1)
	q.mu.Unlock()

	go q.loop()
	q.log.Debug("event queue started")
}

// Track enqueues an event, non-blocking. If the queue is full, the
// event is dropped.
func (q *Queue) Track(eventType string, data map[string]interface{}) {
	q.enqueue(eventType, data, nil)
}

// TrackWithContext is Track with a context snapshot attached, stripped
// of its private attributes before being stored.
func (q *Queue) TrackWithContext(eventType string, data map[string]interface{}, ctx *model.EvaluationContext) {
	var ctxMap map[string]interface{}
	if ctx != nil {
		ctxMap = contextToMap(ctx.Sanitized())
	}
	q.enqueue(eventType, data, ctxMap)
}

func (q *Queue) enqueue(eventType string, data map[string]interface{}, ctxMap map[string]interface{}) {
	q.mu.Lock()
	if len(q.buffer) >= q.maxSize {
		q.mu.Unlock()
		q.log.Warnf("event queue full, dropping event: %s", eventType)
		return
	}
	q.buffer = append(q.buffer, Event{
		Type:          eventType,
		Timestamp:     q.now().UTC().Format(time.RFC3339Nano),
		SessionID:     q.sessionID,
		EnvironmentID: q.environmentID,
		SDKVersion:    q.sdkVersion,
		Data:          data,
		Context:       ctxMap,
	})
	size := len(q.buffer)
	q.mu.Unlock()

	q.log.Debugf("event tracked: %s (queue size: %d)", eventType, size)
	if size >= q.batchSize {
		q.requestFlush()
	}
}

func (q *Queue) requestFlush() {
	q.mu.Lock()
	ch := q.flushCh
	running := q.running
	q.mu.Unlock()
	if !running {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Size returns the current buffer length.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

// Flush atomically drains the buffer and posts the batch. A send
// failure discards the batch; retry is deliberately not attempted to
// keep memory bounded and preserve the Transport's circuit-breaker
// ordering invariants.
func (q *Queue) Flush() {
	q.mu.Lock()
	if len(q.buffer) == 0 {
		q.mu.Unlock()
		return
	}
	batch := q.buffer
	q.buffer = nil
	q.mu.Unlock()

	q.log.Debugf("flushing %d events", len(batch))
	q.send(batch)
}

func (q *Queue) send(batch []Event) {
	if q.poster == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{"events": batch})
	if err != nil {
		q.log.Warnf("failed to encode event batch: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := q.poster.Post(ctx, batchEndpoint, payload); err != nil {
		q.log.Warnf("failed to send events: %v", err)
		return
	}
	q.log.Debugf("events sent successfully: %d", len(batch))
}

// Stop cancels the periodic flush, waits up to 5s for the worker to
// exit, then runs one final flush.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	doneCh := q.doneCh
	q.mu.Unlock()

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
	}
	q.Flush()
	q.log.Debug("event queue stopped")
}

func (q *Queue) loop() {
	defer close(q.doneCh)
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-q.flushCh:
			q.Flush()
		case <-ticker.C:
			q.Flush()
		}
	}
}

func contextToMap(ctx model.EvaluationContext) map[string]interface{} {
	out := map[string]interface{}{
		"userId":    ctx.UserID,
		"anonymous": ctx.Anonymous,
	}
	if ctx.Email != "" {
		out["email"] = ctx.Email
	}
	if ctx.Name != "" {
		out["name"] = ctx.Name
	}
	if ctx.Country != "" {
		out["country"] = ctx.Country
	}
	if ctx.DeviceType != "" {
		out["deviceType"] = ctx.DeviceType
	}
	if ctx.OS != "" {
		out["os"] = ctx.OS
	}
	if ctx.Browser != "" {
		out["browser"] = ctx.Browser
	}
	if len(ctx.Custom) > 0 {
		out["custom"] = ctx.Custom
	}
	return out
}
