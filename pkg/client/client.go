// Package client wires the Flag Store, Evaluator, HTTP Transport,
// Circuit Breaker, Credential Manager, Request Signer, Bootstrap
// Verifier, Polling Manager, Streaming Manager, and Event Queue into a
// single top-level Client, mirroring the orchestration the original
// FlagKitClient core performs: initialize (or go offline), evaluate
// synchronously against cache/bootstrap/default, and track analytics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flagkit/flagkit-go/pkg/breaker"
	"github.com/flagkit/flagkit-go/pkg/config"
	"github.com/flagkit/flagkit-go/pkg/errors"
	"github.com/flagkit/flagkit-go/pkg/eval"
	"github.com/flagkit/flagkit-go/pkg/events"
	"github.com/flagkit/flagkit-go/pkg/model"
	"github.com/flagkit/flagkit-go/pkg/polling"
	"github.com/flagkit/flagkit-go/pkg/security"
	"github.com/flagkit/flagkit-go/pkg/seed"
	"github.com/flagkit/flagkit-go/pkg/store"
	"github.com/flagkit/flagkit-go/pkg/streaming"
	"github.com/flagkit/flagkit-go/pkg/transport"
	"github.com/flagkit/flagkit-go/pkg/version"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SDKVersion is the version this Client advertises, reused from the
// Transport's own constant so the two never drift apart.
const SDKVersion = transport.SDKVersion

// initResponse is the subset of GET /sdk/init this Client understands.
type initResponse struct {
	Flags                  []model.FlagState `json:"flags"`
	EnvironmentID          string            `json:"environmentId,omitempty"`
	ServerTime             string            `json:"serverTime,omitempty"`
	PollingIntervalSeconds int               `json:"pollingIntervalSeconds,omitempty"`
	Metadata               *versionMetadata  `json:"metadata,omitempty"`
}

type versionMetadata struct {
	SDKVersionMin         string `json:"sdkVersionMin,omitempty"`
	SDKVersionRecommended string `json:"sdkVersionRecommended,omitempty"`
	SDKVersionLatest      string `json:"sdkVersionLatest,omitempty"`
	DeprecationWarning    string `json:"deprecationWarning,omitempty"`
}

type updatesResponse struct {
	Flags     []model.FlagState `json:"flags"`
	CheckedAt string            `json:"checkedAt,omitempty"`
}

// Client is the SDK's top-level handle. The zero value is not usable;
// construct with New.
type Client struct {
	opts config.Options
	log  *logrus.Entry

	creds    *security.CredentialManager
	verifier *security.BootstrapVerifier
	store    *store.Store
	eval     *eval.Evaluator
	tr       *transport.Transport
	polling  *polling.Manager
	stream   *streaming.Manager
	queue    *events.Queue
	cache    *security.EncryptedCache
	seedWatch *seed.FileWatcher

	bootstrap map[string]model.FlagState

	mu              sync.RWMutex
	ctx             *model.EvaluationContext
	lastUpdateTime  string
	ready           bool
	closed          bool
	readyCh         chan struct{}
	readyChClosedOnce sync.Once
}

// New constructs a Client from opts, verifies any signed bootstrap,
// seeds the Flag Store, and kicks off initialization in the background.
// It never blocks; call WaitForReady to block until initialization
// completes or times out.
func New(opts config.Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	log := logrus.NewEntry(logrus.StandardLogger())

	creds := security.NewCredentialManager(opts.APIKey, opts.SecondaryAPIKey, log)
	verifier := security.NewBootstrapVerifier(log)
	st := store.New(opts.CacheMaxSize)

	c := &Client{
		opts:      opts,
		log:       log,
		creds:     creds,
		verifier:  verifier,
		store:     st,
		bootstrap: map[string]model.FlagState{},
		readyCh:   make(chan struct{}),
	}

	if opts.EnableCacheEncryption {
		c.cache = security.NewEncryptedCache(opts.APIKey)
		st.SetEncryptor(c.cache)
	}

	c.seedBootstrap()

	trCfg := transport.DefaultConfig()
	trCfg.BaseURL = opts.BaseURL
	trCfg.Timeout = opts.Timeout
	trCfg.MaxRetries = opts.Retries
	trCfg.EnableRequestSigning = opts.EnableRequestSigning
	c.tr = transport.New(trCfg, creds, log)
	c.tr.SetUsageUpdateCallback(c.onUsageUpdate)
	c.tr.SetAuthFailoverCallback(c.onAuthFailover)

	sessionID := uuid.NewString()
	c.queue = events.New(c.tr, events.Config{
		SessionID:  sessionID,
		SDKVersion: SDKVersion,
	}, log)

	if opts.EnableStreaming {
		c.stream = streaming.New(streaming.DefaultConfig(), opts.BaseURL, creds, streaming.Callbacks{
			OnFlagUpdated:       c.onStreamFlagUpdated,
			OnFlagDeleted:       c.onStreamFlagDeleted,
			OnFlagsReset:        c.onStreamFlagsReset,
			OnFallbackToPolling: c.startPolling,
			OnSubscriptionError: c.onSubscriptionError,
			OnConnectionLimit:   c.onConnectionLimit,
		}, log)
	}

	c.eval = eval.New(st, c.bootstrap, eval.JitterConfig{
		Enabled: opts.EvaluationJitter.Enabled,
		MinMs:   opts.EvaluationJitter.MinMs,
		MaxMs:   opts.EvaluationJitter.MaxMs,
	})

	go c.initialize()

	return c, nil
}

func (c *Client) seedBootstrap() {
	if c.opts.BootstrapFilePath != "" {
		w := seed.New(c.opts.BootstrapFilePath, c.onBootstrapFileReload, c.reportError, c.log)
		flags, err := w.Start()
		if err != nil {
			c.log.WithError(err).Warn("failed to load bootstrap file")
		} else {
			c.applyBootstrapFlags(flags)
			c.seedWatch = w
		}
	}

	if c.opts.BootstrapConfig != nil {
		ok, err := c.verifier.Verify(*c.opts.BootstrapConfig, c.opts.APIKey, c.opts.BootstrapVerification)
		if err != nil {
			c.log.WithError(err).Error("bootstrap verification failed")
			c.reportError(err)
			return
		}
		if ok {
			c.applyBootstrapFlags(c.opts.BootstrapConfig.Flags)
		}
		return
	}

	if len(c.opts.Bootstrap) == 0 {
		return
	}
	flags := make(map[string]model.FlagState, len(c.opts.Bootstrap))
	for key, value := range c.opts.Bootstrap {
		flags[key] = model.FlagState{Key: key, Value: value, Enabled: true}
	}
	c.applyBootstrapFlags(flags)
}

func (c *Client) onBootstrapFileReload(flags map[string]model.FlagState) {
	c.applyBootstrapFlags(flags)
}

// applyBootstrapFlags records flags as the Evaluator's bootstrap fallback
// and seeds the Store with a long, effectively non-expiring TTL so they
// remain the evaluator's best answer until the network fetch lands.
func (c *Client) applyBootstrapFlags(flags map[string]model.FlagState) {
	c.mu.Lock()
	for key, flag := range flags {
		flag.Key = key
		if flag.FlagType == "" {
			flag.FlagType = flag.InferredType()
		}
		c.bootstrap[key] = flag
	}
	c.mu.Unlock()
	c.store.SetMany(mapValues(flags), store.BootstrapTTL)
}

func mapValues(m map[string]model.FlagState) []model.FlagState {
	out := make([]model.FlagState, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func (c *Client) initialize() {
	if c.opts.Offline {
		c.log.Info("offline mode enabled, skipping initialization")
		c.setReady()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout*time.Duration(c.opts.Retries+1))
	defer cancel()

	resp, err := c.tr.Get(ctx, "/sdk/init")
	if err != nil {
		c.log.WithError(err).Error("SDK initialization failed")
		c.reportError(err)
		c.setReady()
		return
	}

	var data initResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		c.reportError(errors.Wrap(errors.InitFailed, "decoding init response", err))
		c.setReady()
		return
	}

	if len(data.Flags) > 0 {
		c.store.SetMany(data.Flags, c.opts.CacheTTL)
		c.log.Infof("SDK initialized with %d flags", len(data.Flags))
	}
	if data.EnvironmentID != "" {
		c.queue.SetEnvironmentID(data.EnvironmentID)
	}
	if data.ServerTime != "" {
		c.mu.Lock()
		c.lastUpdateTime = data.ServerTime
		c.mu.Unlock()
	}
	c.checkVersionMetadata(data.Metadata)

	if c.opts.EnableStreaming && c.stream != nil {
		c.stream.Connect()
	} else if c.opts.EnablePolling {
		interval := c.opts.PollingInterval
		if data.PollingIntervalSeconds > 0 {
			advertised := time.Duration(data.PollingIntervalSeconds) * time.Second
			if advertised > interval {
				interval = advertised
			}
		}
		c.startPollingWithInterval(interval)
	}

	c.queue.Start()
	c.setReady()
}

func (c *Client) checkVersionMetadata(meta *versionMetadata) {
	if meta == nil {
		return
	}
	if meta.DeprecationWarning != "" {
		c.log.Warnf("deprecation warning: %s", meta.DeprecationWarning)
	}
	if meta.SDKVersionMin != "" && version.LessThan(SDKVersion, meta.SDKVersionMin) {
		c.log.Errorf("SDK version %s is below the minimum required version %s", SDKVersion, meta.SDKVersionMin)
	}
	warnedRecommended := false
	if meta.SDKVersionRecommended != "" && version.LessThan(SDKVersion, meta.SDKVersionRecommended) {
		c.log.Warnf("SDK version %s is below the recommended version %s", SDKVersion, meta.SDKVersionRecommended)
		warnedRecommended = true
	}
	if meta.SDKVersionLatest != "" && !warnedRecommended && version.LessThan(SDKVersion, meta.SDKVersionLatest) {
		c.log.Infof("a newer SDK version is available: %s", meta.SDKVersionLatest)
	}
	if cb := c.opts.Callbacks.OnVersionInfo; cb != nil {
		cb(meta.SDKVersionMin, meta.SDKVersionRecommended, meta.SDKVersionLatest, meta.DeprecationWarning)
	}
}

func (c *Client) startPolling() {
	c.startPollingWithInterval(c.opts.PollingInterval)
}

func (c *Client) startPollingWithInterval(interval time.Duration) {
	c.mu.Lock()
	if c.polling != nil {
		c.mu.Unlock()
		return
	}
	pollCfg := polling.DefaultConfig(interval)
	c.polling = polling.New(c.doRefresh, pollCfg, c.log)
	c.mu.Unlock()
	c.polling.Start()
}

func (c *Client) doRefresh() {
	c.mu.RLock()
	since := c.lastUpdateTime
	c.mu.RUnlock()
	if since == "" {
		since = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()

	resp, err := c.tr.Get(ctx, fmt.Sprintf("/sdk/updates?since=%s", since))
	if err != nil {
		c.log.WithError(err).Warn("failed to refresh flags")
		c.mu.RLock()
		p := c.polling
		c.mu.RUnlock()
		if p != nil {
			p.OnError()
		}
		return
	}

	var data updatesResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		c.log.WithError(err).Warn("failed to decode updates response")
		return
	}

	if len(data.Flags) > 0 {
		c.store.SetMany(data.Flags, c.opts.CacheTTL)
		c.log.Debugf("flags refreshed: %d", len(data.Flags))
		if cb := c.opts.Callbacks.OnUpdate; cb != nil {
			cb(data.Flags)
		}
	}
	if data.CheckedAt != "" {
		c.mu.Lock()
		c.lastUpdateTime = data.CheckedAt
		c.mu.Unlock()
	}

	c.mu.RLock()
	p := c.polling
	c.mu.RUnlock()
	if p != nil {
		p.OnSuccess()
	}
}

func (c *Client) onStreamFlagUpdated(flag model.FlagState) {
	c.store.Set(flag.Key, flag, c.opts.CacheTTL)
	if cb := c.opts.Callbacks.OnUpdate; cb != nil {
		cb([]model.FlagState{flag})
	}
}

func (c *Client) onStreamFlagDeleted(key string) {
	c.store.Delete(key)
}

func (c *Client) onStreamFlagsReset(flags []model.FlagState) {
	c.store.Clear()
	c.store.SetMany(flags, c.opts.CacheTTL)
	if cb := c.opts.Callbacks.OnUpdate; cb != nil {
		cb(flags)
	}
}

func (c *Client) onSubscriptionError(message string) {
	if cb := c.opts.Callbacks.OnSubscriptionError; cb != nil {
		cb(message)
	}
}

func (c *Client) onConnectionLimit() {
	if cb := c.opts.Callbacks.OnConnectionLimit; cb != nil {
		cb()
	}
}

func (c *Client) onUsageUpdate(t transport.Telemetry) {
	if cb := c.opts.Callbacks.OnUsageUpdate; cb != nil {
		cb(t.APIUsagePercent, t.EvaluationUsagePercent, t.RateLimitWarning, t.SubscriptionStatus)
	}
}

func (c *Client) onAuthFailover(switched bool) {
	if !switched {
		c.reportError(errors.New(errors.AuthUnauthorized, "authentication failed on both primary and secondary credentials"))
	}
}

func (c *Client) reportError(err error) {
	msg := err.Error()
	if c.opts.ErrorSanitization.Enabled {
		msg = security.Sanitize(msg)
	}
	if cb := c.opts.Callbacks.OnError; cb != nil {
		cb(&sanitizedError{msg: msg, cause: err})
	}
}

// sanitizedError wraps err with a sanitized Error() string while
// preserving Unwrap for errors.Is/As callers that don't care about
// message redaction.
type sanitizedError struct {
	msg   string
	cause error
}

func (e *sanitizedError) Error() string { return e.msg }
func (e *sanitizedError) Unwrap() error { return e.cause }

func (c *Client) setReady() {
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	c.readyChClosedOnce.Do(func() { close(c.readyCh) })
	if cb := c.opts.Callbacks.OnReady; cb != nil {
		cb()
	}
}

// IsReady reports whether initialization has completed (successfully or
// in degraded fallback mode).
func (c *Client) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// WaitForReady blocks until the client is ready or timeout elapses.
func (c *Client) WaitForReady(timeout time.Duration) bool {
	if c.IsReady() {
		return true
	}
	select {
	case <-c.readyCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Evaluate resolves key against cache, stale cache, bootstrap, and
// defaultValue, in that order. It never blocks on network I/O.
func (c *Client) Evaluate(key string, defaultValue interface{}) model.EvaluationResult {
	return c.eval.Evaluate(key, defaultValue, "")
}

// EvaluateBool is a typed convenience wrapper over Evaluate.
func (c *Client) EvaluateBool(key string, defaultValue bool) bool {
	result := c.eval.Evaluate(key, defaultValue, model.FlagTypeBoolean)
	if v, ok := result.Value.(bool); ok {
		return v
	}
	return defaultValue
}

// EvaluateString is a typed convenience wrapper over Evaluate.
func (c *Client) EvaluateString(key string, defaultValue string) string {
	result := c.eval.Evaluate(key, defaultValue, model.FlagTypeString)
	if v, ok := result.Value.(string); ok {
		return v
	}
	return defaultValue
}

// EvaluateNumber is a typed convenience wrapper over Evaluate.
func (c *Client) EvaluateNumber(key string, defaultValue float64) float64 {
	result := c.eval.Evaluate(key, defaultValue, model.FlagTypeNumber)
	switch v := result.Value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return defaultValue
	}
}

// EvaluateJSON is a typed convenience wrapper over Evaluate.
func (c *Client) EvaluateJSON(key string, defaultValue map[string]interface{}) map[string]interface{} {
	result := c.eval.Evaluate(key, defaultValue, model.FlagTypeJSON)
	if v, ok := result.Value.(map[string]interface{}); ok {
		return v
	}
	return defaultValue
}

// Identify replaces the process-wide context used by evaluation calls
// that omit an explicit context, merging with any existing context's
// custom attributes.
func (c *Client) Identify(ctx model.EvaluationContext) {
	c.mu.Lock()
	if c.ctx != nil && c.ctx.Custom != nil {
		merged := ctx.Clone()
		if merged.Custom == nil {
			merged.Custom = map[string]interface{}{}
		}
		for k, v := range c.ctx.Custom {
			if _, exists := merged.Custom[k]; !exists {
				merged.Custom[k] = v
			}
		}
		c.ctx = &merged
	} else {
		cloned := ctx.Clone()
		c.ctx = &cloned
	}
	c.mu.Unlock()

	c.queue.Track("context.identified", map[string]interface{}{"userId": ctx.UserID})
}

// ResetContext clears the global context back to a freshly generated
// anonymous context.
func (c *Client) ResetContext() {
	anon := model.NewAnonymousContext(uuid.NewString)
	c.mu.Lock()
	c.ctx = &anon
	c.mu.Unlock()
	c.queue.Track("context.reset", nil)
}

// Context returns a defensive copy of the current global context, or
// nil if none has been set.
func (c *Client) Context() *model.EvaluationContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ctx == nil {
		return nil
	}
	cloned := c.ctx.Clone()
	return &cloned
}

// Track enqueues a custom analytics event, non-blocking.
func (c *Client) Track(eventType string, data map[string]interface{}) {
	c.queue.Track(eventType, data)
}

// TrackWithContext enqueues a custom analytics event with an explicit
// context snapshot, stripped of its private attributes.
func (c *Client) TrackWithContext(eventType string, data map[string]interface{}, ctx model.EvaluationContext) {
	c.queue.TrackWithContext(eventType, data, &ctx)
}

// Flush forces an immediate, synchronous delivery of any buffered
// events.
func (c *Client) Flush() {
	c.queue.Flush()
}

// Refresh forces an out-of-band poll, bypassing the regular schedule. A
// no-op while offline or closed.
func (c *Client) Refresh() {
	c.mu.RLock()
	offline, closed := c.opts.Offline, c.closed
	c.mu.RUnlock()
	if offline || closed {
		return
	}
	c.doRefresh()
}

// Close releases every background worker and the Transport's
// connection pool. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	p := c.polling
	c.mu.Unlock()

	if p != nil {
		p.Shutdown()
	}
	if c.stream != nil {
		c.stream.Shutdown()
	}
	if c.seedWatch != nil {
		c.seedWatch.Stop()
	}
	c.queue.Stop()
	c.tr.Close()
	c.log.Info("SDK closed")
}

// Store exposes the underlying Flag Store for stats reporting.
func (c *Client) Store() *store.Store { return c.store }

// Breaker exposes the underlying circuit breaker for stats reporting.
func (c *Client) Breaker() *breaker.Breaker { return c.tr.Breaker() }
