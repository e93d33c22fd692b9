// Package transport implements the HTTP Transport: request construction
// and signing, retries with jittered exponential backoff, response
// status mapping, and header-based telemetry extraction. Every call is
// gated by a Circuit Breaker and reads the current credential from the
// Credential Manager.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flagkit/flagkit-go/pkg/breaker"
	"github.com/flagkit/flagkit-go/pkg/errors"
	"github.com/flagkit/flagkit-go/pkg/security"
	"github.com/sirupsen/logrus"
)

// SDKVersion is the version advertised in outbound headers.
const SDKVersion = "1.0.8"

// SDKLanguage identifies this SDK's implementation language to the
// service, mirroring the per-language header the other SDKs send.
const SDKLanguage = "go"

var validSubscriptionStatuses = map[string]struct{}{
	"active":    {},
	"trial":     {},
	"past_due":  {},
	"suspended": {},
	"cancelled": {},
}

// Telemetry is the usage/subscription data extracted from response
// headers. Fields are nil/zero when the corresponding header was
// absent. The Transport only forwards this; it never acts on it.
type Telemetry struct {
	APIUsagePercent        *float64
	EvaluationUsagePercent *float64
	RateLimitWarning       bool
	SubscriptionStatus     string
}

func (t *Telemetry) empty() bool {
	return t.APIUsagePercent == nil && t.EvaluationUsagePercent == nil && !t.RateLimitWarning && t.SubscriptionStatus == ""
}

// Response is the result of a successful (2xx) call.
type Response struct {
	StatusCode int
	Body       []byte
	Telemetry  *Telemetry
}

// Config configures a Transport.
type Config struct {
	BaseURL              string
	Timeout              time.Duration
	MaxRetries           int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	BackoffMultiplier    float64
	EnableRequestSigning bool
	BreakerConfig        breaker.Config
}

// DefaultConfig returns the spec's transport defaults: 5s timeout, 3
// attempts, 1s base delay doubling to a 30s cap.
func DefaultConfig() Config {
	return Config{
		Timeout:              5 * time.Second,
		MaxRetries:           3,
		BaseDelay:            1 * time.Second,
		MaxDelay:             30 * time.Second,
		BackoffMultiplier:    2,
		EnableRequestSigning: true,
		BreakerConfig:        breaker.DefaultConfig(),
	}
}

// Transport is the HTTP Transport. Construct with New.
type Transport struct {
	cfg     Config
	baseURL string
	client  *http.Client
	creds   *security.CredentialManager
	br      *breaker.Breaker
	log     *logrus.Entry

	mu                sync.Mutex
	rng               *rand.Rand
	onUsageUpdate     func(Telemetry)
	onAuthFailover    func(switched bool)
}

// New constructs a Transport over creds using cfg. A nil logger falls
// back to the standard logrus logger.
func New(cfg Config, creds *security.CredentialManager, log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		creds:   creds,
		br:      breaker.New(cfg.BreakerConfig),
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetUsageUpdateCallback registers the callback invoked with telemetry
// extracted from every response that carries any usage header.
func (t *Transport) SetUsageUpdateCallback(cb func(Telemetry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUsageUpdate = cb
}

// SetAuthFailoverCallback registers the callback invoked after a 401
// triggers (or fails to trigger) credential failover.
func (t *Transport) SetAuthFailoverCallback(cb func(switched bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAuthFailover = cb
}

// Breaker exposes the underlying circuit breaker for stats reporting.
func (t *Transport) Breaker() *breaker.Breaker { return t.br }

// Get performs a signed-free GET request against path.
func (t *Transport) Get(ctx context.Context, path string) (*Response, error) {
	return t.executeWithRetry(ctx, func() (*Response, error) { return t.doGet(ctx, path) })
}

// Post performs a POST request against path with a JSON-encoded body,
// signed when EnableRequestSigning is set and body is non-empty.
func (t *Transport) Post(ctx context.Context, path string, body []byte) (*Response, error) {
	return t.executeWithRetry(ctx, func() (*Response, error) { return t.doPost(ctx, path, body) })
}

// Close releases the Transport's idle connections.
func (t *Transport) Close() {
	t.client.CloseIdleConnections()
}

func (t *Transport) doGet(ctx context.Context, path string) (*Response, error) {
	if !t.br.Allow() {
		return nil, errors.New(errors.CircuitOpen, "circuit breaker is open")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(errors.NetworkError, "building request", err)
	}
	t.applyCommonHeaders(req)

	return t.dispatch(req)
}

func (t *Transport) doPost(ctx context.Context, path string, body []byte) (*Response, error) {
	if !t.br.Allow() {
		return nil, errors.New(errors.CircuitOpen, "circuit breaker is open")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.NetworkError, "building request", err)
	}
	t.applyCommonHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	if t.cfg.EnableRequestSigning && len(body) > 0 {
		key := t.creds.Current()
		sig := security.CreateRequestSignature(string(body), key)
		req.Header.Set("X-Signature", sig.Signature)
		req.Header.Set("X-Timestamp", strconv.FormatInt(sig.Timestamp, 10))
		req.Header.Set("X-Key-Id", sig.KeyID)
	}

	return t.dispatch(req)
}

func (t *Transport) applyCommonHeaders(req *http.Request) {
	req.Header.Set("X-API-Key", t.creds.Current())
	req.Header.Set("User-Agent", "FlagKit-Go/"+SDKVersion)
	req.Header.Set("X-FlagKit-SDK-Version", SDKVersion)
	req.Header.Set("X-FlagKit-SDK-Language", SDKLanguage)
}

func (t *Transport) dispatch(req *http.Request) (*Response, error) {
	t.log.WithFields(logrus.Fields{"method": req.Method, "url": req.URL.String()}).Debug("dispatching request")

	resp, err := t.client.Do(req)
	if err != nil {
		t.br.RecordFailure()
		return nil, errors.Wrap(errors.NetworkError, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.br.RecordFailure()
		return nil, errors.Wrap(errors.NetworkError, "reading response body", err)
	}

	telemetry := t.extractTelemetry(resp)
	if telemetry != nil {
		t.mu.Lock()
		cb := t.onUsageUpdate
		t.mu.Unlock()
		if cb != nil {
			cb(*telemetry)
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		t.br.RecordSuccess()
		return &Response{StatusCode: resp.StatusCode, Body: respBody, Telemetry: telemetry}, nil
	}

	t.br.RecordFailure()
	return nil, t.mapStatusError(resp.StatusCode)
}

func (t *Transport) mapStatusError(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		switched := t.creds.OnAuthRejection()
		t.mu.Lock()
		cb := t.onAuthFailover
		t.mu.Unlock()
		if cb != nil {
			cb(switched)
		}
		return errors.New(errors.AuthUnauthorized, "unauthorized: invalid API key")
	case status == http.StatusForbidden:
		return errors.New(errors.HTTPForbidden, "forbidden: API key does not have access")
	case status == http.StatusNotFound:
		return errors.New(errors.HTTPNotFound, "resource not found")
	case status == http.StatusTooManyRequests:
		return errors.New(errors.HTTPRateLimited, "rate limited")
	case status >= 500:
		return errors.New(errors.HTTPServerError, fmt.Sprintf("server error: %d", status))
	default:
		return errors.New(errors.HTTPError, fmt.Sprintf("HTTP error: %d", status))
	}
}

// extractTelemetry reads the usage headers from resp. Returns nil if
// none of the headers are present.
func (t *Transport) extractTelemetry(resp *http.Response) *Telemetry {
	apiUsage := resp.Header.Get("X-API-Usage-Percent")
	evalUsage := resp.Header.Get("X-Evaluation-Usage-Percent")
	rateLimitWarning := resp.Header.Get("X-Rate-Limit-Warning")
	subscriptionStatus := resp.Header.Get("X-Subscription-Status")

	if apiUsage == "" && evalUsage == "" && rateLimitWarning == "" && subscriptionStatus == "" {
		return nil
	}

	out := &Telemetry{RateLimitWarning: strings.EqualFold(rateLimitWarning, "true")}

	if apiUsage != "" {
		if v, err := strconv.ParseFloat(apiUsage, 64); err == nil {
			out.APIUsagePercent = &v
			if v >= 80 {
				t.log.Warnf("API usage at %.1f%%", v)
			}
		} else {
			t.log.Debugf("failed to parse X-API-Usage-Percent header: %s", apiUsage)
		}
	}

	if evalUsage != "" {
		if v, err := strconv.ParseFloat(evalUsage, 64); err == nil {
			out.EvaluationUsagePercent = &v
			if v >= 80 {
				t.log.Warnf("evaluation usage at %.1f%%", v)
			}
		} else {
			t.log.Debugf("failed to parse X-Evaluation-Usage-Percent header: %s", evalUsage)
		}
	}

	if subscriptionStatus != "" {
		lower := strings.ToLower(subscriptionStatus)
		if _, ok := validSubscriptionStatuses[lower]; ok {
			out.SubscriptionStatus = lower
			if lower == "suspended" {
				t.log.Error("subscription suspended - service degraded")
			}
		}
	}

	if out.empty() {
		return nil
	}
	return out
}

func (t *Transport) executeWithRetry(ctx context.Context, op func() (*Response, error)) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxRetries; attempt++ {
		resp, err := op()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !errors.IsRecoverable(err) || attempt >= t.cfg.MaxRetries {
			return nil, err
		}

		delay := t.calculateBackoff(attempt)
		t.log.WithError(err).Debugf("retry attempt %d after %s", attempt, delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New(errors.NetworkRetryLimit, "retry limit exceeded")
}

func (t *Transport) calculateBackoff(attempt int) time.Duration {
	exp := float64(t.cfg.BaseDelay) * pow(t.cfg.BackoffMultiplier, attempt-1)
	delay := time.Duration(exp)
	if delay > t.cfg.MaxDelay {
		delay = t.cfg.MaxDelay
	}
	t.mu.Lock()
	jitter := time.Duration(float64(delay) * 0.1 * t.rng.Float64())
	t.mu.Unlock()
	return delay + jitter
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
