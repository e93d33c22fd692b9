// Package streaming implements the Streaming Manager: a two-step
// token-exchange push connection over Server-Sent Events, with
// heartbeat monitoring, reconnect backoff, and a graceful step-down to
// polling when the stream proves unusable.
package streaming

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/flagkit/flagkit-go/pkg/model"
	"github.com/flagkit/flagkit-go/pkg/security"
	"github.com/sirupsen/logrus"
)

// State is one of the Streaming Manager's connection states.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
)

// ErrorCode is a stream-level error code sent by the service over an
// "error" SSE event.
type ErrorCode string

const (
	TokenInvalid          ErrorCode = "TOKEN_INVALID"
	TokenExpired          ErrorCode = "TOKEN_EXPIRED"
	SubscriptionSuspended ErrorCode = "SUBSCRIPTION_SUSPENDED"
	ConnectionLimit       ErrorCode = "CONNECTION_LIMIT"
	StreamingUnavailable  ErrorCode = "STREAMING_UNAVAILABLE"
)

// Config configures a Manager.
type Config struct {
	BaseURL               string
	ReconnectInterval     time.Duration
	MaxReconnectAttempts  int
	HeartbeatInterval     time.Duration
	StreamingRetryInterval time.Duration
}

// DefaultConfig returns the spec's streaming defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectInterval:      3 * time.Second,
		MaxReconnectAttempts:   3,
		HeartbeatInterval:      30 * time.Second,
		StreamingRetryInterval: 5 * time.Minute,
	}
}

// Callbacks are invoked from the Manager's worker goroutines. They must
// not block long.
type Callbacks struct {
	OnFlagUpdated       func(model.FlagState)
	OnFlagDeleted       func(key string)
	OnFlagsReset        func([]model.FlagState)
	OnFallbackToPolling func()
	OnSubscriptionError func(message string)
	OnConnectionLimit   func()
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int     `json:"expiresIn"`
}

// Manager is the Streaming Manager. The zero value is not usable;
// construct with New.
type Manager struct {
	cfg     Config
	baseURL string
	creds   *security.CredentialManager
	cb      Callbacks
	log     *logrus.Entry

	tokenClient  *http.Client
	streamClient *http.Client

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	lastHeartbeat        time.Time
	cancelConn           context.CancelFunc
	tokenRefreshTimer    *time.Timer
	heartbeatTimer       *time.Timer
	retryTimer           *time.Timer
	reconnectTimer       *time.Timer
	wg                   sync.WaitGroup
}

// New constructs a Manager. A nil logger falls back to the standard
// logrus logger.
func New(cfg Config, baseURL string, creds *security.CredentialManager, cb Callbacks, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		cfg:          cfg,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		creds:        creds,
		cb:           cb,
		log:          log,
		state:        Disconnected,
		tokenClient:  &http.Client{Timeout: 10 * time.Second},
		streamClient: &http.Client{}, // no timeout; SSE is a long-lived read
	}
}

// GetState returns the current connection state.
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the stream is CONNECTED.
func (m *Manager) IsConnected() bool {
	return m.GetState() == Connected
}

// Connect initiates a connection. Concurrent callers produce exactly
// one initiator: only a caller that observes DISCONNECTED, FAILED, or
// RECONNECTING transitions the state and starts the worker.
func (m *Manager) Connect() {
	m.mu.Lock()
	switch m.state {
	case Disconnected, Failed, Reconnecting:
		m.state = Connecting
	default:
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.initiateConnection()
	}()
}

// Disconnect tears down the current connection and any scheduled
// timers, and returns to DISCONNECTED.
func (m *Manager) Disconnect() {
	m.cleanup()
	m.mu.Lock()
	m.state = Disconnected
	m.consecutiveFailures = 0
	m.mu.Unlock()
	m.log.Debug("streaming disconnected")
}

// RetryConnection resets the failure count and attempts to connect
// again, unless already connected or connecting.
func (m *Manager) RetryConnection() {
	m.mu.Lock()
	current := m.state
	m.mu.Unlock()
	if current == Connected || current == Connecting {
		return
	}
	m.mu.Lock()
	m.consecutiveFailures = 0
	m.mu.Unlock()
	m.Connect()
}

// Shutdown disconnects and waits up to 5s for the worker to exit.
func (m *Manager) Shutdown() {
	m.Disconnect()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

func (m *Manager) initiateConnection() {
	tok, err := m.fetchStreamToken()
	if err != nil {
		m.log.WithError(err).Error("failed to fetch stream token")
		m.handleConnectionFailure()
		return
	}

	m.scheduleTokenRefresh(time.Duration(float64(tok.ExpiresIn)*0.8) * time.Second)
	m.createConnection(tok.Token)
}

func (m *Manager) fetchStreamToken() (*tokenResponse, error) {
	req, err := http.NewRequest(http.MethodPost, m.baseURL+"/sdk/stream/token", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", m.creds.Current())

	resp, err := m.tokenClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch stream token: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (m *Manager) scheduleTokenRefresh(delay time.Duration) {
	m.mu.Lock()
	if m.tokenRefreshTimer != nil {
		m.tokenRefreshTimer.Stop()
	}
	m.tokenRefreshTimer = time.AfterFunc(delay, m.refreshToken)
	m.mu.Unlock()
}

func (m *Manager) refreshToken() {
	tok, err := m.fetchStreamToken()
	if err != nil {
		m.log.WithError(err).Warn("failed to refresh stream token, reconnecting")
		m.Disconnect()
		m.Connect()
		return
	}
	m.scheduleTokenRefresh(time.Duration(float64(tok.ExpiresIn)*0.8) * time.Second)
}

func (m *Manager) createConnection(token string) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancelConn = cancel
	m.mu.Unlock()

	streamURL := m.baseURL + "/sdk/stream?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		m.handleConnectionFailure()
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return // cancelled by Disconnect/Shutdown
		}
		m.log.WithError(err).Error("SSE connection error")
		m.handleConnectionFailure()
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		m.log.Errorf("SSE connection failed: %d", resp.StatusCode)
		m.handleConnectionFailure()
		return
	}

	m.handleOpen()
	m.readEvents(ctx, resp.Body)
}

func (m *Manager) handleOpen() {
	m.mu.Lock()
	m.state = Connected
	m.consecutiveFailures = 0
	m.lastHeartbeat = time.Now()
	m.mu.Unlock()
	m.startHeartbeatMonitor()
	m.log.Info("streaming connected")
}

// readEvents drives the line-assembler state machine described in the
// spec: accumulate data: lines until a blank line, then dispatch. Its
// only suspension point is the blocking read on body; cancelling ctx
// closes the underlying connection and unblocks it.
func (m *Manager) readEvents(ctx context.Context, body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				m.processEvent(eventType, strings.Join(dataLines, "\n"))
			}
			eventType = ""
			dataLines = nil
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if ctx.Err() != nil {
		return // cancelled, discard any trailing partial state
	}

	m.mu.Lock()
	stillConnected := m.state == Connected
	m.mu.Unlock()
	if stillConnected {
		m.handleConnectionFailure()
	}
}

func (m *Manager) processEvent(eventType, data string) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("failed to process event %s: %v", eventType, r)
		}
	}()

	switch eventType {
	case "flag_updated":
		var flag model.FlagState
		if err := json.Unmarshal([]byte(data), &flag); err != nil {
			m.log.WithError(err).Warn("failed to decode flag_updated event")
			return
		}
		if m.cb.OnFlagUpdated != nil {
			m.cb.OnFlagUpdated(flag)
		}

	case "flag_deleted":
		var payload struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			m.log.WithError(err).Warn("failed to decode flag_deleted event")
			return
		}
		if m.cb.OnFlagDeleted != nil {
			m.cb.OnFlagDeleted(payload.Key)
		}

	case "flags_reset":
		var flags []model.FlagState
		if err := json.Unmarshal([]byte(data), &flags); err != nil {
			m.log.WithError(err).Warn("failed to decode flags_reset event")
			return
		}
		if m.cb.OnFlagsReset != nil {
			m.cb.OnFlagsReset(flags)
		}

	case "heartbeat":
		m.mu.Lock()
		m.lastHeartbeat = time.Now()
		m.mu.Unlock()

	case "error":
		m.handleStreamError(data)

	default:
		// unknown events are ignored per the wire format contract
	}
}

func (m *Manager) handleStreamError(data string) {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		m.log.WithError(err).Warn("failed to parse stream error event")
		m.handleConnectionFailure()
		return
	}

	code := ErrorCode(payload.Code)
	m.log.Warnf("SSE error event received: code=%s message=%s", code, payload.Message)

	switch code {
	case TokenExpired, TokenInvalid:
		m.cleanup()
		m.mu.Lock()
		m.state = Reconnecting
		m.mu.Unlock()
		m.Connect()

	case SubscriptionSuspended:
		if m.cb.OnSubscriptionError != nil {
			m.cb.OnSubscriptionError(payload.Message)
		}
		m.cleanup()
		m.mu.Lock()
		m.state = Failed
		m.mu.Unlock()
		if m.cb.OnFallbackToPolling != nil {
			m.cb.OnFallbackToPolling()
		}

	case ConnectionLimit:
		if m.cb.OnConnectionLimit != nil {
			m.cb.OnConnectionLimit()
		}
		m.handleConnectionFailure()

	case StreamingUnavailable:
		m.cleanup()
		m.mu.Lock()
		m.state = Failed
		m.mu.Unlock()
		if m.cb.OnFallbackToPolling != nil {
			m.cb.OnFallbackToPolling()
		}

	default:
		m.log.Warnf("unknown stream error code: %s", payload.Code)
		m.handleConnectionFailure()
	}
}

func (m *Manager) handleConnectionFailure() {
	m.cleanup()

	m.mu.Lock()
	m.consecutiveFailures++
	failures := m.consecutiveFailures
	m.mu.Unlock()

	if failures >= m.cfg.MaxReconnectAttempts {
		m.mu.Lock()
		m.state = Failed
		m.mu.Unlock()
		m.log.Warnf("streaming failed, falling back to polling after %d failures", failures)
		if m.cb.OnFallbackToPolling != nil {
			m.cb.OnFallbackToPolling()
		}
		m.scheduleStreamingRetry()
		return
	}

	m.mu.Lock()
	m.state = Reconnecting
	m.mu.Unlock()
	m.scheduleReconnect(failures)
}

func (m *Manager) scheduleReconnect(failures int) {
	delay := m.reconnectDelay(failures)
	m.log.Debugf("scheduling reconnect in %s, attempt %d", delay, failures)

	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, m.Connect)
	m.mu.Unlock()
}

func (m *Manager) reconnectDelay(failures int) time.Duration {
	base := float64(m.cfg.ReconnectInterval)
	backoff := base * pow2(failures-1)
	delay := time.Duration(backoff)
	if cap := 30 * time.Second; delay > cap {
		delay = cap
	}
	return delay
}

func (m *Manager) scheduleStreamingRetry() {
	m.mu.Lock()
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	interval := m.cfg.StreamingRetryInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	m.retryTimer = time.AfterFunc(interval, func() {
		m.log.Info("retrying streaming connection")
		m.RetryConnection()
	})
	m.mu.Unlock()
}

func (m *Manager) startHeartbeatMonitor() {
	m.stopHeartbeatMonitor()

	checkInterval := time.Duration(float64(m.cfg.HeartbeatInterval) * 1.5)
	m.mu.Lock()
	m.heartbeatTimer = time.AfterFunc(checkInterval, m.checkHeartbeat)
	m.mu.Unlock()
}

func (m *Manager) checkHeartbeat() {
	m.mu.Lock()
	since := time.Since(m.lastHeartbeat)
	threshold := m.cfg.HeartbeatInterval * 2
	m.mu.Unlock()

	if since > threshold {
		m.log.Warnf("heartbeat timeout, reconnecting. time since: %s", since)
		m.handleConnectionFailure()
		return
	}
	m.startHeartbeatMonitor()
}

func (m *Manager) stopHeartbeatMonitor() {
	m.mu.Lock()
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
	m.mu.Unlock()
}

func (m *Manager) cleanup() {
	m.mu.Lock()
	if m.cancelConn != nil {
		m.cancelConn()
		m.cancelConn = nil
	}
	if m.tokenRefreshTimer != nil {
		m.tokenRefreshTimer.Stop()
		m.tokenRefreshTimer = nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()
	m.stopHeartbeatMonitor()
}

func pow2(exp int) float64 {
	if exp < 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= 2
	}
	return result
}
