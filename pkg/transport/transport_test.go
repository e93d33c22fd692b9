package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flagkit/flagkit-go/pkg/breaker"
	"github.com/flagkit/flagkit-go/pkg/errors"
	"github.com/flagkit/flagkit-go/pkg/security"
)

func newTestTransport(t *testing.T, baseURL string) *Transport {
	t.Helper()
	creds := security.NewCredentialManager("sdk_primary12345678", "", nil)
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.MaxRetries = 2
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return New(cfg, creds, nil)
}

func TestGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") == "" {
			t.Error("expected API key header")
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)
	resp, err := tr.Get(context.Background(), "/sdk/init")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestPostSigningHeaders(t *testing.T) {
	var gotSig, gotTs, gotKeyID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotTs = r.Header.Get("X-Timestamp")
		gotKeyID = r.Header.Get("X-Key-Id")
		w.WriteHeader(200)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)
	_, err := tr.Post(context.Background(), "/sdk/events/batch", []byte(`{"events":[]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSig == "" || gotTs == "" || gotKeyID == "" {
		t.Fatalf("expected signature headers to be set, got sig=%q ts=%q keyId=%q", gotSig, gotTs, gotKeyID)
	}
}

func TestRetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(500)
			return
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)
	_, err := tr.Get(context.Background(), "/sdk/init")
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestNonRecoverableNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(404)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)
	_, err := tr.Get(context.Background(), "/sdk/init")
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for non-recoverable error, got %d", attempts)
	}
}

func TestAuthRejectionTriggersFailover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
	}))
	defer srv.Close()

	creds := security.NewCredentialManager("sdk_primary12345678", "sdk_secondary123456", nil)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	tr := New(cfg, creds, nil)

	_, err := tr.Get(context.Background(), "/sdk/init")
	if err == nil {
		t.Fatal("expected auth error")
	}
	if !creds.IsUsingSecondary() {
		t.Fatal("expected credential manager to fail over to secondary")
	}
}

func TestCircuitOpenAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	creds := security.NewCredentialManager("sdk_primary12345678", "", nil)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.MaxRetries = 1
	cfg.BreakerConfig = breaker.Config{FailureThreshold: 2, SuccessThreshold: 1, ResetTimeout: time.Hour, HalfOpenMaxInFlight: 1}
	tr := New(cfg, creds, nil)

	for i := 0; i < 2; i++ {
		if _, err := tr.Get(context.Background(), "/sdk/init"); err == nil {
			t.Fatal("expected error")
		}
	}

	_, err := tr.Get(context.Background(), "/sdk/init")
	if !errors.IsRecoverable(err) {
		t.Fatalf("expected a recoverable CIRCUIT_OPEN error, got %v", err)
	}
	var fkErr *errors.Error
	if e, ok := err.(*errors.Error); ok {
		fkErr = e
	}
	if fkErr == nil || fkErr.Code != errors.CircuitOpen {
		t.Fatalf("expected CIRCUIT_OPEN, got %v", err)
	}
}
