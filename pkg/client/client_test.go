package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/flagkit/flagkit-go/pkg/config"
	"github.com/flagkit/flagkit-go/pkg/model"
	"github.com/stretchr/testify/require"
)

func testOptions(baseURL string) config.Options {
	opts := config.Defaults()
	opts.APIKey = "sdk_test1234567890"
	opts.BaseURL = baseURL
	opts.EnablePolling = false
	opts.EnableStreaming = false
	opts.Timeout = time.Second
	opts.Retries = 1
	return opts
}

func TestNewOfflineIsReadyImmediately(t *testing.T) {
	opts := testOptions("http://unused.invalid")
	opts.Offline = true
	opts.Bootstrap = map[string]interface{}{"dark-mode": true}

	c, err := New(opts)
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.WaitForReady(time.Second))
	require.True(t, c.EvaluateBool("dark-mode", false))
}

func TestNewFetchesFlagsFromInit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sdk/init" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"flags":[{"key":"dark-mode","value":true,"enabled":true,"flagType":"boolean","version":1}],"environmentId":"env-1"}`)
	}))
	defer srv.Close()

	c, err := New(testOptions(srv.URL))
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.WaitForReady(2*time.Second))
	require.True(t, c.EvaluateBool("dark-mode", false))
}

func TestInitFailureStillBecomesReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.Retries = 1

	var gotErr error
	var mu sync.Mutex
	opts.Callbacks.OnError = func(err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	}

	c, err := New(opts)
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.WaitForReady(2*time.Second))
	result := c.Evaluate("dark-mode", "fallback")
	require.Equal(t, "fallback", result.Value)
	require.Equal(t, model.ReasonFlagNotFound, result.Reason)

	mu.Lock()
	defer mu.Unlock()
	require.Error(t, gotErr)
}

func TestIdentifyMergesCustomAttributesAndResetClears(t *testing.T) {
	opts := testOptions("http://unused.invalid")
	opts.Offline = true

	c, err := New(opts)
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.WaitForReady(time.Second))

	c.Identify(model.EvaluationContext{UserID: "u1", Custom: map[string]interface{}{"plan": "pro"}})
	c.Identify(model.EvaluationContext{UserID: "u1", Email: "u1@example.com"})

	ctx := c.Context()
	require.NotNil(t, ctx)
	require.Equal(t, "u1@example.com", ctx.Email)
	require.Equal(t, "pro", ctx.Custom["plan"])

	c.ResetContext()
	ctx = c.Context()
	require.NotNil(t, ctx)
	require.True(t, ctx.Anonymous)
	require.NotEmpty(t, ctx.UserID)
	require.NotEqual(t, "u1", ctx.UserID)
}

func TestTrackAndFlushPostsBatch(t *testing.T) {
	var received []map[string]interface{}
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sdk/init":
			fmt.Fprint(w, `{"flags":[]}`)
		case "/sdk/events/batch":
			var body struct {
				Events []map[string]interface{} `json:"events"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			mu.Lock()
			received = append(received, body.Events...)
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := New(testOptions(srv.URL))
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.WaitForReady(2*time.Second))

	c.Track("flag.viewed", map[string]interface{}{"key": "dark-mode"})
	c.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, "flag.viewed", received[0]["type"])
}
