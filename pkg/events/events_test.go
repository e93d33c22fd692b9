package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/flagkit/flagkit-go/pkg/transport"
)

type fakePoster struct {
	mu    sync.Mutex
	calls [][]byte
	fail  bool
}

func (f *fakePoster) Post(ctx context.Context, path string, body []byte) (*transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	f.calls = append(f.calls, body)
	return &transport.Response{StatusCode: 200}, nil
}

func (f *fakePoster) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestTrackAndManualFlush(t *testing.T) {
	p := &fakePoster{}
	q := New(p, Config{SessionID: "s1", SDKVersion: "1.0.8", BatchSize: 100, FlushInterval: time.Hour}, nil)

	q.Track("click", map[string]interface{}{"x": 1})
	if q.Size() != 1 {
		t.Fatalf("expected size 1, got %d", q.Size())
	}

	q.Flush()
	if q.Size() != 0 {
		t.Fatalf("expected buffer drained after flush, got %d", q.Size())
	}
	if p.callCount() != 1 {
		t.Fatalf("expected 1 post call, got %d", p.callCount())
	}

	var decoded struct {
		Events []Event `json:"events"`
	}
	if err := json.Unmarshal(p.calls[0], &decoded); err != nil {
		t.Fatalf("failed to decode batch: %v", err)
	}
	if len(decoded.Events) != 1 || decoded.Events[0].Type != "click" {
		t.Fatalf("unexpected batch contents: %+v", decoded.Events)
	}
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	p := &fakePoster{}
	q := New(p, Config{SessionID: "s1", SDKVersion: "1.0.8", BatchSize: 3, FlushInterval: time.Hour}, nil)
	q.Start()
	defer q.Stop()

	for i := 0; i < 3; i++ {
		q.Track("evt", nil)
	}

	deadline := time.Now().Add(time.Second)
	for p.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.callCount() == 0 {
		t.Fatal("expected batch-size threshold to trigger a flush")
	}
}

func TestQueueFullDropsEvents(t *testing.T) {
	p := &fakePoster{}
	q := New(p, Config{SessionID: "s1", SDKVersion: "1.0.8", MaxSize: 2, BatchSize: 100, FlushInterval: time.Hour}, nil)

	q.Track("a", nil)
	q.Track("b", nil)
	q.Track("c", nil)

	if q.Size() != 2 {
		t.Fatalf("expected queue capped at max size 2, got %d", q.Size())
	}
}

func TestStopFlushesRemaining(t *testing.T) {
	p := &fakePoster{}
	q := New(p, Config{SessionID: "s1", SDKVersion: "1.0.8", BatchSize: 100, FlushInterval: time.Hour}, nil)
	q.Start()
	q.Track("final", nil)
	q.Stop()

	if p.callCount() != 1 {
		t.Fatalf("expected final flush on stop, got %d calls", p.callCount())
	}
}
