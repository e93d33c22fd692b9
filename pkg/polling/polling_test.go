package polling

import (
	"testing"
	"time"
)

func TestBackoffAndReset(t *testing.T) {
	m := New(func() {}, Config{
		BaseInterval:      100 * time.Millisecond,
		Jitter:            0,
		BackoffMultiplier: 2,
		MaxInterval:       400 * time.Millisecond,
	}, nil)

	for i := 0; i < 5; i++ {
		m.OnError()
	}
	if got := m.CurrentInterval(); got != 400*time.Millisecond {
		t.Fatalf("expected interval capped at 400ms, got %s", got)
	}

	m.OnSuccess()
	if got := m.CurrentInterval(); got != 100*time.Millisecond {
		t.Fatalf("expected interval reset to 100ms, got %s", got)
	}
}

func TestPollNowInvokesCallback(t *testing.T) {
	called := make(chan struct{}, 1)
	m := New(func() { called <- struct{}{} }, Config{
		BaseInterval:      time.Hour,
		Jitter:            0,
		BackoffMultiplier: 2,
		MaxInterval:       time.Hour,
	}, nil)
	m.Start()
	defer m.Shutdown()

	m.PollNow()
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("expected PollNow to trigger onPoll")
	}
}

func TestStopPreventsFurtherPolls(t *testing.T) {
	count := 0
	m := New(func() { count++ }, Config{
		BaseInterval:      10 * time.Millisecond,
		Jitter:            0,
		BackoffMultiplier: 2,
		MaxInterval:       time.Second,
	}, nil)
	m.Start()
	time.Sleep(35 * time.Millisecond)
	m.Shutdown()
	after := count
	time.Sleep(30 * time.Millisecond)
	if count != after {
		t.Fatalf("expected no polls after shutdown, got %d -> %d", after, count)
	}
}
