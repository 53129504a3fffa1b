package audit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// collector remembers events for assertions.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestLog_DeliversToHandlers(t *testing.T) {
	var got collector
	logger := New(10, WithHandler(got.handle))

	logger.Log(Event{Action: ActionSignIn, Result: ResultSuccess, UserID: "admin"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	events := got.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Action != ActionSignIn || events[0].UserID != "admin" {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if events[0].Timestamp.IsZero() {
		t.Error("a zero timestamp must be filled in")
	}
}

func TestLog_PreservesExplicitTimestamp(t *testing.T) {
	var got collector
	logger := New(10, WithHandler(got.handle))

	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	logger.Log(Event{Action: ActionSignOut, Result: ResultSuccess, Timestamp: ts})
	_ = logger.Close()

	events := got.all()
	if len(events) != 1 || !events[0].Timestamp.Equal(ts) {
		t.Errorf("explicit timestamp must be preserved, got %+v", events)
	}
}

func TestLogCtx_FillsRequestID(t *testing.T) {
	var got collector
	logger := New(10, WithHandler(got.handle))

	ctx := WithRequestID(context.Background(), "req-123")
	logger.LogCtx(ctx, Event{Action: ActionRefresh, Result: ResultFailure})
	logger.LogCtx(context.Background(), Event{Action: ActionRefresh, Result: ResultSuccess, RequestID: "explicit"})
	_ = logger.Close()

	events := got.all()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].RequestID != "req-123" {
		t.Errorf("RequestID = %q, want the context value", events[0].RequestID)
	}
	if events[1].RequestID != "explicit" {
		t.Errorf("RequestID = %q, an explicit ID must win over the context", events[1].RequestID)
	}
}

func TestClose_DrainsQueue(t *testing.T) {
	var got collector
	logger := New(100, WithHandler(got.handle))

	for i := 0; i < 50; i++ {
		logger.Log(Event{Action: ActionAccountSwitch, Result: ResultSuccess})
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if n := len(got.all()); n != 50 {
		t.Errorf("got %d events after Close, want all 50 drained", n)
	}
}

func TestLog_AfterCloseDoesNotBlock(t *testing.T) {
	logger := New(1)
	_ = logger.Close()

	done := make(chan struct{})
	go func() {
		logger.Log(Event{Action: ActionSignIn, Result: ResultSuccess})
		logger.Log(Event{Action: ActionSignIn, Result: ResultSuccess})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked after Close")
	}
}

func TestRequestID_RoundTrip(t *testing.T) {
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("RequestID on empty context = %q, want empty", got)
	}
	ctx := WithRequestID(context.Background(), "req-9")
	if got := RequestID(ctx); got != "req-9" {
		t.Errorf("RequestID = %q, want %q", got, "req-9")
	}
}
