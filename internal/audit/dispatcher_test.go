package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"athenaeum.org/internal/obs"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *captureSink) Write(_ context.Context, e Event) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, 8)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Event: "auth.login", Success: true})
	}
	d.Close()

	if got := sink.count(); got != 5 {
		t.Fatalf("expected 5 events after close, got %d", got)
	}
	if d.Dropped() != 0 {
		t.Fatalf("expected no drops, got %d", d.Dropped())
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &captureSink{block: make(chan struct{})}
	d := NewDispatcher(sink, 1)

	// First event parks the worker, second fills the buffer,
	// everything after must be dropped without blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Emit(context.Background(), Event{Event: "auth.login"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events")
	}

	close(sink.block)
	d.Close()
}

func TestDispatcherEmitAfterClose(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, 4)
	d.Close()

	d.Emit(context.Background(), Event{Event: "auth.logout"})
	if got := sink.count(); got != 0 {
		t.Fatalf("expected no delivery after close, got %d", got)
	}
}

func TestLogSinkWritesJSON(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	LogSink{}.Write(context.Background(), Event{
		Time:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Event:   "auth.login",
		ActorID: "user-1",
		IP:      "10.0.0.1",
		Success: true,
		Fields:  map[string]string{"identifier": "a@b.c"},
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "auth.login" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["actor_id"] != "user-1" {
		t.Fatalf("unexpected actor: %v", entry["actor_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["identifier"] != "a@b.c" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}
