package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// gatedSink holds every Record call until gate is closed.
type gatedSink struct {
	gate chan struct{}
	got  chan Event
}

func newGatedSink() *gatedSink {
	return &gatedSink{gate: make(chan struct{}), got: make(chan Event, 16)}
}

func (s *gatedSink) Record(_ context.Context, event Event) {
	<-s.gate
	s.got <- event
}

func TestNilRelayIsInert(t *testing.T) {
	var r *Relay
	r.Emit(context.Background(), Event{Kind: "login_success"})
	r.Close()
	if r.Stats() != (Stats{}) {
		t.Fatalf("nil relay reported %+v", r.Stats())
	}
}

func TestRelayStampsAndDeliversBeforeClose(t *testing.T) {
	sink := NewChannelSink(4)
	r := NewRelay(sink, 4, Block)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	r.Emit(context.Background(), Event{Kind: "login_success", Identifier: "a@b.com", Outcome: Success})
	r.Close()

	select {
	case ev := <-sink.Events():
		if !ev.At.Equal(at) {
			t.Fatalf("At = %v, want %v", ev.At, at)
		}
		if ev.Kind != "login_success" || !ev.Succeeded() {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("event not delivered before Close returned")
	}
	if got := r.Stats().Delivered; got != 1 {
		t.Fatalf("Delivered = %d, want 1", got)
	}
}

func TestRelayKeepsCallerTimestamp(t *testing.T) {
	sink := NewChannelSink(1)
	r := NewRelay(sink, 1, Block)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Emit(context.Background(), Event{Kind: "logout", At: at})
	r.Close()
	if ev := <-sink.Events(); !ev.At.Equal(at) {
		t.Fatalf("At overwritten: %v", ev.At)
	}
}

func TestRelayDropPolicyNeverBlocks(t *testing.T) {
	sink := newGatedSink()
	r := NewRelay(sink, 1, Drop)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			r.Emit(context.Background(), Event{Kind: "mfa_failure"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked under the Drop policy")
	}
	if r.Stats().Dropped == 0 {
		t.Fatal("expected drops with a one-slot queue and a stalled sink")
	}
	close(sink.gate)
	r.Close()
}

func TestRelayBlockPolicyHonoursContext(t *testing.T) {
	sink := newGatedSink()
	r := NewRelay(sink, 1, Block)

	// The worker holds the first event in the sink; the second fills the queue.
	r.Emit(context.Background(), Event{Kind: "a"})
	deadline := time.Now().Add(time.Second)
	for len(r.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	r.Emit(context.Background(), Event{Kind: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r.Emit(ctx, Event{Kind: "c"})
	if got := r.Stats().Dropped; got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}

	close(sink.gate)
	r.Close()
	if got := r.Stats().Delivered; got != 2 {
		t.Fatalf("Delivered = %d, want 2", got)
	}
}

func TestRelayCloseIsIdempotent(t *testing.T) {
	r := NewRelay(nil, 1, Block)
	r.Close()
	r.Close()
	r.Emit(context.Background(), Event{Kind: "late"})
	if r.Stats() != (Stats{}) {
		t.Fatalf("late event counted: %+v", r.Stats())
	}
}

func TestJSONLinesSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLinesSink(&buf)
	sink.Record(context.Background(), Event{Kind: "logout", Outcome: Success})
	sink.Record(context.Background(), Event{Kind: "refresh_failure", Outcome: Failure, Reason: "expired"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != "refresh_failure" || ev.Reason != "expired" || ev.Succeeded() {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	sink.Record(context.Background(), Event{Kind: "login_success", Outcome: Success, Identifier: "a@b.com"})
	sink.Record(context.Background(), Event{Kind: "login_failure", Outcome: Failure, Reason: "bad", Attrs: map[string]string{"status": "401"}})

	out := buf.String()
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, "kind=login_success") {
		t.Fatalf("missing info line: %q", out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "reason=bad") || !strings.Contains(out, "attrs.status=401") {
		t.Fatalf("missing warn line: %q", out)
	}
}
