package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Outcome is the result recorded on an Event.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// Event is one session lifecycle record. It never carries passwords,
// codes or tokens.
type Event struct {
	At         time.Time         `json:"at"`
	Kind       string            `json:"kind"`
	Identifier string            `json:"identifier,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// Succeeded reports whether the event recorded a success.
func (e Event) Succeeded() bool {
	return e.Outcome == Success
}

// Sink consumes events on the relay goroutine.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Record(ctx context.Context, event Event) { f(ctx, event) }

// Discard ignores every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// ChannelSink hands events to a reader through a buffered channel. Record
// blocks while the channel is full.
type ChannelSink struct {
	events chan Event
}

// NewChannelSink buffers at least one event.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Record(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events is the receive side.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONLinesSink writes one JSON document per event.
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

func (s *JSONLinesSink) Record(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// LogSink writes events through a slog.Logger: successes at info,
// failures at warn.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(ctx context.Context, event Event) {
	if s.Logger == nil {
		return
	}
	level := slog.LevelInfo
	if !event.Succeeded() {
		level = slog.LevelWarn
	}
	attrs := make([]slog.Attr, 0, 6)
	attrs = append(attrs, slog.String("kind", event.Kind), slog.String("outcome", string(event.Outcome)))
	if event.Identifier != "" {
		attrs = append(attrs, slog.String("identifier", event.Identifier))
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	if len(event.Attrs) > 0 {
		group := make([]any, 0, len(event.Attrs))
		for k, v := range event.Attrs {
			group = append(group, slog.String(k, v))
		}
		attrs = append(attrs, slog.Group("attrs", group...))
	}
	s.Logger.LogAttrs(ctx, level, "audit", attrs...)
}
