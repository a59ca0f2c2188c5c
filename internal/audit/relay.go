package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// OverflowPolicy decides what Emit does when the queue is full.
type OverflowPolicy int

const (
	// Block waits for room or for the caller's context.
	Block OverflowPolicy = iota
	// Drop discards the event and counts it. Login paths use this so a
	// slow sink never stalls a sign-in.
	Drop
)

// Stats counts what a Relay did with its events.
type Stats struct {
	Delivered uint64
	Dropped   uint64
}

// Relay queues events and forwards them to a Sink on one goroutine. A nil
// *Relay accepts and ignores events.
type Relay struct {
	sink   Sink
	policy OverflowPolicy
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	idle   chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewRelay starts the worker. buffer is clamped to at least one slot.
func NewRelay(sink Sink, buffer int, policy OverflowPolicy) *Relay {
	if sink == nil {
		sink = Discard
	}
	r := &Relay{
		sink:   sink,
		policy: policy,
		now:    time.Now,
		queue:  make(chan Event, max(buffer, 1)),
		idle:   make(chan struct{}),
	}
	go r.forward()
	return r
}

func (r *Relay) forward() {
	defer close(r.idle)
	for event := range r.queue {
		r.sink.Record(context.Background(), event)
		r.delivered.Add(1)
	}
}

// Emit queues event, stamping At when unset. Events emitted after Close
// are ignored.
func (r *Relay) Emit(ctx context.Context, event Event) {
	if r == nil {
		return
	}
	if event.At.IsZero() {
		event.At = r.now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	if r.policy == Drop {
		select {
		case r.queue <- event:
		default:
			r.dropped.Add(1)
		}
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case r.queue <- event:
	case <-ctx.Done():
		r.dropped.Add(1)
	}
}

// Close stops accepting events and returns once every queued event has
// reached the sink. It is idempotent.
func (r *Relay) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.idle
}

// Stats reports delivered and dropped counts so far.
func (r *Relay) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	return Stats{Delivered: r.delivered.Load(), Dropped: r.dropped.Load()}
}
