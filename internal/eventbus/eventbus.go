// Package eventbus implements the broadcast of SystemEvent values to
// external subscribers (spec §4.10). Unlike a synchronous fan-out bus,
// delivery here is best-effort: each subscriber owns a bounded queue, and a
// slow subscriber has its oldest undelivered event dropped rather than
// blocking the publisher or the other subscribers.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/telemetry"
)

// Kind enumerates the SystemEvent variants published by the runtime.
type Kind string

const (
	Log            Kind = "log"
	NodeStarted    Kind = "node_started"
	NodeCompleted  Kind = "node_completed"
	TraceCompleted Kind = "trace_completed"
	// Cancelled is published exactly once per trace, at the point an API
	// Cancel command lands (spec §4.7 "Cancellation") — never on an
	// ordinary node error or timeout.
	Cancelled Kind = "cancelled"
	// Failed carries a node-level error or timeout that is not itself a
	// cancellation (an LLM call erroring, a script failing, a checkpoint
	// wait timing out).
	Failed Kind = "failed"
)

// SystemEvent is the wire format broadcast to subscribers (spec §6 "Event
// bus wire format"): {kind, trace_id, timestamp_ms, payload}.
type SystemEvent struct {
	Kind        Kind
	TraceID     uuid.UUID
	TimestampMs int64
	Payload     any
}

// defaultBufferSize is used when a subscriber doesn't specify one.
const defaultBufferSize = 64

// subscriber owns one bounded delivery queue. Drop-oldest backpressure is
// implemented directly on the channel: if a send would block, the oldest
// queued event is discarded to make room.
type subscriber struct {
	ch      chan SystemEvent
	dropped uint64
	mu      sync.Mutex
}

func newSubscriber(bufferSize int) *subscriber {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &subscriber{ch: make(chan SystemEvent, bufferSize)}
}

func (s *subscriber) deliver(e SystemEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case s.ch <- e:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

// Subscription represents one registered listener. Close unregisters it;
// the returned channel is closed once Close completes, so a ranging reader
// terminates cleanly.
type Subscription struct {
	bus *Bus
	sub *subscriber
	once sync.Once
}

// Events returns the channel this subscription receives events on.
func (s *Subscription) Events() <-chan SystemEvent {
	return s.sub.ch
}

// Close unregisters the subscription. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unregister(s)
		close(s.sub.ch)
	})
}

// Bus is the fan-out broadcaster. Publish never blocks on a slow
// subscriber: delivery to each subscriber is attempted independently, and a
// full queue loses its oldest entry rather than stall the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]*subscriber
	logger telemetry.Logger
}

// New constructs an empty event bus.
func New(logger telemetry.Logger) *Bus {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Bus{subs: make(map[*Subscription]*subscriber), logger: logger}
}

// Subscribe registers a new listener with the given queue depth (0 uses the
// default). Delivery order across subscribers is unspecified; within one
// subscriber it is FIFO.
func (b *Bus) Subscribe(bufferSize int) *Subscription {
	sub := newSubscriber(bufferSize)
	s := &Subscription{bus: b, sub: sub}
	b.mu.Lock()
	b.subs[s] = sub
	b.mu.Unlock()
	return s
}

func (b *Bus) unregister(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Publish delivers event to every registered subscriber's queue, stamping
// it with the current time.
func (b *Bus) Publish(_ context.Context, kind Kind, traceID uuid.UUID, payload any) {
	e := SystemEvent{Kind: kind, TraceID: traceID, TimestampMs: time.Now().UnixMilli(), Payload: payload}
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	for _, s := range subs {
		s.deliver(e)
	}
}

// SubscriberCount reports the number of currently registered subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
