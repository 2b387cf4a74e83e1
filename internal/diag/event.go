package diag

import (
	"context"
	"sync"
	"time"
)

// EventType names a diagnostic event.
type EventType string

const (
	MessageEnqueued        EventType = "MessageEnqueued"
	MessageRecovered       EventType = "MessageRecovered"
	DeliveryAttempted      EventType = "DeliveryAttempted"
	MessageAcknowledged    EventType = "MessageAcknowledged"
	MessageNotAcknowledged EventType = "MessageNotAcknowledged"
	HandlerFailed          EventType = "HandlerFailed"
	RetryScheduled         EventType = "RetryScheduled"
	MessageAbandoned       EventType = "MessageAbandoned"
	StorageFailed          EventType = "StorageFailed"
	QueueInitFailed        EventType = "QueueInitFailed"
	QueueCreated           EventType = "QueueCreated"

	JournalAppended         EventType = "JournalAppended"
	ConsumerHandlerFailed   EventType = "ConsumerHandlerFailed"
	ConsumerNotAcknowledged EventType = "ConsumerNotAcknowledged"
	ConsumerHalted          EventType = "ConsumerHalted"
	StorageOperation        EventType = "StorageOperation"
)

// Event is one diagnostic observation. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType
	Time      time.Time
	Queue     string
	Consumer  string
	MessageID string
	Attempts  int
	Position  string
	Err       error
	Detail    string
	Elapsed   time.Duration
}

// Sink receives diagnostic events. Emit must not block for long and must be
// safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

type nop struct{}

func (nop) Emit(context.Context, Event) {}

// Nop returns a sink that drops every event.
func Nop() Sink { return nop{} }

type multi []Sink

func (m multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// Multi fans events out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Recorder keeps every event in memory. Tests use it to assert on transitions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
