package queue

import (
	"context"
	"time"

	"github.com/rzbill/flobus/internal/message"
)

// DefaultConcurrencyLimit is the worker count when Options leaves it unset.
const DefaultConcurrencyLimit = 4

// DefaultBufferSize is the pipeline channel capacity when Options leaves it unset.
const DefaultBufferSize = 1024

// QueuedMessage is a message, its sender and the number of delivery attempts
// made so far. Values are never mutated; NextAttempt returns a new one.
type QueuedMessage struct {
	Message   message.Message
	Principal *message.Principal
	Attempts  int
}

// NextAttempt returns a copy with Attempts incremented.
func (qm QueuedMessage) NextAttempt() QueuedMessage {
	qm.Attempts++
	return qm
}

// ID returns the MessageId of the queued message.
func (qm QueuedMessage) ID() string { return qm.Message.ID() }

// Options controls retry, concurrency and acknowledgement for one queue.
type Options struct {
	// MaxAttempts bounds delivery attempts; 0 means unlimited.
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`
	// RetryDelay is the wait between a failed attempt and the next one.
	RetryDelay time.Duration `json:"retryDelay" yaml:"retryDelay"`
	// ConcurrencyLimit is the number of workers; <= 0 uses DefaultConcurrencyLimit.
	ConcurrencyLimit int `json:"concurrencyLimit" yaml:"concurrencyLimit"`
	// AutoAcknowledge acknowledges messages whose listener returns nil
	// without calling Acknowledge.
	AutoAcknowledge bool `json:"autoAcknowledge" yaml:"autoAcknowledge"`
	// BufferSize is the pipeline capacity; <= 0 uses DefaultBufferSize.
	BufferSize int `json:"bufferSize" yaml:"bufferSize"`
}

func (o Options) withDefaults() Options {
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.MaxAttempts < 0 {
		o.MaxAttempts = 0
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}

// Update describes a state change recorded by UpdateQueuedMessage. Zero
// timestamps mean "not set".
type Update struct {
	AcknowledgedAt time.Time
	AbandonedAt    time.Time
	Attempts       int
}

// Terminal reports whether the update moves the message out of the pending set.
func (u Update) Terminal() bool { return !u.AcknowledgedAt.IsZero() || !u.AbandonedAt.IsZero() }

// Store persists the queued messages of a single named queue. Implementations
// must be safe for concurrent use; stores backed by single-writer engines
// serialize internally.
type Store interface {
	// InsertQueuedMessage persists a new message with zero attempts.
	InsertQueuedMessage(ctx context.Context, msg message.Message, principal *message.Principal) (QueuedMessage, error)
	// UpdateQueuedMessage records attempts and, optionally, a terminal state.
	UpdateQueuedMessage(ctx context.Context, qm QueuedMessage, u Update) error
	// SelectPendingMessages returns every message neither acknowledged nor
	// abandoned, in enqueue order.
	SelectPendingMessages(ctx context.Context) ([]QueuedMessage, error)
}

// DeadLetterStore is implemented by stores that can list abandoned messages.
type DeadLetterStore interface {
	Store
	// DeadLetters returns up to limit abandoned messages (0 = all), oldest
	// first.
	DeadLetters(ctx context.Context, limit int) ([]QueuedMessage, error)
}

// StoreProvider hands out per-queue stores.
type StoreProvider interface {
	QueueStore(ctx context.Context, queue string) (Store, error)
}

// StoreProviderFunc adapts a function to StoreProvider.
type StoreProviderFunc func(ctx context.Context, queue string) (Store, error)

// QueueStore implements StoreProvider.
func (f StoreProviderFunc) QueueStore(ctx context.Context, queue string) (Store, error) {
	return f(ctx, queue)
}
