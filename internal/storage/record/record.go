// Package record defines the JSON documents persisted by the key-value
// backends for queued messages and journal entries.
package record

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/queue"
)

// Queued is the stored form of a queued message.
type Queued struct {
	Seq            uint64             `json:"seq"`
	Headers        map[string]string  `json:"headers"`
	Content        []byte             `json:"content,omitempty"`
	Principal      *message.Principal `json:"principal,omitempty"`
	Attempts       int                `json:"attempts"`
	EnqueuedAt     time.Time          `json:"enqueuedAt"`
	AcknowledgedAt *time.Time         `json:"acknowledgedAt,omitempty"`
	AbandonedAt    *time.Time         `json:"abandonedAt,omitempty"`
}

// NewQueued builds a pending record.
func NewQueued(seq uint64, msg message.Message, principal *message.Principal, now time.Time) Queued {
	return Queued{
		Seq:        seq,
		Headers:    msg.Headers.Clone(),
		Content:    msg.Content,
		Principal:  principal,
		EnqueuedAt: now.UTC(),
	}
}

// Pending reports whether the message is neither acknowledged nor abandoned.
func (r Queued) Pending() bool { return r.AcknowledgedAt == nil && r.AbandonedAt == nil }

// Apply records u on r.
func (r *Queued) Apply(u queue.Update) {
	r.Attempts = u.Attempts
	if !u.AcknowledgedAt.IsZero() {
		t := u.AcknowledgedAt.UTC()
		r.AcknowledgedAt = &t
	}
	if !u.AbandonedAt.IsZero() {
		t := u.AbandonedAt.UTC()
		r.AbandonedAt = &t
	}
}

// QueuedMessage converts r to the queue value type.
func (r Queued) QueuedMessage() queue.QueuedMessage {
	return queue.QueuedMessage{
		Message:   message.Message{Headers: message.Headers(r.Headers).Clone(), Content: r.Content},
		Principal: r.Principal,
		Attempts:  r.Attempts,
	}
}

// EncodeQueued marshals r.
func EncodeQueued(r Queued) ([]byte, error) { return json.Marshal(r) }

// DecodeQueued unmarshals a Queued record.
func DecodeQueued(b []byte) (Queued, error) {
	var r Queued
	if err := json.Unmarshal(b, &r); err != nil {
		return Queued{}, fmt.Errorf("decode queued record: %w", err)
	}
	return r, nil
}

// Entry is the stored form of a journal entry. The position is the key and
// is not stored in the document.
type Entry struct {
	Category  journal.Category  `json:"category"`
	Timestamp time.Time         `json:"timestamp"`
	Headers   map[string]string `json:"headers"`
	Content   []byte            `json:"content,omitempty"`
}

// NewEntry builds a journal record.
func NewEntry(category journal.Category, ts time.Time, msg message.Message) Entry {
	return Entry{Category: category, Timestamp: ts.UTC(), Headers: msg.Headers.Clone(), Content: msg.Content}
}

// JournalEntry converts r to a journal.Entry at pos.
func (r Entry) JournalEntry(pos journal.Position) journal.Entry {
	return journal.Entry{
		Category:  r.Category,
		Position:  pos,
		Timestamp: r.Timestamp,
		Data:      message.Message{Headers: message.Headers(r.Headers).Clone(), Content: r.Content},
	}
}

// EncodeEntry marshals r.
func EncodeEntry(r Entry) ([]byte, error) { return json.Marshal(r) }

// DecodeEntry unmarshals an Entry record.
func DecodeEntry(b []byte) (Entry, error) {
	var r Entry
	if err := json.Unmarshal(b, &r); err != nil {
		return Entry{}, fmt.Errorf("decode journal record: %w", err)
	}
	return r, nil
}
