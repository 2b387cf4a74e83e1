package journal

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/flobus/internal/diag"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/pkg/log"
)

// Journal is the append/read API over a Store.
type Journal struct {
	store  Store
	logger log.Logger
	sink   diag.Sink
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

func WithLogger(l log.Logger) Option { return func(j *Journal) { j.logger = l } }
func WithSink(s diag.Sink) Option { return func(j *Journal) { j.sink = s } }
func WithTracer(t trace.Tracer) Option { return func(j *Journal) { j.tracer = t } }
func WithClock(now func() time.Time) Option { return func(j *Journal) { j.now = now } }

// New creates a Journal over store.
func New(store Store, opts ...Option) *Journal {
	j := &Journal{store: store}
	for _, o := range opts {
		o(j)
	}
	if j.logger == nil {
		j.logger = log.NewLogger().WithComponent("journal")
	}
	if j.sink == nil {
		j.sink = diag.Nop()
	}
	if j.tracer == nil {
		j.tracer = otel.Tracer("github.com/rzbill/flobus/internal/journal")
	}
	if j.now == nil {
		j.now = time.Now
	}
	return j
}

// GetBeginningOfJournal returns the position at or before the first entry.
func (j *Journal) GetBeginningOfJournal(ctx context.Context) (Position, error) {
	return j.store.Beginning(ctx)
}

// ParsePosition parses the string form of a position minted by this journal.
func (j *Journal) ParsePosition(s string) (Position, error) {
	return j.store.ParsePosition(s)
}

// Append records msg under category and returns its position. The Sent,
// Received or Published header is stamped with the current time when the
// message does not already carry it.
func (j *Journal) Append(ctx context.Context, msg *message.Message, category Category) (Position, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCategory, int(category))
	}
	ctx, span := j.tracer.Start(ctx, "flobus.journal.append", trace.WithAttributes(
		attribute.String("flobus.category", category.String()),
		attribute.String("flobus.message_id", msg.ID()),
	))
	defer span.End()

	now := j.now().UTC()
	m := msg.Clone()
	if m.Headers == nil {
		m.Headers = message.Headers{}
	}
	if m.Headers.Get(category.timestampHeader()) == "" {
		m.Headers.SetTime(category.timestampHeader(), now)
	}

	pos, err := j.store.Append(ctx, category, now, m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, fmt.Errorf("journal append: %w", err)
	}
	span.SetAttributes(attribute.String("flobus.position", pos.String()))
	j.sink.Emit(ctx, diag.Event{Type: diag.JournalAppended, Time: now, MessageID: m.ID(), Position: pos.String(), Detail: category.String()})
	j.logger.Debug("journal entry appended",
		log.Str("position", pos.String()),
		log.Str("category", category.String()),
		log.Str("message_id", m.ID()))
	return pos, nil
}

// Read returns up to count entries at or after start that satisfy filter. A
// nil start reads from the beginning; a nil filter matches everything.
func (j *Journal) Read(ctx context.Context, start Position, count int, filter *Filter) (ReadResult, error) {
	if count <= 0 {
		return ReadResult{}, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	m, err := NewMatcher(filter)
	if err != nil {
		return ReadResult{}, err
	}
	if start == nil {
		if start, err = j.store.Beginning(ctx); err != nil {
			return ReadResult{}, fmt.Errorf("journal read: %w", err)
		}
	}
	ctx, span := j.tracer.Start(ctx, "flobus.journal.read", trace.WithAttributes(
		attribute.String("flobus.start", start.String()),
		attribute.Int("flobus.count", count),
	))
	defer span.End()

	res, err := j.store.Read(ctx, start, count, m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return ReadResult{}, fmt.Errorf("journal read: %w", err)
	}
	span.SetAttributes(attribute.Int("flobus.entries", len(res.Entries)), attribute.Bool("flobus.end", res.EndOfJournal))
	return res, nil
}

// WaitForAppend waits up to timeout for an append. Stores without
// notification support just sleep. It returns ctx.Err() on cancellation.
func (j *Journal) WaitForAppend(ctx context.Context, timeout time.Duration) error {
	if n, ok := j.store.(Notifier); ok {
		n.WaitForAppend(ctx, timeout)
		return ctx.Err()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
