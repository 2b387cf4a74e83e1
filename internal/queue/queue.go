package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/tomb.v2"

	"github.com/rzbill/flobus/internal/diag"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/pkg/log"
)

// MessageQueue delivers the messages of one named queue to its listener.
type MessageQueue struct {
	name     string
	store    Store
	listener message.Handler
	opts     Options
	settings

	work chan QueuedMessage

	t   *tomb.Tomb
	ctx context.Context // canceled when the queue starts dying

	mu      sync.Mutex
	started bool
	closed  bool

	initOnce sync.Once
	initErr  error
}

// NewMessageQueue creates a queue. Workers start on Init (or on the first
// Enqueue, which runs Init).
func NewMessageQueue(name string, store Store, listener message.Handler, opts Options, options ...Option) (*MessageQueue, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidQueueName
	}
	if store == nil {
		return nil, errors.New("queue: store is nil")
	}
	if listener == nil {
		return nil, ErrNilListener
	}
	s := newSettings(options)
	s.logger = s.logger.With(log.Str("queue", name))
	opts = opts.withDefaults()
	t, ctx := tomb.WithContext(context.Background())
	return &MessageQueue{
		name:     name,
		store:    store,
		listener: listener,
		opts:     opts,
		settings: s,
		work:     make(chan QueuedMessage, opts.BufferSize),
		t:        t,
		ctx:      ctx,
	}, nil
}

// Name returns the queue name.
func (q *MessageQueue) Name() string { return q.name }

// Options returns the effective options, defaults applied.
func (q *MessageQueue) Options() Options { return q.opts }

// Init starts the workers and re-posts every pending message from the store.
// It runs once; later calls return the first result. A failure is reported
// as a QueueInitFailed event and an error wrapping ErrInitFailed, but the
// queue keeps accepting new messages.
func (q *MessageQueue) Init(ctx context.Context) error {
	q.initOnce.Do(func() { q.initErr = q.init(ctx) })
	return q.initErr
}

func (q *MessageQueue) init(ctx context.Context) error {
	if err := q.start(); err != nil {
		return err
	}
	pending, err := q.store.SelectPendingMessages(ctx)
	if err != nil {
		return q.initFailed(ctx, fmt.Errorf("%w: queue %q: select pending: %w", ErrInitFailed, q.name, err))
	}
	for i, qm := range pending {
		if err := q.post(ctx, qm); err != nil {
			return q.initFailed(ctx, fmt.Errorf("%w: queue %q: recovered %d of %d: %w", ErrInitFailed, q.name, i, len(pending), err))
		}
		q.emit(ctx, diag.Event{Type: diag.MessageRecovered, MessageID: qm.ID(), Attempts: qm.Attempts})
	}
	q.logger.Info("queue initialized",
		log.Int("recovered", len(pending)),
		log.Int("workers", q.opts.ConcurrencyLimit))
	return nil
}

func (q *MessageQueue) initFailed(ctx context.Context, err error) error {
	q.logger.Error("queue initialization failed", log.Err(err))
	q.emit(ctx, diag.Event{Type: diag.QueueInitFailed, Err: err})
	return err
}

func (q *MessageQueue) start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return nil
	}
	q.started = true
	for i := 0; i < q.opts.ConcurrencyLimit; i++ {
		q.t.Go(q.worker)
	}
	return nil
}

// goTracked runs f under the queue's tomb unless the queue is closed.
func (q *MessageQueue) goTracked(f func() error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || !q.started {
		return false
	}
	q.t.Go(f)
	return true
}

func (q *MessageQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Enqueue persists msg and schedules its first delivery attempt. A message
// without a MessageId is assigned a random one. It returns once the message
// is durable; handler outcomes are never reported here.
func (q *MessageQueue) Enqueue(ctx context.Context, msg *message.Message, principal *message.Principal) error {
	if msg == nil {
		return ErrNilMessage
	}
	if q.isClosed() {
		return ErrQueueClosed
	}
	if err := q.Init(ctx); errors.Is(err, ErrQueueClosed) {
		return err
	}

	m := msg.Clone()
	if m.Headers == nil {
		m.Headers = message.Headers{}
	}
	if m.ID() == "" {
		m.Headers.Set(message.HeaderMessageID, uuid.NewString())
	}

	qm, err := q.store.InsertQueuedMessage(ctx, m, principal)
	if err != nil {
		return fmt.Errorf("queue %q: insert %s: %w", q.name, m.ID(), err)
	}
	q.emit(ctx, diag.Event{Type: diag.MessageEnqueued, MessageID: qm.ID()})

	select {
	case q.work <- qm:
		return nil
	default:
	}
	// Pipeline full: hand off so the caller is not blocked on consumers.
	if !q.goTracked(func() error { q.postAsync(qm); return nil }) {
		return ErrQueueClosed
	}
	return nil
}

// post blocks until the pipeline accepts qm, the queue dies or ctx is done.
func (q *MessageQueue) post(ctx context.Context, qm QueuedMessage) error {
	select {
	case q.work <- qm:
		return nil
	case <-q.t.Dying():
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MessageQueue) postAsync(qm QueuedMessage) {
	select {
	case <-q.t.Dying():
		return
	default:
	}
	select {
	case q.work <- qm:
	case <-q.t.Dying():
	}
}

// worker delivers posted messages until the queue dies. Shutdown wins over
// buffered work: a message taken after Kill is left pending in the store.
func (q *MessageQueue) worker() error {
	for {
		select {
		case <-q.t.Dying():
			return nil
		default:
		}
		select {
		case <-q.t.Dying():
			return nil
		case qm := <-q.work:
			if q.ctx.Err() != nil {
				return nil
			}
			q.attempt(qm)
		}
	}
}

func (q *MessageQueue) attempt(qm QueuedMessage) {
	qm = qm.NextAttempt()
	ctx, span := q.tracer.Start(q.ctx, "flobus.queue.attempt", trace.WithAttributes(
		attribute.String("flobus.queue", q.name),
		attribute.String("flobus.message_id", qm.ID()),
		attribute.Int("flobus.attempt", qm.Attempts),
	))
	defer span.End()

	q.emit(ctx, diag.Event{Type: diag.DeliveryAttempted, MessageID: qm.ID(), Attempts: qm.Attempts})
	mctx := message.NewContext(qm.Message, qm.Principal)
	err := q.invoke(ctx, qm, mctx)

	// Storage transitions are recorded even when the listener context was
	// canceled by Close.
	sctx := context.WithoutCancel(ctx)
	if err == nil && (mctx.Acknowledged() || q.opts.AutoAcknowledge) {
		q.acknowledge(sctx, qm)
		return
	}

	logger := q.logger.With(log.Str("message_id", qm.ID()), log.Int("attempt", qm.Attempts))
	if q.ctx.Err() != nil {
		// Interrupted by Close: the message stays pending with its stored
		// attempt count and is redelivered by the next Init.
		span.SetStatus(codes.Error, "interrupted by close")
		logger.Debug("attempt interrupted by close")
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		logger.Warn("handler failed", log.Err(err))
		q.emit(ctx, diag.Event{Type: diag.HandlerFailed, MessageID: qm.ID(), Attempts: qm.Attempts, Err: err})
	} else {
		span.SetStatus(codes.Error, "not acknowledged")
		logger.Debug("message not acknowledged")
		q.emit(ctx, diag.Event{Type: diag.MessageNotAcknowledged, MessageID: qm.ID(), Attempts: qm.Attempts})
	}

	if q.opts.MaxAttempts > 0 && qm.Attempts >= q.opts.MaxAttempts {
		q.abandon(sctx, qm)
		return
	}
	q.scheduleRetry(sctx, qm)
}

func (q *MessageQueue) invoke(ctx context.Context, qm QueuedMessage, mctx *message.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return q.listener.HandleMessage(ctx, qm.Message.Clone(), mctx)
}

func (q *MessageQueue) acknowledge(ctx context.Context, qm QueuedMessage) {
	if err := q.update(ctx, qm, Update{AcknowledgedAt: q.now().UTC(), Attempts: qm.Attempts}); err != nil {
		return
	}
	q.emit(ctx, diag.Event{Type: diag.MessageAcknowledged, MessageID: qm.ID(), Attempts: qm.Attempts})
}

func (q *MessageQueue) abandon(ctx context.Context, qm QueuedMessage) {
	q.logger.Warn("message abandoned",
		log.Str("message_id", qm.ID()),
		log.Int("attempts", qm.Attempts))
	if err := q.update(ctx, qm, Update{AbandonedAt: q.now().UTC(), Attempts: qm.Attempts}); err != nil {
		return
	}
	q.emit(ctx, diag.Event{Type: diag.MessageAbandoned, MessageID: qm.ID(), Attempts: qm.Attempts})
}

// scheduleRetry records the attempt and re-posts qm after RetryDelay. The
// retry is scheduled even when recording fails; the store then reports a
// lower attempt count after a restart.
func (q *MessageQueue) scheduleRetry(ctx context.Context, qm QueuedMessage) {
	_ = q.update(ctx, qm, Update{Attempts: qm.Attempts})
	delay := q.opts.RetryDelay
	scheduled := q.goTracked(func() error {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-q.t.Dying():
				return nil
			}
		}
		q.postAsync(qm)
		return nil
	})
	if scheduled {
		q.emit(ctx, diag.Event{Type: diag.RetryScheduled, MessageID: qm.ID(), Attempts: qm.Attempts, Detail: delay.String()})
	}
}

func (q *MessageQueue) update(ctx context.Context, qm QueuedMessage, u Update) error {
	start := time.Now()
	err := q.store.UpdateQueuedMessage(ctx, qm, u)
	if err != nil {
		q.logger.Error("update queued message failed",
			log.Str("message_id", qm.ID()),
			log.Err(err))
		q.emit(ctx, diag.Event{Type: diag.StorageFailed, MessageID: qm.ID(), Attempts: qm.Attempts, Err: err, Detail: "update"})
		return err
	}
	q.emit(ctx, diag.Event{Type: diag.StorageOperation, MessageID: qm.ID(), Detail: "queue.update", Elapsed: time.Since(start)})
	return nil
}

func (q *MessageQueue) emit(ctx context.Context, ev diag.Event) {
	ev.Queue = q.name
	if ev.Time.IsZero() {
		ev.Time = q.now()
	}
	q.sink.Emit(ctx, ev)
}

// Close stops the workers and waits for in-flight attempts to finish or ctx
// to expire. Pending retries are dropped and stay pending in the store.
// Close is idempotent.
func (q *MessageQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	started := q.started
	if !q.closed {
		q.closed = true
		q.t.Kill(nil)
	}
	q.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-q.t.Dead():
		q.logger.Debug("queue closed")
		return q.t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
