package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/flobus/internal/diag"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/queue"
	"github.com/rzbill/flobus/internal/storage/memory"
	"github.com/rzbill/flobus/pkg/log"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func newTestQueue(t *testing.T, store queue.Store, h message.Handler, opts queue.Options) (*queue.MessageQueue, *diag.Recorder) {
	t.Helper()
	rec := &diag.Recorder{}
	q, err := queue.NewMessageQueue("test", store, h, opts, queue.WithSink(rec), queue.WithLogger(log.NewNopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	return q, rec
}

func msgWithID(id string) *message.Message {
	m := message.New("test.message", []byte(id))
	m.Headers.Set(message.HeaderMessageID, id)
	return m
}

func TestAckStopsRetries(t *testing.T) {
	store := memory.NewQueueStore()
	var calls atomic.Int32
	h := message.HandlerFunc(func(_ context.Context, _ message.Message, mctx *message.Context) error {
		calls.Add(1)
		mctx.Acknowledge()
		return nil
	})
	q, rec := newTestQueue(t, store, h, queue.Options{MaxAttempts: 3})

	require.NoError(t, q.Enqueue(context.Background(), msgWithID("m1"), nil))
	require.Eventually(t, func() bool { return rec.Count(diag.MessageAcknowledged) == 1 }, waitFor, tick)

	r, ok := store.Get("m1")
	require.True(t, ok)
	assert.Equal(t, 1, r.Attempts)
	assert.NotNil(t, r.AcknowledgedAt)
	assert.False(t, r.Pending())

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestExhaustionAbandons(t *testing.T) {
	store := memory.NewQueueStore()
	var calls atomic.Int32
	h := message.HandlerFunc(func(context.Context, message.Message, *message.Context) error {
		calls.Add(1)
		return errors.New("always fails")
	})
	q, rec := newTestQueue(t, store, h, queue.Options{MaxAttempts: 3})

	require.NoError(t, q.Enqueue(context.Background(), msgWithID("m1"), nil))
	require.Eventually(t, func() bool { return rec.Count(diag.MessageAbandoned) == 1 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)

	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 3, rec.Count(diag.HandlerFailed))
	assert.Equal(t, 2, rec.Count(diag.RetryScheduled))
	r, ok := store.Get("m1")
	require.True(t, ok)
	assert.Equal(t, 3, r.Attempts)
	assert.NotNil(t, r.AbandonedAt)
	assert.Nil(t, r.AcknowledgedAt)
}

func TestAutoAcknowledge(t *testing.T) {
	store := memory.NewQueueStore()
	h := message.HandlerFunc(func(context.Context, message.Message, *message.Context) error { return nil })
	q, rec := newTestQueue(t, store, h, queue.Options{AutoAcknowledge: true})

	require.NoError(t, q.Enqueue(context.Background(), msgWithID("m1"), nil))
	require.Eventually(t, func() bool { return rec.Count(diag.MessageAcknowledged) == 1 }, waitFor, tick)
	assert.Equal(t, 1, rec.Count(diag.DeliveryAttempted))
}

func TestMissingAckIsRetried(t *testing.T) {
	store := memory.NewQueueStore()
	var calls atomic.Int32
	h := message.HandlerFunc(func(_ context.Context, _ message.Message, mctx *message.Context) error {
		if calls.Add(1) == 2 {
			mctx.Acknowledge()
		}
		return nil
	})
	q, rec := newTestQueue(t, store, h, queue.Options{})

	require.NoError(t, q.Enqueue(context.Background(), msgWithID("m1"), nil))
	require.Eventually(t, func() bool { return rec.Count(diag.MessageAcknowledged) == 1 }, waitFor, tick)
	assert.Equal(t, 1, rec.Count(diag.MessageNotAcknowledged))
	r, _ := store.Get("m1")
	assert.Equal(t, 2, r.Attempts)
}

func TestHandlerPanicIsRetried(t *testing.T) {
	store := memory.NewQueueStore()
	var calls atomic.Int32
	h := message.HandlerFunc(func(_ context.Context, _ message.Message, mctx *message.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		mctx.Acknowledge()
		return nil
	})
	q, rec := newTestQueue(t, store, h, queue.Options{})

	require.NoError(t, q.Enqueue(context.Background(), msgWithID("m1"), nil))
	require.Eventually(t, func() bool { return rec.Count(diag.MessageAcknowledged) == 1 }, waitFor, tick)
	var failed diag.Event
	for _, ev := range rec.Events() {
		if ev.Type == diag.HandlerFailed {
			failed = ev
		}
	}
	assert.ErrorIs(t, failed.Err, queue.ErrHandlerPanic)
}

func TestPrincipalAndHeadersReachHandler(t *testing.T) {
	store := memory.NewQueueStore()
	got := make(chan *message.Context, 1)
	h := message.HandlerFunc(func(_ context.Context, _ message.Message, mctx *message.Context) error {
		mctx.Acknowledge()
		got <- mctx
		return nil
	})
	q, _ := newTestQueue(t, store, h, queue.Options{})

	require.NoError(t, q.Enqueue(context.Background(), message.New("orders.created", nil), &message.Principal{Name: "alice", Roles: []string{"ops"}}))
	select {
	case mctx := <-got:
		require.NotNil(t, mctx.Principal())
		assert.Equal(t, "alice", mctx.Principal().Name)
		assert.True(t, mctx.Principal().IsInRole("ops"))
		assert.Equal(t, "orders.created", mctx.Headers().MessageName())
		assert.NotEmpty(t, mctx.Headers().MessageID(), "a message id is assigned when missing")
	case <-time.After(waitFor):
		t.Fatal("handler not invoked")
	}
}

func TestEnqueueValidation(t *testing.T) {
	store := memory.NewQueueStore()
	h := message.HandlerFunc(func(context.Context, message.Message, *message.Context) error { return nil })
	q, _ := newTestQueue(t, store, h, queue.Options{AutoAcknowledge: true})

	require.ErrorIs(t, q.Enqueue(context.Background(), nil, nil), queue.ErrNilMessage)
	require.NoError(t, q.Enqueue(context.Background(), msgWithID("dup"), nil))
	require.ErrorIs(t, q.Enqueue(context.Background(), msgWithID("dup"), nil), queue.ErrDuplicateMessage)

	require.NoError(t, q.Close(context.Background()))
	require.ErrorIs(t, q.Enqueue(context.Background(), msgWithID("late"), nil), queue.ErrQueueClosed)
	require.NoError(t, q.Close(context.Background()), "close is idempotent")
}

func TestNewMessageQueueValidation(t *testing.T) {
	h := message.HandlerFunc(func(context.Context, message.Message, *message.Context) error { return nil })
	_, err := queue.NewMessageQueue(" ", memory.NewQueueStore(), h, queue.Options{})
	require.ErrorIs(t, err, queue.ErrInvalidQueueName)
	_, err = queue.NewMessageQueue("q", memory.NewQueueStore(), nil, queue.Options{})
	require.ErrorIs(t, err, queue.ErrNilListener)

	q, err := queue.NewMessageQueue("q", memory.NewQueueStore(), h, queue.Options{ConcurrencyLimit: -1})
	require.NoError(t, err)
	assert.Equal(t, queue.DefaultConcurrencyLimit, q.Options().ConcurrencyLimit)
	assert.Equal(t, queue.DefaultBufferSize, q.Options().BufferSize)
	require.NoError(t, q.Close(context.Background()))
}

func TestRecoveryRunsBeforeNewTraffic(t *testing.T) {
	store := memory.NewQueueStore()
	_, err := store.InsertQueuedMessage(context.Background(), *msgWithID("old"), nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	h := message.HandlerFunc(func(_ context.Context, msg message.Message, mctx *message.Context) error {
		mu.Lock()
		order = append(order, msg.ID())
		mu.Unlock()
		mctx.Acknowledge()
		return nil
	})
	q, rec := newTestQueue(t, store, h, queue.Options{ConcurrencyLimit: 1})

	require.NoError(t, q.Init(context.Background()))
	require.NoError(t, q.Enqueue(context.Background(), msgWithID("new"), nil))
	require.Eventually(t, func() bool { return rec.Count(diag.MessageAcknowledged) == 2 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"old", "new"}, order)
	assert.Equal(t, 1, rec.Count(diag.MessageRecovered))
}

func TestEnqueueRunsInit(t *testing.T) {
	store := memory.NewQueueStore()
	_, err := store.InsertQueuedMessage(context.Background(), *msgWithID("old"), nil)
	require.NoError(t, err)
	h := message.HandlerFunc(func(_ context.Context, _ message.Message, mctx *message.Context) error {
		mctx.Acknowledge()
		return nil
	})
	q, rec := newTestQueue(t, store, h, queue.Options{})

	require.NoError(t, q.Enqueue(context.Background(), msgWithID("new"), nil))
	require.Eventually(t, func() bool { return rec.Count(diag.MessageAcknowledged) == 2 }, waitFor, tick)
}

func TestRetryDoesNotFireAfterClose(t *testing.T) {
	store := memory.NewQueueStore()
	var calls atomic.Int32
	h := message.HandlerFunc(func(context.Context, message.Message, *message.Context) error {
		calls.Add(1)
		return errors.New("fail")
	})
	q, rec := newTestQueue(t, store, h, queue.Options{RetryDelay: time.Hour})

	require.NoError(t, q.Enqueue(context.Background(), msgWithID("m1"), nil))
	require.Eventually(t, func() bool { return rec.Count(diag.RetryScheduled) == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, q.Close(ctx))

	assert.EqualValues(t, 1, calls.Load())
	r, ok := store.Get("m1")
	require.True(t, ok)
	assert.True(t, r.Pending(), "message stays pending for recovery")
	assert.Equal(t, 1, r.Attempts)
}

func TestCloseCancelsListenerContext(t *testing.T) {
	store := memory.NewQueueStore()
	started := make(chan struct{})
	h := message.HandlerFunc(func(ctx context.Context, _ message.Message, _ *message.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	q, _ := newTestQueue(t, store, h, queue.Options{RetryDelay: time.Hour})

	require.NoError(t, q.Enqueue(context.Background(), msgWithID("m1"), nil))
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, q.Close(ctx))

	r, _ := store.Get("m1")
	assert.True(t, r.Pending(), "interrupted attempt is not acknowledged")
}

func TestCloseLeavesBacklogPending(t *testing.T) {
	for trial := 0; trial < 10; trial++ {
		store := memory.NewQueueStore()
		var calls atomic.Int32
		started := make(chan struct{}, 1)
		h := message.HandlerFunc(func(ctx context.Context, _ message.Message, _ *message.Context) error {
			calls.Add(1)
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return ctx.Err()
		})
		q, rec := newTestQueue(t, store, h, queue.Options{MaxAttempts: 1, ConcurrencyLimit: 1})

		ids := make([]string, 20)
		for i := range ids {
			ids[i] = fmt.Sprintf("m%02d", i)
			require.NoError(t, q.Enqueue(context.Background(), msgWithID(ids[i]), nil))
		}
		<-started
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		require.NoError(t, q.Close(ctx))
		cancel()

		assert.EqualValues(t, 1, calls.Load(), "no attempt starts after close")
		assert.Zero(t, rec.Count(diag.MessageAbandoned))
		for _, id := range ids {
			r, ok := store.Get(id)
			require.True(t, ok)
			assert.True(t, r.Pending(), "%s stays pending", id)
		}
	}
}

type failingSelectStore struct {
	*memory.QueueStore
}

func (failingSelectStore) SelectPendingMessages(context.Context) ([]queue.QueuedMessage, error) {
	return nil, errors.New("disk on fire")
}

func TestInitFailureKeepsQueueUsable(t *testing.T) {
	store := failingSelectStore{memory.NewQueueStore()}
	h := message.HandlerFunc(func(_ context.Context, _ message.Message, mctx *message.Context) error {
		mctx.Acknowledge()
		return nil
	})
	q, rec := newTestQueue(t, store, h, queue.Options{})

	err := q.Init(context.Background())
	require.ErrorIs(t, err, queue.ErrInitFailed)
	assert.Equal(t, 1, rec.Count(diag.QueueInitFailed))

	require.NoError(t, q.Enqueue(context.Background(), msgWithID("m1"), nil))
	require.Eventually(t, func() bool { return rec.Count(diag.MessageAcknowledged) == 1 }, waitFor, tick)
}

type failingUpdateStore struct {
	*memory.QueueStore
}

func (failingUpdateStore) UpdateQueuedMessage(context.Context, queue.QueuedMessage, queue.Update) error {
	return errors.New("write failed")
}

func TestBackgroundStorageFailureIsReported(t *testing.T) {
	store := failingUpdateStore{memory.NewQueueStore()}
	h := message.HandlerFunc(func(_ context.Context, _ message.Message, mctx *message.Context) error {
		mctx.Acknowledge()
		return nil
	})
	q, rec := newTestQueue(t, store, h, queue.Options{})

	require.NoError(t, q.Enqueue(context.Background(), msgWithID("m1"), nil))
	require.Eventually(t, func() bool { return rec.Count(diag.StorageFailed) == 1 }, waitFor, tick)
	assert.Zero(t, rec.Count(diag.MessageAcknowledged))
}

func TestConcurrencyLimitBoundsWorkers(t *testing.T) {
	store := memory.NewQueueStore()
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	h := message.HandlerFunc(func(_ context.Context, _ message.Message, mctx *message.Context) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		mctx.Acknowledge()
		return nil
	})
	q, rec := newTestQueue(t, store, h, queue.Options{ConcurrencyLimit: 2})

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Enqueue(context.Background(), msgWithID(id), nil))
	}
	require.Eventually(t, func() bool { return inFlight.Load() == 2 }, waitFor, tick)
	close(release)
	require.Eventually(t, func() bool { return rec.Count(diag.MessageAcknowledged) == 5 }, waitFor, tick)
	assert.EqualValues(t, 2, peak.Load())
}
