package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/flobus/internal/diag"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/queue"
	"github.com/rzbill/flobus/internal/storage/memory"
	"github.com/rzbill/flobus/pkg/log"
)

func ackAll() message.Handler {
	return message.HandlerFunc(func(_ context.Context, _ message.Message, mctx *message.Context) error {
		mctx.Acknowledge()
		return nil
	})
}

func newTestService(t *testing.T, provider queue.StoreProvider) (*queue.Service, *diag.Recorder) {
	t.Helper()
	rec := &diag.Recorder{}
	svc := queue.NewService(provider, queue.WithSink(rec), queue.WithLogger(log.NewNopLogger()))
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc, rec
}

func TestServiceCreateAndEnqueue(t *testing.T) {
	svc, rec := newTestService(t, memory.NewProvider())
	ctx := context.Background()

	q, err := svc.CreateQueue(ctx, "orders", ackAll(), queue.Options{})
	require.NoError(t, err)
	assert.Equal(t, "orders", q.Name())
	assert.Equal(t, 1, rec.Count(diag.QueueCreated))

	require.NoError(t, svc.EnqueueMessage(ctx, "orders", msgWithID("m1"), nil))
	require.Eventually(t, func() bool { return rec.Count(diag.MessageAcknowledged) == 1 }, waitFor, tick)

	got, err := svc.Queue("orders")
	require.NoError(t, err)
	assert.Same(t, q, got)
	assert.Equal(t, []string{"orders"}, svc.Queues())
}

func TestServiceDuplicateAndUnknownQueue(t *testing.T) {
	svc, _ := newTestService(t, memory.NewProvider())
	ctx := context.Background()

	_, err := svc.CreateQueue(ctx, "orders", ackAll(), queue.Options{})
	require.NoError(t, err)
	_, err = svc.CreateQueue(ctx, "orders", ackAll(), queue.Options{})
	require.ErrorIs(t, err, queue.ErrQueueAlreadyExists)

	err = svc.EnqueueMessage(ctx, "missing", msgWithID("m1"), nil)
	require.ErrorIs(t, err, queue.ErrQueueNotFound)
}

func TestServiceConcurrentCreateHasOneWinner(t *testing.T) {
	svc, _ := newTestService(t, memory.NewProvider())
	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateQueue(context.Background(), "race", ackAll(), queue.Options{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok, dup := 0, 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, queue.ErrQueueAlreadyExists):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)
}

func TestServiceProviderErrorRollsBack(t *testing.T) {
	fail := true
	mem := memory.NewProvider()
	provider := queue.StoreProviderFunc(func(ctx context.Context, name string) (queue.Store, error) {
		if fail {
			return nil, errors.New("no store")
		}
		return mem.QueueStore(ctx, name)
	})
	svc, _ := newTestService(t, provider)

	_, err := svc.CreateQueue(context.Background(), "orders", ackAll(), queue.Options{})
	require.Error(t, err)
	_, err = svc.Queue("orders")
	require.ErrorIs(t, err, queue.ErrQueueNotFound)

	fail = false
	_, err = svc.CreateQueue(context.Background(), "orders", ackAll(), queue.Options{})
	require.NoError(t, err)
}

func TestServiceRecoversAfterRestart(t *testing.T) {
	provider := memory.NewProvider()
	ctx := context.Background()

	first := queue.NewService(provider, queue.WithLogger(log.NewNopLogger()))
	_, err := first.CreateQueue(ctx, "orders", message.HandlerFunc(func(context.Context, message.Message, *message.Context) error {
		return errors.New("not yet")
	}), queue.Options{RetryDelay: waitFor * 10})
	require.NoError(t, err)
	require.NoError(t, first.EnqueueMessage(ctx, "orders", msgWithID("m1"), nil))
	require.Eventually(t, func() bool {
		r, _ := provider.Store("orders").Get("m1")
		return r.Attempts == 1
	}, waitFor, tick)
	require.NoError(t, first.Close(ctx))

	second, rec := newTestService(t, provider)
	_, err = second.CreateQueue(ctx, "orders", ackAll(), queue.Options{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.Count(diag.MessageAcknowledged) == 1 }, waitFor, tick)
	assert.Equal(t, 1, rec.Count(diag.MessageRecovered))
	r, _ := provider.Store("orders").Get("m1")
	assert.Equal(t, 2, r.Attempts)
}

func TestServiceClose(t *testing.T) {
	svc := queue.NewService(memory.NewProvider(), queue.WithLogger(log.NewNopLogger()))
	ctx := context.Background()
	q, err := svc.CreateQueue(ctx, "a", ackAll(), queue.Options{})
	require.NoError(t, err)
	_, err = svc.CreateQueue(ctx, "b", ackAll(), queue.Options{})
	require.NoError(t, err)

	require.NoError(t, svc.Close(ctx))
	require.ErrorIs(t, q.Enqueue(ctx, msgWithID("m"), nil), queue.ErrQueueClosed)
	_, err = svc.CreateQueue(ctx, "c", ackAll(), queue.Options{})
	require.ErrorIs(t, err, queue.ErrServiceClosed)
	require.NoError(t, svc.Close(ctx))
}
