package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/flobus/internal/config"
	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/queue"
	"github.com/rzbill/flobus/pkg/log"
)

func testConfig(t *testing.T, backend config.Backend) config.Config {
	cfg := config.Default()
	cfg.Backend = backend
	cfg.DataDir = t.TempDir()
	cfg.Queue.RetryDelay = 10 * time.Millisecond
	cfg.Queue.MaxAttempts = 2
	return cfg
}

func open(t *testing.T, opts Options) *Runtime {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	rt, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func exercise(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, rt.CheckHealth(ctx))

	var handled atomic.Int32
	_, err := rt.Service().CreateQueue(ctx, "jobs", message.HandlerFunc(func(_ context.Context, _ message.Message, mctx *message.Context) error {
		handled.Add(1)
		mctx.Acknowledge()
		return nil
	}), rt.QueueOptions())
	require.NoError(t, err)
	require.NoError(t, rt.Service().EnqueueMessage(ctx, "jobs", message.New("work", []byte("x")), nil))
	require.Eventually(t, func() bool { return handled.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	pos, err := rt.Journal().Append(ctx, message.New("orders.created", nil), journal.Published)
	require.NoError(t, err)
	res, err := rt.Journal().Read(ctx, nil, 10, nil)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, pos.String(), res.Entries[0].Position.String())
}

func TestMemoryBackend(t *testing.T) {
	exercise(t, open(t, Options{Config: testConfig(t, config.BackendMemory)}))
}

func TestPebbleBackend(t *testing.T) {
	exercise(t, open(t, Options{Config: testConfig(t, config.BackendPebble)}))
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cfg := testConfig(t, config.BackendRedis)
	cfg.Redis.Addr = mr.Addr()
	exercise(t, open(t, Options{Config: cfg, RedisClient: client}))
}

func TestPebbleRecoversPendingAcrossRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.BackendPebble)

	rt, err := Open(ctx, Options{Config: cfg, Logger: log.NewNopLogger()})
	require.NoError(t, err)
	failing := message.HandlerFunc(func(context.Context, message.Message, *message.Context) error { return nil })
	opts := rt.QueueOptions()
	opts.RetryDelay = time.Hour
	_, err = rt.Service().CreateQueue(ctx, "jobs", failing, opts)
	require.NoError(t, err)
	require.NoError(t, rt.Service().EnqueueMessage(ctx, "jobs", message.New("work", nil), nil))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, rt.Close(ctx))

	rt = open(t, Options{Config: cfg})
	got := make(chan string, 1)
	_, err = rt.Service().CreateQueue(ctx, "jobs", message.HandlerFunc(func(_ context.Context, m message.Message, mctx *message.Context) error {
		mctx.Acknowledge()
		got <- m.Headers.MessageName()
		return nil
	}), rt.QueueOptions())
	require.NoError(t, err)
	select {
	case name := <-got:
		assert.Equal(t, "work", name)
	case <-time.After(2 * time.Second):
		t.Fatal("pending message was not redelivered")
	}
}

func TestDeadLettersAndPrometheus(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	rt := open(t, Options{Config: testConfig(t, config.BackendMemory), Registerer: reg})

	_, err := rt.Service().CreateQueue(ctx, "jobs", message.HandlerFunc(func(context.Context, message.Message, *message.Context) error {
		return assert.AnError
	}), rt.QueueOptions())
	require.NoError(t, err)
	require.NoError(t, rt.Service().EnqueueMessage(ctx, "jobs", message.New("work", nil), nil))

	require.Eventually(t, func() bool {
		dead, err := rt.DeadLetters(ctx, "jobs", 0)
		return err == nil && len(dead) == 1
	}, 2*time.Second, 5*time.Millisecond)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestConsumerOptionsFromConfig(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.Consumer.BatchSize = 7
	rt := open(t, Options{Config: cfg})

	opts := rt.ConsumerOptions("projector")
	assert.Equal(t, 7, opts.BatchSize)
	assert.Equal(t, "projector", opts.Name)
	assert.NotNil(t, opts.Checkpoints)
	assert.Nil(t, rt.ConsumerOptions("").Checkpoints)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "etcd"
	_, err := Open(context.Background(), Options{Config: cfg, Logger: log.NewNopLogger()})
	require.Error(t, err)
}

func TestSubmitIsDeliveredWhenQueueOpens(t *testing.T) {
	ctx := context.Background()
	rt := open(t, Options{Config: testConfig(t, config.BackendMemory)})

	msg := message.New("work", nil)
	qm, err := rt.Submit(ctx, "later", msg, nil)
	require.NoError(t, err)
	require.NotEmpty(t, qm.ID())
	assert.Empty(t, msg.ID(), "the caller's message is not modified")

	got := make(chan string, 1)
	_, err = rt.Service().CreateQueue(ctx, "later", message.HandlerFunc(func(_ context.Context, m message.Message, mctx *message.Context) error {
		mctx.Acknowledge()
		got <- m.ID()
		return nil
	}), rt.QueueOptions())
	require.NoError(t, err)
	select {
	case id := <-got:
		assert.Equal(t, qm.ID(), id)
	case <-time.After(2 * time.Second):
		t.Fatal("submitted message was not delivered")
	}

	_, err = rt.Submit(ctx, "later", nil, nil)
	require.ErrorIs(t, err, queue.ErrNilMessage)
}
