package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/queue"
	"github.com/rzbill/flobus/internal/storage/storetest"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestQueueStoreContract(t *testing.T) {
	storetest.RunQueueStore(t, func(t *testing.T) queue.Store {
		_, client := newClient(t)
		return NewQueueStore(client, "test", "contract")
	})
}

func TestJournalStoreContract(t *testing.T) {
	storetest.RunJournalStore(t, func(t *testing.T) journal.Store {
		_, client := newClient(t)
		return NewJournalStore(client, "test")
	})
}

func TestKeysUsePrefix(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()
	s := NewQueueStore(client, "", "jobs")
	m := message.New("work", nil)
	m.Headers.Set(message.HeaderMessageID, "a")
	_, err := s.InsertQueuedMessage(ctx, *m, nil)
	require.NoError(t, err)

	assert.True(t, mr.Exists("flobus:q:jobs:msgs"))
	assert.True(t, mr.Exists("flobus:q:jobs:pending"))
	assert.True(t, mr.Exists("flobus:q:jobs:seq"))
}

func TestAbandonedMessagesAreDeadLettered(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()
	s := NewProvider(client, "test").Open("jobs")

	for _, id := range []string{"a", "b"} {
		m := message.New("work", nil)
		m.Headers.Set(message.HeaderMessageID, id)
		_, err := s.InsertQueuedMessage(ctx, *m, nil)
		require.NoError(t, err)
	}
	pending, err := s.SelectPendingMessages(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.UpdateQueuedMessage(ctx, pending[0], queue.Update{Attempts: 3, AbandonedAt: time.Now()}))

	dead, err := s.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "a", dead[0].ID())
	assert.Equal(t, 3, dead[0].Attempts)

	pending, err = s.SelectPendingMessages(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID())
}

func TestUpdateUnknownMessage(t *testing.T) {
	_, client := newClient(t)
	s := NewQueueStore(client, "test", "jobs")
	qm := queue.QueuedMessage{Message: *message.New("work", nil)}
	qm.Message.Headers.Set(message.HeaderMessageID, "missing")
	err := s.UpdateQueuedMessage(context.Background(), qm, queue.Update{Attempts: 1})
	require.ErrorIs(t, err, queue.ErrMessageNotFound)
}

func TestJournalPositionsAreStreamIDs(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()
	s := NewJournalStore(client, "test")
	pos, err := s.Append(ctx, journal.Sent, time.Now(), *message.New("e", nil))
	require.NoError(t, err)
	sp, ok := pos.(journal.StreamPosition)
	require.True(t, ok)
	assert.NotZero(t, sp.Millis)

	ids, err := client.XRange(ctx, "test:journal", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, pos.String(), ids[0].ID)
}

func TestJournalReadPagesPastSparseMatches(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()
	s := NewJournalStore(client, "test")
	j := journal.New(s)
	for i := 0; i < minPage+10; i++ {
		_, err := j.Append(ctx, message.New("noise", nil), journal.Received)
		require.NoError(t, err)
	}
	_, err := j.Append(ctx, message.New("signal", nil), journal.Sent)
	require.NoError(t, err)

	res, err := j.Read(ctx, nil, 5, &journal.Filter{Categories: []journal.Category{journal.Sent}})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "signal", res.Entries[0].Data.Headers.MessageName())
	assert.True(t, res.EndOfJournal)

	n, err := client.XLen(ctx, "test:journal").Result()
	require.NoError(t, err)
	assert.EqualValues(t, minPage+11, n, "appends never trim the stream")
}

func TestCheckpoints(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()
	s := NewJournalStore(client, "test")

	_, ok, err := s.Load(ctx, "projector")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "projector", "1700000000000-3"))
	pos, ok, err := s.Load(ctx, "projector")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1700000000000-3", pos)
}
