// Package storetest is the contract suite every queue and journal backend
// must pass.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/queue"
)

func newMessage(id, name string) message.Message {
	m := message.New(name, []byte("payload-"+id))
	m.Headers.Set(message.HeaderMessageID, id)
	return *m
}

func ids(qms []queue.QueuedMessage) []string {
	out := make([]string, len(qms))
	for i, qm := range qms {
		out[i] = qm.ID()
	}
	return out
}

// RunQueueStore runs the queue.Store contract. newStore must return an
// empty store on every call.
func RunQueueStore(t *testing.T, newStore func(t *testing.T) queue.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("InsertThenSelectPendingInOrder", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"a", "b", "c"} {
			qm, err := s.InsertQueuedMessage(ctx, newMessage(id, "test"), nil)
			require.NoError(t, err)
			assert.Equal(t, 0, qm.Attempts)
			assert.Equal(t, id, qm.ID())
		}
		pending, err := s.SelectPendingMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(pending))
		assert.Equal(t, []byte("payload-b"), pending[1].Message.Content)
		assert.Equal(t, "test", pending[1].Message.Headers.MessageName())
	})

	t.Run("PrincipalIsStored", func(t *testing.T) {
		s := newStore(t)
		p := &message.Principal{Name: "alice", Roles: []string{"admin"}}
		_, err := s.InsertQueuedMessage(ctx, newMessage("p1", "test"), p)
		require.NoError(t, err)
		pending, err := s.SelectPendingMessages(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.NotNil(t, pending[0].Principal)
		assert.Equal(t, "alice", pending[0].Principal.Name)
		assert.True(t, pending[0].Principal.IsInRole("admin"))
	})

	t.Run("DuplicateInsertRejected", func(t *testing.T) {
		s := newStore(t)
		_, err := s.InsertQueuedMessage(ctx, newMessage("dup", "test"), nil)
		require.NoError(t, err)
		_, err = s.InsertQueuedMessage(ctx, newMessage("dup", "test"), nil)
		require.ErrorIs(t, err, queue.ErrDuplicateMessage)
	})

	t.Run("UpdateAttemptsKeepsPending", func(t *testing.T) {
		s := newStore(t)
		qm, err := s.InsertQueuedMessage(ctx, newMessage("u1", "test"), nil)
		require.NoError(t, err)
		require.NoError(t, s.UpdateQueuedMessage(ctx, qm.NextAttempt().NextAttempt(), queue.Update{Attempts: 2}))
		pending, err := s.SelectPendingMessages(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, 2, pending[0].Attempts)
	})

	t.Run("TerminalUpdatesLeavePending", func(t *testing.T) {
		s := newStore(t)
		acked, err := s.InsertQueuedMessage(ctx, newMessage("ack", "test"), nil)
		require.NoError(t, err)
		dead, err := s.InsertQueuedMessage(ctx, newMessage("dead", "test"), nil)
		require.NoError(t, err)
		_, err = s.InsertQueuedMessage(ctx, newMessage("live", "test"), nil)
		require.NoError(t, err)

		now := time.Now()
		require.NoError(t, s.UpdateQueuedMessage(ctx, acked.NextAttempt(), queue.Update{Attempts: 1, AcknowledgedAt: now}))
		require.NoError(t, s.UpdateQueuedMessage(ctx, dead.NextAttempt(), queue.Update{Attempts: 1, AbandonedAt: now}))

		pending, err := s.SelectPendingMessages(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"live"}, ids(pending))
	})

	t.Run("ConcurrentInserts", func(t *testing.T) {
		s := newStore(t)
		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.InsertQueuedMessage(ctx, newMessage(fmt.Sprintf("c%02d", i), "test"), nil)
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		pending, err := s.SelectPendingMessages(ctx)
		require.NoError(t, err)
		got := ids(pending)
		sort.Strings(got)
		require.Len(t, got, n)
		assert.Equal(t, "c00", got[0])
		assert.Equal(t, "c19", got[n-1])
	})

	t.Run("DeadLetters", func(t *testing.T) {
		s, ok := newStore(t).(queue.DeadLetterStore)
		if !ok {
			t.Skip("store does not list dead letters")
		}
		var qms []queue.QueuedMessage
		for _, id := range []string{"d1", "live", "d2", "d3"} {
			qm, err := s.InsertQueuedMessage(ctx, newMessage(id, "test"), nil)
			require.NoError(t, err)
			qms = append(qms, qm)
		}
		now := time.Now()
		for _, i := range []int{0, 2, 3} {
			require.NoError(t, s.UpdateQueuedMessage(ctx, qms[i], queue.Update{Attempts: 5, AbandonedAt: now}))
		}
		dead, err := s.DeadLetters(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"d1", "d2", "d3"}, ids(dead))
		assert.Equal(t, 5, dead[0].Attempts)

		dead, err = s.DeadLetters(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"d1", "d2"}, ids(dead))
	})
}

func journalMessage(name, topic string) *message.Message {
	m := message.New(name, []byte(name))
	m.Headers.Set(message.HeaderTopic, topic)
	return m
}

type appendSpec struct {
	c journal.Category
	m *message.Message
}

func appendAll(t *testing.T, j *journal.Journal, entries ...appendSpec) []journal.Position {
	t.Helper()
	var out []journal.Position
	for _, e := range entries {
		pos, err := j.Append(context.Background(), e.m, e.c)
		require.NoError(t, err)
		out = append(out, pos)
	}
	return out
}

// RunJournalStore runs the journal.Store contract through a Journal.
// newStore must return an empty store on every call.
func RunJournalStore(t *testing.T, newStore func(t *testing.T) journal.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("ReadBackInOrder", func(t *testing.T) {
		j := journal.New(newStore(t))
		var specs []appendSpec
		for i := 1; i <= 5; i++ {
			specs = append(specs, appendSpec{journal.Sent, journalMessage(fmt.Sprintf("E%d", i), "t")})
		}
		positions := appendAll(t, j, specs...)
		for i := 1; i < len(positions); i++ {
			assert.Equal(t, 1, positions[i].Compare(positions[i-1]), "positions must increase")
		}

		begin, err := j.GetBeginningOfJournal(ctx)
		require.NoError(t, err)
		res, err := j.Read(ctx, begin, 5, nil)
		require.NoError(t, err)
		require.Len(t, res.Entries, 5)
		for i, e := range res.Entries {
			assert.Equal(t, fmt.Sprintf("E%d", i+1), e.Data.Headers.MessageName())
			assert.Equal(t, 0, e.Position.Compare(positions[i]))
			assert.Equal(t, journal.Sent, e.Category)
			assert.False(t, e.Timestamp.IsZero())
			assert.False(t, e.Data.Headers.Time(message.HeaderSent).IsZero())
		}
		assert.True(t, res.EndOfJournal)

		again, err := j.Read(ctx, res.Next, 5, nil)
		require.NoError(t, err)
		assert.Empty(t, again.Entries)
		assert.True(t, again.EndOfJournal)
		assert.Equal(t, res.Next.String(), again.Next.String())
	})

	t.Run("PagedRead", func(t *testing.T) {
		j := journal.New(newStore(t))
		for i := 0; i < 5; i++ {
			_, err := j.Append(ctx, journalMessage(fmt.Sprintf("P%d", i), "t"), journal.Published)
			require.NoError(t, err)
		}
		first, err := j.Read(ctx, nil, 2, nil)
		require.NoError(t, err)
		require.Len(t, first.Entries, 2)
		assert.False(t, first.EndOfJournal)

		second, err := j.Read(ctx, first.Next, 2, nil)
		require.NoError(t, err)
		require.Len(t, second.Entries, 2)
		assert.Equal(t, "P2", second.Entries[0].Data.Headers.MessageName())
		assert.False(t, second.EndOfJournal)

		third, err := j.Read(ctx, second.Next, 2, nil)
		require.NoError(t, err)
		require.Len(t, third.Entries, 1)
		assert.True(t, third.EndOfJournal)
	})

	t.Run("FilterIsConjunctive", func(t *testing.T) {
		j := journal.New(newStore(t))
		appendAll(t, j,
			appendSpec{journal.Sent, journalMessage("a", "T1")},
			appendSpec{journal.Received, journalMessage("b", "T1")},
			appendSpec{journal.Sent, journalMessage("c", "T2")},
			appendSpec{journal.Sent, journalMessage("d", "T1")},
			appendSpec{journal.Published, journalMessage("e", "T2")},
		)
		res, err := j.Read(ctx, nil, 10, &journal.Filter{Categories: []journal.Category{journal.Sent}, Topics: []string{"T1"}})
		require.NoError(t, err)
		require.Len(t, res.Entries, 2)
		assert.Equal(t, "a", res.Entries[0].Data.Headers.MessageName())
		assert.Equal(t, "d", res.Entries[1].Data.Headers.MessageName())
		assert.True(t, res.EndOfJournal)
	})

	t.Run("FilteredPagingDoesNotSkip", func(t *testing.T) {
		j := journal.New(newStore(t))
		appendAll(t, j,
			appendSpec{journal.Received, journalMessage("x1", "t")},
			appendSpec{journal.Sent, journalMessage("m1", "t")},
			appendSpec{journal.Received, journalMessage("x2", "t")},
			appendSpec{journal.Sent, journalMessage("m2", "t")},
		)
		f := &journal.Filter{Categories: []journal.Category{journal.Sent}}
		res, err := j.Read(ctx, nil, 1, f)
		require.NoError(t, err)
		require.Len(t, res.Entries, 1)
		assert.Equal(t, "m1", res.Entries[0].Data.Headers.MessageName())
		assert.False(t, res.EndOfJournal)

		res, err = j.Read(ctx, res.Next, 1, f)
		require.NoError(t, err)
		require.Len(t, res.Entries, 1)
		assert.Equal(t, "m2", res.Entries[0].Data.Headers.MessageName())
		assert.True(t, res.EndOfJournal)
	})

	t.Run("ExpressionFilter", func(t *testing.T) {
		j := journal.New(newStore(t))
		appendAll(t, j,
			appendSpec{journal.Sent, journalMessage("orders.created", "t")},
			appendSpec{journal.Sent, journalMessage("orders.cancelled", "t")},
		)
		res, err := j.Read(ctx, nil, 10, &journal.Filter{Expression: `name.endsWith("created") && category == "Sent"`})
		require.NoError(t, err)
		require.Len(t, res.Entries, 1)
		assert.Equal(t, "orders.created", res.Entries[0].Data.Headers.MessageName())
	})

	t.Run("PositionRoundTrip", func(t *testing.T) {
		j := journal.New(newStore(t))
		pos, err := j.Append(ctx, journalMessage("r", "t"), journal.Sent)
		require.NoError(t, err)
		parsed, err := j.ParsePosition(pos.String())
		require.NoError(t, err)
		assert.Equal(t, 0, parsed.Compare(pos))

		res, err := j.Read(ctx, parsed, 1, nil)
		require.NoError(t, err)
		require.Len(t, res.Entries, 1)

		_, err = j.ParsePosition("not a position")
		require.ErrorIs(t, err, journal.ErrMalformedPosition)
	})

	t.Run("EmptyReadReturnsStart", func(t *testing.T) {
		j := journal.New(newStore(t))
		var start journal.Position
		for _, v := range []string{"0", "0-0"} {
			if p, err := j.ParsePosition(v); err == nil {
				start = p
				break
			}
		}
		require.NotNil(t, start, "store accepts a zero position")
		res, err := j.Read(ctx, start, 5, nil)
		require.NoError(t, err)
		assert.Empty(t, res.Entries)
		assert.True(t, res.EndOfJournal)
		assert.Equal(t, start.String(), res.Next.String())

		appendAll(t, j, appendSpec{journal.Sent, journalMessage("only", "t")})
		far, err := j.ParsePosition("18446744073709551615")
		if err != nil {
			return
		}
		res, err = j.Read(ctx, far, 5, nil)
		require.NoError(t, err)
		assert.Empty(t, res.Entries, "nothing lies beyond the last position")
		assert.True(t, res.EndOfJournal)
		assert.Equal(t, far.String(), res.Next.String())
	})

	t.Run("ConcurrentAppendsAreTotallyOrdered", func(t *testing.T) {
		j := journal.New(newStore(t))
		const n = 20
		var wg sync.WaitGroup
		var mu sync.Mutex
		seen := map[string]bool{}
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				pos, err := j.Append(ctx, journalMessage(fmt.Sprintf("c%d", i), "t"), journal.Sent)
				assert.NoError(t, err)
				if err == nil {
					mu.Lock()
					seen[pos.String()] = true
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Len(t, seen, n)

		res, err := j.Read(ctx, nil, n, nil)
		require.NoError(t, err)
		require.Len(t, res.Entries, n)
		for i := 1; i < n; i++ {
			assert.Equal(t, 1, res.Entries[i].Position.Compare(res.Entries[i-1].Position))
		}
	})
}
