package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/queue"
)

func TestQueuedApplyTransitions(t *testing.T) {
	msg := *message.New("orders.created", []byte(`{"id":1}`))
	r := NewQueued(7, msg, &message.Principal{Name: "alice"}, time.Now())
	require.True(t, r.Pending())

	r.Apply(queue.Update{Attempts: 2})
	assert.True(t, r.Pending())
	assert.Equal(t, 2, r.Attempts)

	r.Apply(queue.Update{Attempts: 3, AbandonedAt: time.Now()})
	assert.False(t, r.Pending())

	b, err := EncodeQueued(r)
	require.NoError(t, err)
	got, err := DecodeQueued(b)
	require.NoError(t, err)
	qm := got.QueuedMessage()
	assert.Equal(t, 3, qm.Attempts)
	assert.Equal(t, "alice", qm.Principal.Name)
	assert.Equal(t, "orders.created", qm.Message.Headers.MessageName())
	assert.Equal(t, []byte(`{"id":1}`), qm.Message.Content)
	assert.False(t, got.Pending())
}

func TestEntryKeepsCategoryAndTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b, err := EncodeEntry(NewEntry(journal.Published, ts, *message.New("n", []byte("x"))))
	require.NoError(t, err)
	r, err := DecodeEntry(b)
	require.NoError(t, err)

	e := r.JournalEntry(journal.SeqPosition(4))
	assert.Equal(t, journal.Published, e.Category)
	assert.True(t, ts.Equal(e.Timestamp))
	assert.Equal(t, "4", e.Position.String())
}

func TestDecodeGarbage(t *testing.T) {
	_, err := DecodeQueued([]byte("{"))
	require.Error(t, err)
	_, err = DecodeEntry([]byte("nope"))
	require.Error(t, err)
}
