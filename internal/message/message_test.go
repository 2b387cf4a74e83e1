package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersCaseInsensitive(t *testing.T) {
	h := Headers{}
	h.Set("flobus-topic", "orders")
	assert.Equal(t, "orders", h.Topic())

	h.Set(HeaderTopic, "billing")
	assert.Len(t, h, 1)
	assert.Equal(t, "billing", h.Get("FLOBUS-TOPIC"))
}

func TestHeadersTimeRoundTrip(t *testing.T) {
	h := Headers{}
	now := time.Date(2024, 5, 1, 10, 30, 0, 123, time.UTC)
	h.SetTime(HeaderSent, now)
	assert.True(t, now.Equal(h.Time(HeaderSent)))
	assert.True(t, h.Time(HeaderReceived).IsZero())
}

func TestCloneIsDeep(t *testing.T) {
	m := New("OrderPlaced", []byte("body"))
	c := m.Clone()
	c.Headers.Set(HeaderMessageName, "Changed")
	c.Content[0] = 'X'
	assert.Equal(t, "OrderPlaced", m.Headers.MessageName())
	assert.Equal(t, "body", string(m.Content))
}

func TestContextAcknowledgeIsMonotonic(t *testing.T) {
	p := &Principal{Name: "alice", Roles: []string{"admin"}}
	mctx := NewContext(*New("X", nil), p)
	require.False(t, mctx.Acknowledged())
	mctx.Acknowledge()
	mctx.Acknowledge()
	assert.True(t, mctx.Acknowledged())
	assert.Same(t, p, mctx.Principal())
	assert.True(t, mctx.Principal().IsInRole("admin"))
	assert.False(t, (*Principal)(nil).IsInRole("admin"))
}
