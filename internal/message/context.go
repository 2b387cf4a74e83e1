package message

import (
	"context"
	"sync/atomic"
)

// Context is the per-delivery token given to a handler. It is created fresh
// for every delivery attempt.
type Context struct {
	headers      Headers
	principal    *Principal
	acknowledged atomic.Bool
}

// NewContext creates a delivery context for msg sent by principal.
func NewContext(msg Message, principal *Principal) *Context {
	return &Context{headers: msg.Headers.Clone(), principal: principal}
}

// Headers returns the delivered message's headers.
func (c *Context) Headers() Headers { return c.headers }

// Principal returns the sender, or nil for anonymous messages.
func (c *Context) Principal() *Principal { return c.principal }

// Acknowledge marks the message as successfully processed. Once acknowledged
// a context stays acknowledged.
func (c *Context) Acknowledge() { c.acknowledged.Store(true) }

// Acknowledged reports whether Acknowledge has been called.
func (c *Context) Acknowledged() bool { return c.acknowledged.Load() }

// Handler processes delivered messages. Returning an error, or returning
// without acknowledging, is a failed delivery.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message, mctx *Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message, mctx *Context) error

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message, mctx *Context) error {
	return f(ctx, msg, mctx)
}
