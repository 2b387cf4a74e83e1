package journal

import (
	"errors"
	"fmt"
)

var (
	ErrNilMessage        = errors.New("journal: message is nil")
	ErrInvalidCount      = errors.New("journal: count must be positive")
	ErrMalformedPosition = errors.New("journal: malformed position")
	ErrInvalidFilter     = errors.New("journal: invalid filter")
	ErrInvalidCategory   = errors.New("journal: invalid category")
	ErrNotAcknowledged   = errors.New("journal: entry not acknowledged")
)

// HandlerError is returned by Consume with RethrowExceptions when the handler
// fails on an entry.
type HandlerError struct {
	Position Position
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("journal: handler failed at position %s: %v", e.Position, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// NotAcknowledgedError is returned by Consume with RethrowExceptions when the
// handler returns without acknowledging an entry.
type NotAcknowledgedError struct {
	Position Position
}

func (e *NotAcknowledgedError) Error() string {
	return fmt.Sprintf("journal: entry at position %s not acknowledged", e.Position)
}

func (e *NotAcknowledgedError) Unwrap() error { return ErrNotAcknowledged }
