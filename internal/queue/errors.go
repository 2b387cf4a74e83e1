package queue

import "errors"

var (
	ErrQueueAlreadyExists = errors.New("queue already exists")
	ErrQueueNotFound      = errors.New("queue not found")
	ErrQueueClosed        = errors.New("queue is closed")
	ErrServiceClosed      = errors.New("queueing service is closed")
	ErrNilMessage         = errors.New("message is nil")
	ErrNilListener        = errors.New("listener is nil")
	ErrInvalidQueueName   = errors.New("invalid queue name")
	ErrInitFailed         = errors.New("queue initialization failed")
	ErrHandlerPanic       = errors.New("handler panicked")

	// ErrDuplicateMessage is returned by stores when a MessageId is already
	// stored for the queue.
	ErrDuplicateMessage = errors.New("message already queued")
	// ErrMessageNotFound is returned by stores when updating an unknown message.
	ErrMessageNotFound = errors.New("queued message not found")
)
