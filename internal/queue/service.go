package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rzbill/flobus/internal/diag"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/pkg/log"
)

// Service is the registry of named queues for one bus instance.
type Service struct {
	provider StoreProvider
	settings

	mu     sync.RWMutex
	queues map[string]*MessageQueue
	closed bool
}

// NewService creates a queueing service that obtains per-queue stores from
// provider.
func NewService(provider StoreProvider, options ...Option) *Service {
	return &Service{
		provider: provider,
		settings: newSettings(options),
		queues:   make(map[string]*MessageQueue),
	}
}

// CreateQueue registers a new queue and runs its Init. The name is reserved
// atomically: concurrent creators of the same name see exactly one success.
// When Init fails the queue stays registered and usable; the failure is
// logged and emitted as QueueInitFailed.
func (s *Service) CreateQueue(ctx context.Context, name string, listener message.Handler, opts Options) (*MessageQueue, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidQueueName
	}
	if listener == nil {
		return nil, ErrNilListener
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	if _, ok := s.queues[name]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrQueueAlreadyExists, name)
	}
	s.queues[name] = nil // reserved until the store is ready
	s.mu.Unlock()

	q, err := s.newQueue(ctx, name, listener, opts)
	if err != nil {
		s.mu.Lock()
		delete(s.queues, name)
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = q.Close(ctx)
		return nil, ErrServiceClosed
	}
	s.queues[name] = q
	s.mu.Unlock()

	s.sink.Emit(ctx, diag.Event{Type: diag.QueueCreated, Queue: name, Time: s.now()})
	s.logger.Info("queue created",
		log.Str("queue", name),
		log.Int("max_attempts", q.opts.MaxAttempts),
		log.Int("concurrency", q.opts.ConcurrencyLimit),
		log.Bool("auto_ack", q.opts.AutoAcknowledge))

	// Init failure is reported by the queue itself.
	_ = q.Init(ctx)
	return q, nil
}

func (s *Service) newQueue(ctx context.Context, name string, listener message.Handler, opts Options) (*MessageQueue, error) {
	store, err := s.provider.QueueStore(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("queue %q: open store: %w", name, err)
	}
	return NewMessageQueue(name, store, listener, opts, s.settings.options()...)
}

// EnqueueMessage enqueues msg on the named queue.
func (s *Service) EnqueueMessage(ctx context.Context, name string, msg *message.Message, principal *message.Principal) error {
	q, err := s.Queue(name)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, msg, principal)
}

// Queue returns a registered queue.
func (s *Service) Queue(name string) (*MessageQueue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrServiceClosed
	}
	q := s.queues[name]
	if q == nil {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return q, nil
}

// Queues returns the sorted names of registered queues.
func (s *Service) Queues() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.queues))
	for name, q := range s.queues {
		if q != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Close closes every queue concurrently and waits for them.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	queues := make([]*MessageQueue, 0, len(s.queues))
	for _, q := range s.queues {
		if q != nil {
			queues = append(queues, q)
		}
	}
	s.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for _, q := range queues {
		wg.Add(1)
		go func(q *MessageQueue) {
			defer wg.Done()
			if err := q.Close(ctx); err != nil {
				emu.Lock()
				errs = append(errs, fmt.Errorf("close queue %q: %w", q.Name(), err))
				emu.Unlock()
			}
		}(q)
	}
	wg.Wait()
	return errors.Join(errs...)
}
