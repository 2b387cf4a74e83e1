package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/queue"
	"github.com/rzbill/flobus/internal/storage/record"
)

var _ queue.DeadLetterStore = (*QueueStore)(nil)

// Provider hands out one QueueStore per queue name. Stores outlive the
// queues that use them, so a queue re-created under the same name recovers
// its pending messages.
type Provider struct {
	mu     sync.Mutex
	stores map[string]*QueueStore
}

func NewProvider() *Provider {
	return &Provider{stores: make(map[string]*QueueStore)}
}

// QueueStore implements queue.StoreProvider.
func (p *Provider) QueueStore(_ context.Context, name string) (queue.Store, error) {
	return p.Store(name), nil
}

// Store returns the concrete store for name, creating it if needed.
func (p *Provider) Store(name string) *QueueStore {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stores[name]
	if !ok {
		s = NewQueueStore()
		p.stores[name] = s
	}
	return s
}

// QueueStore keeps queued messages in a map keyed by MessageId.
type QueueStore struct {
	mu   sync.Mutex
	seq  uint64
	msgs map[string]*record.Queued
	now  func() time.Time
}

func NewQueueStore() *QueueStore {
	return &QueueStore{msgs: make(map[string]*record.Queued), now: time.Now}
}

func (s *QueueStore) InsertQueuedMessage(ctx context.Context, msg message.Message, principal *message.Principal) (queue.QueuedMessage, error) {
	if err := ctx.Err(); err != nil {
		return queue.QueuedMessage{}, err
	}
	id := msg.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[id]; ok {
		return queue.QueuedMessage{}, fmt.Errorf("%w: %s", queue.ErrDuplicateMessage, id)
	}
	s.seq++
	r := record.NewQueued(s.seq, msg.Clone(), principal, s.now())
	s.msgs[id] = &r
	return r.QueuedMessage(), nil
}

func (s *QueueStore) UpdateQueuedMessage(ctx context.Context, qm queue.QueuedMessage, u queue.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.msgs[qm.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", queue.ErrMessageNotFound, qm.ID())
	}
	r.Apply(u)
	return nil
}

func (s *QueueStore) SelectPendingMessages(ctx context.Context) ([]queue.QueuedMessage, error) {
	return s.selectWhere(ctx, record.Queued.Pending, 0)
}

// DeadLetters returns up to limit abandoned messages (0 = all), oldest first.
func (s *QueueStore) DeadLetters(ctx context.Context, limit int) ([]queue.QueuedMessage, error) {
	return s.selectWhere(ctx, func(r record.Queued) bool { return r.AbandonedAt != nil }, limit)
}

func (s *QueueStore) selectWhere(ctx context.Context, keep func(record.Queued) bool, limit int) ([]queue.QueuedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	matched := make([]record.Queued, 0, len(s.msgs))
	for _, r := range s.msgs {
		if keep(*r) {
			matched = append(matched, *r)
		}
	}
	s.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq < matched[j].Seq })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]queue.QueuedMessage, len(matched))
	for i, r := range matched {
		out[i] = r.QueuedMessage()
	}
	return out, nil
}

// Get returns the stored record for id, for inspection in tests and tools.
func (s *QueueStore) Get(id string) (record.Queued, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.msgs[id]
	if !ok {
		return record.Queued{}, false
	}
	return *r, true
}
