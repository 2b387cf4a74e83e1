package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/queue"
	"github.com/rzbill/flobus/internal/storage/record"
)

var _ queue.DeadLetterStore = (*QueueStore)(nil)

// insertScript claims the message id and indexes it as pending in one step.
var insertScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// QueueStore is a queue.Store for one named queue.
type QueueStore struct {
	client redis.UniversalClient
	keys   keys
	name   string
	now    func() time.Time
}

// NewQueueStore returns the store for queue name.
func NewQueueStore(client redis.UniversalClient, prefix, name string) *QueueStore {
	return &QueueStore{client: client, keys: newKeys(prefix), name: name, now: time.Now}
}

// InsertQueuedMessage implements queue.Store.
func (s *QueueStore) InsertQueuedMessage(ctx context.Context, msg message.Message, principal *message.Principal) (queue.QueuedMessage, error) {
	id := msg.ID()
	seq, err := s.client.Incr(ctx, s.keys.seq(s.name)).Uint64()
	if err != nil {
		return queue.QueuedMessage{}, fmt.Errorf("redis: next sequence: %w", err)
	}
	r := record.NewQueued(seq, msg, principal, s.now())
	val, err := record.EncodeQueued(r)
	if err != nil {
		return queue.QueuedMessage{}, err
	}
	ok, err := insertScript.Run(ctx, s.client,
		[]string{s.keys.msgs(s.name), s.keys.pending(s.name)},
		id, val, seq).Int()
	if err != nil {
		return queue.QueuedMessage{}, fmt.Errorf("redis: insert %s: %w", id, err)
	}
	if ok == 0 {
		return queue.QueuedMessage{}, fmt.Errorf("%w: %s", queue.ErrDuplicateMessage, id)
	}
	return r.QueuedMessage(), nil
}

func (s *QueueStore) get(ctx context.Context, id string) (record.Queued, error) {
	raw, err := s.client.HGet(ctx, s.keys.msgs(s.name), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return record.Queued{}, fmt.Errorf("%w: %s", queue.ErrMessageNotFound, id)
	}
	if err != nil {
		return record.Queued{}, fmt.Errorf("redis: get %s: %w", id, err)
	}
	return record.DecodeQueued(raw)
}

// UpdateQueuedMessage implements queue.Store.
func (s *QueueStore) UpdateQueuedMessage(ctx context.Context, qm queue.QueuedMessage, u queue.Update) error {
	id := qm.ID()
	r, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	r.Apply(u)
	val, err := record.EncodeQueued(r)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.keys.msgs(s.name), id, val)
		if !r.Pending() {
			p.ZRem(ctx, s.keys.pending(s.name), id)
		}
		if r.AbandonedAt != nil {
			p.ZAdd(ctx, s.keys.dlq(s.name), redis.Z{Score: float64(r.Seq), Member: id})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: update %s: %w", id, err)
	}
	return nil
}

// SelectPendingMessages implements queue.Store.
func (s *QueueStore) SelectPendingMessages(ctx context.Context) ([]queue.QueuedMessage, error) {
	return s.scanIndex(ctx, s.keys.pending(s.name), 0)
}

// DeadLetters returns up to limit abandoned messages (0 = all), oldest first.
func (s *QueueStore) DeadLetters(ctx context.Context, limit int) ([]queue.QueuedMessage, error) {
	return s.scanIndex(ctx, s.keys.dlq(s.name), limit)
}

func (s *QueueStore) scanIndex(ctx context.Context, index string, limit int) ([]queue.QueuedMessage, error) {
	ids, err := s.client.ZRange(ctx, index, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: range %s: %w", index, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.client.HMGet(ctx, s.keys.msgs(s.name), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load messages: %w", err)
	}
	out := make([]queue.QueuedMessage, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a record; skip it.
			continue
		}
		r, err := record.DecodeQueued([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("redis: message %s: %w", ids[i], err)
		}
		out = append(out, r.QueuedMessage())
	}
	return out, nil
}

// Provider hands out QueueStores sharing one client.
type Provider struct {
	client redis.UniversalClient
	prefix string
}

// NewProvider creates a Provider.
func NewProvider(client redis.UniversalClient, prefix string) *Provider {
	return &Provider{client: client, prefix: prefix}
}

// QueueStore implements queue.StoreProvider.
func (p *Provider) QueueStore(_ context.Context, name string) (queue.Store, error) {
	return NewQueueStore(p.client, p.prefix, name), nil
}

// Open returns the concrete store for name.
func (p *Provider) Open(name string) *QueueStore {
	return NewQueueStore(p.client, p.prefix, name)
}
