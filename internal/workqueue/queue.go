package workqueue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/queue"
	pebblestore "github.com/rzbill/flobus/internal/storage/pebble"
	"github.com/rzbill/flobus/internal/storage/record"
)

var _ queue.DeadLetterStore = (*WorkQueue)(nil)

// WorkQueue stores the messages of one named queue. Writes are serialized by
// an in-process mutex; open each queue through a single Provider.
type WorkQueue struct {
	db    *pebblestore.DB
	queue string
	now   func() time.Time

	mu      sync.Mutex
	lastSeq uint64
	pending int
}

// OpenQueue initializes a WorkQueue and restores counters from metadata.
func OpenQueue(db *pebblestore.DB, name string) (*WorkQueue, error) {
	q := &WorkQueue{db: db, queue: name, now: time.Now}
	meta, err := db.Get(MetaKey(name))
	switch {
	case err == nil && len(meta) >= 12:
		q.lastSeq = binary.BigEndian.Uint64(meta[0:8])
		q.pending = int(binary.BigEndian.Uint32(meta[8:12]))
	case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
		return nil, fmt.Errorf("workqueue: load meta %q: %w", name, err)
	}
	return q, nil
}

// Name returns the queue name.
func (q *WorkQueue) Name() string { return q.queue }

func (q *WorkQueue) metaValue(lastSeq uint64, pending int) []byte {
	var meta [12]byte
	binary.BigEndian.PutUint64(meta[0:8], lastSeq)
	binary.BigEndian.PutUint32(meta[8:12], uint32(pending))
	return meta[:]
}

// InsertQueuedMessage implements queue.Store.
func (q *WorkQueue) InsertQueuedMessage(ctx context.Context, msg message.Message, principal *message.Principal) (queue.QueuedMessage, error) {
	id := msg.ID()
	q.mu.Lock()
	defer q.mu.Unlock()

	exists, err := q.db.Has(IDKey(q.queue, id))
	if err != nil {
		return queue.QueuedMessage{}, err
	}
	if exists {
		return queue.QueuedMessage{}, fmt.Errorf("%w: %s", queue.ErrDuplicateMessage, id)
	}

	seq := q.lastSeq + 1
	r := record.NewQueued(seq, msg, principal, q.now())
	val, err := encodeQueued(r)
	if err != nil {
		return queue.QueuedMessage{}, err
	}
	var seqb [8]byte
	binary.BigEndian.PutUint64(seqb[:], seq)

	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Set(MsgKey(q.queue, seq), val, nil); err != nil {
		return queue.QueuedMessage{}, err
	}
	if err := b.Set(IDKey(q.queue, id), seqb[:], nil); err != nil {
		return queue.QueuedMessage{}, err
	}
	if err := b.Set(PendingKey(q.queue, seq), nil, nil); err != nil {
		return queue.QueuedMessage{}, err
	}
	if err := b.Set(MetaKey(q.queue), q.metaValue(seq, q.pending+1), nil); err != nil {
		return queue.QueuedMessage{}, err
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return queue.QueuedMessage{}, err
	}
	q.lastSeq = seq
	q.pending++
	return r.QueuedMessage(), nil
}

func (q *WorkQueue) lookup(id string) (uint64, record.Queued, error) {
	v, err := q.db.Get(IDKey(q.queue, id))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, record.Queued{}, fmt.Errorf("%w: %s", queue.ErrMessageNotFound, id)
	}
	if err != nil {
		return 0, record.Queued{}, err
	}
	if len(v) < 8 {
		return 0, record.Queued{}, ErrCorruptRecord
	}
	seq := binary.BigEndian.Uint64(v[:8])
	raw, err := q.db.Get(MsgKey(q.queue, seq))
	if err != nil {
		return 0, record.Queued{}, fmt.Errorf("workqueue: message %s: %w", id, err)
	}
	r, err := decodeQueued(raw)
	if err != nil {
		return 0, record.Queued{}, fmt.Errorf("workqueue: message %s: %w", id, err)
	}
	return seq, r, nil
}

// UpdateQueuedMessage implements queue.Store. Terminal updates move the
// message from the pending index to the completed or dead-letter index.
func (q *WorkQueue) UpdateQueuedMessage(ctx context.Context, qm queue.QueuedMessage, u queue.Update) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq, r, err := q.lookup(qm.ID())
	if err != nil {
		return err
	}
	wasPending := r.Pending()
	r.Apply(u)
	val, err := encodeQueued(r)
	if err != nil {
		return err
	}

	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Set(MsgKey(q.queue, seq), val, nil); err != nil {
		return err
	}
	pending := q.pending
	if wasPending && !r.Pending() {
		pending--
		if err := b.Delete(PendingKey(q.queue, seq), nil); err != nil {
			return err
		}
		var ts [8]byte
		if r.AcknowledgedAt != nil {
			binary.BigEndian.PutUint64(ts[:], uint64(r.AcknowledgedAt.UnixMilli()))
			err = b.Set(CompletedKey(q.queue, seq), ts[:], nil)
		} else {
			binary.BigEndian.PutUint64(ts[:], uint64(r.AbandonedAt.UnixMilli()))
			err = b.Set(DLQKey(q.queue, seq), ts[:], nil)
		}
		if err != nil {
			return err
		}
		if err := b.Set(MetaKey(q.queue), q.metaValue(q.lastSeq, pending), nil); err != nil {
			return err
		}
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	q.pending = pending
	return nil
}

// SelectPendingMessages implements queue.Store. It reads from a snapshot so
// concurrent updates do not produce a torn view.
func (q *WorkQueue) SelectPendingMessages(ctx context.Context) ([]queue.QueuedMessage, error) {
	return q.scanIndex(ctx, PendingPrefix(q.queue), 0)
}

// DeadLetters returns up to limit abandoned messages (0 = all), oldest first.
func (q *WorkQueue) DeadLetters(ctx context.Context, limit int) ([]queue.QueuedMessage, error) {
	return q.scanIndex(ctx, DLQPrefix(q.queue), limit)
}

func (q *WorkQueue) scanIndex(ctx context.Context, prefix []byte, limit int) ([]queue.QueuedMessage, error) {
	snap := q.db.NewSnapshot()
	defer snap.Close()
	iter, err := snap.NewIter(pebblestore.PrefixBounds(prefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []queue.QueuedMessage
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seq := seqFromKey(iter.Key())
		raw, closer, err := snap.Get(MsgKey(q.queue, seq))
		if err != nil {
			return nil, fmt.Errorf("workqueue: index entry %d: %w", seq, err)
		}
		r, err := decodeQueued(raw)
		closer.Close()
		if err != nil {
			return nil, fmt.Errorf("workqueue: message %d: %w", seq, err)
		}
		out = append(out, r.QueuedMessage())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// Stats summarizes a queue.
type Stats struct {
	LastSeq uint64
	Pending int
}

// Stats returns the current counters.
func (q *WorkQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{LastSeq: q.lastSeq, Pending: q.pending}
}

// PurgeCompleted deletes acknowledged messages acknowledged before cutoff,
// committing in batches of up to batchLimit keys. It returns the number of
// purged messages.
func (q *WorkQueue) PurgeCompleted(ctx context.Context, cutoff time.Time, batchLimit int) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	iter, err := q.db.NewIter(pebblestore.PrefixBounds(CompletedPrefix(q.queue)))
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	cutoffMs := uint64(cutoff.UnixMilli())
	purged := 0
	b := q.db.NewBatch()
	inBatch := 0
	flush := func() error {
		if inBatch == 0 {
			return nil
		}
		err := q.db.CommitBatch(ctx, b)
		b.Close()
		b = q.db.NewBatch()
		inBatch = 0
		return err
	}
	defer func() { b.Close() }()

	for ok := iter.First(); ok; ok = iter.Next() {
		v := iter.Value()
		if len(v) < 8 || binary.BigEndian.Uint64(v[:8]) >= cutoffMs {
			continue
		}
		seq := seqFromKey(iter.Key())
		raw, err := q.db.Get(MsgKey(q.queue, seq))
		if err == nil {
			if r, err := decodeQueued(raw); err == nil {
				_ = b.Delete(IDKey(q.queue, message.Headers(r.Headers).MessageID()), nil)
			}
		}
		_ = b.Delete(MsgKey(q.queue, seq), nil)
		_ = b.Delete(CompletedKey(q.queue, seq), nil)
		purged++
		if inBatch++; inBatch >= batchLimit {
			if err := flush(); err != nil {
				return purged, err
			}
		}
	}
	if err := flush(); err != nil {
		return purged, err
	}
	return purged, iter.Error()
}

// Provider opens one WorkQueue per name on a shared database.
type Provider struct {
	db *pebblestore.DB

	mu     sync.Mutex
	queues map[string]*WorkQueue
}

// NewProvider creates a Provider over db.
func NewProvider(db *pebblestore.DB) *Provider {
	return &Provider{db: db, queues: make(map[string]*WorkQueue)}
}

// QueueStore implements queue.StoreProvider.
func (p *Provider) QueueStore(_ context.Context, name string) (queue.Store, error) {
	return p.Open(name)
}

// Open returns the WorkQueue for name, opening it on first use.
func (p *Provider) Open(name string) (*WorkQueue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.queues[name]; ok {
		return q, nil
	}
	q, err := OpenQueue(p.db, name)
	if err != nil {
		return nil, err
	}
	p.queues[name] = q
	return q, nil
}
