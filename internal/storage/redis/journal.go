package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/storage/record"
)

const (
	recordField = "r"
	// minPage bounds the XRANGE page size so sparse filters do not issue
	// one round trip per entry.
	minPage = 128
)

// JournalStore is a journal.Store on a Redis stream.
type JournalStore struct {
	client redis.UniversalClient
	keys   keys
}

// NewJournalStore returns the journal stored under prefix.
func NewJournalStore(client redis.UniversalClient, prefix string) *JournalStore {
	return &JournalStore{client: client, keys: newKeys(prefix)}
}

// Beginning implements journal.Store.
func (s *JournalStore) Beginning(context.Context) (journal.Position, error) {
	return journal.StreamPosition{}, nil
}

// ParsePosition implements journal.Store.
func (s *JournalStore) ParsePosition(v string) (journal.Position, error) {
	return journal.ParseStreamPosition(v)
}

// Append implements journal.Store. The stream assigns the position.
func (s *JournalStore) Append(ctx context.Context, category journal.Category, ts time.Time, msg message.Message) (journal.Position, error) {
	val, err := record.EncodeEntry(record.NewEntry(category, ts, msg))
	if err != nil {
		return nil, err
	}
	args := &redis.XAddArgs{
		Stream: s.keys.journal(),
		Values: map[string]interface{}{recordField: val},
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: xadd: %w", err)
	}
	return journal.ParseStreamPosition(id)
}

// Read implements journal.Store.
func (s *JournalStore) Read(ctx context.Context, start journal.Position, count int, m *journal.Matcher) (journal.ReadResult, error) {
	from, ok := start.(journal.StreamPosition)
	if !ok {
		return journal.ReadResult{}, fmt.Errorf("%w: %v", journal.ErrMalformedPosition, start)
	}
	page := int64(max(count+1, minPage))

	entries := make([]journal.Entry, 0, min(count, 256))
	end := true
	cursor := from
scan:
	for {
		msgs, err := s.client.XRangeN(ctx, s.keys.journal(), cursor.String(), "+", page).Result()
		if err != nil {
			return journal.ReadResult{}, fmt.Errorf("redis: xrange: %w", err)
		}
		for _, xm := range msgs {
			pos, err := journal.ParseStreamPosition(xm.ID)
			if err != nil {
				return journal.ReadResult{}, err
			}
			cursor = pos.Next()
			e, err := decodeStreamEntry(xm, pos)
			if err != nil {
				return journal.ReadResult{}, err
			}
			if !m.Match(e) {
				continue
			}
			if len(entries) == count {
				end = false
				break scan
			}
			entries = append(entries, e)
		}
		if int64(len(msgs)) < page {
			break
		}
	}

	res := journal.ReadResult{Start: start, Next: start, EndOfJournal: end, Entries: entries}
	if n := len(entries); n > 0 {
		res.Next = entries[n-1].Position.(journal.StreamPosition).Next()
	}
	return res, nil
}

func decodeStreamEntry(xm redis.XMessage, pos journal.StreamPosition) (journal.Entry, error) {
	raw, ok := xm.Values[recordField].(string)
	if !ok {
		return journal.Entry{}, fmt.Errorf("redis: entry %s: missing record", xm.ID)
	}
	r, err := record.DecodeEntry([]byte(raw))
	if err != nil {
		return journal.Entry{}, fmt.Errorf("redis: entry %s: %w", xm.ID, err)
	}
	return r.JournalEntry(pos), nil
}

// WaitForAppend implements journal.Notifier with a blocking XREAD. Only
// entries added after the call starts wake it.
func (s *JournalStore) WaitForAppend(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.keys.journal(), "$"},
		Count:   1,
		Block:   timeout,
	}).Result()
	if err != nil {
		return false
	}
	return len(res) > 0 && len(res[0].Messages) > 0
}

// Load implements journal.Checkpoints.
func (s *JournalStore) Load(ctx context.Context, consumer string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.keys.checkpoints(), consumer).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: load checkpoint %s: %w", consumer, err)
	}
	return v, true, nil
}

// Save implements journal.Checkpoints.
func (s *JournalStore) Save(ctx context.Context, consumer string, pos string) error {
	if err := s.client.HSet(ctx, s.keys.checkpoints(), consumer, pos).Err(); err != nil {
		return fmt.Errorf("redis: save checkpoint %s: %w", consumer, err)
	}
	return nil
}
