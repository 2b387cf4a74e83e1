package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
	pebblestore "github.com/rzbill/flobus/internal/storage/pebble"
	"github.com/rzbill/flobus/internal/storage/record"
)

// Log is one named journal in Pebble.
type Log struct {
	db   *pebblestore.DB
	name string

	mu       sync.Mutex
	lastSeq  uint64
	notifyCh chan struct{}
}

// OpenLog initializes a Log and loads the last sequence from metadata (if any).
func OpenLog(db *pebblestore.DB, name string) (*Log, error) {
	l := &Log{db: db, name: name, notifyCh: make(chan struct{})}
	meta, err := db.Get(KeyLogMeta(name))
	switch {
	case err == nil && len(meta) >= 8:
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
		return nil, fmt.Errorf("eventlog: load meta %q: %w", name, err)
	}
	return l, nil
}

// Beginning implements journal.Store. The first entry has sequence 1.
func (l *Log) Beginning(context.Context) (journal.Position, error) {
	return journal.SeqPosition(1), nil
}

// ParsePosition implements journal.Store.
func (l *Log) ParsePosition(s string) (journal.Position, error) {
	return journal.ParseSeqPosition(s)
}

// Append writes the entry and the new lastSeq in one batch.
func (l *Log) Append(ctx context.Context, category journal.Category, ts time.Time, msg message.Message) (journal.Position, error) {
	val, err := encodeEntry(record.NewEntry(category, ts, msg))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.lastSeq + 1
	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(KeyLogEntry(l.name, seq), val, nil); err != nil {
		return nil, err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(KeyLogMeta(l.name), meta[:], nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	l.lastSeq = seq

	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return journal.SeqPosition(seq), nil
}

// LastSeq returns the sequence of the newest entry, 0 when empty.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}
