package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
	pebblestore "github.com/rzbill/flobus/internal/storage/pebble"
	"github.com/rzbill/flobus/internal/storage/storetest"
)

func openDB(t *testing.T, dir string) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	return db
}

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db := openDB(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	l, err := OpenLog(db, "default")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return l
}

func appendMsg(t *testing.T, l *Log, name string) journal.Position {
	t.Helper()
	pos, err := l.Append(context.Background(), journal.Sent, time.Now(), *message.New(name, []byte(name)))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return pos
}

func TestJournalStoreContract(t *testing.T) {
	storetest.RunJournalStore(t, func(t *testing.T) journal.Store { return newTestLog(t) })
}

func TestAppendAssignsSequential(t *testing.T) {
	l := newTestLog(t)
	p1 := appendMsg(t, l, "a")
	p2 := appendMsg(t, l, "b")
	if p1.String() != "1" || p2.String() != "2" {
		t.Fatalf("expected positions 1,2 got %s,%s", p1, p2)
	}
	if l.LastSeq() != 2 {
		t.Fatalf("lastSeq = %d", l.LastSeq())
	}
}

func TestAppendDurableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t, dir)
	l, err := OpenLog(db, "default")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	first := appendMsg(t, l, "x")
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2 := openDB(t, dir)
	t.Cleanup(func() { _ = db2.Close() })
	l2, err := OpenLog(db2, "default")
	if err != nil {
		t.Fatalf("open log2: %v", err)
	}
	next := appendMsg(t, l2, "y")
	if next.Compare(first) <= 0 {
		t.Fatalf("expected next position > previous: prev=%s next=%s", first, next)
	}

	res, err := l2.Read(context.Background(), journal.SeqPosition(1), 10, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Entries) != 2 || res.Entries[0].Data.Headers.MessageName() != "x" {
		t.Fatalf("unexpected entries after reopen: %+v", res.Entries)
	}
}

func TestJournalsAreIsolated(t *testing.T) {
	db := openDB(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	a, _ := OpenLog(db, "a")
	b, _ := OpenLog(db, "b")
	appendMsg(t, a, "only-in-a")

	res, err := b.Read(context.Background(), journal.SeqPosition(1), 10, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Entries) != 0 || !res.EndOfJournal {
		t.Fatalf("journal b should be empty, got %d entries", len(res.Entries))
	}
}
