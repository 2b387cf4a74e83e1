package eventlog

import (
	"context"
	"testing"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
)

func TestCheckpointSaveLoad(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	if _, ok, err := l.Load(ctx, "audit"); err != nil || ok {
		t.Fatalf("expected no checkpoint, ok=%v err=%v", ok, err)
	}
	if err := l.Save(ctx, "audit", "3"); err != nil {
		t.Fatalf("save: %v", err)
	}
	pos, ok, err := l.Load(ctx, "audit")
	if err != nil || !ok || pos != "3" {
		t.Fatalf("load = %q %v %v", pos, ok, err)
	}
}

func TestCheckpointPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t, dir)
	l, err := OpenLog(db, "default")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if err := l.Save(context.Background(), "audit", "7"); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = db.Close()

	db2 := openDB(t, dir)
	defer db2.Close()
	l2, err := OpenLog(db2, "default")
	if err != nil {
		t.Fatalf("open log2: %v", err)
	}
	if pos, ok, _ := l2.Load(context.Background(), "audit"); !ok || pos != "7" {
		t.Fatalf("checkpoint not persisted: %q", pos)
	}
}

func TestConsumerResumesFromPebbleCheckpoint(t *testing.T) {
	l := newTestLog(t)
	j := journal.New(l)
	appendMsg(t, l, "a")

	var seen []string
	h := message.HandlerFunc(func(_ context.Context, msg message.Message, mctx *message.Context) error {
		seen = append(seen, msg.Headers.MessageName())
		mctx.Acknowledge()
		return nil
	})
	opts := journal.ConsumerOptions{HaltAtEndOfJournal: true, Name: "audit", Checkpoints: l}
	if _, err := journal.NewConsumer(j, h, opts).Consume(context.Background(), nil); err != nil {
		t.Fatalf("consume: %v", err)
	}
	appendMsg(t, l, "b")
	if _, err := journal.NewConsumer(j, h, opts).Consume(context.Background(), nil); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("unexpected deliveries: %v", seen)
	}
}
