package pebblestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rzbill/flobus/internal/diag"
)

type testMetrics struct {
	wrote        int
	read         int
	batchCommits int
	batchOps     int
	batchBytes   int
}

func (m *testMetrics) ObserveWrite(d time.Duration, bytes int) { m.wrote += bytes }
func (m *testMetrics) ObserveRead(d time.Duration, bytes int)  { m.read += bytes }
func (m *testMetrics) ObserveBatchCommit(d time.Duration, numOps int, bytes int) {
	m.batchCommits++
	m.batchOps += numOps
	m.batchBytes += bytes
}

func newTestDB(t *testing.T) (*DB, *testMetrics) {
	t.Helper()
	dir := t.TempDir()
	metrics := &testMetrics{}
	db, err := Open(Options{
		DataDir:       dir,
		Fsync:         FsyncModeInterval,
		FsyncInterval: 2 * time.Millisecond,
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, metrics
}

func TestCRUD(t *testing.T) {
	db, metrics := newTestDB(t)
	ctx := context.Background()

	key := []byte("k1")
	val := []byte("v1")
	if err := db.Set(ctx, key, val); err != nil {
		t.Fatalf("set: %v", err)
	}
	if metrics.wrote == 0 {
		t.Fatalf("expected write metrics to record bytes")
	}

	got, err := db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(val) {
		t.Fatalf("got %q want %q", got, val)
	}
	if metrics.read == 0 {
		t.Fatalf("expected read metrics to record bytes")
	}
	if ok, err := db.Has(key); err != nil || !ok {
		t.Fatalf("has: ok=%v err=%v", ok, err)
	}

	if err := db.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if ok, err := db.Has(key); err != nil || ok {
		t.Fatalf("has after delete: ok=%v err=%v", ok, err)
	}
}

func TestBatchCommitMetrics(t *testing.T) {
	db, metrics := newTestDB(t)

	b := db.NewBatch()
	if err := b.Set([]byte("a"), []byte("1"), nil); err != nil {
		t.Fatalf("batch set: %v", err)
	}
	if err := b.Set([]byte("b"), []byte("2"), nil); err != nil {
		t.Fatalf("batch set: %v", err)
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	b.Close()

	if metrics.batchCommits != 1 {
		t.Fatalf("want 1 batch commit, got %d", metrics.batchCommits)
	}
	if metrics.batchOps != 2 {
		t.Fatalf("want 2 ops, got %d", metrics.batchOps)
	}
	if metrics.batchBytes <= 0 {
		t.Fatalf("expected positive batch bytes")
	}
}

func TestCommitHonorsCanceledContext(t *testing.T) {
	db, _ := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := db.Set(ctx, []byte("k"), []byte("v")); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if ok, _ := db.Has([]byte("k")); ok {
		t.Fatalf("write must not land after cancellation")
	}
}

func TestSnapshotConsistency(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	key := []byte("k2")
	if err := db.Set(ctx, key, []byte("old")); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap := db.NewSnapshot()
	defer snap.Close()

	if err := db.Set(ctx, key, []byte("new")); err != nil {
		t.Fatalf("set: %v", err)
	}

	valOld, closer, err := snap.Get(key)
	if err != nil {
		t.Fatalf("snap get: %v", err)
	}
	if string(valOld) != "old" {
		t.Fatalf("snapshot saw %q want %q", valOld, "old")
	}
	closer.Close()

	valNew, err := db.Get(key)
	if err != nil {
		t.Fatalf("db get: %v", err)
	}
	if string(valNew) != "new" {
		t.Fatalf("db saw %q want %q", valNew, "new")
	}
}

func TestPrefixBounds(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	for _, k := range []string{"a/1", "a/2", "b/1"} {
		if err := db.Set(ctx, []byte(k), nil); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	iter, err := db.NewIter(PrefixBounds([]byte("a/")))
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	defer iter.Close()
	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		n++
	}
	if n != 2 {
		t.Fatalf("want 2 keys under prefix, got %d", n)
	}
	if err := db.Check(); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestParseFsyncMode(t *testing.T) {
	cases := map[string]FsyncMode{"": FsyncModeUnspecified, "Always": FsyncModeAlways, "interval": FsyncModeInterval, "never": FsyncModeNever}
	for in, want := range cases {
		got, err := ParseFsyncMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseFsyncMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFsyncMode("sometimes"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestDiagMetricsEmitsStorageOperations(t *testing.T) {
	rec := &diag.Recorder{}
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: FsyncModeNever, Metrics: NewDiagMetrics(rec)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := db.Set(context.Background(), []byte("k"), []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := db.Get([]byte("k")); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := rec.Count(diag.StorageOperation); got != 3 {
		t.Fatalf("want commit+write+read events, got %d", got)
	}
}
