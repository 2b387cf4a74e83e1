// Package pebblestore wraps a Pebble database with an fsync policy, batches,
// snapshots and storage metrics hooks. It is the embedded backend shared by
// the journal (internal/eventlog) and queue (internal/workqueue) stores.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	    Metrics: pebblestore.NewDiagMetrics(sink),
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(ctx, b)
//	b.Close()
package pebblestore
