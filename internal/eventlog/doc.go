// Package eventlog is the Pebble-backed journal store.
//
// # Overview
//
// A Log is one named, append-only journal persisted in Pebble. Keys are
// lexicographically ordered for efficient range scans:
//   - j/{name}/m                 (metadata: lastSeq)
//   - j/{name}/e/{seq_be8}       (entries)
//   - j/{name}/cursor/{consumer} (durable consumer checkpoints)
//
// Entries are stored as: varint headerLen | header | payload | crc32c(header|payload),
// where header is the JSON entry document (category, timestamp, headers) and
// payload is the raw message content.
//
// API surface
//
//	l, _ := OpenLog(db, "default")
//	pos, _ := l.Append(ctx, journal.Sent, time.Now(), msg)
//	res, _ := l.Read(ctx, journal.SeqPosition(1), 100, matcher)
//	woke := l.WaitForAppend(ctx, 200*time.Millisecond)
//	_ = l.Save(ctx, "audit", res.Next.String())
//
// Log implements journal.Store, journal.Notifier and journal.Checkpoints.
package eventlog
