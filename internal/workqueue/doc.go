// Package workqueue is the Pebble-backed queue.Store.
//
// Each named queue keeps its messages under q/{name}/ and tracks their
// lifecycle with index keys, so recovery never scans terminal messages:
//
//	meta                 - lastSeq (8B BE) | pendingCount (4B BE)
//	msg/{seq_be8}        - message record
//	id/{message_id}      - seq of the message (duplicate detection, updates)
//	pending/{seq_be8}    - pending index, enqueue order
//	completed/{seq_be8}  - acknowledged at (ms)
//	dlq/{seq_be8}        - abandoned at (ms)
//
// # Message Lifecycle
//
//  1. Insert: msg, id and pending keys written in one batch
//  2. Retry: msg rewritten with the new attempt count
//  3. Acknowledge: pending removed, completed written
//  4. Abandon: pending removed, dlq written
//
// Completed messages can be purged after a retention period; dead letters are
// kept until purged explicitly.
package workqueue
