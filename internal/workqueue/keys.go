package workqueue

import (
	"encoding/binary"
)

// Key segments for queue data structures
const (
	segMeta      = "meta"
	segMsg       = "msg/"
	segID        = "id/"
	segPending   = "pending/"
	segCompleted = "completed/"
	segDLQ       = "dlq/"
)

// queuePrefix returns the base prefix for a queue.
// Format: q/{name}/
func queuePrefix(name string) []byte {
	k := make([]byte, 0, 2+len(name)+1+16)
	k = append(k, "q/"...)
	k = append(k, name...)
	return append(k, '/')
}

func seqKey(name, seg string, seq uint64) []byte {
	k := append(queuePrefix(name), seg...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

// MetaKey returns the metadata key.
func MetaKey(name string) []byte { return append(queuePrefix(name), segMeta...) }

// MsgKey returns the message record key.
func MsgKey(name string, seq uint64) []byte { return seqKey(name, segMsg, seq) }

// IDKey returns the MessageId index key.
func IDKey(name, messageID string) []byte {
	return append(append(queuePrefix(name), segID...), messageID...)
}

// PendingKey returns the pending index key.
func PendingKey(name string, seq uint64) []byte { return seqKey(name, segPending, seq) }

// PendingPrefix returns the prefix for pending index scanning.
func PendingPrefix(name string) []byte { return append(queuePrefix(name), segPending...) }

// CompletedKey returns the completed index key.
func CompletedKey(name string, seq uint64) []byte { return seqKey(name, segCompleted, seq) }

// CompletedPrefix returns the prefix for completed index scanning.
func CompletedPrefix(name string) []byte { return append(queuePrefix(name), segCompleted...) }

// DLQKey returns the dead-letter index key.
func DLQKey(name string, seq uint64) []byte { return seqKey(name, segDLQ, seq) }

// DLQPrefix returns the prefix for dead-letter scanning.
func DLQPrefix(name string) []byte { return append(queuePrefix(name), segDLQ...) }

// seqFromKey extracts the trailing big-endian sequence of an index key.
func seqFromKey(k []byte) uint64 { return binary.BigEndian.Uint64(k[len(k)-8:]) }
