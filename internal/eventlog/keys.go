package eventlog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - j/{name}/m
// - j/{name}/e/{seq_be8}
// - j/{name}/cursor/{consumer}

var (
	journalPrefix = []byte("j/")
	metaSuffix    = []byte("/m")
	entrySeg      = []byte("/e/")
	cursorSeg     = []byte("/cursor/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func keyBase(name string, extra int) []byte {
	k := make([]byte, 0, len(journalPrefix)+len(name)+extra)
	k = append(k, journalPrefix...)
	return append(k, name...)
}

// KeyLogMeta builds the journal metadata key.
func KeyLogMeta(name string) []byte {
	return append(keyBase(name, len(metaSuffix)), metaSuffix...)
}

// KeyEntryPrefix is the common prefix of every entry key of a journal.
func KeyEntryPrefix(name string) []byte {
	return append(keyBase(name, len(entrySeg)+8), entrySeg...)
}

// KeyLogEntry builds the entry key with a big-endian sequence for proper ordering.
func KeyLogEntry(name string, seq uint64) []byte {
	return appendBE8(KeyEntryPrefix(name), seq)
}

// seqFromEntryKey extracts the sequence from an entry key.
func seqFromEntryKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}

// KeyCursor builds the durable checkpoint key for a consumer.
func KeyCursor(name, consumer string) []byte {
	k := append(keyBase(name, len(cursorSeg)+len(consumer)), cursorSeg...)
	return append(k, consumer...)
}
