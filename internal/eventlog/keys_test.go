package eventlog

import (
	"bytes"
	"testing"
)

func TestKeyOrderingEntries(t *testing.T) {
	a := KeyLogEntry("default", 10)
	b := KeyLogEntry("default", 11)
	c := KeyLogEntry("default", 256)
	if !bytes.HasPrefix(a, KeyEntryPrefix("default")) {
		t.Fatalf("entry key should start with the entry prefix")
	}
	if bytes.Compare(a, b) >= 0 || bytes.Compare(b, c) >= 0 {
		t.Fatalf("expected seq 10 < 11 < 256")
	}
	if seqFromEntryKey(c) != 256 {
		t.Fatalf("seq round trip failed")
	}
}

func TestKeysDoNotOverlapAcrossJournals(t *testing.T) {
	if bytes.HasPrefix(KeyLogEntry("ab", 1), KeyEntryPrefix("a")) {
		t.Fatalf("journal %q entries leak into %q prefix", "ab", "a")
	}
}

func TestCursorKey(t *testing.T) {
	k := KeyCursor("default", "audit")
	if !bytes.Equal(k, []byte("j/default/cursor/audit")) {
		t.Fatalf("unexpected cursor layout: %q", string(k))
	}
}
