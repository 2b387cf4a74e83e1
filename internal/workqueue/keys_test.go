package workqueue

import (
	"bytes"
	"testing"
)

func TestPendingKeysSortBySeq(t *testing.T) {
	a := PendingKey("orders", 9)
	b := PendingKey("orders", 300)
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected seq 9 < seq 300")
	}
	if !bytes.HasPrefix(a, PendingPrefix("orders")) {
		t.Fatalf("pending key outside pending prefix")
	}
	if seqFromKey(b) != 300 {
		t.Fatalf("seq round trip failed")
	}
}

func TestKeyLayout(t *testing.T) {
	if got := string(IDKey("orders", "m-1")); got != "q/orders/id/m-1" {
		t.Fatalf("unexpected id key %q", got)
	}
	if got := string(MetaKey("orders")); got != "q/orders/meta" {
		t.Fatalf("unexpected meta key %q", got)
	}
	if bytes.HasPrefix(MsgKey("orders2", 1), queuePrefix("orders")) {
		t.Fatalf("queues must not share prefixes")
	}
}
