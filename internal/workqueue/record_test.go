package workqueue

import (
	"testing"
	"time"

	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/storage/record"
)

func TestRecordRoundtrip(t *testing.T) {
	h := []byte("h")
	p := []byte("payload")
	enc := EncodeMessage(h, p)
	dec, ok := DecodeMessage(enc)
	if !ok {
		t.Fatalf("decode failed")
	}
	if string(dec.Header) != string(h) || string(dec.Payload) != string(p) {
		t.Fatalf("mismatch")
	}
}

func TestRecordCRCFail(t *testing.T) {
	enc := EncodeMessage([]byte("a"), []byte("b"))
	enc[len(enc)-1] ^= 0xFF
	if _, ok := DecodeMessage(enc); ok {
		t.Fatalf("expected crc fail")
	}
}

func TestQueuedFramingKeepsContent(t *testing.T) {
	msg := *message.New("orders.created", []byte("body"))
	b, err := encodeQueued(record.NewQueued(1, msg, nil, time.Now()))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r, err := decodeQueued(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(r.Content) != "body" || r.Seq != 1 {
		t.Fatalf("unexpected record %+v", r)
	}
}
