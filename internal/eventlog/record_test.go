package eventlog

import (
	"testing"
	"time"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/storage/record"
)

func TestRecordRoundtrip(t *testing.T) {
	header := []byte("h")
	payload := []byte("payload")
	rec := EncodeRecord(header, payload)
	dec, ok := DecodeRecord(rec)
	if !ok {
		t.Fatalf("decode failed")
	}
	if string(dec.Header) != string(header) {
		t.Fatalf("header mismatch")
	}
	if string(dec.Payload) != string(payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestRecordCRCFail(t *testing.T) {
	rec := EncodeRecord([]byte("x"), []byte("y"))
	rec[len(rec)-1] ^= 0xFF
	if _, ok := DecodeRecord(rec); ok {
		t.Fatalf("expected crc failure")
	}
}

func TestEntryFraming(t *testing.T) {
	msg := *message.New("orders.created", []byte(`{"id":7}`))
	b, err := encodeEntry(record.NewEntry(journal.Received, time.Now(), msg))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	e, err := decodeEntry(b, journal.SeqPosition(3))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Category != journal.Received || string(e.Data.Content) != `{"id":7}` {
		t.Fatalf("unexpected entry: %+v", e)
	}
	b[len(b)/2] ^= 0xFF
	if _, err := decodeEntry(b, journal.SeqPosition(3)); err == nil {
		t.Fatalf("expected corruption error")
	}
}
