package eventlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/storage/record"
)

// Record encoding: varint headerLen | header | payload | crc32c(header|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptRecord is returned when a stored entry fails its checksum.
var ErrCorruptRecord = errors.New("eventlog: corrupt record")

func EncodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, 10+len(header)+len(payload)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(header)))
	out = append(out, tmp[:n]...)
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out
}

type Decoded struct {
	Header  []byte
	Payload []byte
}

func DecodeRecord(b []byte) (Decoded, bool) {
	if len(b) < 1+4 {
		return Decoded{}, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 {
		return Decoded{}, false
	}
	if int(n)+int(hlen)+4 > len(b) {
		return Decoded{}, false
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return Decoded{}, false
	}
	return Decoded{Header: append([]byte(nil), header...), Payload: append([]byte(nil), payload...)}, true
}

// encodeEntry frames an entry document with the content as payload.
func encodeEntry(r record.Entry) ([]byte, error) {
	content := r.Content
	r.Content = nil
	header, err := record.EncodeEntry(r)
	if err != nil {
		return nil, err
	}
	return EncodeRecord(header, content), nil
}

func decodeEntry(b []byte, pos journal.Position) (journal.Entry, error) {
	dec, ok := DecodeRecord(b)
	if !ok {
		return journal.Entry{}, ErrCorruptRecord
	}
	r, err := record.DecodeEntry(dec.Header)
	if err != nil {
		return journal.Entry{}, err
	}
	if len(dec.Payload) > 0 {
		r.Content = dec.Payload
	}
	return r.JournalEntry(pos), nil
}
