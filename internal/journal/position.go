package journal

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Position is an opaque, totally ordered journal cursor. Its string form
// round-trips through the owning store's ParsePosition.
type Position interface {
	String() string
	// Compare returns -1, 0 or +1. Positions minted by different stores are
	// not comparable; the result is then unspecified.
	Compare(other Position) int
}

// SeqPosition is a monotonically increasing sequence number. The first entry
// of a journal has position 1.
type SeqPosition uint64

func (p SeqPosition) String() string { return strconv.FormatUint(uint64(p), 10) }

// Compare implements Position.
func (p SeqPosition) Compare(other Position) int {
	if o, ok := other.(SeqPosition); ok {
		return cmp.Compare(p, o)
	}
	if other == nil {
		return 1
	}
	return strings.Compare(p.String(), other.String())
}

// Next returns the position immediately after p.
func (p SeqPosition) Next() SeqPosition { return p + 1 }

// ParseSeqPosition parses the decimal form of a SeqPosition.
func ParseSeqPosition(s string) (SeqPosition, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPosition, s)
	}
	return SeqPosition(v), nil
}

// StreamPosition is a stream entry id of the form "<millis>-<seq>".
type StreamPosition struct {
	Millis uint64
	Seq    uint64
}

func (p StreamPosition) String() string {
	return strconv.FormatUint(p.Millis, 10) + "-" + strconv.FormatUint(p.Seq, 10)
}

// Compare implements Position.
func (p StreamPosition) Compare(other Position) int {
	if o, ok := other.(StreamPosition); ok {
		if c := cmp.Compare(p.Millis, o.Millis); c != 0 {
			return c
		}
		return cmp.Compare(p.Seq, o.Seq)
	}
	if other == nil {
		return 1
	}
	return strings.Compare(p.String(), other.String())
}

// Next returns the smallest position strictly after p.
func (p StreamPosition) Next() StreamPosition {
	return StreamPosition{Millis: p.Millis, Seq: p.Seq + 1}
}

// ParseStreamPosition parses "<millis>-<seq>".
func ParseStreamPosition(s string) (StreamPosition, error) {
	ms, seq, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return StreamPosition{}, fmt.Errorf("%w: %q", ErrMalformedPosition, s)
	}
	m, err1 := strconv.ParseUint(ms, 10, 64)
	q, err2 := strconv.ParseUint(seq, 10, 64)
	if err1 != nil || err2 != nil {
		return StreamPosition{}, fmt.Errorf("%w: %q", ErrMalformedPosition, s)
	}
	return StreamPosition{Millis: m, Seq: q}, nil
}
