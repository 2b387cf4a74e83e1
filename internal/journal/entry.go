package journal

import (
	"time"

	"github.com/rzbill/flobus/internal/message"
)

// Entry is an immutable journaled message.
type Entry struct {
	Category  Category
	Position  Position
	Timestamp time.Time
	Data      message.Message
}

// ReadResult is the outcome of a Read.
type ReadResult struct {
	Start Position
	// Next is the position right after the last returned entry, or Start
	// when nothing was returned.
	Next Position
	// EndOfJournal is true when no further matching entry existed beyond
	// those returned at the time of the read.
	EndOfJournal bool
	Entries      []Entry
}

// SeqReadResult builds a ReadResult for SeqPosition stores. start is the
// position the caller asked for; it is echoed back as Next when entries is
// empty.
func SeqReadResult(start Position, entries []Entry, end bool) ReadResult {
	next := start
	if n := len(entries); n > 0 {
		next = entries[n-1].Position.(SeqPosition).Next()
	}
	return ReadResult{Start: start, Next: next, EndOfJournal: end, Entries: entries}
}
