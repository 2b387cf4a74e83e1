package eventlog

import (
	"context"
	"fmt"

	"github.com/rzbill/flobus/internal/journal"
	pebblestore "github.com/rzbill/flobus/internal/storage/pebble"
)

// Read scans forward from start and returns up to count entries accepted by
// m. It continues past the last returned entry until it finds one more
// match (EndOfJournal=false) or exhausts the journal.
func (l *Log) Read(ctx context.Context, start journal.Position, count int, m *journal.Matcher) (journal.ReadResult, error) {
	from, ok := start.(journal.SeqPosition)
	if !ok {
		return journal.ReadResult{}, fmt.Errorf("%w: %v", journal.ErrMalformedPosition, start)
	}
	if from == 0 {
		from = 1
	}

	iter, err := l.db.NewIter(pebblestore.PrefixBounds(KeyEntryPrefix(l.name)))
	if err != nil {
		return journal.ReadResult{}, err
	}
	defer iter.Close()

	entries := make([]journal.Entry, 0, min(count, 256))
	end := true
	scanned := 0
	for ok := iter.SeekGE(KeyLogEntry(l.name, uint64(from))); ok; ok = iter.Next() {
		if scanned++; scanned%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return journal.ReadResult{}, err
			}
		}
		pos := journal.SeqPosition(seqFromEntryKey(iter.Key()))
		e, err := decodeEntry(iter.Value(), pos)
		if err != nil {
			return journal.ReadResult{}, fmt.Errorf("eventlog: entry %d: %w", pos, err)
		}
		if !m.Match(e) {
			continue
		}
		if len(entries) == count {
			end = false
			break
		}
		entries = append(entries, e)
	}
	if err := iter.Error(); err != nil {
		return journal.ReadResult{}, err
	}
	return journal.SeqReadResult(start, entries, end), nil
}
