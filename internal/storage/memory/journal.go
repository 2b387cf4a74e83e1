package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
)

// JournalStore is an in-process journal. Positions are SeqPositions starting
// at 1.
type JournalStore struct {
	mu       sync.RWMutex
	entries  []journal.Entry
	notifyCh chan struct{}
}

func NewJournalStore() *JournalStore {
	return &JournalStore{notifyCh: make(chan struct{})}
}

func (s *JournalStore) Beginning(context.Context) (journal.Position, error) {
	return journal.SeqPosition(1), nil
}

func (s *JournalStore) ParsePosition(v string) (journal.Position, error) {
	return journal.ParseSeqPosition(v)
}

func (s *JournalStore) Append(ctx context.Context, category journal.Category, ts time.Time, msg message.Message) (journal.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := journal.SeqPosition(len(s.entries) + 1)
	s.entries = append(s.entries, journal.Entry{Category: category, Position: pos, Timestamp: ts, Data: msg.Clone()})
	close(s.notifyCh)
	s.notifyCh = make(chan struct{})
	return pos, nil
}

func (s *JournalStore) Read(ctx context.Context, start journal.Position, count int, m *journal.Matcher) (journal.ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return journal.ReadResult{}, err
	}
	from, ok := start.(journal.SeqPosition)
	if !ok {
		return journal.ReadResult{}, journal.ErrMalformedPosition
	}
	if from == 0 {
		from = 1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []journal.Entry
	end := true
	for i := int(from) - 1; i >= 0 && i < len(s.entries); i++ {
		e := s.entries[i]
		if !m.Match(e) {
			continue
		}
		if len(out) == count {
			end = false
			break
		}
		e.Data = e.Data.Clone()
		out = append(out, e)
	}
	return journal.SeqReadResult(start, out, end), nil
}

// WaitForAppend implements journal.Notifier.
func (s *JournalStore) WaitForAppend(ctx context.Context, timeout time.Duration) bool {
	s.mu.RLock()
	ch := s.notifyCh
	s.mu.RUnlock()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
