package pgstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
)

// appendLockKey serializes appends so positions become visible in order.
const appendLockKey = 0x666c6f627573

const minPage = 128

// JournalStore is a journal.Store backed by flobus_journal. It also stores
// consumer checkpoints in flobus_checkpoints.
type JournalStore struct {
	db DB
}

// NewJournalStore returns a JournalStore on db.
func NewJournalStore(db DB) *JournalStore { return &JournalStore{db: db} }

// Beginning implements journal.Store.
func (s *JournalStore) Beginning(context.Context) (journal.Position, error) {
	return journal.SeqPosition(1), nil
}

// ParsePosition implements journal.Store.
func (s *JournalStore) ParsePosition(v string) (journal.Position, error) {
	return journal.ParseSeqPosition(v)
}

// Append implements journal.Store.
func (s *JournalStore) Append(ctx context.Context, category journal.Category, ts time.Time, msg message.Message) (journal.Position, error) {
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(appendLockKey)); err != nil {
		return nil, fmt.Errorf("postgres: lock journal: %w", err)
	}
	var pos int64
	err = tx.QueryRow(ctx,
		`INSERT INTO flobus_journal (category, ts, headers, content) VALUES ($1, $2, $3, $4) RETURNING position`,
		int16(category), ts.UTC(), headers, msg.Content).Scan(&pos)
	if err != nil {
		return nil, fmt.Errorf("postgres: append: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}
	return journal.SeqPosition(pos), nil
}

// Read implements journal.Store. Rows are fetched in position order in
// pages and filtered in process.
func (s *JournalStore) Read(ctx context.Context, start journal.Position, count int, m *journal.Matcher) (journal.ReadResult, error) {
	from, ok := start.(journal.SeqPosition)
	if !ok {
		return journal.ReadResult{}, fmt.Errorf("%w: %v", journal.ErrMalformedPosition, start)
	}
	if uint64(from) > math.MaxInt64 {
		// Beyond any BIGSERIAL position.
		return journal.SeqReadResult(start, nil, true), nil
	}
	if from == 0 {
		from = 1
	}
	page := max(count+1, minPage)

	entries := make([]journal.Entry, 0, min(count, 256))
	end := true
	cursor := from
	for done := false; !done; {
		batch, err := s.page(ctx, cursor, page)
		if err != nil {
			return journal.ReadResult{}, err
		}
		done = len(batch) < page
		for _, e := range batch {
			cursor = e.Position.(journal.SeqPosition).Next()
			if !m.Match(e) {
				continue
			}
			if len(entries) == count {
				end = false
				done = true
				break
			}
			entries = append(entries, e)
		}
	}
	return journal.SeqReadResult(start, entries, end), nil
}

func (s *JournalStore) page(ctx context.Context, from journal.SeqPosition, limit int) ([]journal.Entry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT position, category, ts, headers, content FROM flobus_journal
		 WHERE position >= $1 ORDER BY position LIMIT $2`,
		int64(from), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: read: %w", err)
	}
	defer rows.Close()

	var out []journal.Entry
	for rows.Next() {
		var (
			pos      int64
			category int16
			e        journal.Entry
			headers  []byte
		)
		if err := rows.Scan(&pos, &category, &e.Timestamp, &headers, &e.Data.Content); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(headers, &e.Data.Headers); err != nil {
			return nil, fmt.Errorf("postgres: entry %d headers: %w", pos, err)
		}
		e.Position = journal.SeqPosition(pos)
		e.Category = journal.Category(category)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Load implements journal.Checkpoints.
func (s *JournalStore) Load(ctx context.Context, consumer string) (string, bool, error) {
	var pos string
	err := s.db.QueryRow(ctx, `SELECT position FROM flobus_checkpoints WHERE consumer = $1`, consumer).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres: load checkpoint %s: %w", consumer, err)
	}
	return pos, true, nil
}

// Save implements journal.Checkpoints.
func (s *JournalStore) Save(ctx context.Context, consumer string, pos string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO flobus_checkpoints (consumer, position, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (consumer) DO UPDATE SET position = EXCLUDED.position, updated_at = now()`,
		consumer, pos)
	if err != nil {
		return fmt.Errorf("postgres: save checkpoint %s: %w", consumer, err)
	}
	return nil
}
