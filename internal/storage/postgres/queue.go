package pgstore

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/internal/queue"
)

var _ queue.DeadLetterStore = (*QueueStore)(nil)

// QueueStore is a queue.Store backed by flobus_queued_messages.
type QueueStore struct {
	db   DB
	name string
	now  func() time.Time
}

// NewQueueStore returns the store for queue name.
func NewQueueStore(db DB, name string) *QueueStore {
	return &QueueStore{db: db, name: name, now: time.Now}
}

// InsertQueuedMessage implements queue.Store.
func (s *QueueStore) InsertQueuedMessage(ctx context.Context, msg message.Message, principal *message.Principal) (queue.QueuedMessage, error) {
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return queue.QueuedMessage{}, err
	}
	var p []byte
	if principal != nil {
		if p, err = json.Marshal(principal); err != nil {
			return queue.QueuedMessage{}, err
		}
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO flobus_queued_messages (queue_name, message_id, headers, content, principal, enqueued_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.name, msg.ID(), headers, msg.Content, p, s.now().UTC())
	if isUniqueViolation(err) {
		return queue.QueuedMessage{}, fmt.Errorf("%w: %s", queue.ErrDuplicateMessage, msg.ID())
	}
	if err != nil {
		return queue.QueuedMessage{}, fmt.Errorf("postgres: insert %s: %w", msg.ID(), err)
	}
	return queue.QueuedMessage{Message: msg.Clone(), Principal: principal}, nil
}

// UpdateQueuedMessage implements queue.Store. Terminal timestamps, once set,
// are not overwritten.
func (s *QueueStore) UpdateQueuedMessage(ctx context.Context, qm queue.QueuedMessage, u queue.Update) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE flobus_queued_messages
		 SET attempts = $3,
		     acknowledged_at = COALESCE(acknowledged_at, $4),
		     abandoned_at = COALESCE(abandoned_at, $5)
		 WHERE queue_name = $1 AND message_id = $2`,
		s.name, qm.ID(), u.Attempts, nullTime(u.AcknowledgedAt), nullTime(u.AbandonedAt))
	if err != nil {
		return fmt.Errorf("postgres: update %s: %w", qm.ID(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", queue.ErrMessageNotFound, qm.ID())
	}
	return nil
}

// SelectPendingMessages implements queue.Store.
func (s *QueueStore) SelectPendingMessages(ctx context.Context) ([]queue.QueuedMessage, error) {
	return s.selectWhere(ctx, `acknowledged_at IS NULL AND abandoned_at IS NULL`, 0)
}

// DeadLetters returns up to limit abandoned messages (0 = all), oldest first.
func (s *QueueStore) DeadLetters(ctx context.Context, limit int) ([]queue.QueuedMessage, error) {
	return s.selectWhere(ctx, `abandoned_at IS NOT NULL`, limit)
}

// PurgeCompleted deletes messages acknowledged before cutoff.
func (s *QueueStore) PurgeCompleted(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM flobus_queued_messages WHERE queue_name = $1 AND acknowledged_at < $2`,
		s.name, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: purge: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *QueueStore) selectWhere(ctx context.Context, cond string, limit int) ([]queue.QueuedMessage, error) {
	q := fmt.Sprintf(`SELECT headers, content, principal, attempts FROM flobus_queued_messages
		WHERE queue_name = $1 AND %s ORDER BY seq`, cond)
	args := []any{s.name}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: select: %w", err)
	}
	defer rows.Close()

	var out []queue.QueuedMessage
	for rows.Next() {
		var (
			headers, principal []byte
			qm                 queue.QueuedMessage
		)
		if err := rows.Scan(&headers, &qm.Message.Content, &principal, &qm.Attempts); err != nil {
			return out, err
		}
		if err := json.Unmarshal(headers, &qm.Message.Headers); err != nil {
			return out, fmt.Errorf("postgres: headers: %w", err)
		}
		if len(principal) > 0 {
			qm.Principal = new(message.Principal)
			if err := json.Unmarshal(principal, qm.Principal); err != nil {
				return out, fmt.Errorf("postgres: principal: %w", err)
			}
		}
		out = append(out, qm)
	}
	return out, rows.Err()
}

// Provider hands out QueueStores sharing one pool.
type Provider struct{ db DB }

// NewProvider creates a Provider.
func NewProvider(db DB) *Provider { return &Provider{db: db} }

// QueueStore implements queue.StoreProvider.
func (p *Provider) QueueStore(_ context.Context, name string) (queue.Store, error) {
	return NewQueueStore(p.db, name), nil
}

// Open returns the concrete store for name.
func (p *Provider) Open(name string) *QueueStore { return NewQueueStore(p.db, name) }
