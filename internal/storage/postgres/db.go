package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of *pgxpool.Pool used by the stores.
type DB interface {
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Open connects a pool and verifies the connection.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS flobus_queued_messages (
		queue_name      TEXT        NOT NULL,
		message_id      TEXT        NOT NULL,
		seq             BIGSERIAL,
		headers         JSONB       NOT NULL,
		content         BYTEA,
		principal       JSONB,
		attempts        INT         NOT NULL DEFAULT 0,
		enqueued_at     TIMESTAMPTZ NOT NULL,
		acknowledged_at TIMESTAMPTZ,
		abandoned_at    TIMESTAMPTZ,
		PRIMARY KEY (queue_name, message_id)
	)`,
	`CREATE INDEX IF NOT EXISTS flobus_queued_messages_pending
		ON flobus_queued_messages (queue_name, seq)
		WHERE acknowledged_at IS NULL AND abandoned_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS flobus_journal (
		position BIGSERIAL   PRIMARY KEY,
		category SMALLINT    NOT NULL,
		ts       TIMESTAMPTZ NOT NULL,
		headers  JSONB       NOT NULL,
		content  BYTEA
	)`,
	`CREATE TABLE IF NOT EXISTS flobus_checkpoints (
		consumer   TEXT        PRIMARY KEY,
		position   TEXT        NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the tables and indexes if they do not exist.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
