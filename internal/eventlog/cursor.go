package eventlog

import (
	"context"
	"errors"

	pebblestore "github.com/rzbill/flobus/internal/storage/pebble"
)

// Save stores the checkpoint of a consumer.
func (l *Log) Save(ctx context.Context, consumer string, pos string) error {
	return l.db.Set(ctx, KeyCursor(l.name, consumer), []byte(pos))
}

// Load returns the checkpoint of a consumer, if one was saved.
func (l *Log) Load(_ context.Context, consumer string) (string, bool, error) {
	v, err := l.db.Get(KeyCursor(l.name, consumer))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}
