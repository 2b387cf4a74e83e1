package journal

import (
	"context"
	"time"

	"github.com/rzbill/flobus/internal/message"
)

// Store persists journal entries. Append must assign strictly increasing
// positions atomically with respect to concurrent appends.
type Store interface {
	// Beginning returns the position at or before the first entry.
	Beginning(ctx context.Context) (Position, error)
	Append(ctx context.Context, category Category, ts time.Time, msg message.Message) (Position, error)
	// Read returns up to count entries at or after start accepted by m. Stores
	// must visit entries in position order and evaluate m after ordering.
	Read(ctx context.Context, start Position, count int, m *Matcher) (ReadResult, error)
	ParsePosition(s string) (Position, error)
}

// Notifier is implemented by stores that can wake readers on append.
type Notifier interface {
	// WaitForAppend blocks until an append happens, timeout elapses or ctx is
	// done. It reports whether an append woke it.
	WaitForAppend(ctx context.Context, timeout time.Duration) bool
}

// Checkpoints stores durable consumer cursors keyed by consumer name.
type Checkpoints interface {
	// Load returns the saved position, or ok=false when none was saved.
	Load(ctx context.Context, consumer string) (pos string, ok bool, err error)
	Save(ctx context.Context, consumer string, pos string) error
}
