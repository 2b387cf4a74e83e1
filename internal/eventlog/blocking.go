package eventlog

import (
	"context"
	"time"
)

// WaitForAppend blocks until either a new append occurs, timeout elapses or
// ctx is done. It returns true if woken by an append. A non-positive timeout
// waits for an append or ctx only.
func (l *Log) WaitForAppend(ctx context.Context, timeout time.Duration) bool {
	l.mu.Lock()
	ch := l.notifyCh
	l.mu.Unlock()
	if timeout <= 0 {
		select {
		case <-ch:
			return true
		case <-ctx.Done():
			return false
		}
	}
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
