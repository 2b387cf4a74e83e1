package eventlog

import (
	"context"
	"testing"
	"time"
)

func TestWaitForAppendWake(t *testing.T) {
	l := newTestLog(t)

	done := make(chan struct{})
	go func() {
		if !l.WaitForAppend(context.Background(), 500*time.Millisecond) {
			t.Errorf("expected wake by append")
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	appendMsg(t, l, "x")

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for waiter to wake")
	}
}

func TestWaitForAppendTimeout(t *testing.T) {
	l := newTestLog(t)
	if l.WaitForAppend(context.Background(), 50*time.Millisecond) {
		t.Fatalf("expected timeout")
	}
}

func TestWaitForAppendCanceled(t *testing.T) {
	l := newTestLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if l.WaitForAppend(ctx, 0) {
		t.Fatalf("expected cancellation")
	}
}
