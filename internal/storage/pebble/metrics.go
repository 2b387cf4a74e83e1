package pebblestore

import (
	"context"
	"time"

	"github.com/rzbill/flobus/internal/diag"
)

// MetricsHook is a minimal hook surface for storage observations.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, bytes int)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveWrite(time.Duration, int)            {}
func (NoopMetrics) ObserveRead(time.Duration, int)             {}
func (NoopMetrics) ObserveBatchCommit(time.Duration, int, int) {}

// diagMetrics forwards observations to a diagnostic sink as StorageOperation
// events.
type diagMetrics struct {
	sink diag.Sink
}

// NewDiagMetrics returns a MetricsHook that emits StorageOperation events.
func NewDiagMetrics(sink diag.Sink) MetricsHook {
	if sink == nil {
		return NoopMetrics{}
	}
	return diagMetrics{sink: sink}
}

func (m diagMetrics) ObserveWrite(elapsed time.Duration, _ int) {
	m.emit("pebble.write", elapsed)
}

func (m diagMetrics) ObserveRead(elapsed time.Duration, _ int) {
	m.emit("pebble.read", elapsed)
}

func (m diagMetrics) ObserveBatchCommit(elapsed time.Duration, _ int, _ int) {
	m.emit("pebble.commit", elapsed)
}

func (m diagMetrics) emit(op string, elapsed time.Duration) {
	m.sink.Emit(context.Background(), diag.Event{Type: diag.StorageOperation, Time: time.Now(), Detail: op, Elapsed: elapsed})
}
