package diag

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exports events as flobus_events_total{type,queue}.
type PrometheusSink struct {
	events  *prometheus.CounterVec
	storage *prometheus.HistogramVec
}

// NewPrometheusSink creates the collectors and registers them on reg. A nil
// registerer skips registration.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flobus",
			Name:      "events_total",
			Help:      "Diagnostic events emitted by queues and the journal.",
		}, []string{"type", "queue"}),
		storage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flobus",
			Name:      "storage_duration_seconds",
			Help:      "Storage operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{s.events, s.storage} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// Emit implements Sink.
func (s *PrometheusSink) Emit(_ context.Context, ev Event) {
	if ev.Type == StorageOperation {
		s.storage.WithLabelValues(ev.Detail).Observe(ev.Elapsed.Seconds())
		return
	}
	s.events.WithLabelValues(string(ev.Type), ev.Queue).Inc()
}
