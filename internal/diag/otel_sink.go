package diag

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelSink counts events on an OpenTelemetry meter as `flobus.events`
// with `type` and `queue` attributes, and records storage latency in
// `flobus.storage.duration`.
type OTelSink struct {
	events  metric.Int64Counter
	storage metric.Float64Histogram
}

// NewOTelSink builds the instruments on provider. A nil provider uses the
// global one.
func NewOTelSink(provider metric.MeterProvider) (*OTelSink, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("github.com/rzbill/flobus")
	events, err := meter.Int64Counter("flobus.events",
		metric.WithDescription("Diagnostic events emitted by queues and the journal"))
	if err != nil {
		return nil, err
	}
	storage, err := meter.Float64Histogram("flobus.storage.duration",
		metric.WithDescription("Storage operation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &OTelSink{events: events, storage: storage}, nil
}

// Emit implements Sink.
func (s *OTelSink) Emit(ctx context.Context, ev Event) {
	if ev.Type == StorageOperation {
		s.storage.Record(ctx, ev.Elapsed.Seconds(), metric.WithAttributes(attribute.String("op", ev.Detail)))
		return
	}
	attrs := []attribute.KeyValue{attribute.String("type", string(ev.Type))}
	if ev.Queue != "" {
		attrs = append(attrs, attribute.String("queue", ev.Queue))
	}
	s.events.Add(ctx, 1, metric.WithAttributes(attrs...))
}
