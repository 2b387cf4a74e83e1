package queue

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/flobus/internal/diag"
	"github.com/rzbill/flobus/pkg/log"
)

type settings struct {
	logger log.Logger
	sink   diag.Sink
	tracer trace.Tracer
	now    func() time.Time
}

func newSettings(opts []Option) settings {
	s := settings{}
	for _, o := range opts {
		o(&s)
	}
	if s.logger == nil {
		s.logger = log.NewLogger().WithComponent("queue")
	}
	if s.sink == nil {
		s.sink = diag.Nop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/rzbill/flobus/internal/queue")
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s settings) options() []Option {
	return []Option{WithLogger(s.logger), WithSink(s.sink), WithTracer(s.tracer), WithClock(s.now)}
}

// Option configures a MessageQueue or Service.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option { return func(s *settings) { s.logger = l } }

// WithSink sets the diagnostic event sink.
func WithSink(sink diag.Sink) Option { return func(s *settings) { s.sink = sink } }

// WithTracer sets the tracer used for delivery-attempt spans.
func WithTracer(t trace.Tracer) Option { return func(s *settings) { s.tracer = t } }

// WithClock overrides the time source for acknowledgement/abandon timestamps.
func WithClock(now func() time.Time) Option { return func(s *settings) { s.now = now } }
