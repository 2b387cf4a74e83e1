// Package telemetry wires OpenTelemetry tracing and metrics providers from
// configuration.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/flobus/internal/config"
)

// InstrumentationName is the tracer and meter name used by flobus.
const InstrumentationName = "github.com/rzbill/flobus"

// Provider owns the tracer and meter providers.
type Provider struct {
	enabled        bool
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	shutdown       []func(context.Context) error
	flush          []func(context.Context) error
}

type options struct {
	exporter sdktrace.SpanExporter
	readers  []sdkmetric.Reader
	global   bool
}

// Option customizes New.
type Option func(*options)

// WithSpanExporter replaces the OTLP HTTP exporter.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithMetricReader attaches a metric reader to the meter provider.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.readers = append(o.readers, r) }
}

// WithoutGlobal leaves the otel global providers untouched.
func WithoutGlobal() Option {
	return func(o *options) { o.global = false }
}

// New builds the providers. When cfg.Enabled is false the otel global
// providers are returned unchanged.
func New(ctx context.Context, cfg config.Telemetry, opts ...Option) (*Provider, error) {
	o := options{global: true}
	for _, opt := range opts {
		opt(&o)
	}
	if !cfg.Enabled {
		return &Provider{
			tracerProvider: otel.GetTracerProvider(),
			meterProvider:  otel.GetMeterProvider(),
		}, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "flobus"
	}
	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(name))

	exporter := o.exporter
	if exporter == nil {
		clientOpts := []otlptracehttp.Option{}
		if cfg.OTLPEndpoint != "" {
			clientOpts = append(clientOpts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		var err error
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(clientOpts...))
		if err != nil {
			return nil, fmt.Errorf("telemetry: create exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range o.readers {
		mopts = append(mopts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mopts...)

	if o.global {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
	}
	return &Provider{
		enabled:        true,
		tracerProvider: tp,
		meterProvider:  mp,
		shutdown:       []func(context.Context) error{tp.Shutdown, mp.Shutdown},
		flush:          []func(context.Context) error{tp.ForceFlush, mp.ForceFlush},
	}, nil
}

// Enabled reports whether New installed its own providers.
func (p *Provider) Enabled() bool { return p.enabled }

// Tracer returns the flobus tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracerProvider.Tracer(InstrumentationName) }

// MeterProvider returns the meter provider for diag.NewOTelSink.
func (p *Provider) MeterProvider() metric.MeterProvider { return p.meterProvider }

// Flush exports buffered spans and metrics.
func (p *Provider) Flush(ctx context.Context) error {
	var errs []error
	for _, f := range p.flush {
		errs = append(errs, f(ctx))
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops the providers. It is a no-op when disabled.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, f := range p.shutdown {
		errs = append(errs, f(ctx))
	}
	return errors.Join(errs...)
}
