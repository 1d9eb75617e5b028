package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/config"
)

// Telemetry records engine-level metrics: registration outcomes, poll
// latency, interaction volume and active client count.
type Telemetry interface {
	RecordRegistration(serverURL string, success bool)
	RecordPoll(serverURL string, duration float64, interactionCount int)
	RecordInteraction(protocol string)
	RecordClientCount(count int)
	Close() error
}

type telemetry struct {
	tracer         trace.Tracer
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider

	registrationCounter metric.Int64Counter
	pollDuration        metric.Float64Histogram
	interactionCounter  metric.Int64Counter
	clientGauge         metric.Int64UpDownCounter
	lastClientCount     atomic.Int64
}

func New(ctx context.Context, cfg config.TelemetryConfig) (Telemetry, error) {
	if !cfg.Enabled {
		return &noopTelemetry{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter

	switch cfg.ExporterType {
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := tp.Tracer(cfg.ServiceName)
	meter := otel.Meter(cfg.ServiceName)

	registrationCounter, err := meter.Int64Counter("oastengine.registrations.total",
		metric.WithDescription("Total number of register attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pollDuration, err := meter.Float64Histogram("oastengine.poll.duration",
		metric.WithDescription("Poll round-trip duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	interactionCounter, err := meter.Int64Counter("oastengine.interactions.total",
		metric.WithDescription("Total number of decrypted interactions delivered"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	clientGauge, err := meter.Int64UpDownCounter("oastengine.clients.active",
		metric.WithDescription("Number of Protocol Clients currently polling"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &telemetry{
		tracer:              tracer,
		meter:               meter,
		tracerProvider:      tp,
		registrationCounter: registrationCounter,
		pollDuration:        pollDuration,
		interactionCounter:  interactionCounter,
		clientGauge:         clientGauge,
	}, nil
}

func (t *telemetry) RecordRegistration(serverURL string, success bool) {
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.String("server", serverURL),
		attribute.Bool("success", success),
	}

	t.registrationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (t *telemetry) RecordPoll(serverURL string, duration float64, interactionCount int) {
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.String("server", serverURL),
	}

	t.pollDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
	if interactionCount > 0 {
		t.interactionCounter.Add(ctx, int64(interactionCount), metric.WithAttributes(attrs...))
	}
}

func (t *telemetry) RecordInteraction(protocol string) {
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.String("protocol", protocol),
	}

	t.interactionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (t *telemetry) RecordClientCount(count int) {
	ctx := context.Background()
	prev := t.lastClientCount.Swap(int64(count))
	t.clientGauge.Add(ctx, int64(count)-prev)
}

func (t *telemetry) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

type noopTelemetry struct{}

func (n *noopTelemetry) RecordRegistration(serverURL string, success bool)               {}
func (n *noopTelemetry) RecordPoll(serverURL string, duration float64, interactions int) {}
func (n *noopTelemetry) RecordInteraction(protocol string)                               {}
func (n *noopTelemetry) RecordClientCount(count int)                                     {}
func (n *noopTelemetry) Close() error                                                    { return nil }
