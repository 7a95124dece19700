package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TraceConfig configures OTLP span export. An empty Endpoint leaves the
// tracer in place but exports nothing.
type TraceConfig struct {
	// ServiceName identifies this process in traces. Default: forge.
	ServiceName string

	// ServiceVersion is stamped on every span's resource.
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint string

	// SampleRate is the fraction of turns recorded, 0 to 1. Default: 1.
	SampleRate float64

	// Insecure disables TLS on the exporter connection.
	Insecure bool
}

// Tracer carries forge's span vocabulary: one span per turn, one per
// streamed model response, one per tool dispatch. A nil *Tracer is
// valid and produces no-op spans.
type Tracer struct {
	tracer trace.Tracer
}

var noopSpan = func() trace.Span {
	_, span := noop.NewTracerProvider().Tracer("").Start(context.Background(), "")
	return span
}()

// NewTracer builds the tracer and a shutdown hook that flushes buffered
// spans. Exporter construction failures degrade to a no-op tracer
// rather than refusing to start.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "forge"
	}
	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)},
			func(context.Context) error { return nil }
	}
	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)},
			func(context.Context) error { return nil }
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &Tracer{tracer: provider.Tracer(config.ServiceName)}, provider.Shutdown
}

func (t *Tracer) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return ctx, noopSpan
	}
	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// StartTurn opens the root span for one user turn.
func (t *Tracer) StartTurn(ctx context.Context, mode string) (context.Context, trace.Span) {
	return t.start(ctx, "turn", trace.SpanKindServer,
		attribute.String("turn.mode", mode))
}

// StartModel opens a span covering one streamed model response.
func (t *Tracer) StartModel(ctx context.Context, iteration int) (context.Context, trace.Span) {
	return t.start(ctx, "model.stream", trace.SpanKindClient,
		attribute.Int("model.iteration", iteration))
}

// StartTool opens a span for one tool dispatch.
func (t *Tracer) StartTool(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.start(ctx, "tool."+name, trace.SpanKindInternal,
		attribute.String("tool.name", name))
}

// EndSpan closes the span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CloseSpan ends the span; a non-empty detail marks it failed.
func CloseSpan(span trace.Span, detail string) {
	if detail != "" {
		span.SetStatus(codes.Error, detail)
	}
	span.End()
}

// EndTurn stamps the turn outcome and closes its root span.
func EndTurn(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("turn.status", status))
	EndSpan(span, err)
}
