package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTracerWithoutEndpoint(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "forge-test"})
	defer func() { _ = shutdown(context.Background()) }()

	require.NotNil(t, tracer)
	ctx, span := tracer.StartTurn(context.Background(), "direct")
	require.NotNil(t, ctx)
	span.End()
}

func TestNewTracerWithEndpoint(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{
		ServiceName:    "forge-test",
		ServiceVersion: "0.0.0",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     0.5,
	})
	require.NotNil(t, tracer)

	_, span := tracer.StartModel(context.Background(), 3)
	span.End()

	// No collector is listening; shutdown must still return.
	_ = shutdown(context.Background())
}

func TestNilTracerIsSafe(t *testing.T) {
	var tracer *Tracer

	ctx, span := tracer.StartTool(context.Background(), "search")
	require.NotNil(t, ctx)
	EndSpan(span, errors.New("not found"))

	_, span = tracer.StartTurn(ctx, "plan")
	EndTurn(span, "done", nil)

	_, span = tracer.StartModel(ctx, 0)
	CloseSpan(span, "stream closed")
}

func TestSpanHelpersRecordOutcome(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "forge-test"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.StartTool(context.Background(), "Read")
	CloseSpan(span, "")

	_, span = tracer.StartTool(context.Background(), "Read")
	CloseSpan(span, "file not found")

	_, span = tracer.StartTurn(context.Background(), "direct")
	EndTurn(span, "stream_failed", errors.New("overloaded"))
}
