package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestDisabledProviderIsGlobal(t *testing.T) {
	provider, err := NewProvider(nil, Config{Enabled: false, ServiceName: "bizcore-test", SamplingRatio: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	assert.Same(t, provider, otel.GetTracerProvider())
	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()
}

func TestSamplerBounds(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sampler(0)))
	_, span := provider.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	assert.Empty(t, exporter.GetSpans())

	provider = sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sampler(1)))
	_, span = provider.Tracer("test").Start(context.Background(), "kept")
	span.End()
	assert.Len(t, exporter.GetSpans(), 1)
	assert.Equal(t, trace.FlagsSampled, span.SpanContext().TraceFlags()&trace.FlagsSampled)
}

func TestUnknownProtocol(t *testing.T) {
	_, err := newExporter("carrier-pigeon", "")
	require.Error(t, err)
}
