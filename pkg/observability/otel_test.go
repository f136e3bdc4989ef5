package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NopLogger())

	assert.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, ShutdownOTel(context.Background(), providers, NopLogger()))
}

func TestTracer_NotNil(t *testing.T) {
	assert.NotNil(t, Tracer())
}

func TestSamplerFor(t *testing.T) {
	root := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{0x01},
		Name:          "authorize",
	}

	assert.Equal(t, sdktrace.RecordAndSample, samplerFor(1).ShouldSample(root).Decision)
	assert.Equal(t, sdktrace.RecordAndSample, samplerFor(5).ShouldSample(root).Decision)
	assert.Equal(t, sdktrace.Drop, samplerFor(0).ShouldSample(root).Decision)
	assert.Equal(t, sdktrace.Drop, samplerFor(-1).ShouldSample(root).Decision)

	sampledParent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	child := root
	child.ParentContext = sampledParent
	assert.Equal(t, sdktrace.RecordAndSample, samplerFor(0).ShouldSample(child).Decision)
}

func TestWithTraceIDs(t *testing.T) {
	t.Run("no span keeps logger", func(t *testing.T) {
		logger := NopLogger()
		assert.Same(t, logger, WithTraceIDs(context.Background(), logger))
	})

	t.Run("sampled span adds ids", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer func() { _ = tp.Shutdown(context.Background()) }()

		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		var buf bytes.Buffer
		WithTraceIDs(ctx, NewLogger(InfoLevel, &buf)).Info("traced")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
	})
}
