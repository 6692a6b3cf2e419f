package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/churchsync/chms-integration/internal/infrastructure/telemetry"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return sr
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		out[string(a.Key)] = a.Value
	}
	return out
}

func TestStartSpan(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "integration.trigger_sync",
		telemetry.WithAttribute(telemetry.SpanAttrProvider, "breeze"),
		telemetry.WithAttribute(telemetry.SpanAttrRecordCount, 12),
		telemetry.WithSpanKind(trace.SpanKindClient),
	)
	telemetry.SetAttributes(span, telemetry.SpanAttrCapability, "people", 42, "skipped")
	telemetry.SetOK(span)
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	s := ended[0]
	assert.Equal(t, "integration.trigger_sync", s.Name())
	assert.Equal(t, trace.SpanKindClient, s.SpanKind())
	assert.Equal(t, telemetry.TracerName, s.InstrumentationScope().Name)
	assert.Equal(t, codes.Ok, s.Status().Code)

	attrs := attrMap(s.Attributes())
	assert.Equal(t, "breeze", attrs[telemetry.SpanAttrProvider].AsString())
	assert.Equal(t, int64(12), attrs[telemetry.SpanAttrRecordCount].AsInt64())
	assert.Equal(t, "people", attrs[telemetry.SpanAttrCapability].AsString())
	assert.Len(t, attrs, 3)
}

func TestRecordError(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "chms.fetch")
	telemetry.RecordError(span, errors.New("upstream unavailable"))
	telemetry.RecordError(span, nil)
	span.End()

	s := sr.Ended()[0]
	assert.Equal(t, codes.Error, s.Status().Code)
	assert.Equal(t, "upstream unavailable", s.Status().Description)
	require.Len(t, s.Events(), 1)
	assert.Equal(t, "exception", s.Events()[0].Name)
}

func TestNilSpanHelpers(t *testing.T) {
	assert.NotPanics(t, func() {
		telemetry.SetAttributes(nil, "k", "v")
		telemetry.RecordError(nil, errors.New("x"))
		telemetry.SetOK(nil)
	})
}

func TestNewTracerProvider(t *testing.T) {
	t.Run("disabled keeps the no-op provider", func(t *testing.T) {
		tp, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{}, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.False(t, tp.IsEnabled())
		assert.NoError(t, tp.Shutdown(context.Background()))
	})

	t.Run("enabled builds an exporter", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping exporter setup in short mode")
		}
		prev := otel.GetTracerProvider()
		defer otel.SetTracerProvider(prev)

		tp, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
			Enabled:           true,
			CollectorEndpoint: "localhost:4317",
			Insecure:          true,
			SamplingRatio:     0.5,
			ServiceName:       "chms-integration-test",
		}, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.True(t, tp.IsEnabled())
		_ = tp.Shutdown(context.Background())
	})
}
