package otelhelper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_SetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	_, span := StartSpan(t.Context(), tracer, "run", attribute.String(ScenarioIDKey, "s1"))
	SetError(span, "runtime", errors.New("boom"), attribute.String(InstancePathKey, "a.b"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "run", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "runtime: boom", ended[0].Status().Description)
	assert.Contains(t, ended[0].Attributes(), attribute.String(ScenarioIDKey, "s1"))
	assert.Contains(t, ended[0].Attributes(), attribute.String(ErrorKindKey, "runtime"))

	events := ended[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "exception", events[0].Name)
	assert.Contains(t, events[0].Attributes, attribute.String(ErrorKindKey, "runtime"))
	assert.Contains(t, events[0].Attributes, attribute.String(InstancePathKey, "a.b"))
}

func TestNoopTracer(t *testing.T) {
	_, span := StartSpan(t.Context(), NoopTracer(), "noop")
	defer span.End()

	assert.False(t, span.SpanContext().IsValid())
}
