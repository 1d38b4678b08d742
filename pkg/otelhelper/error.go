package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error kinds for failures that are not attributed to a single process.
const (
	KindEngine  = "engine"
	KindStorage = "storage"
)

// SetError marks the span as failed and records err tagged with its kind.
func SetError(span trace.Span, kind string, err error, attrs ...attribute.KeyValue) {
	attrs = append([]attribute.KeyValue{attribute.String(ErrorKindKey, kind)}, attrs...)

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, kind+": "+err.Error())
	span.SetAttributes(attribute.String(ErrorKindKey, kind))
}
