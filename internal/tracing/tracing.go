// Package tracing wraps OpenTelemetry span creation so sqlqueue doesn't
// carry otel call sites directly. With no global TracerProvider
// configured, these helpers are harmless no-ops (the default
// TracerProvider returns a no-op tracer), so embedding this module never
// requires tracing to be set up.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/oriys/squeal/internal/sqlqueue"

// Tracer returns the package's otel.Tracer, resolved against whatever
// global TracerProvider the embedding application configured.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts an internal-kind span named name.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// SetSpanError records err on span and marks it as failed.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Common attribute keys used across sqlqueue spans.
var (
	AttrTopic   = attribute.Key("squeal.topic")
	AttrOwnerID = attribute.Key("squeal.owner_id")
	AttrCount   = attribute.Key("squeal.count")
)
