package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type ctxKey int

const tracerKey ctxKey = 1

// InjectTracing stores the tracer in the context so handlers and middleware
// deeper in the call chain can start spans without carrying the tracer.
func InjectTracing(ctx context.Context, tracer trace.Tracer) context.Context {
	return context.WithValue(ctx, tracerKey, tracer)
}

// Tracer returns the tracer stored in the context or a noop tracer.
func Tracer(ctx context.Context) trace.Tracer {
	if v, ok := ctx.Value(tracerKey).(trace.Tracer); ok {
		return v
	}
	return noop.NewTracerProvider().Tracer("noop")
}

// GetTraceID returns the trace id from the current span context.
func GetTraceID(ctx context.Context) string {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return "00000000000000000000000000000000"
}

// GetMeterProvider returns the globally registered meter provider, which
// InitTelemetry replaces when an exporter is configured.
func GetMeterProvider() metric.MeterProvider { return otel.GetMeterProvider() }
