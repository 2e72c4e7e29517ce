package api

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/NIRALUser/clusterpost/internal/infra/eventbus/kafka"
)

const meterName = "clusterpost_api"

// APIMetrics is everything the api process records: request counters for the
// HTTP surface plus the lifecycle event bus counters.
type APIMetrics interface {
	kafka.EventBusMetrics

	IncRequestsTotal(ctx context.Context, method, route string, status int)
	ObserveRequestDuration(ctx context.Context, method, route string, duration time.Duration)
}

type apiMetrics struct {
	kafka.EventBusMetrics

	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewAPIMetrics registers the request instruments on mp.
func NewAPIMetrics(mp metric.MeterProvider) (APIMetrics, error) {
	bus, err := kafka.NewMetrics(mp)
	if err != nil {
		return nil, err
	}

	meter := mp.Meter(meterName)
	m := &apiMetrics{EventBusMetrics: bus}

	m.requests, err = meter.Int64Counter("requests_total",
		metric.WithDescription("HTTP requests handled, by route and status"))
	if err != nil {
		return nil, err
	}
	m.latency, err = meter.Float64Histogram("request_duration_seconds",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, route string, status int) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status_class", strconv.Itoa(status/100)+"xx"),
		attribute.Int("status", status),
	))
}

// Latency is not split by status; ssh dispatch dominates either way.
func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, route string, d time.Duration) {
	m.latency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
	))
}
