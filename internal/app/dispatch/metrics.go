package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type otelMetrics struct {
	dispatches metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetrics creates dispatch instruments on the given meter provider.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter("clusterpost_dispatcher", metric.WithInstrumentationVersion("v0.1.0"))

	m := new(otelMetrics)
	var err error

	if m.dispatches, err = meter.Int64Counter(
		"dispatches_total",
		metric.WithDescription("Total number of agent operations dispatched"),
	); err != nil {
		return nil, err
	}

	if m.duration, err = meter.Float64Histogram(
		"dispatch_duration_seconds",
		metric.WithDescription("Time spent waiting for the agent to exit"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *otelMetrics) IncDispatch(ctx context.Context, op, server string, failed bool) {
	m.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("execution_server", server),
		attribute.Bool("failed", failed),
	))
}

func (m *otelMetrics) ObserveDispatchDuration(ctx context.Context, op string, d time.Duration) {
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("operation", op)))
}
