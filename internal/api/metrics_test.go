package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestAPIMetricsRecordsRequests(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewAPIMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.IncRequestsTotal(ctx, http.MethodGet, "/v1/jobs/{id}", http.StatusOK)
	m.IncRequestsTotal(ctx, http.MethodGet, "/v1/jobs/{id}", http.StatusOK)
	m.ObserveRequestDuration(ctx, http.MethodGet, "/v1/jobs/{id}", 25*time.Millisecond)
	m.IncMessagePublished(ctx, "clusterpost.lifecycle")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	got := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			got[md.Name] = true
			if md.Name == "requests_total" {
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(2), sum.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, got["requests_total"])
	assert.True(t, got["request_duration_seconds"])
	assert.True(t, got["messages_published_total"])
}
