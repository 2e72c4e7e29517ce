package otel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestEndpointExcluderDropsExcludedRoutes(t *testing.T) {
	ee := newEndpointExcluder(map[string]struct{}{"/v1/liveness": {}}, 1.0)

	res := ee.ShouldSample(sdktrace.SamplingParameters{
		Attributes: []attribute.KeyValue{attribute.String("url.path", "/v1/liveness")},
	})
	assert.Equal(t, sdktrace.Drop, res.Decision)

	res = ee.ShouldSample(sdktrace.SamplingParameters{
		Attributes: []attribute.KeyValue{attribute.String("url.path", "/v1/jobs")},
	})
	assert.Equal(t, sdktrace.RecordAndSample, res.Decision)
}
