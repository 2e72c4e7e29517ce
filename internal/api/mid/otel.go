package mid

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NIRALUser/clusterpost/pkg/common/otel"
	"github.com/NIRALUser/clusterpost/pkg/web"
)

// Otel stores the tracer in the context and tags the request span, started
// by otelhttp around the router, with the matched route.
func Otel(tracer trace.Tracer) web.MidFunc {
	return func(next web.HandlerFunc) web.HandlerFunc {
		return func(ctx context.Context, r *http.Request) web.Encoder {
			ctx = otel.InjectTracing(ctx, tracer)
			if route := web.RoutePattern(r); route != "" {
				trace.SpanFromContext(ctx).SetAttributes(attribute.String("http.route", route))
			}
			return next(ctx, r)
		}
	}
}
