package mid

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NIRALUser/clusterpost/internal/api/errs"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
	"github.com/NIRALUser/clusterpost/pkg/web"
)

// Errors handles errors coming out of the call chain. Every error is turned
// into an *errs.Error so clients see a single shape.
func Errors(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			resp := next(ctx, r)

			err, isError := resp.(error)
			if !isError {
				return resp
			}

			appErr := errs.FromDomain(err)

			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, appErr.Code.String())

			log.Error(ctx, "handled error during request",
				"err", err,
				"code", appErr.Code.String(),
				"path", r.URL.Path,
			)

			return appErr
		}

		return h
	}

	return m
}
