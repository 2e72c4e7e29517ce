package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"
)

type testResponse struct {
	ID string `json:"id"`
}

func (tr testResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(tr)
	return data, "application/json", err
}

type createdResponse struct{ testResponse }

func (createdResponse) HTTPStatus() int { return http.StatusCreated }

func newTestApp(mw ...MidFunc) *App {
	log := func(context.Context, string, ...any) {}
	return NewApp(log, noop.NewTracerProvider().Tracer("test"), mw...)
}

func TestAppRoutesParams(t *testing.T) {
	app := newTestApp()
	app.HandlerFunc(http.MethodGet, "v1", "/jobs/{id}", func(ctx context.Context, r *http.Request) Encoder {
		return testResponse{ID: Param(r, "id")}
	})

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"abc"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestAppMiddlewareOrderAndStatus(t *testing.T) {
	var order []string
	mark := func(name string) MidFunc {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, r *http.Request) Encoder {
				order = append(order, name)
				return next(ctx, r)
			}
		}
	}

	app := newTestApp(mark("app"))
	app.HandlerFunc(http.MethodPost, "v1", "/jobs", func(ctx context.Context, r *http.Request) Encoder {
		return createdResponse{testResponse{ID: "new"}}
	}, mark("route"))

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"app", "route"}, order)
}

func TestRespondNilIsNoContent(t *testing.T) {
	app := newTestApp()
	app.HandlerFuncNoMid(http.MethodDelete, "", "/thing", func(ctx context.Context, r *http.Request) Encoder {
		return nil
	})

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/thing", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNoResponseLeavesWriterToHandler(t *testing.T) {
	app := newTestApp()
	app.HandlerFunc(http.MethodGet, "", "/raw", func(ctx context.Context, r *http.Request) Encoder {
		w := GetWriter(ctx)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("streamed"))
		return NewNoResponse()
	})

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/raw", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "streamed", rec.Body.String())
}

func TestEnableCORSPreflight(t *testing.T) {
	app := newTestApp()
	app.EnableCORS([]string{"*"})

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStreamCopiesBody(t *testing.T) {
	body := &closeRecorder{Reader: strings.NewReader("artifact-bytes")}
	app := newTestApp()
	app.HandlerFunc(http.MethodGet, "v1", "/jobs/{id}/{name}", func(ctx context.Context, r *http.Request) Encoder {
		return Stream{ContentType: "text/plain", Length: 14, Body: body}
	})

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/a/out.txt", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "artifact-bytes", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "14", rec.Header().Get("Content-Length"))
	assert.True(t, body.closed)
}

func TestRoutePattern(t *testing.T) {
	var pattern string
	app := newTestApp()
	app.HandlerFunc(http.MethodGet, "v1", "/jobs/{id}", func(ctx context.Context, r *http.Request) Encoder {
		pattern = RoutePattern(r)
		return nil
	})

	app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/jobs/xyz", nil))
	assert.Equal(t, "/v1/jobs/{id}", pattern)
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}
