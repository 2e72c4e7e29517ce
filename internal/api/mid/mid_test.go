package mid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/NIRALUser/clusterpost/internal/app/delegation"
	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
	"github.com/NIRALUser/clusterpost/pkg/web"
)

type whoami struct {
	Email           string   `json:"email"`
	Scopes          []string `json:"scopes"`
	ExecutionServer string   `json:"executionserver"`
}

func (w whoami) Encode() ([]byte, string, error) {
	data, err := json.Marshal(w)
	return data, "application/json", err
}

func newApp(t *testing.T) (*web.App, *delegation.Service) {
	t.Helper()

	reg, err := executionserver.NewRegistry([]executionserver.Config{{Key: "cloud", Mode: executionserver.ModeRemote}})
	require.NoError(t, err)
	svc, err := delegation.NewService(delegation.Config{Secret: []byte("s3cr3t"), UserTTL: time.Hour}, reg)
	require.NoError(t, err)

	log := logger.Noop()
	app := web.NewApp(
		func(context.Context, string, ...any) {},
		noop.NewTracerProvider().Tracer("test"),
		Logger(log),
		Errors(log),
		Panics(),
	)
	return app, svc
}

func do(app http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticate(t *testing.T) {
	app, svc := newApp(t)
	app.HandlerFunc(http.MethodGet, "v1", "/whoami", func(ctx context.Context, r *http.Request) web.Encoder {
		c := GetCredentials(ctx)
		return whoami{Email: c.Email, Scopes: c.Scopes, ExecutionServer: c.ExecutionServer}
	}, Authenticate(svc))

	user, err := svc.IssueUserToken("alice@example.org", []string{jobs.ScopeClusterpost}, 0)
	require.NoError(t, err)
	server, err := svc.IssueServerToken("cloud")
	require.NoError(t, err)
	download, err := svc.IssueDownloadToken("job-1", "out.txt")
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		wantCode int
		wantBody string
	}{
		{name: "user", token: user.Token, wantCode: http.StatusOK,
			wantBody: `{"email":"alice@example.org","scopes":["clusterpost"],"executionserver":""}`},
		{name: "server", token: server.Token, wantCode: http.StatusOK,
			wantBody: `{"email":"","scopes":["executionserver"],"executionserver":"cloud"}`},
		{name: "download token rejected", token: download.Token, wantCode: http.StatusUnauthorized},
		{name: "missing", wantCode: http.StatusUnauthorized},
		{name: "garbage", token: "not-a-jwt", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(app, http.MethodGet, "/v1/whoami", tt.token)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
				return
			}
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "unauthenticated", body["code"])
		})
	}
}

func TestAuthorize(t *testing.T) {
	app, svc := newApp(t)
	app.HandlerFunc(http.MethodGet, "v1", "/admin", func(context.Context, *http.Request) web.Encoder {
		return nil
	}, Authenticate(svc), Authorize(jobs.ScopeAdmin))

	user, err := svc.IssueUserToken("alice@example.org", []string{jobs.ScopeClusterpost}, 0)
	require.NoError(t, err)
	admin, err := svc.IssueUserToken("root@example.org", []string{jobs.ScopeClusterpost, jobs.ScopeAdmin}, 0)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(app, http.MethodGet, "/v1/admin", user.Token).Code)
	assert.Equal(t, http.StatusNoContent, do(app, http.MethodGet, "/v1/admin", admin.Token).Code)
}

type domainErr struct{ err error }

func (d domainErr) Error() string                  { return d.err.Error() }
func (d domainErr) Unwrap() error                  { return d.err }
func (d domainErr) Encode() ([]byte, string, error) { return nil, "", d.err }

func TestErrorsMapsDomainErrors(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantName string
	}{
		{err: jobs.ErrJobNotFound, wantCode: http.StatusNotFound, wantName: "not_found"},
		{err: jobs.ErrUnauthorized, wantCode: http.StatusUnauthorized, wantName: "unauthorized"},
		{err: jobs.ErrConflict, wantCode: http.StatusConflict, wantName: "conflict"},
		{err: jobs.ErrConfiguration, wantCode: http.StatusInternalServerError, wantName: "configuration"},
		{err: jobs.ErrImplementation, wantCode: http.StatusInternalServerError, wantName: "implementation"},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			app, _ := newApp(t)
			app.HandlerFunc(http.MethodGet, "", "/fail", func(context.Context, *http.Request) web.Encoder {
				return domainErr{err: fmt.Errorf("wrapped: %w", tt.err)}
			})

			rec := do(app, http.MethodGet, "/fail", "")
			assert.Equal(t, tt.wantCode, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantName, body["code"])
			assert.Contains(t, body["message"], "wrapped")
		})
	}
}

func TestPanicsRecovered(t *testing.T) {
	app, _ := newApp(t)
	app.HandlerFunc(http.MethodGet, "", "/boom", func(context.Context, *http.Request) web.Encoder {
		panic("boom")
	})

	rec := do(app, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "PANIC [boom]")
}

type mockRequestMetrics struct{ mock.Mock }

func (m *mockRequestMetrics) IncRequestsTotal(ctx context.Context, method, path string, status int) {
	m.Called(ctx, method, path, status)
}

func (m *mockRequestMetrics) ObserveRequestDuration(ctx context.Context, method, path string, d time.Duration) {
	m.Called(ctx, method, path, d)
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	metrics := new(mockRequestMetrics)
	metrics.On("IncRequestsTotal", mock.Anything, http.MethodGet, "/v1/jobs/{id}", http.StatusNoContent).Once()
	metrics.On("ObserveRequestDuration", mock.Anything, http.MethodGet, "/v1/jobs/{id}", mock.AnythingOfType("time.Duration")).Once()

	app, _ := newApp(t)
	app.HandlerFunc(http.MethodGet, "v1", "/jobs/{id}", func(context.Context, *http.Request) web.Encoder {
		return nil
	}, Metrics(metrics))

	do(app, http.MethodGet, "/v1/jobs/abc", "")
	metrics.AssertExpectations(t)
}
