package mid

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/NIRALUser/clusterpost/internal/api/errs"
	"github.com/NIRALUser/clusterpost/internal/app/delegation"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
	"github.com/NIRALUser/clusterpost/pkg/web"
)

// TokenVerifier checks bearer tokens.
type TokenVerifier interface {
	Verify(token string) (delegation.Claims, error)
}

type ctxKey int

const credentialsKey ctxKey = 1

func setCredentials(ctx context.Context, creds jobs.Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey, creds)
}

// GetCredentials returns the caller identity stored by Authenticate.
func GetCredentials(ctx context.Context) jobs.Credentials {
	v, ok := ctx.Value(credentialsKey).(jobs.Credentials)
	if !ok {
		return jobs.Credentials{}
	}
	return v
}

// Authenticate validates the bearer token and stores the caller's
// credentials in the context. Download tokens do not identify a caller and
// are rejected.
func Authenticate(verifier TokenVerifier) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			token, err := bearer(r)
			if err != nil {
				return errs.New(errs.Unauthenticated, err)
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				return errs.New(errs.Unauthenticated, err)
			}

			switch claims.Kind() {
			case delegation.KindUser, delegation.KindServer:
			default:
				return errs.Newf(errs.Unauthenticated, "token does not identify a user or execution server")
			}

			return next(setCredentials(ctx, claims.Credentials()), r)
		}

		return h
	}

	return m
}

// Authorize requires the caller to hold at least one of scopes.
func Authorize(scopes ...string) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			creds := GetCredentials(ctx)
			for _, s := range scopes {
				if creds.HasScope(s) {
					return next(ctx, r)
				}
			}
			return errs.Newf(errs.Unauthorized, "one of the scopes %v is required", scopes)
		}

		return h
	}

	return m
}

func bearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("expected authorization header format: Bearer <token>")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", fmt.Errorf("expected authorization header format: Bearer <token>")
	}
	return parts[1], nil
}
