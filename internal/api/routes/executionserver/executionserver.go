// Package executionserver binds the endpoints that drive jobs on their
// execution servers and the endpoints used by remote server agents.
package executionserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/NIRALUser/clusterpost/internal/api/errs"
	"github.com/NIRALUser/clusterpost/internal/api/mid"
	"github.com/NIRALUser/clusterpost/internal/app/delegation"
	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
	"github.com/NIRALUser/clusterpost/pkg/web"
)

// Lifecycle is the subset of the lifecycle controller used by these routes.
type Lifecycle interface {
	SubmitJob(ctx context.Context, creds jobs.Credentials, id string, force bool) (jobs.StatusInfo, error)
	QueryStatus(ctx context.Context, creds jobs.Credentials, id string) (jobs.StatusInfo, error)
	KillJob(ctx context.Context, creds jobs.Credentials, id string) (jobs.StatusInfo, error)
}

// Servers lists the configured execution servers.
type Servers interface {
	ListAll() []executionserver.Info
}

// TokenIssuer issues remote server identity tokens.
type TokenIssuer interface {
	ServerTokens() ([]delegation.ServerToken, error)
}

// DeleteQueue hands pending remote deletes to server agents.
type DeleteQueue interface {
	DrainDeleteQueue() []*jobs.Job
}

// Config contains the dependencies needed by the execution server handlers.
type Config struct {
	Log         *logger.Logger
	Lifecycle   Lifecycle
	Servers     Servers
	Tokens      TokenIssuer
	DeleteQueue DeleteQueue
	Verifier    mid.TokenVerifier
}

// Routes binds all the execution server endpoints.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	authen := mid.Authenticate(cfg.Verifier)
	member := mid.Authorize(jobs.ScopeClusterpost, jobs.ScopeExecutionServer, jobs.ScopeAdmin)
	admin := mid.Authorize(jobs.ScopeAdmin)
	agent := mid.Authorize(jobs.ScopeExecutionServer)

	app.HandlerFunc(http.MethodGet, version, "/executionservers", servers(cfg), authen, member)
	app.HandlerFunc(http.MethodGet, version, "/executionserver/tokens", tokens(cfg), authen, admin)
	app.HandlerFunc(http.MethodGet, version, "/executionserver/deletequeue", deleteQueue(cfg), authen, agent)
	app.HandlerFunc(http.MethodPost, version, "/executionserver/{id}", submit(cfg), authen, member)
	app.HandlerFunc(http.MethodGet, version, "/executionserver/{id}", status(cfg), authen, member)
	app.HandlerFunc(http.MethodPost, version, "/executionserver/{id}/kill", kill(cfg), authen, member)
}

type submitRequest struct {
	Force bool `json:"force"`
}

type statusResponse jobs.StatusInfo

// Encode implements the web.Encoder interface.
func (sr statusResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(jobs.StatusInfo(sr))
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

type serverInfo struct {
	Name   string   `json:"name"`
	Mode   string   `json:"mode"`
	Queues []string `json:"queues"`
}

type serverList []serverInfo

// Encode implements the web.Encoder interface.
func (sl serverList) Encode() ([]byte, string, error) {
	data, err := json.Marshal([]serverInfo(sl))
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

type tokenList []delegation.ServerToken

// Encode implements the web.Encoder interface.
func (tl tokenList) Encode() ([]byte, string, error) {
	if tl == nil {
		tl = tokenList{}
	}
	data, err := json.Marshal([]delegation.ServerToken(tl))
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

type jobList []*jobs.Job

// Encode implements the web.Encoder interface.
func (jl jobList) Encode() ([]byte, string, error) {
	if jl == nil {
		jl = jobList{}
	}
	data, err := json.Marshal([]*jobs.Job(jl))
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func submit(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		var req submitRequest
		if err := web.Decode(r, &req, true); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		st, err := cfg.Lifecycle.SubmitJob(ctx, mid.GetCredentials(ctx), web.Param(r, "id"), req.Force)
		if err != nil {
			return errs.FromDomain(err)
		}
		return statusResponse(st)
	}
}

func status(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		st, err := cfg.Lifecycle.QueryStatus(ctx, mid.GetCredentials(ctx), web.Param(r, "id"))
		if err != nil {
			return errs.FromDomain(err)
		}
		return statusResponse(st)
	}
}

func kill(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		st, err := cfg.Lifecycle.KillJob(ctx, mid.GetCredentials(ctx), web.Param(r, "id"))
		if err != nil {
			return errs.FromDomain(err)
		}
		return statusResponse(st)
	}
}

func servers(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		infos := cfg.Servers.ListAll()
		out := make(serverList, 0, len(infos))
		for _, i := range infos {
			queues := i.Queues
			if queues == nil {
				queues = []string{}
			}
			out = append(out, serverInfo{Name: i.Key, Mode: string(i.Mode), Queues: queues})
		}
		return out
	}
}

func tokens(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		list, err := cfg.Tokens.ServerTokens()
		if err != nil {
			return errs.New(errs.Internal, err)
		}
		return tokenList(list)
	}
}

func deleteQueue(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		drained := cfg.DeleteQueue.DrainDeleteQueue()
		cfg.Log.Info(ctx, "delete queue drained",
			"executionserver", mid.GetCredentials(ctx).ExecutionServer,
			"count", len(drained),
		)
		return jobList(drained)
	}
}
