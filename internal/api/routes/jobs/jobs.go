// Package jobs binds the job document endpoints.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/NIRALUser/clusterpost/internal/api/errs"
	"github.com/NIRALUser/clusterpost/internal/api/mid"
	"github.com/NIRALUser/clusterpost/internal/app/delegation"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
	"github.com/NIRALUser/clusterpost/pkg/web"
)

// Lifecycle is the subset of the lifecycle controller used by these routes.
type Lifecycle interface {
	CreateJob(ctx context.Context, creds jobs.Credentials, p jobs.JobParams) (*jobs.Job, error)
	UpdateJob(ctx context.Context, creds jobs.Credentials, job *jobs.Job) (*jobs.Job, error)
	GetJob(ctx context.Context, creds jobs.Credentials, id string) (*jobs.Job, error)
	DeleteJob(ctx context.Context, creds jobs.Credentials, id string) (jobs.StatusInfo, error)
	AddArtifact(ctx context.Context, creds jobs.Credentials, id, name, contentType string, body io.Reader) (*jobs.Job, error)
	ListJobs(ctx context.Context, creds jobs.Credentials, q jobs.JobQuery) ([]*jobs.Job, error)
	ListAllJobs(ctx context.Context, creds jobs.Credentials, executable string) ([]*jobs.Job, error)
	GetAttachment(ctx context.Context, creds jobs.Credentials, id, name string) (*jobs.AttachmentContent, error)
	DownloadToken(ctx context.Context, creds jobs.Credentials, id, name string) (delegation.Token, error)
}

// Config contains the dependencies needed by the job handlers.
type Config struct {
	Log       *logger.Logger
	Lifecycle Lifecycle
	Verifier  mid.TokenVerifier
}

// Routes binds all the job endpoints.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	authen := mid.Authenticate(cfg.Verifier)
	member := mid.Authorize(jobs.ScopeClusterpost, jobs.ScopeExecutionServer, jobs.ScopeAdmin)
	admin := mid.Authorize(jobs.ScopeAdmin)

	app.HandlerFunc(http.MethodPost, version, "/jobs", create(cfg), authen, member)
	app.HandlerFunc(http.MethodPut, version, "/jobs", update(cfg), authen, member)
	app.HandlerFunc(http.MethodGet, version, "/jobs", list(cfg), authen, member)
	app.HandlerFunc(http.MethodGet, version, "/jobs/all", listAll(cfg), authen, admin)
	app.HandlerFunc(http.MethodGet, version, "/jobs/{id}", get(cfg), authen, member)
	app.HandlerFunc(http.MethodDelete, version, "/jobs/{id}", remove(cfg), authen, member)
	app.HandlerFunc(http.MethodGet, version, "/jobs/{id}/{name}", attachment(cfg), authen, member)
	app.HandlerFunc(http.MethodPut, version, "/jobs/{id}/{name}", addData(cfg), authen, member)
	app.HandlerFunc(http.MethodGet, version, "/jobs/{id}/{name}/token", downloadToken(cfg), authen, member)
}

// newJobRequest is the payload of a new job document.
type newJobRequest struct {
	ID              string          `json:"_id"`
	Name            string          `json:"name"`
	Owner           string          `json:"userEmail" validate:"omitempty,email"`
	Executable      string          `json:"executable" validate:"required"`
	ExecutionServer string          `json:"executionserver" validate:"required"`
	Parameters      json.RawMessage `json:"parameters"`
	Inputs          []jobs.Artifact `json:"inputs"`
	Outputs         []jobs.Artifact `json:"outputs"`
}

// revisionResponse reports the stored revision of a document.
type revisionResponse struct {
	OK       bool   `json:"ok"`
	ID       string `json:"id"`
	Revision string `json:"rev"`
	created  bool
}

// Encode implements the web.Encoder interface.
func (rr revisionResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(rr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// HTTPStatus sends 201 for newly created documents.
func (rr revisionResponse) HTTPStatus() int {
	if rr.created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func revisionOf(job *jobs.Job, created bool) revisionResponse {
	return revisionResponse{OK: true, ID: job.ID(), Revision: job.Revision(), created: created}
}

type jobResponse struct {
	job *jobs.Job
}

// Encode implements the web.Encoder interface.
func (jr jobResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(jr.job)
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

type statusResponse jobs.StatusInfo

// Encode implements the web.Encoder interface.
func (sr statusResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(jobs.StatusInfo(sr))
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

type tokenResponse delegation.Token

// Encode implements the web.Encoder interface.
func (tr tokenResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(delegation.Token(tr))
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func create(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		var req newJobRequest
		if err := web.Decode(r, &req, false); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		if err := errs.Check(req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		job, err := cfg.Lifecycle.CreateJob(ctx, mid.GetCredentials(ctx), jobs.JobParams{
			ID:              req.ID,
			Name:            req.Name,
			Owner:           req.Owner,
			Executable:      req.Executable,
			ExecutionServer: req.ExecutionServer,
			Parameters:      req.Parameters,
			Inputs:          req.Inputs,
			Outputs:         req.Outputs,
		})
		if err != nil {
			return errs.FromDomain(err)
		}

		return revisionOf(job, true)
	}
}

func update(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		var job jobs.Job
		if err := web.Decode(r, &job, false); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}
		if job.ID() == "" {
			return errs.Newf(errs.InvalidArgument, "_id is required")
		}

		updated, err := cfg.Lifecycle.UpdateJob(ctx, mid.GetCredentials(ctx), &job)
		if err != nil {
			return errs.FromDomain(err)
		}

		return revisionOf(updated, false)
	}
}

func list(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		qs := r.URL.Query()

		q := jobs.JobQuery{
			Owner:           qs.Get("userEmail"),
			Executable:      qs.Get("executable"),
			ExecutionServer: qs.Get("executionserver"),
		}
		if s := qs.Get("jobstatus"); s != "" {
			status := jobs.ParseJobStatus(s)
			if status == "" {
				return errs.Newf(errs.InvalidArgument, "unknown jobstatus %q", s)
			}
			q.Status = status
		}

		list, err := cfg.Lifecycle.ListJobs(ctx, mid.GetCredentials(ctx), q)
		if err != nil {
			return errs.FromDomain(err)
		}
		return jobList(list)
	}
}

func listAll(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		list, err := cfg.Lifecycle.ListAllJobs(ctx, mid.GetCredentials(ctx), r.URL.Query().Get("executable"))
		if err != nil {
			return errs.FromDomain(err)
		}
		return jobList(list)
	}
}

func get(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		job, err := cfg.Lifecycle.GetJob(ctx, mid.GetCredentials(ctx), web.Param(r, "id"))
		if err != nil {
			return errs.FromDomain(err)
		}
		return jobResponse{job: job}
	}
}

func remove(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		status, err := cfg.Lifecycle.DeleteJob(ctx, mid.GetCredentials(ctx), web.Param(r, "id"))
		if err != nil {
			return errs.FromDomain(err)
		}
		return statusResponse(status)
	}
}

func attachment(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		content, err := cfg.Lifecycle.GetAttachment(ctx, mid.GetCredentials(ctx), web.Param(r, "id"), web.Param(r, "name"))
		if err != nil {
			return errs.FromDomain(err)
		}
		return web.Stream{ContentType: content.ContentType, Length: content.Length, Body: content.Body}
	}
}

func addData(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		id, name := web.Param(r, "id"), web.Param(r, "name")

		job, err := cfg.Lifecycle.AddArtifact(ctx, mid.GetCredentials(ctx), id, name, r.Header.Get("Content-Type"), r.Body)
		if err != nil {
			return errs.FromDomain(fmt.Errorf("adding %s to %s: %w", name, id, err))
		}
		return revisionOf(job, false)
	}
}

func downloadToken(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		tok, err := cfg.Lifecycle.DownloadToken(ctx, mid.GetCredentials(ctx), web.Param(r, "id"), web.Param(r, "name"))
		if err != nil {
			return errs.FromDomain(err)
		}
		return tokenResponse(tok)
	}
}
