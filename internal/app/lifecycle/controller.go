// Package lifecycle owns every status transition of a job and the ownership
// checks guarding them.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NIRALUser/clusterpost/internal/app/attachments"
	"github.com/NIRALUser/clusterpost/internal/app/delegation"
	"github.com/NIRALUser/clusterpost/internal/app/queue"
	"github.com/NIRALUser/clusterpost/internal/domain/events"
	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
	"github.com/NIRALUser/clusterpost/pkg/common/uuid"
)

// ServerLookup resolves execution server keys.
type ServerLookup interface {
	Resolve(key string) (executionserver.Config, error)
}

// Enqueuer hands work to the scheduler.
type Enqueuer interface {
	Enqueue(kind queue.Kind, job *jobs.Job, force bool) queue.Entry
}

// TokenService issues and verifies download tokens.
type TokenService interface {
	IssueDownloadToken(jobID, name string) (delegation.Token, error)
	VerifyDownload(token string) (delegation.Claims, error)
}

// Fetcher opens resolved artifacts.
type Fetcher interface {
	Open(ctx context.Context, d attachments.FetchDescriptor) (*jobs.AttachmentContent, error)
}

// Controller implements the job lifecycle. It holds no per-job locks; two
// concurrent submits of the same job both enqueue work.
type Controller struct {
	repo      jobs.Repository
	servers   ServerLookup
	queues    Enqueuer
	tokens    TokenService
	fetcher   Fetcher
	publisher events.DomainEventPublisher

	newID func() string
	now   func() time.Time

	logger *logger.Logger
	tracer trace.Tracer
}

// New creates a Controller.
func New(
	repo jobs.Repository,
	servers ServerLookup,
	queues Enqueuer,
	tokens TokenService,
	fetcher Fetcher,
	publisher events.DomainEventPublisher,
	log *logger.Logger,
	tracer trace.Tracer,
) *Controller {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Controller{
		repo:      repo,
		servers:   servers,
		queues:    queues,
		tokens:    tokens,
		fetcher:   fetcher,
		publisher: publisher,
		newID:     uuid.NewString,
		now:       time.Now,
		logger:    log.With("component", "lifecycle_controller"),
		tracer:    tracer,
	}
}

// CreateJob stores a new job in CREATE status. An empty owner defaults to the
// caller; an empty id is assigned.
func (c *Controller) CreateJob(ctx context.Context, creds jobs.Credentials, p jobs.JobParams) (*jobs.Job, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.create_job",
		trace.WithAttributes(
			attribute.String("executable", p.Executable),
			attribute.String("execution_server", p.ExecutionServer),
		),
	)
	defer span.End()

	if p.Executable == "" || p.ExecutionServer == "" {
		return nil, fail(span, fmt.Errorf("%w: executable and executionserver are required", jobs.ErrInvalidJob))
	}
	if err := c.checkServer(p.ExecutionServer); err != nil {
		return nil, fail(span, err)
	}

	if p.Owner == "" {
		p.Owner = creds.Email
	}
	if p.ID == "" {
		p.ID = c.newID()
	}

	job := jobs.NewJob(p, c.now().UTC())
	if err := c.repo.Put(ctx, job); err != nil {
		return nil, fail(span, fmt.Errorf("creating job: %w", err))
	}
	span.SetAttributes(attribute.String("job_id", job.ID()))

	c.publish(ctx, jobs.NewLifecycleEvent(jobs.EventTypeJobCreated, job))
	c.logger.Info(ctx, "job created", "job_id", job.ID(), "owner", job.Owner())
	return job, nil
}

// UpdateJob replaces a stored job document. The caller must own both the
// stored document and the replacement.
func (c *Controller) UpdateJob(ctx context.Context, creds jobs.Credentials, job *jobs.Job) (*jobs.Job, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.update_job",
		trace.WithAttributes(attribute.String("job_id", job.ID())))
	defer span.End()

	if err := jobs.ValidateOwnership(job, creds); err != nil {
		return nil, fail(span, err)
	}

	stored, err := c.repo.Get(ctx, job.ID())
	if err != nil {
		return nil, fail(span, fmt.Errorf("%w: you are not allowed to update the document: %v", jobs.ErrUnauthorized, err))
	}
	if err := jobs.ValidateOwnership(stored, creds); err != nil {
		return nil, fail(span, err)
	}
	if err := c.checkServer(job.ExecutionServer()); err != nil {
		return nil, fail(span, err)
	}

	if job.Revision() == "" {
		job.SetRevision(stored.Revision())
	}
	if err := c.repo.Put(ctx, job); err != nil {
		return nil, fail(span, fmt.Errorf("updating job: %w", err))
	}

	c.publish(ctx, jobs.NewLifecycleEvent(jobs.EventTypeJobUpdated, job))
	return job, nil
}

// GetJob returns a job the caller may see.
func (c *Controller) GetJob(ctx context.Context, creds jobs.Credentials, id string) (*jobs.Job, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.get_job", trace.WithAttributes(attribute.String("job_id", id)))
	defer span.End()

	job, err := c.owned(ctx, creds, id, false)
	if err != nil {
		return nil, fail(span, err)
	}
	return job, nil
}

// SubmitJob moves the job to QUEUE and enqueues a submit entry. The status is
// persisted before the entry is enqueued.
func (c *Controller) SubmitJob(ctx context.Context, creds jobs.Credentials, id string, force bool) (jobs.StatusInfo, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.submit_job",
		trace.WithAttributes(attribute.String("job_id", id), attribute.Bool("force", force)))
	defer span.End()

	job, err := c.transition(ctx, creds, id, jobs.JobStatusQueue, false, func(j *jobs.Job) { j.SetForce(force) })
	if err != nil {
		return jobs.StatusInfo{}, fail(span, err)
	}

	c.queues.Enqueue(queue.KindSubmit, job, force)
	span.AddEvent("submit_enqueued")

	c.publish(ctx, jobs.NewLifecycleEvent(jobs.EventTypeJobSubmitted, job))
	return job.StatusInfo(), nil
}

// QueryStatus returns the stored status. Jobs still active on their server
// also get a statusUpdate entry so the next query sees fresher data.
func (c *Controller) QueryStatus(ctx context.Context, creds jobs.Credentials, id string) (jobs.StatusInfo, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.query_status", trace.WithAttributes(attribute.String("job_id", id)))
	defer span.End()

	job, err := c.owned(ctx, creds, id, false)
	if err != nil {
		return jobs.StatusInfo{}, fail(span, err)
	}
	if err := c.checkServer(job.ExecutionServer()); err != nil {
		return jobs.StatusInfo{}, fail(span, err)
	}

	if job.Status().NeedsRefresh() {
		c.queues.Enqueue(queue.KindStatusUpdate, job, false)
		span.AddEvent("status_update_enqueued")
	}

	span.SetAttributes(attribute.String("status", job.Status().String()))
	return job.StatusInfo(), nil
}

// KillJob moves the job to KILL and enqueues a kill entry.
func (c *Controller) KillJob(ctx context.Context, creds jobs.Credentials, id string) (jobs.StatusInfo, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.kill_job", trace.WithAttributes(attribute.String("job_id", id)))
	defer span.End()

	job, err := c.transition(ctx, creds, id, jobs.JobStatusKill, false, nil)
	if err != nil {
		return jobs.StatusInfo{}, fail(span, err)
	}

	c.queues.Enqueue(queue.KindKill, job, false)
	span.AddEvent("kill_enqueued")

	c.publish(ctx, jobs.NewLifecycleEvent(jobs.EventTypeJobKillRequested, job))
	return job.StatusInfo(), nil
}

// DeleteJob marks the job DELETE and enqueues a delete entry. The document
// itself is removed by the scheduler once the remote job is gone.
func (c *Controller) DeleteJob(ctx context.Context, creds jobs.Credentials, id string) (jobs.StatusInfo, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.delete_job", trace.WithAttributes(attribute.String("job_id", id)))
	defer span.End()

	job, err := c.transition(ctx, creds, id, jobs.JobStatusDelete, true, nil)
	if err != nil {
		return jobs.StatusInfo{}, fail(span, err)
	}

	c.queues.Enqueue(queue.KindDelete, job, false)
	span.AddEvent("delete_enqueued")

	c.publish(ctx, jobs.NewLifecycleEvent(jobs.EventTypeJobDeleteRequested, job))
	return job.StatusInfo(), nil
}

// AddArtifact stores content as an embedded attachment of the job.
func (c *Controller) AddArtifact(
	ctx context.Context,
	creds jobs.Credentials,
	id, name, contentType string,
	body io.Reader,
) (*jobs.Job, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.add_artifact",
		trace.WithAttributes(attribute.String("job_id", id), attribute.String("name", name)))
	defer span.End()

	if name == "" {
		return nil, fail(span, fmt.Errorf("%w: attachment name is required", jobs.ErrInvalidJob))
	}

	job, err := c.owned(ctx, creds, id, true)
	if err != nil {
		return nil, fail(span, err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := c.repo.PutAttachment(ctx, job, name, contentType, body); err != nil {
		return nil, fail(span, fmt.Errorf("storing attachment %s: %w", name, err))
	}

	c.publish(ctx, jobs.NewLifecycleEvent(jobs.EventTypeJobArtifactAdded, job).WithArtifact(name))
	return job, nil
}

// ListJobs lists the caller's jobs. Listing another user's jobs needs the
// admin scope. Admins and the agent of a server may list every job on that
// server by leaving the owner empty.
func (c *Controller) ListJobs(ctx context.Context, creds jobs.Credentials, q jobs.JobQuery) ([]*jobs.Job, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.list_jobs")
	defer span.End()

	crossOwner := q.Owner == "" && q.ExecutionServer != "" &&
		(creds.IsAdmin() || creds.IsServer(q.ExecutionServer))

	switch {
	case crossOwner:
	case q.Owner != "" && q.Owner != creds.Email && !creds.IsAdmin():
		return nil, fail(span, fmt.Errorf("%w: you are not allowed to view the jobs of other users", jobs.ErrUnauthorized))
	case q.Owner == "":
		if creds.Email == "" {
			return nil, fail(span, fmt.Errorf("%w: no user to list jobs for", jobs.ErrUnauthorized))
		}
		q.Owner = creds.Email
	}

	list, err := c.repo.Query(ctx, q)
	if err != nil {
		return nil, fail(span, fmt.Errorf("listing jobs: %w", err))
	}
	span.SetAttributes(attribute.Int("count", len(list)))
	return list, nil
}

// ListAllJobs lists every job, optionally filtered by executable. Admin only.
func (c *Controller) ListAllJobs(ctx context.Context, creds jobs.Credentials, executable string) ([]*jobs.Job, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.list_all_jobs")
	defer span.End()

	if !creds.IsAdmin() {
		return nil, fail(span, fmt.Errorf("%w: admin scope required", jobs.ErrUnauthorized))
	}

	list, err := c.repo.Query(ctx, jobs.JobQuery{Executable: executable})
	if err != nil {
		return nil, fail(span, fmt.Errorf("listing jobs: %w", err))
	}
	return list, nil
}

// GetAttachment opens an artifact of a job the caller may see.
func (c *Controller) GetAttachment(ctx context.Context, creds jobs.Credentials, id, name string) (*jobs.AttachmentContent, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.get_attachment",
		trace.WithAttributes(attribute.String("job_id", id), attribute.String("name", name)))
	defer span.End()

	job, err := c.owned(ctx, creds, id, false)
	if err != nil {
		return nil, fail(span, err)
	}

	desc, err := attachments.Resolve(job, name)
	if err != nil {
		return nil, fail(span, err)
	}

	content, err := c.fetcher.Open(ctx, desc)
	if err != nil {
		return nil, fail(span, err)
	}
	return content, nil
}

// DownloadToken issues a token letting any bearer download one artifact.
func (c *Controller) DownloadToken(ctx context.Context, creds jobs.Credentials, id, name string) (delegation.Token, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.download_token",
		trace.WithAttributes(attribute.String("job_id", id), attribute.String("name", name)))
	defer span.End()

	job, err := c.owned(ctx, creds, id, false)
	if err != nil {
		return delegation.Token{}, fail(span, err)
	}

	tok, err := c.tokens.IssueDownloadToken(job.ID(), name)
	if err != nil {
		return delegation.Token{}, fail(span, err)
	}
	return tok, nil
}

// Download opens the artifact named by a download token. Token, lookup and
// resolution failures are all reported as unauthorized.
func (c *Controller) Download(ctx context.Context, token string) (*jobs.AttachmentContent, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.download")
	defer span.End()

	claims, err := c.tokens.VerifyDownload(token)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.String("job_id", claims.JobID), attribute.String("name", claims.Name))

	job, err := c.repo.Get(ctx, claims.JobID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("%w: %v", jobs.ErrUnauthorized, err))
	}

	desc, err := attachments.Resolve(job, claims.Name)
	if err != nil {
		return nil, fail(span, fmt.Errorf("%w: %v", jobs.ErrUnauthorized, err))
	}

	content, err := c.fetcher.Open(ctx, desc)
	if err != nil {
		return nil, fail(span, err)
	}
	return content, nil
}

// owned loads a job and checks the caller may act on it. requireDocument
// also rejects documents that are not jobs.
func (c *Controller) owned(ctx context.Context, creds jobs.Credentials, id string, requireDocument bool) (*jobs.Job, error) {
	job, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if requireDocument && !job.IsJobDocument() {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotJobDocument, id)
	}
	if err := jobs.ValidateOwnership(job, creds); err != nil {
		return nil, err
	}
	return job, nil
}

// transition runs the shared checks of a status change and persists it. All
// validation happens before the job is mutated.
func (c *Controller) transition(
	ctx context.Context,
	creds jobs.Credentials,
	id string,
	target jobs.JobStatus,
	requireDocument bool,
	mutate func(*jobs.Job),
) (*jobs.Job, error) {
	job, err := c.owned(ctx, creds, id, requireDocument)
	if err != nil {
		return nil, err
	}
	if err := c.checkServer(job.ExecutionServer()); err != nil {
		return nil, err
	}
	if err := job.Status().ValidateTransition(target); err != nil {
		return nil, err
	}

	if mutate != nil {
		mutate(job)
	}
	if err := job.TransitionTo(target); err != nil {
		return nil, err
	}
	if err := c.repo.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting %s status for %s: %w", target, id, err)
	}

	c.logger.Info(ctx, "job status changed", "job_id", id, "status", target)
	return job, nil
}

func (c *Controller) checkServer(key string) error {
	if _, err := c.servers.Resolve(key); err != nil {
		return fmt.Errorf("%w: %q: %v", jobs.ErrConfiguration, key, err)
	}
	return nil
}

// publish reports a lifecycle event. Delivery failures are logged; the
// transition has already been persisted.
func (c *Controller) publish(ctx context.Context, evt jobs.LifecycleEvent) {
	err := c.publisher.PublishDomainEvent(ctx, evt,
		events.WithKey(evt.JobID),
		events.WithHeaders(map[string]string{"executionserver": evt.ExecutionServer}),
	)
	if err != nil {
		c.logger.Warn(ctx, "failed to publish lifecycle event",
			"job_id", evt.JobID,
			"event_type", evt.EventType(),
			"error", err,
		)
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
