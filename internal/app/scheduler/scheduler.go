// Package scheduler drains the pull-queues and hands each entry to the
// dispatcher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/NIRALUser/clusterpost/internal/app/dispatch"
	"github.com/NIRALUser/clusterpost/internal/app/queue"
	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
)

const (
	defaultInterval    = 10 * time.Second
	defaultConcurrency = 4
)

// Drainer hands out queued entries.
type Drainer interface {
	Drain(kind queue.Kind) []queue.Entry
}

// Dispatcher runs agent operations.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *jobs.Job, op dispatch.Operation, cfg executionserver.Config) (dispatch.Result, error)
}

// ServerLookup resolves execution server keys.
type ServerLookup interface {
	Resolve(key string) (executionserver.Config, error)
}

// Store is the part of the job registry the scheduler touches.
type Store interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	Delete(ctx context.Context, job *jobs.Job) error
}

// order is the sequence queues are drained in on every tick.
var order = []struct {
	kind queue.Kind
	op   dispatch.Operation
}{
	{queue.KindSubmit, dispatch.OpSubmit},
	{queue.KindKill, dispatch.OpKill},
	{queue.KindStatusUpdate, dispatch.OpStatus},
	{queue.KindDelete, dispatch.OpDelete},
}

// Scheduler periodically drains the queues. Entries are drained exactly once;
// a failed dispatch is logged and not retried.
type Scheduler struct {
	queues     Drainer
	dispatcher Dispatcher
	servers    ServerLookup
	store      Store

	interval    time.Duration
	concurrency int

	logger *logger.Logger
	tracer trace.Tracer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the time between drains.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithConcurrency bounds the dispatches running at once within a queue.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New creates a Scheduler.
func New(
	queues Drainer,
	dispatcher Dispatcher,
	servers ServerLookup,
	store Store,
	log *logger.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		queues:      queues,
		dispatcher:  dispatcher,
		servers:     servers,
		store:       store,
		interval:    defaultInterval,
		concurrency: defaultConcurrency,
		logger:      log.With("component", "scheduler"),
		tracer:      tracer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drains the queues every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info(ctx, "scheduler started", "interval", s.interval, "concurrency", s.concurrency)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Warn(ctx, "scheduler tick finished with failures", "error", err)
			}
		}
	}
}

// Tick drains every queue once, in submit, kill, statusUpdate, delete order.
// It returns the joined dispatch failures.
func (s *Scheduler) Tick(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	var errs []error
	for _, q := range order {
		entries := s.queues.Drain(q.kind)
		if len(entries) == 0 {
			continue
		}
		span.AddEvent("drained", trace.WithAttributes(
			attribute.String("queue", string(q.kind)),
			attribute.Int("entries", len(entries)),
		))
		if err := s.process(ctx, q.op, entries); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failures")
	}
	return err
}

func (s *Scheduler) process(ctx context.Context, op dispatch.Operation, entries []queue.Entry) error {
	failures := make([]error, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, e := range entries {
		g.Go(func() error {
			failures[i] = s.handle(gctx, op, e)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(failures...)
}

func (s *Scheduler) handle(ctx context.Context, op dispatch.Operation, e queue.Entry) error {
	cfg, err := s.servers.Resolve(e.Job.ExecutionServer())
	if err != nil {
		s.logger.Warn(ctx, "dropping entry for unknown execution server",
			"job_id", e.JobID(),
			"operation", op,
			"execution_server", e.Job.ExecutionServer(),
		)
		return fmt.Errorf("%w: %s: %v", jobs.ErrConfiguration, e.JobID(), err)
	}

	res, err := s.dispatcher.Dispatch(ctx, e.Job, op, cfg)
	if err != nil {
		return err
	}
	s.logger.Debug(ctx, "entry dispatched",
		"job_id", e.JobID(),
		"operation", op,
		"remote", res.Remote,
		"status", res.Status.Status,
	)

	if op == dispatch.OpDelete {
		return s.removeRecord(ctx, e.JobID())
	}
	return nil
}

// removeRecord deletes the job document once the remote job is gone. The
// document is re-read so the delete carries the current revision.
func (s *Scheduler) removeRecord(ctx context.Context, id string) error {
	job, err := s.store.Get(ctx, id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reloading %s before delete: %w", id, err)
	}
	if job.Status() != jobs.JobStatusDelete {
		s.logger.Warn(ctx, "job left DELETE before removal, keeping record", "job_id", id, "status", job.Status())
		return nil
	}
	if err := s.store.Delete(ctx, job); err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}
	s.logger.Info(ctx, "job record deleted", "job_id", id)
	return nil
}
