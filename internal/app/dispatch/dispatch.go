// Package dispatch runs lifecycle operations against execution servers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
	"github.com/NIRALUser/clusterpost/internal/infra/ssh"
	"github.com/NIRALUser/clusterpost/pkg/common"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
)

// Operation is one of the agent operations an execution server understands.
type Operation string

const (
	OpSubmit Operation = "submit"
	OpStatus Operation = "status"
	OpKill   Operation = "kill"
	OpDelete Operation = "delete"
)

// Flag returns the agent command-line flag selecting the operation.
func (o Operation) Flag() string { return "--" + string(o) }

// failsOnStderr reports whether any stderr output makes the operation fail.
// Submit and delete are strict; status and kill fold stderr into the output.
func (o Operation) failsOnStderr() bool { return o == OpSubmit || o == OpDelete }

// Transport runs a command on a local-mode execution server.
type Transport interface {
	Exec(ctx context.Context, cfg executionserver.Config, remoteArgs ...string) (ssh.Output, error)
}

// StatusReader is the registry's status view.
type StatusReader interface {
	Status(ctx context.Context, id string) (jobs.StatusInfo, error)
}

// DeleteQueue receives deletes for remote-mode servers.
type DeleteQueue interface {
	EnqueueDelete(job *jobs.Job)
}

// Metrics records dispatch outcomes.
type Metrics interface {
	IncDispatch(ctx context.Context, op, server string, failed bool)
	ObserveDispatchDuration(ctx context.Context, op string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) IncDispatch(context.Context, string, string, bool)              {}
func (nopMetrics) ObserveDispatchDuration(context.Context, string, time.Duration) {}

// Result is the outcome of a successful dispatch.
type Result struct {
	// Status is the status re-read from the registry after the agent exited.
	// It is empty for remote-mode servers.
	Status jobs.StatusInfo
	// Output is the agent's stdout, with stderr appended for status and kill.
	Output string
	// Remote is set when the server is remote-mode and nothing was run.
	Remote bool
}

// Dispatcher invokes the clusterpost agent on local-mode servers and treats
// remote-mode servers as already handled.
type Dispatcher struct {
	transport Transport
	statuses  StatusReader
	deletes   DeleteQueue

	limiter *common.RateLimiter
	timeout time.Duration

	metrics Metrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds each agent invocation. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.timeout = d }
}

// WithRateLimiter throttles agent invocations.
func WithRateLimiter(l *common.RateLimiter) Option {
	return func(dp *Dispatcher) { dp.limiter = l }
}

// WithMetrics records dispatch outcomes.
func WithMetrics(m Metrics) Option {
	return func(dp *Dispatcher) { dp.metrics = m }
}

// New creates a Dispatcher.
func New(
	transport Transport,
	statuses StatusReader,
	deletes DeleteQueue,
	log *logger.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		transport: transport,
		statuses:  statuses,
		deletes:   deletes,
		metrics:   nopMetrics{},
		logger:    log.With("component", "dispatcher"),
		tracer:    tracer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs op for job on the server described by cfg. Failures wrap
// jobs.ErrImplementation and carry the agent's stderr.
func (d *Dispatcher) Dispatch(ctx context.Context, job *jobs.Job, op Operation, cfg executionserver.Config) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.dispatch",
		trace.WithAttributes(
			attribute.String("job_id", job.ID()),
			attribute.String("operation", string(op)),
			attribute.String("execution_server", cfg.Key),
			attribute.Bool("remote", cfg.IsRemote()),
		),
	)
	defer span.End()

	if cfg.IsRemote() {
		if op == OpDelete {
			d.deletes.EnqueueDelete(job)
			span.AddEvent("queued_remote_delete")
		}
		d.metrics.IncDispatch(ctx, string(op), cfg.Key, false)
		return Result{Remote: true}, nil
	}

	start := time.Now()
	res, err := d.run(ctx, job, op, cfg)
	d.metrics.ObserveDispatchDuration(ctx, string(op), time.Since(start))
	d.metrics.IncDispatch(ctx, string(op), cfg.Key, err != nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error(ctx, "dispatch failed",
			"job_id", job.ID(),
			"operation", op,
			"execution_server", cfg.Key,
			"error", err,
		)
		return Result{}, err
	}

	span.SetAttributes(attribute.String("status", res.Status.Status.String()))
	return res, nil
}

func (d *Dispatcher) run(ctx context.Context, job *jobs.Job, op Operation, cfg executionserver.Config) (Result, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: waiting for dispatch slot: %v", jobs.ErrImplementation, err)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	force := op == OpSubmit && job.Force()
	out, err := d.transport.Exec(ctx, cfg, ssh.AgentArgs(cfg, job.ID(), op.Flag(), force)...)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s %s on %s: %v", jobs.ErrImplementation, op, job.ID(), cfg.Key, err)
	}

	if failed(op, out) {
		return Result{}, fmt.Errorf("%w: %s %s on %s: %s",
			jobs.ErrImplementation, op, job.ID(), cfg.Key, diagnostic(out))
	}

	text := out.Stdout
	if !op.failsOnStderr() {
		text += out.Stderr
	}

	status, err := d.statuses.Status(ctx, job.ID())
	if errors.Is(err, jobs.ErrJobNotFound) && op != OpSubmit {
		// The agent may remove the document itself, typically on --delete.
		return Result{Output: text}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading status of %s: %v", jobs.ErrImplementation, job.ID(), err)
	}

	return Result{Status: status, Output: text}, nil
}

// failed applies the per-operation success policy. Submit also fails on a
// non-zero exit; delete only looks at stderr.
func failed(op Operation, out ssh.Output) bool {
	switch op {
	case OpSubmit:
		return out.ExitCode != 0 || out.Stderr != ""
	case OpDelete:
		return out.Stderr != ""
	default:
		return false
	}
}

func diagnostic(out ssh.Output) string {
	if s := strings.TrimSpace(out.Stderr); s != "" {
		return s
	}
	return fmt.Sprintf("agent exited with code %d", out.ExitCode)
}
