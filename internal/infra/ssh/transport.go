package ssh

import (
	"context"
	"fmt"
	"path"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
)

// Operation flags understood by the clusterpost agent installed on execution servers.
const (
	FlagJob    = "-j"
	FlagForce  = "-f"
	AgentEntry = "index.js"
)

// Transport invokes the clusterpost agent on local-mode execution servers.
type Transport struct {
	runner    Runner
	sshBinary string
	scpBinary string
	logger    *logger.Logger
	tracer    trace.Tracer
}

// Option configures a Transport.
type Option func(*Transport)

// WithBinaries overrides the ssh and scp executables.
func WithBinaries(sshBinary, scpBinary string) Option {
	return func(t *Transport) {
		if sshBinary != "" {
			t.sshBinary = sshBinary
		}
		if scpBinary != "" {
			t.scpBinary = scpBinary
		}
	}
}

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(t *Transport) { t.runner = r }
}

// NewTransport creates a transport using the system ssh client.
func NewTransport(log *logger.Logger, tracer trace.Tracer, opts ...Option) *Transport {
	t := &Transport{
		runner:    ExecRunner{},
		sshBinary: "ssh",
		scpBinary: "scp",
		logger:    log.With("component", "ssh.transport"),
		tracer:    tracer,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AgentArgs builds the remote command line for one agent operation.
func AgentArgs(cfg executionserver.Config, jobID, opFlag string, force bool) []string {
	args := []string{"node", path.Join(cfg.SourceDir, AgentEntry), FlagJob, jobID, opFlag}
	if force {
		args = append(args, FlagForce)
	}
	return args
}

// Exec runs the remote command on the server and waits for it to exit.
func (t *Transport) Exec(ctx context.Context, cfg executionserver.Config, remoteArgs ...string) (Output, error) {
	ctx, span := t.tracer.Start(ctx, "ssh.exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("execution_server", cfg.Key),
			attribute.String("host", cfg.Host),
		),
	)
	defer span.End()

	args := append([]string{"-q", "-i", cfg.IdentityFile, cfg.Address()}, remoteArgs...)
	t.logger.Debug(ctx, "running remote command", "execution_server", cfg.Key, "args", remoteArgs)

	out, err := t.runner.Run(ctx, t.sshBinary, args...)
	span.SetAttributes(attribute.Int("exit_code", out.ExitCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, fmt.Errorf("ssh %s: %w", cfg.Key, err)
	}

	return out, nil
}

// Copy uploads a local file to remotePath on the server. The copy fails only
// when scp exits non-zero and wrote to stderr.
func (t *Transport) Copy(ctx context.Context, cfg executionserver.Config, localPath, remotePath string) error {
	ctx, span := t.tracer.Start(ctx, "ssh.copy",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("execution_server", cfg.Key),
			attribute.String("remote_path", remotePath),
		),
	)
	defer span.End()

	out, err := t.runner.Run(ctx, t.scpBinary, "-i", cfg.IdentityFile, localPath, cfg.Address()+":"+remotePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("scp %s: %w", cfg.Key, err)
	}
	if out.ExitCode != 0 && out.Stderr != "" {
		err := fmt.Errorf("scp %s: exit %d: %s", cfg.Key, out.ExitCode, out.Stderr)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}
