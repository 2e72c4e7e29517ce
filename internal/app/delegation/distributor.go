package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/pkg/common"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
)

var defaultCopyRetry = common.RetryConfig{
	InitialInterval: time.Second,
	MaxInterval:     10 * time.Second,
	MaxElapsedTime:  time.Minute,
}

// TokenFile is the name of the token file installed in a server's source dir.
const TokenFile = ".token"

// Copier uploads a file to an execution server.
type Copier interface {
	Copy(ctx context.Context, cfg executionserver.Config, localPath, remotePath string) error
}

// Distributor installs identity tokens on local-mode servers so their agents
// can call back into the service.
type Distributor struct {
	tokens   *Service
	registry *executionserver.Registry
	copier   Copier

	tmpDir      string
	retry       common.RetryConfig
	concurrency int

	logger *logger.Logger
	tracer trace.Tracer
}

// DistributorOption configures a Distributor.
type DistributorOption func(*Distributor)

// WithTempDir sets where token files are staged before upload.
func WithTempDir(dir string) DistributorOption {
	return func(d *Distributor) { d.tmpDir = dir }
}

// WithRetry sets the backoff applied to each upload.
func WithRetry(cfg common.RetryConfig) DistributorOption {
	return func(d *Distributor) { d.retry = cfg }
}

// WithConcurrency bounds how many servers are handled at once.
func WithConcurrency(n int) DistributorOption {
	return func(d *Distributor) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// NewDistributor creates a Distributor.
func NewDistributor(
	tokens *Service,
	registry *executionserver.Registry,
	copier Copier,
	log *logger.Logger,
	tracer trace.Tracer,
	opts ...DistributorOption,
) *Distributor {
	d := &Distributor{
		tokens:      tokens,
		registry:    registry,
		copier:      copier,
		tmpDir:      os.TempDir(),
		retry:       defaultCopyRetry,
		concurrency: 4,
		logger:      log.With("component", "token.distributor"),
		tracer:      tracer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Distribute signs a token for every local-mode server and copies it to
// <sourceDir>/.token. Failures are logged per server and returned joined;
// one server failing does not stop the others.
func (d *Distributor) Distribute(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "distributor.distribute")
	defer span.End()

	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, cfg := range d.registry.Configs() {
		if cfg.IsRemote() {
			continue
		}
		g.Go(func() error {
			if err := d.install(gctx, cfg); err != nil {
				d.logger.Error(gctx, "failed to install execution server token",
					"execution_server", cfg.Key, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", cfg.Key, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("failures", len(errs)))
	return errors.Join(errs...)
}

func (d *Distributor) install(ctx context.Context, cfg executionserver.Config) error {
	ctx, span := d.tracer.Start(ctx, "distributor.install",
		trace.WithAttributes(attribute.String("execution_server", cfg.Key)))
	defer span.End()

	tok, err := d.tokens.IssueServerToken(cfg.Key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	filename := filepath.Join(d.tmpDir, "."+cfg.Key)
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	defer func() {
		if err := os.Remove(filename); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn(ctx, "failed to remove staged token file", "file", filename, "error", err)
		}
	}()

	destination := path.Join(cfg.SourceDir, TokenFile)
	return common.RetryWithBackoff(ctx, d.logger, "copy token to "+cfg.Key, d.retry, func() error {
		return d.copier.Copy(ctx, cfg, filename, destination)
	})
}
