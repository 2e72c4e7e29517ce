package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/NIRALUser/clusterpost/internal/api"
	"github.com/NIRALUser/clusterpost/internal/api/debug"
	"github.com/NIRALUser/clusterpost/internal/api/mux"
	"github.com/NIRALUser/clusterpost/internal/api/routes"
	"github.com/NIRALUser/clusterpost/internal/app/attachments"
	"github.com/NIRALUser/clusterpost/internal/app/delegation"
	"github.com/NIRALUser/clusterpost/internal/app/dispatch"
	"github.com/NIRALUser/clusterpost/internal/app/lifecycle"
	"github.com/NIRALUser/clusterpost/internal/app/queue"
	"github.com/NIRALUser/clusterpost/internal/app/scheduler"
	"github.com/NIRALUser/clusterpost/internal/config"
	"github.com/NIRALUser/clusterpost/internal/config/viperloader"
	"github.com/NIRALUser/clusterpost/internal/domain/events"
	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
	"github.com/NIRALUser/clusterpost/internal/infra/eventbus/kafka"
	"github.com/NIRALUser/clusterpost/internal/infra/eventbus/memory"
	"github.com/NIRALUser/clusterpost/internal/infra/ssh"
	memstore "github.com/NIRALUser/clusterpost/internal/infra/storage/jobs/memory"
	pgstore "github.com/NIRALUser/clusterpost/internal/infra/storage/jobs/postgres"
	"github.com/NIRALUser/clusterpost/pkg/common"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
	"github.com/NIRALUser/clusterpost/pkg/common/otel"
)

var build = "develop"

const (
	serviceType = "clusterpost-api"
)

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	ctx := context.Background()

	cfg, err := viperloader.New(os.Getenv("CLUSTERPOST_CONFIG")).Load(ctx)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			// Output the error event with valid JSON details.
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("CLUSTERPOST-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.ParseLevel(cfg.Logging.Level), svcName, traceIDFn, logEvents, metadata)

	if err := run(ctx, log, cfg, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/liveness":  {},
			"/debug":        {},
			"/metrics":      {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(ctx)

	tracer := traceProvider.Tracer(cfg.Telemetry.ServiceName)

	// -------------------------------------------------------------------------
	// Job Registry
	log.Info(ctx, "startup", "status", "initializing job registry", "driver", cfg.Store.Driver)

	repo, closeStore, err := openStore(ctx, cfg.Store, tracer)
	if err != nil {
		return err
	}
	defer closeStore()

	// -------------------------------------------------------------------------
	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mp := otel.GetMeterProvider()
	metricCollector, err := api.NewAPIMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}
	dispatchMetrics, err := dispatch.NewMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating dispatch metrics: %w", err)
	}

	// -------------------------------------------------------------------------
	// Execution servers, queues and dispatch
	servers, err := cfg.Servers()
	if err != nil {
		return fmt.Errorf("reading execution servers: %w", err)
	}
	registry, err := executionserver.NewRegistry(servers)
	if err != nil {
		return fmt.Errorf("building execution server registry: %w", err)
	}
	log.Info(ctx, "startup", "status", "execution servers configured", "count", len(servers))

	queues := queue.New(queue.WithMetrics(queue.NewPrometheusMetrics(reg)))
	if err := queue.RegisterDepthGauges(reg, queues); err != nil {
		return fmt.Errorf("registering queue gauges: %w", err)
	}

	transport := ssh.NewTransport(log, tracer, ssh.WithBinaries(cfg.Dispatch.SSHBinary, cfg.Dispatch.SCPBinary))

	limiter := common.NewRateLimiter(cfg.Dispatch.RateLimit, cfg.Dispatch.Burst)
	if rps, burst := limiter.Limit(); rps > 0 {
		log.Info(ctx, "startup", "status", "dispatch throttled", "rps", rps, "burst", burst)
	}
	dispatcher := dispatch.New(transport, repo, queues, log, tracer,
		dispatch.WithMetrics(dispatchMetrics),
		dispatch.WithTimeout(cfg.Dispatch.Timeout),
		dispatch.WithRateLimiter(limiter),
	)

	// -------------------------------------------------------------------------
	// Tokens
	tokens, err := delegation.NewService(delegation.Config{
		Secret:      []byte(cfg.Tokens.Secret),
		ServerTTL:   cfg.Tokens.ServerTTL,
		DownloadTTL: cfg.Tokens.DownloadTTL,
		UserTTL:     cfg.Tokens.UserTTL,
	}, registry)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	if cfg.Distribution.OnStartup {
		distributor := newDistributor(cfg.Distribution, tokens, registry, transport, log, tracer)
		go func() {
			if err := distributor.Distribute(ctx); err != nil {
				log.Warn(ctx, "startup", "status", "token distribution incomplete", "error", err)
			}
		}()
	}

	// -------------------------------------------------------------------------
	// Event Bus
	log.Info(ctx, "startup", "status", "initializing event bus")

	bus, err := openEventBus(ctx, cfg.Events, log, metricCollector, tracer)
	if err != nil {
		return err
	}
	defer bus.Close()

	// -------------------------------------------------------------------------
	// Lifecycle
	var local attachments.LocalStore
	if cfg.Attachments.Root != "" {
		fs, err := attachments.NewFileStore(cfg.Attachments.Root, cfg.Attachments.Allow)
		if err != nil {
			return fmt.Errorf("creating local artifact store: %w", err)
		}
		local = fs
	}
	fetcher := attachments.NewFetcher(repo, local, registry, tracer)

	ctrl := lifecycle.New(repo, registry, queues, tokens, fetcher, events.NewBusPublisher(bus), log, tracer)

	// -------------------------------------------------------------------------
	// Scheduler
	schedCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(queues, dispatcher, registry, repo, log, tracer,
			scheduler.WithInterval(cfg.Scheduler.Interval),
			scheduler.WithConcurrency(cfg.Scheduler.Concurrency),
		)
		go func() {
			log.Info(ctx, "startup", "status", "scheduler started", "interval", cfg.Scheduler.Interval)
			if err := sched.Run(schedCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(ctx, "shutdown", "status", "scheduler stopped", "error", err)
			}
		}()
	}

	// -------------------------------------------------------------------------
	// Start Debug Service

	go func() {
		log.Info(ctx, "startup", "status", "debug router started", "host", cfg.Web.DebugHost)

		if err := http.ListenAndServe(cfg.Web.DebugHost, debug.Mux(reg)); err != nil {
			log.Error(ctx, "shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "msg", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Start API Service

	log.Info(ctx, "startup", "status", "initializing API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Initialize centralized mux configuration with all dependencies.
	cfgMux := mux.Config{
		Build:     build,
		Log:       log,
		Tracer:    tracer,
		Store:     repo,
		Lifecycle: ctrl,
		Tokens:    tokens,
		Servers:   registry,
		Queues:    queues,
		Metrics:   metricCollector,
	}

	// Create the web API with all routes and middleware.
	webAPI := mux.WebAPI(cfgMux,
		routes.Routes(),
		mux.WithCORS(cfg.Web.CORSAllowedOrigins),
	)

	// Configure and start the API server.
	api := http.Server{
		Addr:         cfg.Web.APIHost,
		Handler:      webAPI,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info(ctx, "startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		stopScheduler()

		ctx, cancel := context.WithTimeout(ctx, cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, tracer trace.Tracer) (jobs.Repository, func(), error) {
	if cfg.Driver != config.StorePostgres {
		return memstore.NewJobStore(), func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns

	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating db pool: %w", err)
	}

	return pgstore.NewJobStore(pool, tracer), pool.Close, nil
}

func openEventBus(
	ctx context.Context,
	cfg config.EventsConfig,
	log *logger.Logger,
	metrics kafka.EventBusMetrics,
	tracer trace.Tracer,
) (events.EventBus, error) {
	if len(cfg.Brokers) == 0 {
		bus := memory.NewBus()
		err := bus.Subscribe(ctx, jobs.LifecycleEventTypes, func(ctx context.Context, evt events.EventEnvelope) error {
			log.Debug(ctx, "lifecycle event", "event_type", evt.Type, "job_id", evt.Key)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("subscribing lifecycle log: %w", err)
		}
		return bus, nil
	}

	bus, err := kafka.ConnectEventBus(ctx,
		&kafka.ClientConfig{Brokers: cfg.Brokers, ClientID: cfg.ClientID},
		&kafka.EventBusConfig{LifecycleTopic: cfg.Topic},
		log, metrics, tracer,
	)
	if err != nil {
		return nil, fmt.Errorf("connecting event bus: %w", err)
	}
	return bus, nil
}

func newDistributor(
	cfg config.DistributionConfig,
	tokens *delegation.Service,
	registry *executionserver.Registry,
	copier delegation.Copier,
	log *logger.Logger,
	tracer trace.Tracer,
) *delegation.Distributor {
	opts := []delegation.DistributorOption{delegation.WithConcurrency(cfg.Concurrency)}
	if cfg.TempDir != "" {
		opts = append(opts, delegation.WithTempDir(cfg.TempDir))
	}
	return delegation.NewDistributor(tokens, registry, copier, log, tracer, opts...)
}
