package routes

import (
	"github.com/NIRALUser/clusterpost/internal/api/mux"
	"github.com/NIRALUser/clusterpost/internal/api/routes/download"
	"github.com/NIRALUser/clusterpost/internal/api/routes/executionserver"
	"github.com/NIRALUser/clusterpost/internal/api/routes/health"
	"github.com/NIRALUser/clusterpost/internal/api/routes/jobs"
	"github.com/NIRALUser/clusterpost/pkg/web"
)

// Routes constructs an add value which provides the implementation of
// RouteAdder for specifying what routes to bind to this instance.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements the RouteAdder interface.
func (add) Add(app *web.App, cfg mux.Config) {
	// Health check routes
	health.Routes(app, health.Config{
		Build: cfg.Build,
		Log:   cfg.Log,
		Store: cfg.Store,
	})

	// Job document routes
	jobs.Routes(app, jobs.Config{
		Log:       cfg.Log,
		Lifecycle: cfg.Lifecycle,
		Verifier:  cfg.Tokens,
	})

	// Execution server routes
	executionserver.Routes(app, executionserver.Config{
		Log:         cfg.Log,
		Lifecycle:   cfg.Lifecycle,
		Servers:     cfg.Servers,
		Tokens:      cfg.Tokens,
		DeleteQueue: cfg.Queues,
		Verifier:    cfg.Tokens,
	})

	// Download routes
	download.Routes(app, download.Config{
		Log:        cfg.Log,
		Downloader: cfg.Lifecycle,
	})
}
