package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"querycanvas/internal/config"
	"querycanvas/internal/dbexec"
	"querycanvas/internal/logging"
	"querycanvas/internal/observability"
	"querycanvas/internal/schemarefresh"
	"querycanvas/internal/sessions"
)

// App owns runtime resources for the querycanvas server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	meterProvider  *observability.MeterProvider
	metrics        metricsSet
	tracerProvider *observability.TracerProvider

	previewDB  *sql.DB
	dbStatsReg interface{ Unregister() error }
	previewer  *dbexec.Previewer

	manager          *schemarefresh.Manager
	store            *sessions.Store
	backgroundCancel context.CancelFunc

	graphqlHandler http.Handler
	adminHandler   http.Handler
	mux            *http.ServeMux
	handler        http.Handler

	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// metricsSet groups the instrument bundles; all are nil when metrics are off.
type metricsSet struct {
	graphql       *observability.GraphQLMetrics
	builder       *observability.BuilderMetrics
	schemaRefresh *observability.SchemaRefreshMetrics
	security      *observability.SecurityMetrics
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Preview.Enabled {
		if _, err := cfg.Preview.DriverConfig(); err != nil {
			return nil, fmt.Errorf("failed to resolve preview database configuration: %w", err)
		}
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the root HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
