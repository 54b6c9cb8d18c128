package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"querycanvas/internal/api"
	"querycanvas/internal/builder"
	"querycanvas/internal/config"
	"querycanvas/internal/query"
	"querycanvas/internal/schemarefresh"
	"querycanvas/internal/sessions"
	"querycanvas/internal/sqlgen"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			_ = cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	manager, err := schemarefresh.NewManager(schemarefresh.Config{
		Source:      schemarefresh.FileSource{Path: a.cfg.Schema.File},
		Logger:      a.logger,
		Metrics:     metrics.schemaRefresh,
		MinInterval: a.cfg.Schema.RefreshMinInterval,
		MaxInterval: a.cfg.Schema.RefreshMaxInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to load schema graph: %w", err)
	}

	builderOptions, err := builderOptions(a.cfg.Builder.DefaultDialect, a.cfg.Builder.Pretty, a.cfg.Builder.DefaultJoinType)
	if err != nil {
		return err
	}
	store := sessions.NewStore(sessions.Config{
		IdleTimeout:    a.cfg.Sessions.IdleTimeout,
		SweepInterval:  a.cfg.Sessions.SweepInterval,
		MaxSessions:    a.cfg.Sessions.MaxSessions,
		Logger:         a.logger,
		Metrics:        metrics.builder,
		Graph:          manager.Graph,
		BuilderOptions: builderOptions,
	})
	manager.Subscribe(func(snapshot *schemarefresh.Snapshot) {
		store.SetGraph(snapshot.Graph)
	})

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	manager.Start(backgroundCtx)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		store.Run(backgroundCtx)
	}()
	cleanup.push("background workers", func(shutdownCtx context.Context) error {
		backgroundCancel()
		select {
		case <-sweeperDone:
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
		return manager.Wait(shutdownCtx)
	})

	var previewer api.Previewer
	preview, err := connectPreview(ctx, a.cfg, a.logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to connect to preview database: %w", err)
	}
	if preview != nil {
		cleanup.push("preview database", preview.close(a.logger))
		previewer = preview.previewer
	}

	graphqlHandler, err := buildGraphQLHandler(a.cfg, a.logger, api.Config{
		Store:     store,
		Graph:     manager.Graph,
		Previewer: previewer,
		Logger:    a.logger,
		GraphiQL:  a.cfg.Server.GraphiQLEnabled,
	}, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize GraphQL handler: %w", err)
	}

	adminHandler, err := buildAdminHandler(a.cfg, a.logger, manager, metrics.security)
	if err != nil {
		return fmt.Errorf("failed to initialize admin handler: %w", err)
	}

	health := healthChecks{graph: manager.Graph, timeout: a.cfg.Server.HealthCheckTimeout}
	if preview != nil {
		health.db = preview.db
	}
	mux := buildRouter(a.cfg, a.logger, health, graphqlHandler, adminHandler, meterProvider)
	handler := wrapHTTPHandler(a.cfg, a.logger, mux)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := buildServer(a.cfg, handler, serverAddr)
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.metrics = metrics
	a.tracerProvider = tracerProvider
	if preview != nil {
		a.previewDB = preview.db
		a.dbStatsReg = preview.statsReg
		a.previewer = preview.previewer
	}
	a.manager = manager
	a.store = store
	a.backgroundCancel = backgroundCancel
	a.graphqlHandler = graphqlHandler
	a.adminHandler = adminHandler
	a.mux = mux
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	a.logger.Info("server initialized",
		slog.String("schema_file", a.cfg.Schema.File),
		slog.Bool("preview_enabled", preview != nil),
		slog.String("default_dialect", a.cfg.Builder.DefaultDialect),
	)
	return nil
}

// builderOptions turns the session defaults into builder options.
func builderOptions(dialect string, pretty bool, joinType string) ([]builder.Option, error) {
	var opts []builder.Option
	if dialect != "" {
		d, err := sqlgen.Lookup(dialect)
		if err != nil {
			return nil, fmt.Errorf("invalid builder.default_dialect: %w", err)
		}
		opts = append(opts, builder.WithDialect(d))
	}
	opts = append(opts, builder.WithPretty(pretty))
	if joinType != "" {
		parsed, ok := query.ParseJoinType(joinType)
		if !ok {
			return nil, fmt.Errorf("invalid builder.default_join_type %q", joinType)
		}
		opts = append(opts, builder.WithDefaultJoinType(parsed))
	}
	return opts, nil
}

func buildServer(cfg *config.Config, handler http.Handler, addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
