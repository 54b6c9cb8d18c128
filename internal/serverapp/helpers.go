package serverapp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"querycanvas/internal/api"
	"querycanvas/internal/config"
	"querycanvas/internal/logging"
	"querycanvas/internal/middleware"
	"querycanvas/internal/observability"
	"querycanvas/internal/schemagraph"
	"querycanvas/internal/schemarefresh"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// authMiddleware returns the configured bearer-token middleware, or nil when
// the API is unauthenticated.
func authMiddleware(cfg *config.Config, logger *logging.Logger, securityMetrics *observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	auth := cfg.Server.Auth
	switch {
	case auth.OIDCEnabled:
		return middleware.OIDCAuthMiddleware(middleware.OIDCAuthConfig{
			IssuerURL: auth.OIDCIssuerURL,
			Audience:  auth.OIDCAudience,
			ClockSkew: auth.OIDCClockSkew,
			CAFile:    auth.OIDCCAFile,
		}, logger, securityMetrics)
	case auth.JWTEnabled:
		return middleware.JWTAuthMiddleware(middleware.JWTAuthConfig{
			Secret:    auth.JWTSecret,
			Issuer:    auth.JWTIssuer,
			Audience:  auth.JWTAudience,
			ClockSkew: auth.OIDCClockSkew,
		}, securityMetrics)
	default:
		return nil, nil
	}
}

func buildGraphQLHandler(cfg *config.Config, logger *logging.Logger, apiCfg api.Config, metrics metricsSet) (http.Handler, error) {
	graphqlHandler, err := api.NewHandler(apiCfg)
	if err != nil {
		return nil, err
	}

	tracingHandler := middleware.GraphQLTracingMiddleware()(graphqlHandler)

	metricsHandler := tracingHandler
	if cfg.Observability.MetricsEnabled && metrics.graphql != nil {
		metricsHandler = middleware.GraphQLMetricsMiddleware(metrics.graphql)(tracingHandler)
		logger.Info("GraphQL metrics middleware enabled")
	}

	// The chain is:
	//   request -> logging -> auth -> metrics -> tracing -> graphql
	// Sessions are owned by the authenticated subject, so auth must run
	// before any resolver.
	authHandler := metricsHandler
	auth, err := authMiddleware(cfg, logger, metrics.security)
	if err != nil {
		return nil, err
	}
	if auth != nil {
		authHandler = auth(metricsHandler)
	} else {
		logger.Warn("GraphQL endpoint is not authenticated - all sessions share the anonymous owner")
	}

	return middleware.LoggingMiddleware(logger)(authHandler), nil
}

func buildAdminHandler(cfg *config.Config, logger *logging.Logger, manager *schemarefresh.Manager, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	var adminHandler http.Handler = http.HandlerFunc(schemaReloadHandler(manager, securityMetrics))

	if token := strings.TrimSpace(cfg.Server.Admin.AuthToken); token != "" {
		tokenAuth, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
			Token:     token,
			Operation: "schema_reload",
			Metrics:   securityMetrics,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("admin endpoints require the admin token")
		return middleware.LoggingMiddleware(logger)(tokenAuth(adminHandler)), nil
	}

	auth, err := authMiddleware(cfg, logger, securityMetrics)
	if err != nil {
		return nil, err
	}
	if auth != nil {
		adminHandler = auth(adminHandler)
		logger.Info("admin endpoints require authentication")
	} else {
		logger.Warn("admin endpoints are not authenticated - consider setting server.admin.auth_token")
	}
	return middleware.LoggingMiddleware(logger)(adminHandler), nil
}

// healthChecks reports the schema graph and, when configured, the preview
// database.
type healthChecks struct {
	graph   func() *schemagraph.Graph
	db      *sql.DB
	timeout time.Duration
}

const (
	routeRoot         = "/"
	routeGraphQL      = "/graphql"
	routeHealth       = "/health"
	routeMetrics      = "/metrics"
	routeSchemaReload = "/admin/reload-schema"
)

func buildRouter(cfg *config.Config, logger *logging.Logger, health healthChecks, graphqlHandler http.Handler, adminHandler http.Handler, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(routeGraphQL, graphqlHandler)
	mux.HandleFunc(routeRoot, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == routeRoot {
			http.Redirect(w, r, routeGraphQL, http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc(routeHealth, healthHandler(health))
	if cfg.Server.Admin.SchemaReloadEnabled {
		mux.Handle(routeSchemaReload, adminHandler)
		logger.Info("admin endpoint enabled", slog.String("path", routeSchemaReload))
	}

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle(routeMetrics, promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", routeMetrics))
	}

	return mux
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORSMiddleware(middleware.CORSConfig{
			Enabled:          cfg.Server.CORSEnabled,
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   cfg.Server.CORSAllowedMethods,
			AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
			ExposeHeaders:    cfg.Server.CORSExposeHeaders,
			AllowCredentials: cfg.Server.CORSAllowCredentials,
			MaxAge:           cfg.Server.CORSMaxAge,
		})(handler)
	}

	if cfg.Server.RateLimitEnabled {
		handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled: cfg.Server.RateLimitEnabled,
			RPS:     cfg.Server.RateLimitRPS,
			Burst:   cfg.Server.RateLimitBurst,
		})(handler)
	}

	return handler
}

// httpRootSpanName names server spans "METHOD route". Paths outside the
// router collapse to /* to keep span names low-cardinality.
func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case routeRoot, routeGraphQL, routeHealth, routeMetrics, routeSchemaReload:
		return rawPath
	}
	return "/*"
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		logAttrs := []any{
			slog.String("address", serverAddr),
			slog.String("graphql_endpoint", routeGraphQL),
			slog.String("health_endpoint", routeHealth),
			slog.String("schema_file", cfg.Schema.File),
			slog.Bool("preview_enabled", cfg.Preview.Enabled),
			slog.String("log_level", cfg.Observability.Logging.Level),
			slog.String("log_format", cfg.Observability.Logging.Format),
		}

		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", routeMetrics))
		}

		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
			)
		}

		logger.Info("server starting", logAttrs...)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

type healthStatus struct {
	Status   string `json:"status"`
	Tables   int    `json:"tables"`
	Database string `json:"database"`
}

// healthHandler returns an HTTP handler for health checks
func healthHandler(h healthChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		status := healthStatus{Status: "healthy", Database: "disabled"}
		if h.graph != nil {
			status.Tables = len(h.graph().Tables())
		}

		code := http.StatusOK
		if h.db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			if err := h.db.PingContext(ctx); err != nil {
				reqLogger.Error("health check failed",
					slog.String("error", err.Error()),
					slog.String("check", "database"),
				)
				// generic message, no driver details
				status.Status, status.Database = "unhealthy", "failed"
				code = http.StatusServiceUnavailable
			} else {
				status.Database = "ok"
			}
		}

		if code == http.StatusOK {
			reqLogger.Debug("health check passed")
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}

func schemaReloadHandler(manager *schemarefresh.Manager, securityMetrics *observability.SecurityMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprint(w, `{"error":"method not allowed"}`)
			return
		}

		authCtx, authenticated := middleware.AuthFromContext(r.Context())
		logAttrs := []any{
			slog.String("operation", "schema_reload"),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Bool("authenticated", authenticated),
		}
		if authenticated {
			logAttrs = append(logAttrs,
				slog.String("authenticated_user", authCtx.Subject),
				slog.String("issuer", authCtx.Issuer),
			)
		}
		reqLogger.Info("admin endpoint accessed", logAttrs...)

		refreshCtx, refreshCancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer refreshCancel()

		changed, err := manager.Reload(refreshCtx)
		if err != nil {
			securityMetrics.AdminAccess(r.Context(), "schema_reload", observability.AdminFailed)
			reqLogger.Error("schema reload failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprint(w, `{"status":"error","message":"schema reload failed"}`)
			return
		}

		securityMetrics.AdminAccess(r.Context(), "schema_reload", observability.AdminOK)

		reqLogger.Info("schema reloaded successfully", append(logAttrs, slog.Bool("changed", changed))...)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","changed":%t}`, changed)
	}
}
