// Command server runs the querycanvas GraphQL API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"querycanvas/internal/config"
	"querycanvas/internal/serverapp"

	"github.com/spf13/pflag"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

var errInvalidConfig = errors.New("configuration validation failed")

func versionString() string {
	return fmt.Sprintf("querycanvas %s (%s)", Version, Commit)
}

func main() {
	if err := run(); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	pflag.Bool("version", false, "Print version and exit")
	pflag.Bool("check-config", false, "Validate configuration, print a summary and exit")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if v, _ := pflag.CommandLine.GetBool("version"); v {
		fmt.Println(versionString())
		return nil
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	result := cfg.Validate()
	reportValidation(slog.Default(), result)
	if result.HasErrors() {
		return errInvalidConfig
	}
	if check, _ := pflag.CommandLine.GetBool("check-config"); check {
		printSummary(os.Stdout, cfg)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, loggerProvider, err := serverapp.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	app, err := serverapp.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	app.AttachLoggerProvider(loggerProvider)

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return app.Shutdown(shutdownCtx)
	}

	if err := app.Init(ctx); err != nil {
		return err
	}
	serverErrors, err := app.Start()
	if err != nil {
		_ = shutdown()
		return err
	}
	logger.Info("querycanvas ready",
		slog.String("version", Version),
		slog.String("schema_file", cfg.Schema.File),
		slog.Bool("preview", cfg.Preview.Enabled),
	)

	reason, waitErr := app.WaitForStop(ctx, serverErrors)
	logger.Info("shutting down server gracefully", slog.String("reason", string(reason)))
	if err := errors.Join(waitErr, shutdown()); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

func reportValidation(logger *slog.Logger, result *config.ValidationResult) {
	for _, w := range result.Warnings {
		logger.Warn("configuration warning",
			slog.String("field", w.Field),
			slog.String("message", w.Message),
			slog.String("hint", w.Hint),
		)
	}
	for _, e := range result.Errors {
		logger.Error("configuration error",
			slog.String("field", e.Field),
			slog.String("message", e.Message),
			slog.String("hint", e.Hint),
		)
	}
}

// printSummary writes the effective settings that matter when debugging a
// deployment. Secrets are never printed.
func printSummary(w io.Writer, cfg *config.Config) {
	auth := "none"
	switch {
	case cfg.Server.Auth.OIDCEnabled:
		auth = "oidc"
	case cfg.Server.Auth.JWTEnabled:
		auth = "jwt"
	}
	fmt.Fprintf(w, "schema.file: %s\n", cfg.Schema.File)
	fmt.Fprintf(w, "builder.default_dialect: %s\n", cfg.Builder.DefaultDialect)
	fmt.Fprintf(w, "builder.default_join_type: %s\n", cfg.Builder.DefaultJoinType)
	fmt.Fprintf(w, "sessions.max_sessions: %d\n", cfg.Sessions.MaxSessions)
	fmt.Fprintf(w, "sessions.idle_timeout: %s\n", cfg.Sessions.IdleTimeout)
	fmt.Fprintf(w, "preview.enabled: %t\n", cfg.Preview.Enabled)
	fmt.Fprintf(w, "server.port: %d\n", cfg.Server.Port)
	fmt.Fprintf(w, "server.auth: %s\n", auth)
}
