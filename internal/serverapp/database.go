package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"querycanvas/internal/config"
	"querycanvas/internal/dbexec"
	"querycanvas/internal/logging"

	"github.com/XSAM/otelsql"
	"github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// previewConn is the optional result-preview database.
type previewConn struct {
	db        *sql.DB
	statsReg  interface{ Unregister() error }
	previewer *dbexec.Previewer
}

func (p *previewConn) close(logger *logging.Logger) func(context.Context) error {
	return func(context.Context) error {
		if p.statsReg != nil {
			if err := p.statsReg.Unregister(); err != nil {
				logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return p.db.Close()
	}
}

// connectPreview opens, verifies and wraps the preview database. It returns
// nil when previews are disabled.
func connectPreview(ctx context.Context, cfg *config.Config, logger *logging.Logger, metrics metricsSet) (*previewConn, error) {
	if !cfg.Preview.Enabled {
		logger.Info("result previews disabled")
		return nil, nil
	}

	driverCfg, err := cfg.Preview.DriverConfig()
	if err != nil {
		return nil, err
	}
	logger.Info("connecting to preview database",
		slog.String("addr", driverCfg.Addr),
		slog.String("database", driverCfg.DBName),
		slog.String("user", driverCfg.User),
		slog.Bool("dsn_present", cfg.Preview.ConnectionString != ""),
		slog.String("tls_mode", cfg.Preview.TLS.Mode),
	)

	db, statsReg, err := openPreviewDB(cfg, logger, driverCfg)
	if err != nil {
		return nil, err
	}
	conn := &previewConn{db: db, statsReg: statsReg}

	db.SetMaxOpenConns(cfg.Preview.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Preview.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Preview.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg.Preview.ConnectionTimeout, cfg.Preview.ConnectionRetryInterval, logger, db); err != nil {
		_ = conn.close(logger)(ctx)
		return nil, err
	}
	logger.Info("connected to preview database",
		slog.String("database", driverCfg.DBName),
		slog.Int("pool_max_open", cfg.Preview.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Preview.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Preview.Pool.MaxLifetime),
	)

	conn.previewer = dbexec.NewPreviewer(dbexec.PreviewerConfig{
		Executor: dbexec.NewReadOnlyExecutor(dbexec.ReadOnlyExecutorConfig{
			DB:           db,
			DatabaseName: driverCfg.DBName,
			MaxExecution: cfg.Preview.MaxExecutionTime,
		}),
		MaxRows: cfg.Preview.MaxRows,
		Timeout: cfg.Preview.Timeout,
		Logger:  logger,
		Metrics: metrics.builder,
	})
	return conn, nil
}

// openPreviewDB builds the pool from a connector so custom TLS settings never
// pass through a DSN string.
func openPreviewDB(cfg *config.Config, logger *logging.Logger, driverCfg *mysql.Config) (*sql.DB, interface{ Unregister() error }, error) {
	connector, err := mysql.NewConnector(driverCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}

	obs := cfg.Observability
	if !obs.MetricsEnabled && !obs.TracingEnabled {
		return sql.OpenDB(connector), nil, nil
	}

	opts := []otelsql.Option{
		otelsql.WithAttributes(semconv.DBSystemMySQL),
	}
	if obs.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}
	if obs.SQLCommenterEnabled && obs.TracingEnabled {
		opts = append(opts, otelsql.WithSQLCommenter(true))
		logger.Info("SQLCommenter enabled - trace context will be injected into preview SQL")
	} else if obs.SQLCommenterEnabled {
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db := otelsql.OpenDB(connector, opts...)

	var statsReg interface{ Unregister() error }
	if obs.MetricsEnabled {
		reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		} else {
			statsReg = reg
		}
	}

	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", obs.MetricsEnabled),
		slog.Bool("tracing", obs.TracingEnabled),
		slog.Bool("sqlcommenter", obs.SQLCommenterEnabled && obs.TracingEnabled),
	)
	return db, statsReg, nil
}

// waitForDatabase pings until the database answers or timeout elapses. A
// zero timeout tries once.
func waitForDatabase(ctx context.Context, timeout, interval time.Duration, logger *logging.Logger, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout == 0 {
		return db.PingContext(ctx)
	}
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.Now().Add(timeout)
	attempt := 0
	for {
		attempt++
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}
