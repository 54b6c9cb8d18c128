package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"querycanvas/internal/sqlutil"
)

// ReadOnlyExecutor runs each query on a dedicated connection switched to
// read-only transactions, optionally with a server-side execution limit.
type ReadOnlyExecutor struct {
	db           *sql.DB
	databaseName string
	maxExecution time.Duration
}

// ReadOnlyExecutorConfig controls read-only execution behavior.
type ReadOnlyExecutorConfig struct {
	DB           *sql.DB
	DatabaseName string
	// MaxExecution maps to MAX_EXECUTION_TIME; zero leaves the server default.
	MaxExecution time.Duration
}

// NewReadOnlyExecutor creates an executor that pins session settings on a
// connection before each query and restores them when the rows are closed.
func NewReadOnlyExecutor(cfg ReadOnlyExecutorConfig) *ReadOnlyExecutor {
	return &ReadOnlyExecutor{
		db:           cfg.DB,
		databaseName: cfg.DatabaseName,
		maxExecution: cfg.MaxExecution,
	}
}

func (e *ReadOnlyExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	cleanup := func() {
		_, _ = conn.ExecContext(context.Background(), "SET SESSION TRANSACTION READ WRITE")
		if e.maxExecution > 0 {
			_, _ = conn.ExecContext(context.Background(), "SET SESSION MAX_EXECUTION_TIME = 0")
		}
		_ = conn.Close()
	}

	if err := e.prepare(ctx, conn); err != nil {
		cleanup()
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		cleanup()
		return nil, err
	}
	return &connRows{Rows: rows, cleanup: cleanup}, nil
}

func (e *ReadOnlyExecutor) prepare(ctx context.Context, conn *sql.Conn) error {
	if _, err := conn.ExecContext(ctx, "SET SESSION TRANSACTION READ ONLY"); err != nil {
		return fmt.Errorf("failed to enable read-only mode: %w", err)
	}
	if e.maxExecution > 0 {
		// MAX_EXECUTION_TIME is not parameterizable; the value is an integer.
		stmt := fmt.Sprintf("SET SESSION MAX_EXECUTION_TIME = %d", e.maxExecution.Milliseconds())
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set execution limit: %w", err)
		}
	}
	if e.databaseName != "" {
		useSQL := fmt.Sprintf("USE %s", sqlutil.QuoteIdentifier(e.databaseName))
		if _, err := conn.ExecContext(ctx, useSQL); err != nil {
			return fmt.Errorf("failed to select database %s: %w", e.databaseName, err)
		}
	}
	return nil
}

type connRows struct {
	*sql.Rows
	cleanup func()
}

func (r *connRows) Close() error {
	defer r.cleanup()
	return r.Rows.Close()
}
