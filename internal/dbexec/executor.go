// Package dbexec runs generated queries against an external MySQL server for
// result previews. Execution is read-only and row-capped.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows is the subset of *sql.Rows a preview reads.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor runs one statement. ReadOnlyExecutor is the production
// implementation; ExecutorFunc adapts anything else.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// ExecutorFunc adapts a function to QueryExecutor.
type ExecutorFunc func(ctx context.Context, query string, args ...any) (Rows, error)

func (f ExecutorFunc) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	return f(ctx, query, args...)
}

// PoolExecutor queries db directly, without read-only session settings.
func PoolExecutor(db *sql.DB) ExecutorFunc {
	return func(ctx context.Context, query string, args ...any) (Rows, error) {
		if db == nil {
			return nil, sql.ErrConnDone
		}
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return rows, nil
	}
}
