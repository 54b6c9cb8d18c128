package dbexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"querycanvas/internal/logging"
	"querycanvas/internal/observability"
	"querycanvas/internal/query"
	"querycanvas/internal/sqlgen"
)

// ErrEmptyQuery reports a preview of a query with no base table.
var ErrEmptyQuery = errors.New("nothing to preview")

const (
	defaultMaxRows = 100
	defaultTimeout = 10 * time.Second
)

// PreviewResult holds the first rows of a query. Truncated is set when the
// query produced more rows than were returned.
type PreviewResult struct {
	SQL       string   `json:"sql"`
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}

// PreviewerConfig controls preview execution.
type PreviewerConfig struct {
	Executor QueryExecutor
	MaxRows  int
	Timeout  time.Duration
	Logger   *logging.Logger
	Metrics  *observability.BuilderMetrics
}

// Previewer runs queries in the MySQL dialect and returns a capped result.
type Previewer struct {
	exec    QueryExecutor
	maxRows int
	timeout time.Duration
	logger  *logging.Logger
	metrics *observability.BuilderMetrics
}

// NewPreviewer returns a previewer over cfg.Executor.
func NewPreviewer(cfg PreviewerConfig) *Previewer {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	return &Previewer{
		exec:    cfg.Executor,
		maxRows: cfg.MaxRows,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.WithFields(slog.String("component", "preview")),
		metrics: cfg.Metrics,
	}
}

// MaxRows reports the row cap.
func (p *Previewer) MaxRows() int { return p.maxRows }

// WrapStatement caps stmt at limit rows by selecting from it as a derived table.
func WrapStatement(stmt string, limit int) (string, error) {
	wrapped, _, err := sq.Select("*").
		From("(" + stmt + ") AS preview").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("failed to wrap preview statement: %w", err)
	}
	return wrapped, nil
}

// Preview generates q for MySQL and returns up to limit rows. A limit outside
// (0, MaxRows] uses MaxRows.
func (p *Previewer) Preview(ctx context.Context, q query.Query, limit int) (*PreviewResult, error) {
	if !q.From.IsSet() {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 || limit > p.maxRows {
		limit = p.maxRows
	}

	ctx, span := otel.Tracer("querycanvas/dbexec").Start(ctx, "dbexec.preview")
	defer span.End()

	stmt := sqlgen.Generate(q, sqlgen.MySQL, false)
	// one extra row detects truncation
	wrapped, err := WrapStatement(stmt, limit+1)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("preview.limit", limit))

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	result, err := p.run(ctx, wrapped, limit)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.record(ctx, elapsed, 0, false)
		p.logger.Warn("preview failed", slog.String("error", err.Error()), slog.Duration("duration", elapsed))
		return nil, err
	}
	result.SQL = stmt
	p.record(ctx, elapsed, int64(len(result.Rows)), true)
	p.logger.Debug("preview executed",
		slog.Int("rows", len(result.Rows)),
		slog.Bool("truncated", result.Truncated),
		slog.Duration("duration", elapsed),
	)
	return result, nil
}

func (p *Previewer) run(ctx context.Context, stmt string, limit int) (*PreviewResult, error) {
	if p.exec == nil {
		return nil, errors.New("preview database is not configured")
	}
	rows, err := p.exec.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("preview query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read preview columns: %w", err)
	}

	result := &PreviewResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if len(result.Rows) == limit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan preview row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("preview rows failed: %w", err)
	}
	return result, nil
}

func (p *Previewer) record(ctx context.Context, elapsed time.Duration, rows int64, success bool) {
	if p.metrics != nil {
		p.metrics.RecordPreview(ctx, elapsed, rows, success)
	}
}
