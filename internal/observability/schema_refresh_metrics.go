package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SchemaRefreshMetrics tracks schema graph loads and the size of the graph
// currently served.
type SchemaRefreshMetrics struct {
	attempts metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram

	// read by the gauge callback
	lastSuccess   atomic.Int64
	tables        atomic.Int64
	relationships atomic.Int64
}

// InitSchemaRefreshMetrics creates the refresh instruments and registers the
// observable gauges, which report nothing until the first successful load.
func InitSchemaRefreshMetrics(logger *slog.Logger) (*SchemaRefreshMetrics, error) {
	meter := otel.Meter(meterName)
	m := &SchemaRefreshMetrics{}
	var err error

	if m.attempts, err = meter.Int64Counter("schema.refresh.total",
		metric.WithDescription("Schema graph load attempts by trigger and result")); err != nil {
		return nil, fmt.Errorf("schema.refresh.total: %w", err)
	}
	if m.failures, err = meter.Int64Counter("schema.refresh.errors.total",
		metric.WithDescription("Schema graph loads that failed to read or validate")); err != nil {
		return nil, fmt.Errorf("schema.refresh.errors.total: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("schema.refresh.duration",
		metric.WithDescription("Time to read, decode and fingerprint the schema graph"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("schema.refresh.duration: %w", err)
	}

	lastSuccess, err := meter.Int64ObservableGauge("schema.refresh.last_success_unix",
		metric.WithDescription("Unix time of the last successful schema graph load"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("schema.refresh.last_success_unix: %w", err)
	}
	size, err := meter.Int64ObservableGauge("schema.graph.size",
		metric.WithDescription("Tables and relationships in the served schema graph"))
	if err != nil {
		return nil, fmt.Errorf("schema.graph.size: %w", err)
	}

	tablesAttr := metric.WithAttributes(attribute.String("kind", "tables"))
	relationshipsAttr := metric.WithAttributes(attribute.String("kind", "relationships"))
	if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		ts := m.lastSuccess.Load()
		if ts == 0 {
			return nil
		}
		o.ObserveInt64(lastSuccess, ts)
		o.ObserveInt64(size, m.tables.Load(), tablesAttr)
		o.ObserveInt64(size, m.relationships.Load(), relationshipsAttr)
		return nil
	}, lastSuccess, size); err != nil {
		return nil, fmt.Errorf("failed to register schema refresh gauges: %w", err)
	}

	logger.Info("schema refresh metrics initialized")
	return m, nil
}

// RecordRefresh records one load attempt. trigger is startup, poll,
// poll_no_change, manual or manual_no_change.
func (m *SchemaRefreshMetrics) RecordRefresh(ctx context.Context, duration time.Duration, success bool, trigger string) {
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.Bool("success", success),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if !success {
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
		return
	}
	m.lastSuccess.Store(time.Now().Unix())
}

// RecordGraphSize stores the size of the active graph for the size gauge.
func (m *SchemaRefreshMetrics) RecordGraphSize(tables, relationships int) {
	m.tables.Store(int64(tables))
	m.relationships.Store(int64(relationships))
}
