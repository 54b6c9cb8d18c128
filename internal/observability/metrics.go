package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "querycanvas"

// GraphQLMetrics holds custom metrics for GraphQL API requests
type GraphQLMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

// InitGraphQLMetrics initializes GraphQL-specific metrics
func InitGraphQLMetrics() (*GraphQLMetrics, error) {
	meter := otel.Meter(meterName)

	requestDuration, err := meter.Float64Histogram(
		"graphql.request.duration",
		metric.WithDescription("Duration of GraphQL requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"graphql.requests.total",
		metric.WithDescription("Total number of GraphQL requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"graphql.errors.total",
		metric.WithDescription("Total number of GraphQL errors returned, by extensions.code"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"graphql.requests.active",
		metric.WithDescription("Number of in-flight GraphQL requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	return &GraphQLMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
	}, nil
}

// RequestSample is one finished GraphQL request.
type RequestSample struct {
	Duration  time.Duration
	Operation string // query, mutation or unknown
	// RootField is the single top-level field, "multiple" or "none".
	RootField string
	Failed    bool
	// ErrorCodes holds extensions.code for each returned error; uncoded
	// errors appear as "UNCODED".
	ErrorCodes []string
}

// RecordRequest records a GraphQL request with its duration and outcome.
func (m *GraphQLMetrics) RecordRequest(ctx context.Context, sample RequestSample) {
	attrs := metric.WithAttributes(
		attribute.String("operation", sample.Operation),
		attribute.String("root_field", sample.RootField),
		attribute.Bool("has_errors", sample.Failed),
	)
	m.requestDuration.Record(ctx, float64(sample.Duration.Microseconds())/1000, attrs)
	m.requestCounter.Add(ctx, 1, attrs)
	for _, code := range sample.ErrorCodes {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", sample.Operation),
			attribute.String("code", code),
		))
	}
}

// IncrementActiveRequests increments the active requests counter
func (m *GraphQLMetrics) IncrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *GraphQLMetrics) DecrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes the GraphQL request metrics.
func InitMetrics(logger *slog.Logger) (*GraphQLMetrics, error) {
	metrics, err := InitGraphQLMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GraphQL metrics: %w", err)
	}

	logger.Info("custom GraphQL metrics initialized")
	return metrics, nil
}

// BuilderMetrics tracks query builder commands, relationship signals,
// live sessions and preview executions.
type BuilderMetrics struct {
	commandCounter  metric.Int64Counter
	commandDuration metric.Float64Histogram
	signalCounter   metric.Int64Counter
	activeSessions  metric.Int64UpDownCounter
	sessionsEvicted metric.Int64Counter
	previewDuration metric.Float64Histogram
	previewRows     metric.Int64Histogram
}

// InitBuilderMetrics initializes builder metrics.
func InitBuilderMetrics(logger *slog.Logger) (*BuilderMetrics, error) {
	meter := otel.Meter(meterName)

	commandCounter, err := meter.Int64Counter(
		"builder.commands.total",
		metric.WithDescription("Total number of builder commands by operation and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create builder command counter: %w", err)
	}

	commandDuration, err := meter.Float64Histogram(
		"builder.command.duration",
		metric.WithDescription("Duration of builder commands including SQL regeneration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create builder command duration histogram: %w", err)
	}

	signalCounter, err := meter.Int64Counter(
		"builder.signals.total",
		metric.WithDescription("Total number of relationship signals raised to the caller"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create builder signal counter: %w", err)
	}

	activeSessions, err := meter.Int64UpDownCounter(
		"builder.sessions.active",
		metric.WithDescription("Number of live builder sessions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active sessions counter: %w", err)
	}

	sessionsEvicted, err := meter.Int64Counter(
		"builder.sessions.evicted.total",
		metric.WithDescription("Total number of builder sessions evicted after idling"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evicted sessions counter: %w", err)
	}

	previewDuration, err := meter.Float64Histogram(
		"builder.preview.duration",
		metric.WithDescription("Duration of preview executions in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create preview duration histogram: %w", err)
	}

	previewRows, err := meter.Int64Histogram(
		"builder.preview.rows",
		metric.WithDescription("Number of rows returned by preview executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create preview rows histogram: %w", err)
	}

	logger.Info("builder metrics initialized")
	return &BuilderMetrics{
		commandCounter:  commandCounter,
		commandDuration: commandDuration,
		signalCounter:   signalCounter,
		activeSessions:  activeSessions,
		sessionsEvicted: sessionsEvicted,
		previewDuration: previewDuration,
		previewRows:     previewRows,
	}, nil
}

// RecordCommand records one builder command.
func (m *BuilderMetrics) RecordCommand(ctx context.Context, op, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	m.commandCounter.Add(ctx, 1, attrs)
	m.commandDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordSignal records a relationship signal of the given kind.
func (m *BuilderMetrics) RecordSignal(ctx context.Context, kind string) {
	m.signalCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// AddActiveSessions adjusts the live session gauge by delta.
func (m *BuilderMetrics) AddActiveSessions(ctx context.Context, delta int64) {
	m.activeSessions.Add(ctx, delta)
}

// RecordEvictions records sessions removed by the idle sweep.
func (m *BuilderMetrics) RecordEvictions(ctx context.Context, count int64) {
	if count <= 0 {
		return
	}
	m.sessionsEvicted.Add(ctx, count)
}

// RecordPreview records a preview execution.
func (m *BuilderMetrics) RecordPreview(ctx context.Context, duration time.Duration, rows int64, success bool) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.previewDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	if success {
		m.previewRows.Record(ctx, rows)
	}
}
