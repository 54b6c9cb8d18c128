package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AdminResult labels the outcome of an admin endpoint call.
type AdminResult string

const (
	AdminDenied AdminResult = "denied"
	AdminFailed AdminResult = "failed"
	AdminOK     AdminResult = "ok"
)

// SecurityMetrics counts bearer token and admin endpoint outcomes. A nil
// *SecurityMetrics records nothing.
type SecurityMetrics struct {
	authRequests   metric.Int64Counter
	authRejections metric.Int64Counter
	adminRequests  metric.Int64Counter
}

// InitSecurityMetrics creates the security instruments on the global meter.
func InitSecurityMetrics() (*SecurityMetrics, error) {
	meter := otel.Meter(meterName + "/security")

	counters := []struct {
		name, desc string
		dst        *metric.Int64Counter
	}{
		{"security.auth.requests.total", "Bearer-authenticated requests by method and outcome", nil},
		{"security.auth.rejections.total", "Rejected bearer tokens by method and reason", nil},
		{"security.admin.requests.total", "Admin endpoint calls by operation and result", nil},
	}
	m := &SecurityMetrics{}
	counters[0].dst = &m.authRequests
	counters[1].dst = &m.authRejections
	counters[2].dst = &m.adminRequests

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

// AuthAccepted records a verified token. method is oidc or jwt.
func (m *SecurityMetrics) AuthAccepted(ctx context.Context, method, issuer string) {
	if m == nil {
		return
	}
	m.authRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", "accepted"),
		attribute.String("issuer", issuer),
	))
}

// AuthRejected records a missing, malformed or invalid token.
func (m *SecurityMetrics) AuthRejected(ctx context.Context, method, reason string) {
	if m == nil {
		return
	}
	m.authRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", "rejected"),
	))
	m.authRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("reason", reason),
	))
}

// AdminAccess records one call to an admin endpoint.
func (m *SecurityMetrics) AdminAccess(ctx context.Context, operation string, result AdminResult) {
	if m == nil {
		return
	}
	m.adminRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", string(result)),
	))
}
