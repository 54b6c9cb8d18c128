package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"querycanvas/internal/logging"
	"querycanvas/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AnonymousOwner owns every session when authentication is disabled.
const AnonymousOwner = "anonymous"

type authContextKey struct{}

// AuthContext carries validated JWT claims.
type AuthContext struct {
	Subject  string
	Issuer   string
	Audience []string
	Method   string
	Claims   map[string]interface{}
}

// AuthFromContext returns the auth context from a request context.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(AuthContext)
	return auth, ok
}

// WithAuthContext stores auth on ctx.
func WithAuthContext(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// OwnerFromContext returns the authenticated subject, or AnonymousOwner.
// Sessions are scoped to this value.
func OwnerFromContext(ctx context.Context) string {
	if auth, ok := AuthFromContext(ctx); ok && auth.Subject != "" {
		return auth.Issuer + "|" + auth.Subject
	}
	return AnonymousOwner
}

func bearerToken(value string) string {
	scheme, token, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, message)
}

// authObserver reports bearer token outcomes to metrics, logs and the active span.
type authObserver struct {
	method  string
	issuer  string
	metrics *observability.SecurityMetrics
}

func (o authObserver) reject(w http.ResponseWriter, r *http.Request, reason, message string, err error) {
	o.metrics.AuthRejected(r.Context(), o.method, reason)
	attrs := []any{
		slog.String("method", o.method),
		slog.String("reason", reason),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logging.FromContext(r.Context()).Warn("authentication failed", attrs...)
	writeUnauthorized(w, message)
}

func (o authObserver) accept(r *http.Request, auth AuthContext) *http.Request {
	ctx := r.Context()
	o.metrics.AuthAccepted(ctx, o.method, o.issuer)
	logging.FromContext(ctx).Debug("authentication successful",
		slog.String("method", o.method),
		slog.String("subject", auth.Subject),
		slog.String("path", r.URL.Path),
	)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("auth.method", o.method),
			attribute.String("auth.subject", auth.Subject),
			attribute.Bool("auth.authenticated", true),
		)
		if len(auth.Audience) > 0 {
			span.SetAttributes(attribute.StringSlice("auth.audience", auth.Audience))
		}
	}
	return r.WithContext(WithAuthContext(ctx, auth))
}
