package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"querycanvas/internal/logging"
	"querycanvas/internal/observability"
)

const (
	defaultAdminTokenHeader = "X-Admin-Token"
	adminTokenIdentity      = "admin_token"
)

// AdminTokenAuthConfig protects admin endpoints with one shared token.
type AdminTokenAuthConfig struct {
	Token string
	// HeaderName defaults to X-Admin-Token. An "Authorization: Bearer" header
	// carrying the same token is accepted too.
	HeaderName string
	// Operation labels logs and metrics, e.g. schema_reload.
	Operation string
	Metrics   *observability.SecurityMetrics
}

// AdminTokenAuthMiddleware rejects requests that do not present the token.
func AdminTokenAuthMiddleware(cfg AdminTokenAuthConfig) (func(http.Handler) http.Handler, error) {
	expected := sha256.Sum256([]byte(strings.TrimSpace(cfg.Token)))
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("admin auth token is required")
	}
	header := strings.TrimSpace(cfg.HeaderName)
	if header == "" {
		header = defaultAdminTokenHeader
	}
	operation := cfg.Operation
	if operation == "" {
		operation = "admin"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := presentedAdminToken(r, header)
			digest := sha256.Sum256([]byte(presented))
			if presented == "" || subtle.ConstantTimeCompare(digest[:], expected[:]) != 1 {
				cfg.Metrics.AdminAccess(r.Context(), operation, observability.AdminDenied)
				logging.FromContext(r.Context()).Warn("admin token rejected",
					slog.String("operation", operation),
					slog.Bool("token_present", presented != ""),
					slog.String("remote_addr", r.RemoteAddr),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = fmt.Fprint(w, `{"error":"unauthorized"}`)
				return
			}

			ctx := WithAuthContext(r.Context(), AuthContext{
				Subject: adminTokenIdentity,
				Issuer:  adminTokenIdentity,
				Method:  adminTokenIdentity,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func presentedAdminToken(r *http.Request, header string) string {
	if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
		return v
	}
	return bearerToken(r.Header.Get("Authorization"))
}
