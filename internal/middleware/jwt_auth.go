package middleware

import (
	"errors"
	"net/http"
	"time"

	"querycanvas/internal/observability"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuthConfig configures HS256 shared-secret bearer tokens.
type JWTAuthConfig struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// JWTAuthMiddleware validates HS256 bearer tokens signed with a shared secret.
// Tokens must carry exp and sub.
func JWTAuthMiddleware(cfg JWTAuthConfig, metrics *observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt auth enabled but secret not configured")
	}
	secret := []byte(cfg.Secret)

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (interface{}, error) { return secret, nil }

	observer := authObserver{method: "jwt", issuer: cfg.Issuer, metrics: metrics}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			raw := bearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				observer.reject(w, r, "missing_token", "missing bearer token", nil)
				return
			}

			claims := jwt.MapClaims{}
			if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
				observer.reject(w, r, jwtFailureReason(err), "invalid token", err)
				return
			}

			subject, _ := claims.GetSubject()
			if subject == "" {
				observer.reject(w, r, "missing_subject", "invalid token claims", errors.New("token has no sub claim"))
				return
			}
			issuer, _ := claims.GetIssuer()
			audience, _ := claims.GetAudience()

			r = observer.accept(r, AuthContext{
				Subject:  subject,
				Issuer:   issuer,
				Audience: audience,
				Method:   "jwt",
				Claims:   claims,
			})
			next.ServeHTTP(w, r)
		})
	}, nil
}

func jwtFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "time_validation_failed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return "signature_invalid"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "claims_mismatch"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	default:
		return "verification_failed"
	}
}
