package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"querycanvas/internal/logging"
	"querycanvas/internal/observability"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// OIDCAuthConfig controls OIDC/JWKS validation behavior.
type OIDCAuthConfig struct {
	IssuerURL string
	Audience  string
	ClockSkew time.Duration
	// CAFile is a PEM bundle added to the system roots for issuer requests.
	CAFile string
}

// OIDCAuthMiddleware validates Bearer tokens against the issuer's JWKS.
// Token lifetime is checked with ClockSkew leeway after signature verification.
func OIDCAuthMiddleware(cfg OIDCAuthConfig, logger *logging.Logger, metrics *observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	if cfg.IssuerURL == "" || cfg.Audience == "" {
		return nil, errors.New("oidc auth enabled but issuer/audience not configured")
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 2 * time.Minute
	}

	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid oidc issuer url: %w", err)
	}
	if issuerURL.Scheme != "https" {
		return nil, errors.New("oidc issuer url must use https")
	}

	httpClient, err := newOIDCHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oidc provider: %w", err)
	}
	if logger != nil {
		logger.Info("oidc authentication enabled", "issuer", cfg.IssuerURL, "audience", cfg.Audience)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:        cfg.Audience,
		SkipExpiryCheck: true,
	})
	return oidcMiddleware(verifier, cfg, metrics), nil
}

func oidcMiddleware(verifier *oidc.IDTokenVerifier, cfg OIDCAuthConfig, metrics *observability.SecurityMetrics) func(http.Handler) http.Handler {
	observer := authObserver{method: "oidc", issuer: cfg.IssuerURL, metrics: metrics}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			raw := bearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				observer.reject(w, r, "missing_token", "missing bearer token", nil)
				return
			}

			idToken, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				observer.reject(w, r, "verification_failed", "invalid token", err)
				return
			}

			claims := jwt.MapClaims{}
			if err := idToken.Claims(&claims); err != nil {
				observer.reject(w, r, "claims_parse_failed", "invalid token claims", err)
				return
			}
			if err := validateTimeClaims(claims, time.Now(), cfg.ClockSkew); err != nil {
				observer.reject(w, r, "time_validation_failed", "invalid token", err)
				return
			}

			r = observer.accept(r, AuthContext{
				Subject:  idToken.Subject,
				Issuer:   idToken.Issuer,
				Audience: idToken.Audience,
				Method:   "oidc",
				Claims:   claims,
			})
			next.ServeHTTP(w, r)
		})
	}
}

func newOIDCHTTPClient(cfg OIDCAuthConfig) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read oidc CA file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse oidc CA file %q", cfg.CAFile)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: transport, Timeout: 10 * time.Second}, nil
}

// validateTimeClaims checks exp and nbf with leeway on both sides.
func validateTimeClaims(claims jwt.Claims, now time.Time, skew time.Duration) error {
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return err
	}
	if exp != nil && now.After(exp.Add(skew)) {
		return jwt.ErrTokenExpired
	}
	nbf, err := claims.GetNotBefore()
	if err != nil {
		return err
	}
	if nbf != nil && now.Add(skew).Before(nbf.Time) {
		return jwt.ErrTokenNotValidYet
	}
	return nil
}
