package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTAuthMiddleware(t *testing.T) {
	mw, err := JWTAuthMiddleware(JWTAuthConfig{Secret: testSecret, Issuer: "qc-tests", Audience: "querycanvas", ClockSkew: time.Minute}, nil)
	require.NoError(t, err)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(OwnerFromContext(r.Context())))
	}))

	exp := time.Now().Add(time.Hour).Unix()
	base := func(extra jwt.MapClaims) jwt.MapClaims {
		claims := jwt.MapClaims{"iss": "qc-tests", "aud": "querycanvas", "sub": "bob", "exp": exp}
		for k, v := range extra {
			claims[k] = v
		}
		return claims
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, base(nil)).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"valid", signHS256(t, testSecret, base(nil)), http.StatusOK},
		{"wrong secret", signHS256(t, "another-secret-another-secret-00", base(nil)), http.StatusUnauthorized},
		{"expired", signHS256(t, testSecret, base(jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})), http.StatusUnauthorized},
		{"no exp", signHS256(t, testSecret, jwt.MapClaims{"iss": "qc-tests", "aud": "querycanvas", "sub": "bob"}), http.StatusUnauthorized},
		{"wrong issuer", signHS256(t, testSecret, base(jwt.MapClaims{"iss": "elsewhere"})), http.StatusUnauthorized},
		{"wrong audience", signHS256(t, testSecret, base(jwt.MapClaims{"aud": "other"})), http.StatusUnauthorized},
		{"no subject", signHS256(t, testSecret, base(jwt.MapClaims{"sub": ""})), http.StatusUnauthorized},
		{"alg none", none, http.StatusUnauthorized},
		{"garbage", "not.a.jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "qc-tests|bob", rec.Body.String())
			}
		})
	}
}

func TestJWTAuthMiddleware_RequiresSecret(t *testing.T) {
	_, err := JWTAuthMiddleware(JWTAuthConfig{}, nil)
	assert.Error(t, err)
}

func TestJWTFailureReason(t *testing.T) {
	assert.Equal(t, "time_validation_failed", jwtFailureReason(jwt.ErrTokenExpired))
	assert.Equal(t, "signature_invalid", jwtFailureReason(jwt.ErrTokenSignatureInvalid))
	assert.Equal(t, "claims_mismatch", jwtFailureReason(jwt.ErrTokenInvalidAudience))
	assert.Equal(t, "malformed", jwtFailureReason(jwt.ErrTokenMalformed))
}

func TestOwnerFromContext_Anonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, AnonymousOwner, OwnerFromContext(req.Context()))
}
