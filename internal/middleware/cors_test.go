package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSMiddleware(t *testing.T) {
	local := CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"http://localhost:3000", " "},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           3600,
	}

	tests := []struct {
		name       string
		cfg        CORSConfig
		method     string
		origin     string
		wantStatus int
		want       map[string]string
	}{
		{
			name: "disabled", cfg: CORSConfig{}, method: http.MethodGet, origin: "http://localhost:3000",
			wantStatus: http.StatusOK, want: map[string]string{"Access-Control-Allow-Origin": ""},
		},
		{
			name: "allowed origin", cfg: local, method: http.MethodGet, origin: "http://localhost:3000",
			wantStatus: http.StatusOK,
			want: map[string]string{
				"Access-Control-Allow-Origin":      "http://localhost:3000",
				"Access-Control-Allow-Credentials": "true",
				"Access-Control-Expose-Headers":    "X-Request-ID",
				"Access-Control-Allow-Methods":     "",
				"Vary":                             "Origin",
			},
		},
		{
			name: "preflight", cfg: local, method: http.MethodOptions, origin: "http://localhost:3000",
			wantStatus: http.StatusNoContent,
			want: map[string]string{
				"Access-Control-Allow-Origin":  "http://localhost:3000",
				"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
				"Access-Control-Allow-Headers": "Content-Type, Authorization",
				"Access-Control-Max-Age":       "3600",
			},
		},
		{
			name: "disallowed origin", cfg: local, method: http.MethodGet, origin: "http://malicious.example",
			wantStatus: http.StatusOK, want: map[string]string{"Access-Control-Allow-Origin": ""},
		},
		{
			name: "disallowed preflight", cfg: local, method: http.MethodOptions, origin: "http://malicious.example",
			wantStatus: http.StatusNoContent,
			want:       map[string]string{"Access-Control-Allow-Origin": "", "Access-Control-Allow-Methods": ""},
		},
		{
			name:   "wildcard drops credentials",
			cfg:    CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}, AllowCredentials: true},
			method: http.MethodGet, origin: "http://any.example",
			wantStatus: http.StatusOK,
			want: map[string]string{
				"Access-Control-Allow-Origin":      "*",
				"Access-Control-Allow-Credentials": "",
				"Vary":                             "",
			},
		},
		{
			name: "no origin header", cfg: local, method: http.MethodGet, origin: "",
			wantStatus: http.StatusOK, want: map[string]string{"Access-Control-Allow-Origin": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORSMiddleware(tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodOptions && tt.cfg.Enabled {
					t.Fatal("preflight must not reach the handler")
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/graphql", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			for header, value := range tt.want {
				assert.Equal(t, value, rec.Header().Get(header), header)
			}
		})
	}
}
