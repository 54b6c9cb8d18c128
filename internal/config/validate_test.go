package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Schema:   SchemaConfig{File: "graph.yaml"},
		Builder:  BuilderConfig{DefaultDialect: "mysql", DefaultJoinType: "LEFT"},
		Sessions: SessionsConfig{IdleTimeout: time.Minute, SweepInterval: time.Second, MaxSessions: 10},
		Server: ServerConfig{
			Port: 8080,
			Auth: AuthConfig{JWTEnabled: true, JWTSecret: strings.Repeat("k", 32)},
		},
		Observability: ObservabilityConfig{
			TraceSampleRatio: 1,
			Logging:          LoggingConfig{Level: "info", Format: "json"},
		},
	}
}

func hasField(result *ValidationResult, field string) bool {
	for _, e := range result.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestValidate_Valid(t *testing.T) {
	result := validConfig().Validate()
	assert.False(t, result.HasErrors(), result.Error())
	assert.Empty(t, result.Warnings)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing schema file", func(c *Config) { c.Schema.File = "" }, "schema.file"},
		{"schema extension", func(c *Config) { c.Schema.File = "graph.toml" }, "schema.file"},
		{"dialect", func(c *Config) { c.Builder.DefaultDialect = "oracle" }, "builder.default_dialect"},
		{"join type", func(c *Config) { c.Builder.DefaultJoinType = "CROSS" }, "builder.default_join_type"},
		{"negative sessions", func(c *Config) { c.Sessions.MaxSessions = -1 }, "sessions.max_sessions"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"rate limit", func(c *Config) { c.Server.RateLimitEnabled = true }, "server.rate_limit_rps"},
		{"cors origins", func(c *Config) { c.Server.CORSEnabled = true }, "server.cors_allowed_origins"},
		{"cors credentials", func(c *Config) {
			c.Server.CORSEnabled = true
			c.Server.CORSAllowedOrigins = []string{"*"}
			c.Server.CORSAllowCredentials = true
		}, "server.cors_allowed_origins"},
		{"auth exclusive", func(c *Config) {
			c.Server.Auth.OIDCEnabled = true
			c.Server.Auth.OIDCIssuerURL = "https://issuer.example"
			c.Server.Auth.OIDCAudience = "qc"
		}, "server.auth"},
		{"oidc issuer", func(c *Config) {
			c.Server.Auth = AuthConfig{OIDCEnabled: true, OIDCIssuerURL: "http://issuer.example", OIDCAudience: "qc"}
		}, "server.auth.oidc_issuer_url"},
		{"jwt secret", func(c *Config) { c.Server.Auth.JWTSecret = "" }, "server.auth.jwt_secret"},
		{"log level", func(c *Config) { c.Observability.Logging.Level = "trace" }, "observability.logging.level"},
		{"sample ratio", func(c *Config) { c.Observability.TraceSampleRatio = 2 }, "observability.trace_sample_ratio"},
		{"otlp protocol", func(c *Config) { c.Observability.Traces = &OTLPConfig{Protocol: "udp"} }, "observability.traces.protocol"},
		{"otlp endpoint", func(c *Config) {
			c.Observability.OTLP = OTLPConfig{Protocol: "http/protobuf", Endpoint: "collector"}
		}, "observability.otlp.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			result := cfg.Validate()
			require.True(t, result.HasErrors())
			assert.True(t, hasField(result, tt.field), result.Error())
		})
	}
}

func TestValidate_Preview(t *testing.T) {
	cfg := validConfig()
	cfg.Preview = PreviewConfig{
		Enabled: true,
		Host:    "db",
		Port:    3306,
		User:    "reader",
		MaxRows: 100,
		Timeout: time.Second,
	}
	result := cfg.Validate()
	assert.True(t, hasField(result, "preview.database"), result.Error())

	cfg.Preview.Database = "shop"
	result = cfg.Validate()
	assert.False(t, result.HasErrors(), result.Error())

	cfg.Preview.ConnectionString = "reader@tcp(db:3306)/other"
	result = cfg.Validate()
	assert.True(t, hasField(result, "preview.database"), result.Error())

	cfg.Preview.ConnectionString = ""
	cfg.Preview.TLS = DatabaseTLSConfig{Mode: "verify-full"}
	result = cfg.Validate()
	assert.True(t, hasField(result, "preview.tls.ca_file"), result.Error())
	assert.False(t, hasField(result, "preview.dsn"), result.Error())

	cfg.Preview.TLS = DatabaseTLSConfig{Mode: "skip-verify"}
	result = cfg.Validate()
	assert.False(t, result.HasErrors(), result.Error())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "preview.tls.mode", result.Warnings[0].Field)
}

func TestValidate_Warnings(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Auth = AuthConfig{}
	cfg.Server.Admin.SchemaReloadEnabled = true
	cfg.Sessions.MaxSessions = 0

	result := cfg.Validate()
	assert.False(t, result.HasErrors(), result.Error())
	fields := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	assert.ElementsMatch(t, []string{"server.auth", "server.admin.auth_token", "sessions.max_sessions"}, fields)
}
