// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"maps"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Schema        SchemaConfig        `mapstructure:"schema"`
	Builder       BuilderConfig       `mapstructure:"builder"`
	Sessions      SessionsConfig      `mapstructure:"sessions"`
	Preview       PreviewConfig       `mapstructure:"preview"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// SchemaConfig points at the schema graph document and controls polling.
type SchemaConfig struct {
	// File is a YAML or JSON graph document; the extension selects the format.
	File               string        `mapstructure:"file"`
	RefreshMinInterval time.Duration `mapstructure:"refresh_min_interval"`
	RefreshMaxInterval time.Duration `mapstructure:"refresh_max_interval"`
}

// BuilderConfig holds per-session defaults.
type BuilderConfig struct {
	DefaultDialect  string `mapstructure:"default_dialect"` // mysql, sqlserver
	Pretty          bool   `mapstructure:"pretty"`
	DefaultJoinType string `mapstructure:"default_join_type"`
}

// SessionsConfig controls the session store.
type SessionsConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxSessions   int           `mapstructure:"max_sessions"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS settings for the preview connection.
type DatabaseTLSConfig struct {
	// Mode is one of off, skip-verify, verify-ca, verify-full. Empty leaves
	// the DSN untouched.
	Mode       string `mapstructure:"mode"`
	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	ServerName string `mapstructure:"server_name"`
}

// PreviewConfig holds the optional MySQL connection used to preview results.
type PreviewConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// ConnectionString is a complete go-sql-driver/mysql DSN. When set it
	// overrides the discrete fields.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile holds the DSN; "@-" reads stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`

	MaxRows          int           `mapstructure:"max_rows"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxExecutionTime time.Duration `mapstructure:"max_execution_time"`
	// ConnectionTimeout bounds startup retries; zero tries once.
	ConnectionTimeout       time.Duration `mapstructure:"connection_timeout"`
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// AuthConfig holds API authentication parameters. OIDC and the shared-secret
// JWT mode are mutually exclusive.
type AuthConfig struct {
	OIDCEnabled   bool          `mapstructure:"oidc_enabled"`
	OIDCIssuerURL string        `mapstructure:"oidc_issuer_url"`
	OIDCAudience  string        `mapstructure:"oidc_audience"`
	OIDCClockSkew time.Duration `mapstructure:"oidc_clock_skew"`
	// OIDCCAFile trusts a private CA when fetching discovery and JWKS documents.
	OIDCCAFile string `mapstructure:"oidc_ca_file"`

	JWTEnabled    bool   `mapstructure:"jwt_enabled"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	JWTSecretFile string `mapstructure:"jwt_secret_file"`
	JWTIssuer     string `mapstructure:"jwt_issuer"`
	JWTAudience   string `mapstructure:"jwt_audience"`
}

// AdminConfig controls administrative endpoint exposure and authentication.
type AdminConfig struct {
	SchemaReloadEnabled bool   `mapstructure:"schema_reload_enabled"`
	AuthToken           string `mapstructure:"auth_token"`
	AuthTokenFile       string `mapstructure:"auth_token_file"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port                 int           `mapstructure:"port"`
	GraphiQLEnabled      bool          `mapstructure:"graphiql_enabled"`
	Auth                 AuthConfig    `mapstructure:"auth"`
	Admin                AdminConfig   `mapstructure:"admin"`
	RateLimitEnabled     bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRPS         float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int           `mapstructure:"rate_limit_burst"`
	CORSEnabled          bool          `mapstructure:"cors_enabled"`
	CORSAllowedOrigins   []string      `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string      `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string      `mapstructure:"cors_allowed_headers"`
	CORSExposeHeaders    []string      `mapstructure:"cors_expose_headers"`
	CORSAllowCredentials bool          `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int           `mapstructure:"cors_max_age"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout   time.Duration `mapstructure:"health_check_timeout"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"` // trace context in preview SQL
	Logging             LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the OTLP settings for trace export.
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	return c.OTLP.overlay(c.Traces)
}

// GetLogsConfig returns the OTLP settings for log export.
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	return c.OTLP.overlay(c.Logs)
}

// overlay returns c with the non-zero fields of o applied on top. Insecure
// is taken from o whenever o is set; headers are merged key by key.
func (c OTLPConfig) overlay(o *OTLPConfig) OTLPConfig {
	if o == nil {
		return c
	}
	out := c
	out.Endpoint = firstNonZero(o.Endpoint, c.Endpoint)
	out.Protocol = firstNonZero(o.Protocol, c.Protocol)
	out.Insecure = o.Insecure
	out.TLSCertFile = firstNonZero(o.TLSCertFile, c.TLSCertFile)
	out.TLSClientCertFile = firstNonZero(o.TLSClientCertFile, c.TLSClientCertFile)
	out.TLSClientKeyFile = firstNonZero(o.TLSClientKeyFile, c.TLSClientKeyFile)
	out.Timeout = firstNonZero(o.Timeout, c.Timeout)
	out.Compression = firstNonZero(o.Compression, c.Compression)
	if o.RetryMaxAttempts != 0 {
		out.RetryEnabled, out.RetryMaxAttempts = o.RetryEnabled, o.RetryMaxAttempts
	}
	if o.Headers != nil {
		out.Headers = make(map[string]string, len(c.Headers)+len(o.Headers))
		maps.Copy(out.Headers, c.Headers)
		maps.Copy(out.Headers, o.Headers)
	}
	return out
}

func firstNonZero[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}
