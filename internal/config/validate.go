package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"querycanvas/internal/query"
	"querycanvas/internal/sqlgen"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) errorf(field, hint, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

func (r *ValidationResult) warnf(field, hint, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Schema.validate(result)
	c.Builder.validate(result)
	c.Sessions.validate(result)
	c.Preview.validate(result)
	c.Server.validate(result)
	c.Observability.validate(result)

	return result
}

func (s *SchemaConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(s.File) == "" {
		result.errorf("schema.file", "point schema.file at a .yaml or .json graph document", "schema file is required")
	} else {
		switch strings.ToLower(filepath.Ext(s.File)) {
		case ".yaml", ".yml", ".json":
		default:
			result.errorf("schema.file", "use a .yaml, .yml or .json extension", "cannot infer format of %q", s.File)
		}
	}
	if s.RefreshMinInterval > 0 && s.RefreshMaxInterval > 0 && s.RefreshMaxInterval < s.RefreshMinInterval {
		result.warnf("schema.refresh_max_interval", "max interval is raised to the min interval",
			"refresh_max_interval %s is below refresh_min_interval %s", s.RefreshMaxInterval, s.RefreshMinInterval)
	}
}

func (b *BuilderConfig) validate(result *ValidationResult) {
	if _, err := sqlgen.Lookup(b.DefaultDialect); err != nil {
		result.errorf("builder.default_dialect", "valid values are: mysql, sqlserver", "%v", err)
	}
	if _, ok := query.ParseJoinType(b.DefaultJoinType); !ok {
		result.errorf("builder.default_join_type", "valid values are: INNER, LEFT, RIGHT, FULL",
			"invalid join type %q", b.DefaultJoinType)
	}
}

func (s *SessionsConfig) validate(result *ValidationResult) {
	if s.IdleTimeout < 0 {
		result.errorf("sessions.idle_timeout", "", "idle_timeout cannot be negative")
	}
	if s.SweepInterval < 0 {
		result.errorf("sessions.sweep_interval", "", "sweep_interval cannot be negative")
	}
	if s.MaxSessions < 0 {
		result.errorf("sessions.max_sessions", "use 0 for unlimited", "max_sessions cannot be negative")
	}
	if s.MaxSessions == 0 {
		result.warnf("sessions.max_sessions", "set a bound in shared deployments", "session count is unlimited")
	}
}

func (p *PreviewConfig) validate(result *ValidationResult) {
	if !p.Enabled {
		return
	}
	if p.MaxRows <= 0 {
		result.errorf("preview.max_rows", "", "max_rows must be greater than 0 when previews are enabled")
	}
	if p.Timeout <= 0 {
		result.errorf("preview.timeout", "", "timeout must be greater than 0 when previews are enabled")
	}
	if p.MaxExecutionTime < 0 {
		result.errorf("preview.max_execution_time", "use 0 for the server default", "max_execution_time cannot be negative")
	}
	if p.Pool.MaxOpen < 0 || p.Pool.MaxIdle < 0 {
		result.errorf("preview.pool", "", "pool sizes cannot be negative")
	}
	if p.Pool.MaxOpen > 0 && p.Pool.MaxIdle > p.Pool.MaxOpen {
		result.warnf("preview.pool.max_idle", "keep max_idle at or below max_open",
			"max_idle %d exceeds max_open %d", p.Pool.MaxIdle, p.Pool.MaxOpen)
	}
	if p.ConnectionString == "" && (p.Port < 1 || p.Port > 65535) {
		result.errorf("preview.port", "", "port %d is out of valid range (1-65535)", p.Port)
	}

	p.TLS.validate(result)

	cfg, err := p.DriverConfig()
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "mismatch"):
			result.errorf("preview.database", "either remove preview.database or set it to match the DSN database", "%v", err)
		case strings.Contains(strings.ToLower(err.Error()), "tls"):
			// Reported by the TLS checks above.
		default:
			result.errorf("preview.dsn", "", "%v", err)
		}
		return
	}
	if cfg.DBName == "" {
		result.errorf("preview.database", "set preview.database or include a /database in preview.dsn",
			"preview database is required")
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.errorf("preview.tls.mode", "valid values are: off, skip-verify, verify-ca, verify-full", "invalid TLS mode %q", t.Mode)
	}

	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.errorf("preview.tls.ca_file", "set ca_file to specify the CA certificate",
			"CA file is required for verify-ca and verify-full modes")
	}

	if (t.CertFile != "") != (t.KeyFile != "") {
		result.errorf("preview.tls.cert_file", "provide both cert_file and key_file, or neither",
			"both cert_file and key_file must be specified for client certificate authentication")
	}

	if t.Mode == "skip-verify" {
		result.warnf("preview.tls.mode", "use verify-ca or verify-full in production",
			"skip-verify mode does not verify server certificates")
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.errorf("server.port", "", "port %d is out of valid range (1-65535)", s.Port)
	}

	// Rate limit validation
	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.errorf("server.rate_limit_rps", "", "rate_limit_rps must be greater than 0 when rate limiting is enabled")
		}
		if s.RateLimitBurst <= 0 {
			result.errorf("server.rate_limit_burst", "", "rate_limit_burst must be greater than 0 when rate limiting is enabled")
		}
	}
	if !s.RateLimitEnabled && (s.RateLimitRPS > 0 || s.RateLimitBurst > 0) {
		result.warnf("server.rate_limit_enabled", "enable server.rate_limit_enabled to apply rate limits",
			"rate limit values are set but rate limiting is disabled")
	}

	// CORS validation
	if s.CORSEnabled {
		if len(s.CORSAllowedOrigins) == 0 {
			result.errorf("server.cors_allowed_origins", "set cors_allowed_origins or disable CORS",
				"CORS enabled but no allowed origins configured")
		}

		hasWildcard := false
		for _, origin := range s.CORSAllowedOrigins {
			if strings.TrimSpace(origin) == "*" {
				hasWildcard = true
				break
			}
		}
		if hasWildcard && s.CORSAllowCredentials {
			result.errorf("server.cors_allowed_origins", "use specific origins with credentials, or wildcard without credentials",
				"wildcard origin (*) cannot be used with credentials")
		}
		if hasWildcard {
			result.warnf("server.cors_allowed_origins", "use specific origins in production for better security",
				"CORS wildcard origin enabled")
		}
	}

	s.Auth.validate(result)

	if s.Admin.SchemaReloadEnabled && s.Admin.AuthToken == "" {
		result.warnf("server.admin.auth_token", "set server.admin.auth_token or auth_token_file",
			"schema reload endpoint is enabled without an admin token")
	}
}

func (a *AuthConfig) validate(result *ValidationResult) {
	if a.OIDCEnabled && a.JWTEnabled {
		result.errorf("server.auth", "enable either oidc_enabled or jwt_enabled",
			"OIDC and shared-secret JWT authentication are mutually exclusive")
	}

	if a.OIDCEnabled {
		if a.OIDCIssuerURL == "" {
			result.errorf("server.auth.oidc_issuer_url", "", "issuer URL is required when OIDC is enabled")
		} else if u, err := url.Parse(a.OIDCIssuerURL); err != nil || u.Scheme != "https" || u.Host == "" {
			result.errorf("server.auth.oidc_issuer_url", "use an https:// issuer URL", "invalid issuer URL %q", a.OIDCIssuerURL)
		}
		if a.OIDCAudience == "" {
			result.errorf("server.auth.oidc_audience", "", "audience is required when OIDC is enabled")
		}
		if a.OIDCClockSkew < 0 {
			result.errorf("server.auth.oidc_clock_skew", "", "oidc_clock_skew cannot be negative")
		}
	}

	if a.JWTEnabled {
		switch {
		case a.JWTSecret == "":
			result.errorf("server.auth.jwt_secret", "set jwt_secret or jwt_secret_file", "secret is required when JWT auth is enabled")
		case len(a.JWTSecret) < 32:
			result.warnf("server.auth.jwt_secret", "use at least 32 bytes of random data", "HS256 secret is shorter than 32 bytes")
		}
	}

	if !a.OIDCEnabled && !a.JWTEnabled {
		result.warnf("server.auth", "enable OIDC or JWT auth outside of local development",
			"authentication is disabled; all sessions share an anonymous owner")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.errorf("observability.logging.level", "valid values are: debug, info, warn, error", "invalid log level %q", o.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.errorf("observability.logging.format", "valid values are: json, text", "invalid log format %q", o.Logging.Format)
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.errorf("observability.trace_sample_ratio", "", "trace_sample_ratio %v must be between 0.0 and 1.0", o.TraceSampleRatio)
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.errorf(prefix+".protocol", "valid values are: grpc, http/protobuf", "invalid OTLP protocol %q", o.Protocol)
	}

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.errorf(prefix+".endpoint", "use host:port or a full URL", "invalid OTLP endpoint %q for http/protobuf", o.Endpoint)
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.errorf(prefix+".compression", "valid values are: none, gzip", "invalid OTLP compression %q", o.Compression)
	}

	if o.RetryMaxAttempts < 0 {
		result.errorf(prefix+".retry_max_attempts", "", "retry_max_attempts cannot be negative")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
