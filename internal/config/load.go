package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment variable, e.g. QCANVAS_SCHEMA_FILE.
const EnvPrefix = "QCANVAS"

var defineFlagsOnce sync.Once

// Load loads configuration from the process command line with the following precedence:
// 1. Explicit overrides (v.Set) for secrets read from files or prompts
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
func Load() (*Config, error) {
	defineFlagsOnce.Do(func() { DefineFlags(pflag.CommandLine) })
	if !pflag.Parsed() {
		pflag.Parse()
	}
	return LoadFlags(pflag.CommandLine)
}

// LoadFlags loads configuration using an already parsed flag set.
func LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// --- Config file ---
	cfgPath, _ := fs.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("querycanvas")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/querycanvas/")
		v.AddConfigPath("$HOME/.querycanvas")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// --- Environment variables ---
	// Canonical keys: dot + snake_case. Env vars: QCANVAS_SESSIONS_IDLE_TIMEOUT
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlagsToViper(v, fs)
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}
	if err := resolveSecrets(v); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// secretFile pairs a secret key with the key naming a file that may hold it.
type secretFile struct {
	key, fileKey, label string
}

var secretFiles = []secretFile{
	{"preview.dsn", "preview.dsn_file", "preview DSN"},
	{"preview.password", "preview.password_file", "preview password"},
	{"server.auth.jwt_secret", "server.auth.jwt_secret_file", "JWT secret"},
	{"server.admin.auth_token", "server.admin.auth_token_file", "admin auth token"},
}

// resolveSecrets fills secrets from their *_file keys, then prompts for the
// preview password when asked to. Values set directly win.
func resolveSecrets(v *viper.Viper) error {
	for _, s := range secretFiles {
		path := strings.TrimSpace(v.GetString(s.fileKey))
		if v.GetString(s.key) != "" || path == "" {
			continue
		}
		value, err := readSecretFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s file: %w", s.label, err)
		}
		if value == "" {
			return fmt.Errorf("%s file %q is empty", s.label, path)
		}
		v.Set(s.key, value)
	}

	if v.GetBool("preview.enabled") && v.GetString("preview.password") == "" && v.GetBool("preview.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("preview.password", pwd)
	}
	return nil
}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(v *viper.Viper, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := fs.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// DefineFlags defines all command line flags on fs using canonical snake_case keys.
func DefineFlags(fs *pflag.FlagSet) {
	// Schema graph
	fs.String("schema.file", "", "Path to the schema graph document (.yaml, .yml or .json)")
	fs.Duration("schema.refresh_min_interval", 0, "Minimum interval between schema graph checks (negative disables polling)")
	fs.Duration("schema.refresh_max_interval", 0, "Maximum interval between schema graph checks")

	// Builder defaults
	fs.String("builder.default_dialect", "", "SQL dialect for new sessions (mysql, sqlserver)")
	fs.Bool("builder.pretty", false, "Pretty-print generated SQL by default")
	fs.String("builder.default_join_type", "", "Join type used when the builder adds joins (INNER, LEFT, RIGHT, FULL)")

	// Sessions
	fs.Duration("sessions.idle_timeout", 0, "Evict builder sessions idle for longer than this")
	fs.Duration("sessions.sweep_interval", 0, "Interval between idle session sweeps")
	fs.Int("sessions.max_sessions", 0, "Maximum number of live sessions (0 = unlimited)")

	// Preview database
	fs.Bool("preview.enabled", false, "Enable result previews against a MySQL server")
	fs.String("preview.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)")
	fs.String("preview.dsn_file", "", "Path to file containing the preview DSN (use @- for stdin)")
	fs.String("preview.host", "", "Preview database host")
	fs.Int("preview.port", 0, "Preview database port")
	fs.String("preview.user", "", "Preview database user")
	fs.String("preview.password", "", "Preview database password")
	fs.String("preview.password_file", "", "Path to file containing the preview password (use @- for stdin)")
	fs.Bool("preview.password_prompt", false, "Prompt for the preview database password")
	fs.String("preview.database", "", "Preview database name")
	fs.String("preview.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	fs.String("preview.tls.ca_file", "", "Path to CA certificate for server verification")
	fs.String("preview.tls.cert_file", "", "Path to client certificate for mTLS")
	fs.String("preview.tls.key_file", "", "Path to client private key for mTLS")
	fs.String("preview.tls.server_name", "", "Override TLS server name for verification")
	fs.Int("preview.pool.max_open", 0, "Maximum open preview connections")
	fs.Int("preview.pool.max_idle", 0, "Maximum idle preview connections")
	fs.Duration("preview.pool.max_lifetime", 0, "Preview connection max lifetime")
	fs.Int("preview.max_rows", 0, "Maximum rows returned by a preview")
	fs.Duration("preview.timeout", 0, "Client-side timeout for a preview query")
	fs.Duration("preview.max_execution_time", 0, "Server-side MAX_EXECUTION_TIME for previews (0 = server default)")
	fs.Duration("preview.connection_timeout", 0, "Max time to wait for the preview database on startup (0 = fail immediately)")
	fs.Duration("preview.connection_retry_interval", 0, "Initial interval between preview connection retries")

	// Server
	fs.Int("server.port", 0, "HTTP server port")
	fs.Bool("server.graphiql_enabled", false, "Enable GraphiQL UI for /graphql (dev only)")
	fs.Bool("server.auth.oidc_enabled", false, "Enable OIDC/JWKS authentication middleware")
	fs.String("server.auth.oidc_issuer_url", "", "OIDC issuer URL (for discovery and JWKS)")
	fs.String("server.auth.oidc_audience", "", "Expected JWT audience (client ID)")
	fs.Duration("server.auth.oidc_clock_skew", 0, "Allowed JWT clock skew (e.g. 2m)")
	fs.String("server.auth.oidc_ca_file", "", "PEM CA bundle trusted for the OIDC issuer")
	fs.Bool("server.auth.jwt_enabled", false, "Enable HS256 shared-secret bearer token authentication")
	fs.String("server.auth.jwt_secret", "", "HS256 signing secret")
	fs.String("server.auth.jwt_secret_file", "", "Path to file containing the HS256 secret (use @- for stdin)")
	fs.String("server.auth.jwt_issuer", "", "Expected iss claim for HS256 tokens")
	fs.String("server.auth.jwt_audience", "", "Expected aud claim for HS256 tokens")
	fs.Bool("server.admin.schema_reload_enabled", false, "Enable /admin/reload-schema endpoint")
	fs.String("server.admin.auth_token", "", "Shared secret required in X-Admin-Token header for admin endpoints")
	fs.String("server.admin.auth_token_file", "", "Path to file containing admin auth token (use @- for stdin)")
	fs.Bool("server.rate_limit_enabled", false, "Enable global rate limiting for all HTTP endpoints")
	fs.Float64("server.rate_limit_rps", 0, "Global rate limit requests per second")
	fs.Int("server.rate_limit_burst", 0, "Global rate limit burst size")
	fs.Bool("server.cors_enabled", false, "Enable CORS (Cross-Origin Resource Sharing)")
	fs.StringSlice("server.cors_allowed_origins", nil, "Allowed CORS origins (comma-separated or repeated)")
	fs.StringSlice("server.cors_allowed_methods", nil, "Allowed CORS methods (comma-separated or repeated)")
	fs.StringSlice("server.cors_allowed_headers", nil, "Allowed CORS headers (comma-separated or repeated)")
	fs.StringSlice("server.cors_expose_headers", nil, "CORS headers to expose to browser (comma-separated or repeated)")
	fs.Bool("server.cors_allow_credentials", false, "Allow credentials in CORS requests")
	fs.Int("server.cors_max_age", 0, "CORS preflight cache duration (seconds)")
	fs.Duration("server.read_timeout", 0, "HTTP server read timeout")
	fs.Duration("server.write_timeout", 0, "HTTP server write timeout")
	fs.Duration("server.idle_timeout", 0, "HTTP server idle timeout")
	fs.Duration("server.shutdown_timeout", 0, "HTTP server graceful shutdown timeout")
	fs.Duration("server.health_check_timeout", 0, "Health check timeout")

	// Observability
	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.Bool("observability.sqlcommenter_enabled", false, "Inject trace context into preview SQL")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.String("observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification")
	fs.String("observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS")
	fs.String("observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
	fs.Bool("observability.otlp.retry_enabled", false, "Enable retry on transient errors")
	fs.Int("observability.otlp.retry_max_attempts", 0, "Maximum retry attempts")
	fs.String("observability.traces.endpoint", "", "OTLP endpoint for traces only")
	fs.String("observability.traces.protocol", "", "OTLP protocol for traces (grpc, http/protobuf)")
	fs.Bool("observability.traces.insecure", false, "Use insecure connection for traces")
	fs.String("observability.logs.endpoint", "", "OTLP endpoint for logs only")
	fs.String("observability.logs.protocol", "", "OTLP protocol for logs (grpc, http/protobuf)")
	fs.Bool("observability.logs.insecure", false, "Use insecure connection for logs")

	fs.StringP("config", "c", "", "Config file path")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("schema.file", "schema.yaml")
	v.SetDefault("schema.refresh_min_interval", 30*time.Second)
	v.SetDefault("schema.refresh_max_interval", 5*time.Minute)

	v.SetDefault("builder.default_dialect", "mysql")
	v.SetDefault("builder.pretty", false)
	v.SetDefault("builder.default_join_type", "LEFT")

	v.SetDefault("sessions.idle_timeout", 30*time.Minute)
	v.SetDefault("sessions.sweep_interval", time.Minute)
	v.SetDefault("sessions.max_sessions", 1000)

	v.SetDefault("preview.enabled", false)
	v.SetDefault("preview.dsn", "")
	v.SetDefault("preview.dsn_file", "")
	v.SetDefault("preview.host", "localhost")
	v.SetDefault("preview.port", 3306)
	v.SetDefault("preview.user", "querycanvas")
	v.SetDefault("preview.password", "")
	v.SetDefault("preview.password_file", "")
	v.SetDefault("preview.password_prompt", false)
	v.SetDefault("preview.database", "")
	v.SetDefault("preview.tls.mode", "")
	v.SetDefault("preview.tls.ca_file", "")
	v.SetDefault("preview.tls.cert_file", "")
	v.SetDefault("preview.tls.key_file", "")
	v.SetDefault("preview.tls.server_name", "")
	v.SetDefault("preview.pool.max_open", 5)
	v.SetDefault("preview.pool.max_idle", 2)
	v.SetDefault("preview.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("preview.max_rows", 100)
	v.SetDefault("preview.timeout", 10*time.Second)
	v.SetDefault("preview.max_execution_time", 5*time.Second)
	v.SetDefault("preview.connection_timeout", 30*time.Second)
	v.SetDefault("preview.connection_retry_interval", 2*time.Second)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.graphiql_enabled", false)
	v.SetDefault("server.auth.oidc_enabled", false)
	v.SetDefault("server.auth.oidc_issuer_url", "")
	v.SetDefault("server.auth.oidc_audience", "")
	v.SetDefault("server.auth.oidc_clock_skew", 2*time.Minute)
	v.SetDefault("server.auth.oidc_ca_file", "")
	v.SetDefault("server.auth.jwt_enabled", false)
	v.SetDefault("server.auth.jwt_secret", "")
	v.SetDefault("server.auth.jwt_secret_file", "")
	v.SetDefault("server.auth.jwt_issuer", "")
	v.SetDefault("server.auth.jwt_audience", "")
	v.SetDefault("server.admin.schema_reload_enabled", false)
	v.SetDefault("server.admin.auth_token", "")
	v.SetDefault("server.admin.auth_token_file", "")
	v.SetDefault("server.rate_limit_enabled", false)
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 0)
	v.SetDefault("server.cors_enabled", false)
	v.SetDefault("server.cors_allowed_origins", []string{})
	v.SetDefault("server.cors_allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("server.cors_allowed_headers", []string{"Content-Type", "Authorization"})
	v.SetDefault("server.cors_expose_headers", []string{})
	v.SetDefault("server.cors_allow_credentials", false)
	v.SetDefault("server.cors_max_age", 86400)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.health_check_timeout", 2*time.Second)

	v.SetDefault("observability.service_name", "querycanvas")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.sqlcommenter_enabled", false)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Print("Enter preview database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

// readSecretFile reads a trimmed secret; "@-" reads stdin.
func readSecretFile(path string) (string, error) {
	var data []byte
	var err error
	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	var configured []string
	for _, s := range secretFiles {
		if strings.TrimSpace(v.GetString(s.fileKey)) == "@-" {
			configured = append(configured, s.fileKey)
		}
	}
	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
