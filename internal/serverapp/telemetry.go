package serverapp

import (
	"log/slog"

	"querycanvas/internal/config"
	"querycanvas/internal/logging"
	"querycanvas/internal/observability"
)

// telemetryConfig is the resource identity shared by every signal, plus the
// exporter settings for one of them. otlp is nil for metrics, which are
// scraped rather than pushed.
func telemetryConfig(obs config.ObservabilityConfig, otlp *config.OTLPConfig) observability.Config {
	out := observability.Config{
		ServiceName:      obs.ServiceName,
		ServiceVersion:   obs.ServiceVersion,
		Environment:      obs.Environment,
		TraceSampleRatio: obs.TraceSampleRatio,
	}
	if otlp != nil {
		out.OTLPConfig = observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		}
	}
	return out
}

func exporterAttrs(obs config.ObservabilityConfig, otlp config.OTLPConfig) []any {
	return []any{
		slog.String("service_name", obs.ServiceName),
		slog.String("service_version", obs.ServiceVersion),
		slog.String("environment", obs.Environment),
		slog.String("otlp_endpoint", otlp.Endpoint),
		slog.String("otlp_protocol", otlp.Protocol),
		slog.Bool("insecure", otlp.Insecure),
	}
}

// InitLogger builds the process logger and installs it as the slog default.
// With log export on, records are also shipped over OTLP and the returned
// provider must be shut down by the caller.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	obs := cfg.Observability
	loggerCfg := logging.Config{Level: obs.Logging.Level, Format: obs.Logging.Format}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	if !obs.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := obs.GetLogsConfig()
	logger.Info("starting OTLP log export", exporterAttrs(obs, logsConfig)...)
	provider, err := observability.InitLoggerProvider(telemetryConfig(obs, &logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = provider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	return logger, provider, nil
}

// initMetrics installs the Prometheus-backed meter provider and creates every
// instrument bundle. Both results are zero when metrics are off.
func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, metricsSet, error) {
	obs := cfg.Observability
	if !obs.MetricsEnabled {
		return nil, metricsSet{}, nil
	}

	provider, err := observability.InitMeterProvider(telemetryConfig(obs, nil))
	if err != nil {
		return nil, metricsSet{}, err
	}

	var set metricsSet
	if set.graphql, err = observability.InitMetrics(logger.Logger); err != nil {
		return nil, metricsSet{}, err
	}
	if set.builder, err = observability.InitBuilderMetrics(logger.Logger); err != nil {
		return nil, metricsSet{}, err
	}
	if set.schemaRefresh, err = observability.InitSchemaRefreshMetrics(logger.Logger); err != nil {
		return nil, metricsSet{}, err
	}
	if set.security, err = observability.InitSecurityMetrics(); err != nil {
		return nil, metricsSet{}, err
	}
	logger.Info("metrics enabled", slog.String("service_name", obs.ServiceName))
	return provider, set, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	obs := cfg.Observability
	if !obs.TracingEnabled {
		return nil, nil
	}
	tracesConfig := obs.GetTracesConfig()
	logger.Info("starting OTLP trace export", append(exporterAttrs(obs, tracesConfig),
		slog.Float64("sample_ratio", obs.TraceSampleRatio))...)
	return observability.InitTracerProvider(telemetryConfig(obs, &tracesConfig))
}
