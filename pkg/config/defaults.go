package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shuttleup/shuttle/internal/bytesize"
	"github.com/shuttleup/shuttle/pkg/offload"
	"github.com/shuttleup/shuttle/pkg/store"
)

// Default values shared between ApplyDefaults and registerDefaults.
const (
	DefaultServerPort      = 4000
	DefaultChunkSize       = bytesize.ByteSize(5 * bytesize.MiB)
	DefaultStaleTTL        = 24 * time.Hour
	DefaultCleanupInterval = time.Hour
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRequestTimeout  = 60 * time.Second

	DefaultBaseURL        = "http://localhost:4000"
	DefaultMaxConcurrency = 3
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second

	DefaultMetricsPort = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyClientDefaults(&cfg.Client)
	applyDatabaseDefaults(&cfg.Database)
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyTelemetryDefaults(&cfg.Telemetry)
	cfg.Offload.ApplyDefaults()
}

// applyServerDefaults sets upload server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultServerPort
	}
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = filepath.Join(dataDir(), "shuttle", "uploads")
	}
	if cfg.StaleTTL == 0 {
		cfg.StaleTTL = DefaultStaleTTL
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
}

// applyClientDefaults sets upload client defaults.
func applyClientDefaults(cfg *ClientConfig) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
}

// applyDatabaseDefaults sets upload store database defaults.
func applyDatabaseDefaults(cfg *store.Config) {
	cfg.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)
	// No need to set, zero value is false

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	// Apply profiling defaults
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Enabled defaults to false (opt-in for profiling)
	// No need to set, zero value is false

	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	// Default profile types include CPU, memory allocation, and goroutines
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// registerDefaults registers every known configuration key with viper.
//
// Viper's AutomaticEnv only resolves keys it has seen, so each key is
// registered here with its default (or an empty placeholder for keys
// whose default is computed later). Without this, SHUTTLE_* environment
// overrides would be dropped when no config file exists.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.uploads_dir", "")
	v.SetDefault("server.stale_ttl", DefaultStaleTTL.String())
	v.SetDefault("server.cleanup_interval", DefaultCleanupInterval.String())
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout.String())
	v.SetDefault("server.request_timeout", DefaultRequestTimeout.String())

	v.SetDefault("client.base_url", DefaultBaseURL)
	v.SetDefault("client.chunk_size", DefaultChunkSize.String())
	v.SetDefault("client.max_concurrency", DefaultMaxConcurrency)
	v.SetDefault("client.max_retries", DefaultMaxRetries)
	v.SetDefault("client.retry_base_delay", DefaultRetryBaseDelay.String())

	v.SetDefault("database.type", string(store.DatabaseTypeSQLite))
	v.SetDefault("database.sqlite.path", "")
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 25)
	v.SetDefault("database.postgres.max_idle_conns", 5)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", DefaultMetricsPort)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.endpoint", "http://localhost:4040")
	v.SetDefault("telemetry.profiling.profile_types", []string{})

	v.SetDefault("offload.enabled", false)
	v.SetDefault("offload.endpoint", "")
	v.SetDefault("offload.region", offload.DefaultRegion)
	v.SetDefault("offload.bucket", "")
	v.SetDefault("offload.key_prefix", "")
	v.SetDefault("offload.access_key_id", "")
	v.SetDefault("offload.secret_access_key", "")
	v.SetDefault("offload.force_path_style", true)
	v.SetDefault("offload.part_size", offload.DefaultPartSize.String())
}

// dataDir returns the base directory for application data.
//
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share, or the current
// directory as a last resort.
func dataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return xdgData
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".local", "share")
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite, // Default to SQLite for single-node
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
