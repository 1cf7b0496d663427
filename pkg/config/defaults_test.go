package config

import (
	"testing"
	"time"

	"github.com/shuttleup/shuttle/internal/bytesize"
	"github.com/shuttleup/shuttle/pkg/offload"
)

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.Port != 4000 {
		t.Errorf("Expected default server port 4000, got %d", cfg.Server.Port)
	}
	if cfg.Server.UploadsDir == "" {
		t.Error("Expected default uploads dir to be set")
	}
	if cfg.Server.StaleTTL != 24*time.Hour {
		t.Errorf("Expected default stale TTL 24h, got %v", cfg.Server.StaleTTL)
	}
	if cfg.Server.CleanupInterval != time.Hour {
		t.Errorf("Expected default cleanup interval 1h, got %v", cfg.Server.CleanupInterval)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.RequestTimeout != 60*time.Second {
		t.Errorf("Expected default request timeout 60s, got %v", cfg.Server.RequestTimeout)
	}
}

func TestApplyDefaults_Client(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Client.BaseURL != "http://localhost:4000" {
		t.Errorf("Expected default base URL, got %q", cfg.Client.BaseURL)
	}
	if cfg.Client.ChunkSize != bytesize.ByteSize(5*bytesize.MiB) {
		t.Errorf("Expected default chunk size 5MiB, got %v", cfg.Client.ChunkSize)
	}
	if cfg.Client.MaxConcurrency != 3 {
		t.Errorf("Expected default max concurrency 3, got %d", cfg.Client.MaxConcurrency)
	}
	if cfg.Client.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.Client.MaxRetries)
	}
	if cfg.Client.RetryBaseDelay != time.Second {
		t.Errorf("Expected default retry base delay 1s, got %v", cfg.Client.RetryBaseDelay)
	}
}

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LoggingNormalizesCase(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_Metrics(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	// Metrics are opt-in; the port default only applies when enabled
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}

	cfg = &Config{Metrics: MetricsConfig{Enabled: true}}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_Telemetry(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Telemetry.Enabled {
		t.Error("Expected telemetry disabled by default")
	}
	if cfg.Telemetry.Endpoint != "localhost:4317" {
		t.Errorf("Expected default OTLP endpoint, got %q", cfg.Telemetry.Endpoint)
	}
	if cfg.Telemetry.SampleRate != 1.0 {
		t.Errorf("Expected default sample rate 1.0, got %v", cfg.Telemetry.SampleRate)
	}
	if len(cfg.Telemetry.Profiling.ProfileTypes) == 0 {
		t.Error("Expected default profile types to be set")
	}
}

func TestApplyDefaults_Offload(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Offload.Enabled {
		t.Error("Expected offload disabled by default")
	}
	if cfg.Offload.Region != "us-east-1" {
		t.Errorf("Expected default region us-east-1, got %q", cfg.Offload.Region)
	}
	if cfg.Offload.PartSize != offload.DefaultPartSize {
		t.Errorf("Expected default part size %v, got %v", offload.DefaultPartSize, cfg.Offload.PartSize)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/shuttle.log",
		},
		Client: ClientConfig{
			ChunkSize:      bytesize.ByteSize(bytesize.MiB),
			MaxConcurrency: 10,
		},
	}

	ApplyDefaults(cfg)

	// Verify explicit values were preserved
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected explicit port 8080 to be preserved, got %d", cfg.Server.Port)
	}
	if cfg.Client.ChunkSize != bytesize.ByteSize(bytesize.MiB) {
		t.Errorf("Expected explicit chunk size to be preserved, got %v", cfg.Client.ChunkSize)
	}
	if cfg.Server.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected explicit format 'json' to be preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "/var/log/shuttle.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.Client.MaxConcurrency != 10 {
		t.Errorf("Expected explicit concurrency 10 to be preserved, got %d", cfg.Client.MaxConcurrency)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	// The default config should pass validation
	err := Validate(cfg)
	if err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}

func TestGetDefaultConfig_HasRequiredFields(t *testing.T) {
	cfg := GetDefaultConfig()

	// Check all required sections are present
	if cfg.Logging.Level == "" {
		t.Error("Default config missing logging level")
	}
	if cfg.Server.Port == 0 {
		t.Error("Default config missing server port")
	}
	if cfg.Server.UploadsDir == "" {
		t.Error("Default config missing uploads dir")
	}
	if cfg.Database.Type == "" {
		t.Error("Default config missing database type")
	}
}
