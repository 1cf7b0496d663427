package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// configTemplate is the commented starter configuration written by
// InitConfig. Values mirror the defaults so the file documents itself;
// every key may be deleted without changing behavior.
const configTemplate = `# Shuttle Configuration File
#
# This file configures both the upload server (shuttled) and the
# upload client (shuttle). Environment variables with the SHUTTLE_
# prefix override any value here, e.g. SHUTTLE_SERVER_PORT=8080.

# Upload server settings (shuttled)
server:
  # HTTP port for the upload API
  port: 4000

  # Directory where upload blobs are assembled
  uploads_dir: "%s"

  # Idle uploads older than this are removed by the cleanup sweep
  stale_ttl: "24h"

  # How often the background cleanup sweep runs (0 disables)
  cleanup_interval: "1h"

  # Graceful shutdown budget
  shutdown_timeout: "30s"

  # Per-request budget, including chunk body streaming
  request_timeout: "60s"

# Upload client settings (shuttle)
client:
  # Upload server base URL
  base_url: "http://localhost:4000"

  # Chunk size for splitting files ("5MiB", "1Gi", or plain bytes).
  # Resume relies on chunk indexes, so keep this stable across runs.
  chunk_size: "5MiB"

  # Chunks uploaded in parallel
  max_concurrency: 3

  # Retries per chunk before the transfer fails
  max_retries: 3

  # Base for exponential retry backoff
  retry_base_delay: "1s"

# Upload metadata store
database:
  # sqlite (single node, default) or postgres (shared)
  type: sqlite

  sqlite:
    path: "%s"

  # postgres:
  #   host: localhost
  #   port: 5432
  #   database: shuttle
  #   user: shuttle
  #   password: ""
  #   sslmode: disable
  #   max_open_conns: 25
  #   max_idle_conns: 5

# Logging
logging:
  # DEBUG, INFO, WARN, ERROR
  level: "INFO"

  # text or json
  format: "text"

  # stdout, stderr, or a file path
  output: "stdout"

# Prometheus metrics (served on a separate port when enabled)
metrics:
  enabled: false
  port: 9090

# OpenTelemetry tracing
telemetry:
  enabled: false
  endpoint: "localhost:4317"
  insecure: true
  sample_rate: 1.0

  # Pyroscope continuous profiling
  profiling:
    enabled: false
    endpoint: "http://localhost:4040"

# S3 archival of completed uploads
offload:
  enabled: false
  # endpoint: "http://localhost:9000"
  region: "us-east-1"
  # bucket: "shuttle-archive"
  # key_prefix: "uploads/"
  # access_key_id: ""
  # secret_access_key: ""
  force_path_style: true
  part_size: "8MiB"
`

// InitConfig writes a commented starter configuration file to the
// default location and returns its path.
//
// Fails if the file already exists unless force is true.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes a commented starter configuration file to an
// explicit path, creating parent directories as needed.
//
// Fails if the file already exists unless force is true. The file is
// written with 0600 permissions because it may later hold S3
// credentials.
func InitConfigToPath(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s\n\n"+
			"Use --force to overwrite it", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	uploadsDir := filepath.ToSlash(filepath.Join(dataDir(), "shuttle", "uploads"))
	sqlitePath := filepath.ToSlash(filepath.Join(dataDir(), "shuttle", "shuttle.db"))

	content := fmt.Sprintf(configTemplate, uploadsDir, sqlitePath)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
