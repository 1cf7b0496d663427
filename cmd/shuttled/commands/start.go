package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/shuttleup/shuttle/internal/logger"
	"github.com/shuttleup/shuttle/internal/telemetry"
	"github.com/shuttleup/shuttle/pkg/api"
	"github.com/shuttleup/shuttle/pkg/blob/fs"
	"github.com/shuttleup/shuttle/pkg/config"
	"github.com/shuttleup/shuttle/pkg/janitor"
	"github.com/shuttleup/shuttle/pkg/metrics"
	"github.com/shuttleup/shuttle/pkg/offload"
	"github.com/shuttleup/shuttle/pkg/store"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Shuttle upload server",
	Long: `Start the Shuttle upload server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/shuttle/config.yaml.

Examples:
  # Start in background (default)
  shuttled start

  # Start in foreground
  shuttled start --foreground

  # Start with custom config file
  shuttled start --config /etc/shuttle/config.yaml

  # Start with environment variable overrides
  SHUTTLE_LOGGING_LEVEL=DEBUG shuttled start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/shuttle/shuttled.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/shuttle/shuttled.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "shuttled",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "shuttled",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("Shuttle - Resumable chunked file upload server")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Initialize metrics (if enabled)
	var m *metrics.Metrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		m = metrics.NewMetrics(registry)
		metricsServer = metrics.NewServer(cfg.Metrics.Port, registry)
	}

	// Initialize the upload session store (runs migrations)
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize upload store: %w", err)
	}
	defer func() { _ = st.Close() }()
	logger.Info("Upload store initialized", "type", cfg.Database.Type)

	// Initialize the blob store where chunks are assembled
	blobs, err := fs.NewWithPath(cfg.Server.UploadsDir)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	defer func() { _ = blobs.Close() }()
	logger.Info("Blob store initialized", "path", cfg.Server.UploadsDir)

	// Start the stale-upload janitor. It doubles as the sweeper behind
	// DELETE /api/files, so it is created even when the periodic loop
	// is disabled.
	jan := janitor.New(st, blobs, m, janitor.Config{
		StaleTTL: cfg.Server.StaleTTL,
		Interval: cfg.Server.CleanupInterval,
	})
	go jan.Run(ctx)
	if cfg.Server.CleanupInterval > 0 {
		logger.Info("Cleanup sweep enabled", "interval", cfg.Server.CleanupInterval, "stale_ttl", cfg.Server.StaleTTL)
	} else {
		logger.Info("Periodic cleanup sweep disabled")
	}

	// Initialize the S3 archiver. Disabled config yields a no-op
	// archiver; an unreachable bucket fails startup here rather than on
	// the first finalize.
	archiver, err := offload.New(ctx, cfg.Offload, blobs, m)
	if err != nil {
		return fmt.Errorf("failed to initialize offload: %w", err)
	}
	if !archiver.Enabled() {
		logger.Info("S3 offload disabled")
	}

	// Start metrics server if enabled
	if metricsServer != nil {
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("Metrics server error", "error", err)
			}
		}()
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Create the upload API server
	apiServer := api.NewServer(api.Config{
		Port:            cfg.Server.Port,
		RequestTimeout:  cfg.Server.RequestTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, api.Dependencies{
		Store:    st,
		Blobs:    blobs,
		Metrics:  m,
		Sweeper:  jan,
		Archiver: archiver,
	})
	logger.Info("API server configured", "port", cfg.Server.Port)

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()

	// Create state directory if it doesn't exist
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Set default PID file if not specified
	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(stateDir, "shuttled.pid")
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				// Check if process is still running
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("shuttled is already running (PID %d)\nUse 'shuttled stop' to stop the running instance", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	// Set default log file if not specified
	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(stateDir, "shuttled.log")
	}

	// Get the executable path
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Build arguments for the daemon process
	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	// Create the daemon process
	cmd := exec.Command(executable, daemonArgs...)

	// Open log file for stdout/stderr
	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// Start the daemon
	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("Shuttle server started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'shuttled stop' to stop the server")
	fmt.Println("Use 'shuttled status' to check server status")

	return nil
}
