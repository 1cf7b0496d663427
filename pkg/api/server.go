package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/shuttleup/shuttle/internal/logger"
	"github.com/shuttleup/shuttle/pkg/api/handlers"
	"github.com/shuttleup/shuttle/pkg/blob"
	"github.com/shuttleup/shuttle/pkg/metrics"
	"github.com/shuttleup/shuttle/pkg/store"
)

// Dependencies bundles everything the API handlers need. Store and
// Blobs are required for useful operation; the rest may be nil, which
// disables the corresponding feature (metrics, manual cleanup, archive
// offload).
type Dependencies struct {
	Store    store.Store
	Blobs    blob.Store
	Metrics  *metrics.Metrics
	Sweeper  handlers.Sweeper
	Archiver handlers.Archiver
}

// Server provides the HTTP server for the upload API.
//
// Endpoints (all under /api):
//   - POST   /upload/init: Create or resume an upload session
//   - PUT    /upload/{id}/chunk/{index}: Receive one chunk
//   - POST   /upload/{id}/finalize: Verify and commit an upload
//   - GET    /upload/{id}/status: Session progress
//   - DELETE /upload/{id}: Abort a session
//   - GET    /uploads: List sessions
//   - DELETE /files: Sweep stale sessions
//   - GET    /health: Dependency health
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates a new upload API HTTP server.
//
// The server is created in a stopped state. Call Start() to begin
// serving requests.
//
// Defaults are applied here to ensure the server works correctly even
// when created directly (e.g., in tests). This is idempotent with the
// defaults applied during config loading.
func NewServer(config Config, deps Dependencies) *Server {
	config.applyDefaults()

	router := NewRouter(config, deps)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: router,
		// No ReadTimeout or WriteTimeout: chunk PUTs stream bodies and
		// finalize hashes whole blobs, either of which can legitimately
		// outlast a fixed deadline. The router's timeout middleware
		// bounds each request instead.
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}
}

// Start starts the API HTTP server and blocks until the context is
// cancelled or an error occurs.
//
// When the context is cancelled, Start initiates graceful shutdown,
// bounded by the configured ShutdownTimeout, and returns.
func (s *Server) Start(ctx context.Context) error {
	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Upload API listening", "port", s.config.Port)
		logger.Debug("API endpoints available",
			"init", fmt.Sprintf("http://localhost:%d/api/upload/init", s.config.Port),
			"health", fmt.Sprintf("http://localhost:%d/api/health", s.config.Port),
		)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		logger.Info("Upload API shutdown signal received")
		// Create new context with timeout for graceful shutdown
		// Don't use the cancelled ctx as it would cause immediate shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("upload API failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and safe to call concurrently
// with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("Upload API shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("upload API shutdown error: %w", err)
			logger.Error("Upload API shutdown error", "error", err)
		} else {
			logger.Info("Upload API stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.config.Port
}
