package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/shuttleup/shuttle/internal/logger"
	"github.com/shuttleup/shuttle/pkg/api/handlers"
)

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Permissive CORS so browser clients can upload directly
//   - Request timeout on every route except finalize, whose runtime
//     scales with blob size
//
// Routes:
//   - GET    /api/health                              - Dependency health
//   - POST   /api/upload/init                         - Create or resume a session
//   - PUT    /api/upload/{uploadID}/chunk/{chunkIndex} - Receive one chunk
//   - POST   /api/upload/{uploadID}/finalize          - Verify and commit
//   - GET    /api/upload/{uploadID}/status            - Session progress
//   - DELETE /api/upload/{uploadID}                   - Abort a session
//   - GET    /api/uploads                             - List sessions
//   - DELETE /api/files                               - Sweep stale sessions
func NewRouter(cfg Config, deps Dependencies) http.Handler {
	cfg.applyDefaults()

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	timed := middleware.Timeout(cfg.RequestTimeout)

	uploadHandler := handlers.NewUploadHandler(deps.Store, deps.Blobs, deps.Metrics, deps.Archiver)
	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Blobs)
	cleanupHandler := handlers.NewCleanupHandler(deps.Sweeper)

	r.Route("/api", func(r chi.Router) {
		r.With(timed).Get("/health", healthHandler.Health)

		r.Route("/upload", func(r chi.Router) {
			r.With(timed).Post("/init", uploadHandler.Init)

			r.Route("/{uploadID}", func(r chi.Router) {
				r.With(timed).Put("/chunk/{chunkIndex}", uploadHandler.PutChunk)
				// Finalize streams the whole blob through SHA-256, so
				// its runtime scales with blob size and cannot sit
				// under a fixed deadline.
				r.Post("/finalize", uploadHandler.Finalize)
				r.With(timed).Get("/status", uploadHandler.Status)
				r.With(timed).Delete("/", uploadHandler.Abort)
			})
		})

		r.With(timed).Get("/uploads", uploadHandler.List)
		r.With(timed).Delete("/files", cleanupHandler.Cleanup)
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the
// internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}
