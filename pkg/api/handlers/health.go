package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shuttleup/shuttle/internal/logger"
	"github.com/shuttleup/shuttle/pkg/blob"
	"github.com/shuttleup/shuttle/pkg/store"
)

// healthCheckTimeout bounds each dependency probe so a hung store cannot
// stall the endpoint past the router timeout.
const healthCheckTimeout = 5 * time.Second

var errNotConfigured = errors.New("not configured")

// HealthHandler reports whether the upload server can do useful work.
type HealthHandler struct {
	store store.Store
	blobs blob.Store
}

// NewHealthHandler creates a health handler. Either dependency may be
// nil, in which case its check reports unhealthy.
func NewHealthHandler(st store.Store, blobs blob.Store) *HealthHandler {
	return &HealthHandler{store: st, blobs: blobs}
}

// CheckResult is the outcome of a single dependency probe.
type CheckResult struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Health handles GET /api/health.
//
// It probes the session store and the blob store and returns 200 with
// status "healthy" when both respond, or 503 with status "degraded"
// when either fails. The endpoint is unauthenticated so load balancers
// and probes can reach it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]CheckResult{
		"store": h.runCheck(ctx, "store", h.checkStore),
		"blobs": h.runCheck(ctx, "blobs", h.checkBlobs),
	}

	status := "healthy"
	code := http.StatusOK
	for _, check := range checks {
		if check.Status != "healthy" {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	WriteJSON(w, code, HealthResponse{Status: status, Checks: checks})
}

func (h *HealthHandler) runCheck(ctx context.Context, name string, probe func(context.Context) error) CheckResult {
	start := time.Now()
	err := probe(ctx)
	latency := time.Since(start)

	if err != nil {
		logger.WarnCtx(ctx, "Health check failed", "check", name, "error", err)
		return CheckResult{
			Status:  "unhealthy",
			Latency: latency.String(),
			Error:   err.Error(),
		}
	}

	return CheckResult{
		Status:  "healthy",
		Latency: latency.String(),
	}
}

func (h *HealthHandler) checkStore(ctx context.Context) error {
	if h.store == nil {
		return errNotConfigured
	}
	return h.store.Healthcheck(ctx)
}

func (h *HealthHandler) checkBlobs(ctx context.Context) error {
	if h.blobs == nil {
		return errNotConfigured
	}
	return h.blobs.HealthCheck(ctx)
}
