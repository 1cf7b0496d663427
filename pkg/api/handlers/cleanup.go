package handlers

import (
	"context"
	"net/http"

	"github.com/shuttleup/shuttle/internal/logger"
)

// Sweeper removes stale upload sessions and their blobs. The janitor
// implements it; the handler only triggers a pass.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// CleanupHandler exposes the janitor sweep over HTTP so operators can
// force a pass without waiting for the timer.
type CleanupHandler struct {
	sweeper Sweeper
}

// NewCleanupHandler creates a cleanup handler. A nil sweeper disables
// the endpoint.
func NewCleanupHandler(sweeper Sweeper) *CleanupHandler {
	return &CleanupHandler{sweeper: sweeper}
}

type cleanupResponse struct {
	Cleaned int `json:"cleaned"`
}

// Cleanup handles DELETE /api/files. It runs one stale-session sweep
// and reports how many sessions were removed.
func (h *CleanupHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		ServiceUnavailable(w, "Cleanup is not available")
		return
	}

	ctx := r.Context()
	removed, err := h.sweeper.Sweep(ctx)
	if err != nil {
		logger.ErrorCtx(ctx, "Cleanup sweep failed", "error", err)
		InternalServerError(w, "Cleanup failed")
		return
	}

	logger.InfoCtx(ctx, "Cleanup sweep finished", "removed", removed)
	WriteJSONOK(w, cleanupResponse{Cleaned: removed})
}
