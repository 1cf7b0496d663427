// Package janitor removes upload sessions that stopped making progress.
//
// A session in uploading state whose last activity is older than the
// stale TTL is failed and its blob deleted, reclaiming disk from clients
// that disappeared mid-upload. Completed and failed sessions are never
// touched; they hold the upload record until an explicit abort.
package janitor

import (
	"context"
	"time"

	"github.com/shuttleup/shuttle/internal/logger"
	"github.com/shuttleup/shuttle/internal/telemetry"
	"github.com/shuttleup/shuttle/pkg/blob"
	"github.com/shuttleup/shuttle/pkg/metrics"
	"github.com/shuttleup/shuttle/pkg/models"
	"github.com/shuttleup/shuttle/pkg/store"
)

// staleReason is recorded on sessions failed by the sweep.
const staleReason = "stale upload"

// Config tunes the janitor.
type Config struct {
	// StaleTTL is how long a session may sit idle in uploading state
	// before a sweep removes it. Must exceed any client retry backoff
	// window so the sweep cannot race an upload that is merely slow.
	// Default: 24h
	StaleTTL time.Duration

	// Interval is how often Run sweeps. Zero disables the periodic
	// loop; manual sweeps still work.
	// Default: 1h
	Interval time.Duration
}

func (c *Config) applyDefaults() {
	if c.StaleTTL == 0 {
		c.StaleTTL = 24 * time.Hour
	}
}

// Janitor sweeps stale upload sessions. It satisfies the API's Sweeper
// interface, so manual sweeps over HTTP and the periodic loop share one
// implementation.
type Janitor struct {
	store   store.Store
	blobs   blob.Store
	metrics *metrics.Metrics
	config  Config
}

// New creates a janitor. metrics may be nil to disable collection.
func New(st store.Store, blobs blob.Store, m *metrics.Metrics, config Config) *Janitor {
	config.applyDefaults()
	return &Janitor{
		store:   st,
		blobs:   blobs,
		metrics: m,
		config:  config,
	}
}

// Sweep runs one pass: every uploading session idle longer than the
// stale TTL has its blob removed and is marked failed. Returns the
// number of sessions cleaned. Sweeping is idempotent; sessions already
// failed or completed are skipped.
//
// Per-session errors are logged and skipped so one bad row cannot stall
// the whole pass; the session stays stale and the next sweep retries it.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanCleanupSweep)
	defer span.End()

	cutoff := time.Now().Add(-j.config.StaleTTL)
	stale, err := j.store.ListStale(ctx, cutoff)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return 0, err
	}

	removed := 0
	for _, upload := range stale {
		// Claim first: the conditional update loses against a session
		// that resumed or entered finalize between the listing and now,
		// so the sweep can never destroy a live upload's blob.
		if err := j.store.FailUpload(ctx, upload.ID, models.StatusUploading, staleReason); err != nil {
			logger.DebugCtx(ctx, "Stale upload changed state during sweep",
				"upload_id", upload.ID, "error", err)
			continue
		}
		removed++

		logger.InfoCtx(ctx, "Swept stale upload",
			"upload_id", upload.ID,
			"filename", upload.Filename,
			"idle_since", upload.UpdatedAt.Format(time.RFC3339),
		)

		if err := j.blobs.Remove(ctx, upload.ID); err != nil {
			// The session is already failed; the blob lingers until the
			// client aborts it or the operator removes it.
			telemetry.RecordError(ctx, err)
			logger.ErrorCtx(ctx, "Failed to remove stale blob", "upload_id", upload.ID, "error", err)
		}
	}

	j.metrics.RecordCleanup(removed)
	span.SetAttributes(telemetry.Removed(removed))
	if removed > 0 {
		logger.InfoCtx(ctx, "Cleanup sweep finished", "checked", len(stale), "removed", removed)
	}
	return removed, nil
}

// Run sweeps on the configured interval until the context is cancelled.
// A zero interval disables the loop.
func (j *Janitor) Run(ctx context.Context) {
	if j.config.Interval <= 0 {
		logger.Info("Periodic cleanup disabled")
		return
	}

	logger.Info("Periodic cleanup started",
		"interval", j.config.Interval.String(),
		"stale_ttl", j.config.StaleTTL.String(),
	)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Periodic cleanup stopped")
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				logger.Error("Cleanup sweep failed", "error", err)
			}
		}
	}
}
