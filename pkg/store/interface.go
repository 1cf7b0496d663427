// Package store persists upload sessions and chunk receipts.
//
// The store backs both the HTTP handlers and the background janitor. It runs
// on SQLite for single-node deployments (the default) and PostgreSQL for
// deployments that need an external database; both share one GORM codebase.
//
// Status transitions are compare-and-swap updates conditioned on the current
// status, so concurrent finalize calls resolve to exactly one winner without
// holding database locks across the assembly work.
package store

import (
	"context"
	"time"

	"github.com/shuttleup/shuttle/pkg/models"
)

// Store defines persistence operations for upload sessions and their chunks.
type Store interface {
	// ========================================================================
	// Upload sessions
	// ========================================================================

	// CreateUpload inserts a new session, generating an ID when absent,
	// and returns the session ID.
	CreateUpload(ctx context.Context, upload *models.Upload) (string, error)

	// GetUpload returns the session with the given ID.
	// Returns models.ErrUploadNotFound when it does not exist.
	GetUpload(ctx context.Context, id string) (*models.Upload, error)

	// FindResumable returns the most recent session in the uploading state
	// matching the (filename, totalSize) identity, or models.ErrUploadNotFound.
	FindResumable(ctx context.Context, filename string, totalSize int64) (*models.Upload, error)

	// ListUploads returns sessions newest first. A non-empty status filters
	// to that state.
	ListUploads(ctx context.Context, status models.UploadStatus) ([]*models.Upload, error)

	// ListStale returns uploading sessions whose last activity is older
	// than cutoff, oldest first. Processing and terminal sessions are
	// never listed.
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.Upload, error)

	// DeleteUpload removes a session and its chunk receipts.
	DeleteUpload(ctx context.Context, id string) error

	// TouchUpload refreshes the session's last-activity timestamp.
	TouchUpload(ctx context.Context, id string) error

	// ========================================================================
	// Status transitions
	// ========================================================================

	// TransitionStatus moves a session from one status to another only if it
	// still holds the from status. Returns models.ErrStaleTransition when the
	// status changed concurrently, models.ErrUploadNotFound when the session
	// does not exist.
	TransitionStatus(ctx context.Context, id string, from, to models.UploadStatus) error

	// CompleteUpload moves a processing session to completed, recording the
	// verified checksum.
	CompleteUpload(ctx context.Context, id string, checksum string) error

	// FailUpload moves a session from the given state to failed, recording
	// the reason. Returns models.ErrStaleTransition when the session is
	// not in the expected state.
	FailUpload(ctx context.Context, id string, from models.UploadStatus, reason string) error

	// ========================================================================
	// Chunks
	// ========================================================================

	// UpsertChunk records the receipt of a chunk. Re-receiving an index
	// replaces the previous receipt.
	UpsertChunk(ctx context.Context, chunk *models.Chunk) error

	// ListChunks returns a session's chunk receipts ordered by index.
	ListChunks(ctx context.Context, uploadID string) ([]*models.Chunk, error)

	// ChunkIndexes returns the distinct chunk indexes received for a session
	// in ascending order.
	ChunkIndexes(ctx context.Context, uploadID string) ([]int, error)

	// CountChunks returns the number of distinct chunks received.
	CountChunks(ctx context.Context, uploadID string) (int64, error)

	// DeleteChunks removes all chunk receipts for a session. Used when the
	// backing blob disappears and the session restarts from scratch.
	DeleteChunks(ctx context.Context, uploadID string) error

	// ========================================================================
	// Lifecycle
	// ========================================================================

	// Healthcheck verifies database connectivity.
	Healthcheck(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}
