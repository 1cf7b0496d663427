// Package blob defines the random-access byte store that holds assembled
// upload payloads.
//
// Each upload session owns exactly one blob, keyed by its session ID. Chunks
// arrive in any order and are written at their declared byte offsets, so a
// blob may contain sparse holes until every chunk has landed. Finalize streams
// the completed blob back out for verification.
package blob

import (
	"context"
	"errors"
	"io"
)

// Common errors returned by blob store implementations.
var (
	// ErrBlobNotFound indicates the requested blob does not exist.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrInvalidID indicates the blob ID is not a valid session identifier.
	// IDs become filesystem paths, so anything but the expected UUID shape
	// is rejected before it reaches the disk layer.
	ErrInvalidID = errors.New("invalid blob id")

	// ErrStoreClosed indicates an operation was attempted on a closed store.
	ErrStoreClosed = errors.New("blob store is closed")
)

// File is the read handle returned by Open.
//
// It combines sequential streaming (hashing the assembled payload) with
// random access (reading a ZIP central directory). An *os.File satisfies it.
type File interface {
	io.ReadSeekCloser
	io.ReaderAt
}

// Store provides positional access to upload payloads.
//
// Implementations must support concurrent WriteAt calls against the same
// blob: chunk handlers write disjoint byte ranges in parallel, and re-sent
// chunks overwrite their own range without disturbing neighbours.
type Store interface {
	// Create ensures an empty blob exists for the session. Creating an
	// existing blob is a no-op and preserves its contents.
	Create(ctx context.Context, id string) error

	// WriteAt streams r into the blob at the given byte offset, creating the
	// blob when missing. Writing past the current end leaves a sparse hole
	// that later chunks fill in. Returns the number of bytes written.
	WriteAt(ctx context.Context, id string, offset int64, r io.Reader) (int64, error)

	// Open returns a read handle positioned at the start of the blob.
	// The caller owns the handle and must close it.
	Open(ctx context.Context, id string) (File, error)

	// Size returns the blob's current length in bytes.
	Size(ctx context.Context, id string) (int64, error)

	// Exists reports whether a blob is present for the session.
	Exists(ctx context.Context, id string) (bool, error)

	// Remove deletes the blob. Removing a missing blob is not an error.
	Remove(ctx context.Context, id string) error

	// HealthCheck verifies the store is accessible and operational.
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the store. Operations after Close
	// return ErrStoreClosed.
	Close() error
}
