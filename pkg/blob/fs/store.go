// Package fs provides a filesystem-backed blob store implementation.
//
// Blobs are stored as flat files named {id}.bin under a base directory.
// Positional writes rely on the filesystem's sparse file support: writing a
// high-offset chunk before its predecessors leaves a zero-filled hole that
// later writes fill in.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/shuttleup/shuttle/pkg/blob"
	"github.com/shuttleup/shuttle/pkg/bufpool"
)

// Store is a filesystem-backed implementation of blob.Store.
type Store struct {
	mu       sync.RWMutex
	basePath string
	fileMode os.FileMode
	closed   bool
}

// Config holds configuration for the filesystem blob store.
type Config struct {
	// BasePath is the directory holding blob files.
	BasePath string

	// CreateDir creates the base directory if it doesn't exist.
	// Default: true
	CreateDir bool

	// DirMode is the permission mode for created directories.
	// Default: 0755
	DirMode os.FileMode

	// FileMode is the permission mode for created blob files.
	// Default: 0644
	FileMode os.FileMode
}

// DefaultConfig returns the default configuration.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:  basePath,
		CreateDir: true,
		DirMode:   0755,
		FileMode:  0644,
	}
}

// New creates a new filesystem blob store with the given configuration.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("base path is required")
	}

	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
			return nil, fmt.Errorf("failed to create blob directory: %w", err)
		}
	}

	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("base path is not a directory")
	}

	return &Store{
		basePath: cfg.BasePath,
		fileMode: cfg.FileMode,
	}, nil
}

// NewWithPath creates a new filesystem blob store with default configuration.
func NewWithPath(basePath string) (*Store, error) {
	return New(DefaultConfig(basePath))
}

// blobPath returns the filesystem path for a blob ID.
//
// IDs are validated against the UUID shape before touching the path layer;
// the client-supplied filename never appears in a filesystem path.
func (s *Store) blobPath(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %q", blob.ErrInvalidID, id)
	}
	return filepath.Join(s.basePath, id+".bin"), nil
}

// Create ensures an empty blob file exists for the session.
func (s *Store) Create(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return blob.ErrStoreClosed
	}

	path, err := s.blobPath(id)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, s.fileMode)
	if err != nil {
		return fmt.Errorf("failed to create blob: %w", err)
	}
	return f.Close()
}

// WriteAt streams r into the blob at the given offset.
//
// The write path holds only a read lock: concurrent chunk writers are
// expected, and positional writes to disjoint ranges are safe against the
// same file. Each call opens its own descriptor so writers never share
// file-position state.
func (s *Store) WriteAt(ctx context.Context, id string, offset int64, r io.Reader) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, blob.ErrStoreClosed
	}
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}

	path, err := s.blobPath(id)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, s.fileMode)
	if err != nil {
		return 0, fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	written, err := copyAt(ctx, f, offset, r)
	if err != nil {
		return written, fmt.Errorf("failed to write blob at offset %d: %w", offset, err)
	}

	return written, nil
}

// copyAt copies r to f starting at offset using a pooled buffer, so a chunk
// body is never held in memory as a whole.
func copyAt(ctx context.Context, f *os.File, offset int64, r io.Reader) (int64, error) {
	buf := bufpool.Get(bufpool.DefaultMediumSize)
	defer bufpool.Put(buf)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if _, writeErr := f.WriteAt(buf[:n], offset+written); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// Open returns a read handle for the blob.
func (s *Store) Open(ctx context.Context, id string) (blob.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, blob.ErrStoreClosed
	}

	path, err := s.blobPath(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blob.ErrBlobNotFound
		}
		return nil, err
	}
	return f, nil
}

// Size returns the blob's current length in bytes.
func (s *Store) Size(ctx context.Context, id string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, blob.ErrStoreClosed
	}

	path, err := s.blobPath(id)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, blob.ErrBlobNotFound
		}
		return 0, err
	}
	return info.Size(), nil
}

// Exists reports whether a blob file is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, blob.ErrStoreClosed
	}

	path, err := s.blobPath(id)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove deletes the blob file. Removing a missing blob is not an error.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return blob.ErrStoreClosed
	}

	path, err := s.blobPath(id)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// HealthCheck verifies the base directory is accessible.
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return blob.ErrStoreClosed
	}

	_, err := os.Stat(s.basePath)
	return err
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// BasePath returns the base path of the store (for testing).
func (s *Store) BasePath() string {
	return s.basePath
}

// Ensure Store implements blob.Store.
var _ blob.Store = (*Store)(nil)
