// Package bufpool provides a tiered buffer pool for efficient memory reuse.
//
// The pool hands out reusable byte slices for chunk I/O, reducing GC pressure
// on servers that stream many chunk payloads concurrently.
//
// Three size tiers balance memory efficiency with reuse:
//   - Small buffers (default 4KB): JSON bodies and control payloads
//   - Medium buffers (default 64KB): streaming copy buffers
//   - Large buffers (default 4MB): whole chunk payloads at the default chunk size
//
// Buffers larger than the large tier are allocated directly and not pooled
// to avoid keeping very large buffers in memory indefinitely.
//
// All operations are safe for concurrent use via sync.Pool.
//
// Usage:
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
//	// ... use buf ...
package bufpool

import (
	"sync"
)

// Default buffer size classes.
// These can be overridden when creating a custom pool with NewPool.
const (
	// DefaultSmallSize handles JSON bodies and control payloads (4KB)
	DefaultSmallSize = 4 << 10

	// DefaultMediumSize handles streaming copy buffers (64KB)
	DefaultMediumSize = 64 << 10

	// DefaultLargeSize holds a whole chunk at the default chunk size (4MB)
	DefaultLargeSize = 4 << 20
)

// Pool manages a set of byte slice pools organized by size class.
// It selects the appropriate pool based on requested size and falls back
// to direct allocation for oversized requests.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int
}

// Config holds configuration for creating a custom buffer pool.
type Config struct {
	// SmallSize is the size of small buffers (default: 4KB)
	SmallSize int

	// MediumSize is the size of medium buffers (default: 64KB)
	MediumSize int

	// LargeSize is the size of large buffers (default: 4MB)
	LargeSize int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// NewPool creates a new buffer pool with the given configuration.
// If config is nil, default values are used.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		defaultCfg := DefaultConfig()
		cfg = &defaultCfg
	}

	// Apply defaults for zero values
	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.MediumSize <= 0 {
		cfg.MediumSize = DefaultMediumSize
	}
	if cfg.LargeSize <= 0 {
		cfg.LargeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize:  cfg.SmallSize,
		mediumSize: cfg.MediumSize,
		largeSize:  cfg.LargeSize,
	}

	p.small = sync.Pool{
		New: func() any {
			buf := make([]byte, p.smallSize)
			return &buf
		},
	}
	p.medium = sync.Pool{
		New: func() any {
			buf := make([]byte, p.mediumSize)
			return &buf
		},
	}
	p.large = sync.Pool{
		New: func() any {
			buf := make([]byte, p.largeSize)
			return &buf
		},
	}

	return p
}

// Get returns a byte slice of at least the requested size. The slice is
// backed by a pooled buffer, so its capacity may exceed the requested size.
//
// The caller must call Put() when finished with the buffer. For sizes larger
// than LargeSize, a new slice is allocated directly and will not be pooled.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		// Oversized requests are allocated directly without pooling
		buf := make([]byte, size)
		return buf
	}

	// Return slice with exact requested length but backed by pooled buffer
	buf := *bufPtr
	return buf[:size]
}

// Put returns a buffer to the pool for reuse. The buffer must have been
// obtained from Get() and must not be used after Put().
//
// Buffers that don't match a pool size class are left for the GC.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	// The backing capacity identifies which pool the buffer came from
	switch cap(buf) {
	case p.smallSize:
		fullBuf := buf[:cap(buf)]
		p.small.Put(&fullBuf)
	case p.mediumSize:
		fullBuf := buf[:cap(buf)]
		p.medium.Put(&fullBuf)
	case p.largeSize:
		fullBuf := buf[:cap(buf)]
		p.large.Put(&fullBuf)
	default:
		return
	}
}

// =============================================================================
// Global Pool
// =============================================================================

// globalPool is the package-level buffer pool with default configuration.
var globalPool = NewPool(nil)

// Get returns a byte slice of at least the requested size from the global pool.
//
// Usage:
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
// Always pair this with Get() using defer to ensure buffers are returned.
func Put(buf []byte) {
	globalPool.Put(buf)
}
