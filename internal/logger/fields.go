package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so upload sessions can
// be correlated and queried in log aggregation.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// HTTP Request
	// ========================================================================
	KeyRequestID = "request_id" // per-request ID assigned by the HTTP middleware
	KeyMethod    = "method"     // HTTP method
	KeyPath      = "path"       // request path
	KeyStatus    = "status"     // HTTP response status code
	KeyClientIP  = "client_ip"  // remote client address

	// ========================================================================
	// Upload Session
	// ========================================================================
	KeyUploadID    = "upload_id"    // upload session identifier
	KeyFilename    = "filename"     // original client filename (basename)
	KeyTotalSize   = "total_size"   // declared file size in bytes
	KeyChunkSize   = "chunk_size"   // chunk size in bytes
	KeyChunkIndex  = "chunk_index"  // zero-based chunk index
	KeyTotalChunks = "total_chunks" // expected chunk count
	KeyOffset      = "offset"       // byte offset within the assembled file
	KeyBytes       = "bytes"        // payload size in bytes
	KeyReceived    = "received"     // chunks received so far
	KeyMissing     = "missing"      // chunks still outstanding
	KeyState       = "state"        // upload lifecycle state
	KeyChecksum    = "checksum"     // SHA-256 hex digest
	KeyContentPath = "content_path" // path of the assembled blob on disk

	// ========================================================================
	// Transfer Engine
	// ========================================================================
	KeyEndpoint   = "endpoint"    // server base URL
	KeyWorkers    = "workers"     // concurrent upload workers
	KeyAttempt    = "attempt"     // retry attempt number
	KeyMaxRetries = "max_retries" // maximum retry attempts
	KeyBackoff    = "backoff"     // backoff delay before the next attempt

	// ========================================================================
	// Storage & Offload
	// ========================================================================
	KeyDialect = "dialect" // database dialect: sqlite, postgres
	KeyBucket  = "bucket"  // object storage bucket name
	KeyKey     = "key"     // object key in the bucket
	KeyRegion  = "region"  // object storage region
	KeyParts   = "parts"   // multipart part count

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyOperation  = "operation"   // logical operation: init, chunk, finalize, ...
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyCount      = "count"       // generic element count
	KeyRemoved    = "removed"     // sessions removed by a cleanup pass
	KeyTTL        = "ttl"         // retention window for stale sessions
	KeyReason     = "reason"      // short machine-readable cause
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// RequestID returns a slog.Attr for the per-request ID
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// ClientIP returns a slog.Attr for the remote client address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// UploadID returns a slog.Attr for the upload session identifier
func UploadID(id string) slog.Attr {
	return slog.String(KeyUploadID, id)
}

// Filename returns a slog.Attr for the original client filename
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// TotalSize returns a slog.Attr for the declared file size
func TotalSize(n int64) slog.Attr {
	return slog.Int64(KeyTotalSize, n)
}

// ChunkIndex returns a slog.Attr for the zero-based chunk index
func ChunkIndex(i int) slog.Attr {
	return slog.Int(KeyChunkIndex, i)
}

// TotalChunks returns a slog.Attr for the expected chunk count
func TotalChunks(n int) slog.Attr {
	return slog.Int(KeyTotalChunks, n)
}

// Offset returns a slog.Attr for a byte offset within the assembled file
func Offset(off int64) slog.Attr {
	return slog.Int64(KeyOffset, off)
}

// Bytes returns a slog.Attr for a payload size
func Bytes(n int64) slog.Attr {
	return slog.Int64(KeyBytes, n)
}

// State returns a slog.Attr for the upload lifecycle state
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// Checksum returns a slog.Attr for a SHA-256 hex digest
func Checksum(sum string) slog.Attr {
	return slog.String(KeyChecksum, sum)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// Bucket returns a slog.Attr for an object storage bucket name
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// Key returns a slog.Attr for an object key
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// Region returns a slog.Attr for an object storage region
func Region(r string) slog.Attr {
	return slog.String(KeyRegion, r)
}

// Operation returns a slog.Attr for the logical operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Count returns a slog.Attr for a generic element count
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// Reason returns a slog.Attr for a short machine-readable cause
func Reason(r string) slog.Attr {
	return slog.String(KeyReason, r)
}
