package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for upload operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Upload-session keys use the "upload." prefix, blob I/O keys use "fs.",
// storage backend keys use "storage.".
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// ========================================================================
	// Upload session attributes
	// ========================================================================
	AttrUploadID    = "upload.id"
	AttrFilename    = "upload.filename"
	AttrTotalSize   = "upload.total_size"
	AttrChunkSize   = "upload.chunk_size"
	AttrTotalChunks = "upload.total_chunks"
	AttrChunkIndex  = "upload.chunk_index"
	AttrState       = "upload.state"
	AttrResumed     = "upload.resumed"
	AttrChecksum    = "upload.checksum"
	AttrReceived    = "upload.chunks_received"
	AttrMissing     = "upload.chunks_missing"

	// ========================================================================
	// Blob I/O attributes
	// ========================================================================
	AttrOffset       = "fs.offset"
	AttrBytes        = "fs.bytes"
	AttrContentPath  = "fs.path"
	AttrBytesWritten = "fs.bytes_written"
	AttrBytesRead    = "fs.bytes_read"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrDialect = "db.dialect"
	AttrBucket  = "storage.bucket"
	AttrKey     = "storage.key"
	AttrRegion  = "storage.region"
	AttrParts   = "storage.parts"

	// ========================================================================
	// Operation metadata
	// ========================================================================
	AttrOperation = "upload.operation"
	AttrRemoved   = "cleanup.removed"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	// HTTP-facing upload operations
	SpanUploadInit     = "upload.init"
	SpanUploadChunk    = "upload.chunk"
	SpanUploadFinalize = "upload.finalize"
	SpanUploadStatus   = "upload.status"
	SpanUploadAbort    = "upload.abort"

	// Finalize internals
	SpanFinalizeHash    = "finalize.hash"
	SpanFinalizeInspect = "finalize.inspect"

	// Background maintenance
	SpanCleanupSweep = "cleanup.sweep"

	// Blob store operations
	SpanBlobWrite  = "blob.write"
	SpanBlobRead   = "blob.read"
	SpanBlobRemove = "blob.remove"

	// Offload operations
	SpanOffloadArchive = "offload.archive"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// UploadID returns an attribute for the upload session identifier
func UploadID(id string) attribute.KeyValue {
	return attribute.String(AttrUploadID, id)
}

// Filename returns an attribute for the original client filename
func Filename(name string) attribute.KeyValue {
	return attribute.String(AttrFilename, name)
}

// TotalSize returns an attribute for the declared file size
func TotalSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrTotalSize, size)
}

// ChunkSize returns an attribute for the negotiated chunk size
func ChunkSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrChunkSize, size)
}

// TotalChunks returns an attribute for the expected chunk count
func TotalChunks(n int) attribute.KeyValue {
	return attribute.Int(AttrTotalChunks, n)
}

// ChunkIndex returns an attribute for the zero-based chunk index
func ChunkIndex(i int) attribute.KeyValue {
	return attribute.Int(AttrChunkIndex, i)
}

// State returns an attribute for the upload lifecycle state
func State(state string) attribute.KeyValue {
	return attribute.String(AttrState, state)
}

// Resumed returns an attribute indicating a reattached session
func Resumed(resumed bool) attribute.KeyValue {
	return attribute.Bool(AttrResumed, resumed)
}

// Checksum returns an attribute for a SHA-256 hex digest
func Checksum(sum string) attribute.KeyValue {
	return attribute.String(AttrChecksum, sum)
}

// ChunksReceived returns an attribute for chunks received so far
func ChunksReceived(n int64) attribute.KeyValue {
	return attribute.Int64(AttrReceived, n)
}

// ChunksMissing returns an attribute for chunks still outstanding
func ChunksMissing(n int64) attribute.KeyValue {
	return attribute.Int64(AttrMissing, n)
}

// Offset returns an attribute for a byte offset within the assembled file
func Offset(offset int64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, offset)
}

// Bytes returns an attribute for a payload size
func Bytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, n)
}

// BytesWritten returns an attribute for actual bytes written
func BytesWritten(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytesWritten, n)
}

// BytesRead returns an attribute for actual bytes read
func BytesRead(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytesRead, n)
}

// ContentPath returns an attribute for the blob path on disk
func ContentPath(path string) attribute.KeyValue {
	return attribute.String(AttrContentPath, path)
}

// Dialect returns an attribute for the database dialect
func Dialect(d string) attribute.KeyValue {
	return attribute.String(AttrDialect, d)
}

// Bucket returns an attribute for an object storage bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for the object storage region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// Parts returns an attribute for a multipart part count
func Parts(n int) attribute.KeyValue {
	return attribute.Int(AttrParts, n)
}

// Operation returns an attribute for the logical operation name
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// Removed returns an attribute for sessions removed by a cleanup pass
func Removed(n int) attribute.KeyValue {
	return attribute.Int(AttrRemoved, n)
}

// StartUploadSpan starts a span for an upload-session operation.
// This is a convenience function that sets the session ID attribute.
func StartUploadSpan(ctx context.Context, name, uploadID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, 1+len(attrs))
	if uploadID != "" {
		allAttrs = append(allAttrs, UploadID(uploadID))
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartBlobSpan starts a span for a blob store operation.
func StartBlobSpan(ctx context.Context, operation, uploadID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		UploadID(uploadID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "blob."+operation, trace.WithAttributes(allAttrs...))
}

// StartStoreSpan starts a span for a durable store operation.
func StartStoreSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "store."+operation, trace.WithAttributes(attrs...))
}
