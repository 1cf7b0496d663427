package logger

import (
	"context"
	"time"
)

type contextKeyType struct{}

var logContextKey = contextKeyType{}

// LogContext carries request-scoped logging fields through a context.Context.
// The HTTP layer populates it once per request; every *Ctx log call below it
// then emits the same correlation fields without threading them by hand.
type LogContext struct {
	TraceID   string // OpenTelemetry trace ID
	SpanID    string // OpenTelemetry span ID
	RequestID string // per-request ID assigned by the HTTP middleware
	Operation string // logical operation: init, chunk, finalize, ...
	UploadID  string // upload session ID, once known
	ClientIP  string // remote client address
	StartTime time.Time
}

// NewLogContext creates a LogContext for the given operation with the
// start time set to now.
func NewLogContext(operation string) *LogContext {
	return &LogContext{
		Operation: operation,
		StartTime: time.Now(),
	}
}

// WithContext returns a new context carrying the LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext extracts the LogContext from a context, or nil if absent
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// Clone returns a copy of the LogContext so callers can mutate fields
// without affecting sibling operations sharing the parent context.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithOperation returns a context whose LogContext has the operation set,
// creating a fresh LogContext when the parent carries none.
func WithOperation(ctx context.Context, operation string) context.Context {
	lc := FromContext(ctx).Clone()
	if lc == nil {
		lc = NewLogContext(operation)
	} else {
		lc.Operation = operation
	}
	return WithContext(ctx, lc)
}

// WithUpload returns a context whose LogContext carries the upload session ID
func WithUpload(ctx context.Context, uploadID string) context.Context {
	lc := FromContext(ctx).Clone()
	if lc == nil {
		lc = &LogContext{StartTime: time.Now()}
	}
	lc.UploadID = uploadID
	return WithContext(ctx, lc)
}

// WithTrace returns a context whose LogContext carries trace correlation IDs
func WithTrace(ctx context.Context, traceID, spanID string) context.Context {
	lc := FromContext(ctx).Clone()
	if lc == nil {
		lc = &LogContext{StartTime: time.Now()}
	}
	lc.TraceID = traceID
	lc.SpanID = spanID
	return WithContext(ctx, lc)
}

// DurationMs returns milliseconds elapsed since the operation started
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
