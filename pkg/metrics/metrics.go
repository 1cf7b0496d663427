// Package metrics provides Prometheus instrumentation for the upload
// server and an HTTP server that exposes the scrape endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Finalize result label values.
const (
	ResultCompleted    = "completed"
	ResultHashMismatch = "hash_mismatch"
	ResultIncomplete   = "incomplete"
	ResultConflict     = "conflict"
	ResultError        = "error"
)

// Offload result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics tracks upload-lifecycle Prometheus metrics.
//
// All metrics use the shuttle_ prefix. Methods are safe on a nil
// receiver, so callers can wire a nil *Metrics to disable collection
// without sprinkling enabled-checks through handler code.
type Metrics struct {
	// UploadsStarted counts uploads created by init (resumed uploads
	// do not count again)
	UploadsStarted prometheus.Counter

	// ChunksReceived counts chunk PUTs that were durably applied
	ChunksReceived prometheus.Counter

	// ChunkBytes counts payload bytes written into blobs
	ChunkBytes prometheus.Counter

	// FinalizeTotal counts finalize outcomes by result
	FinalizeTotal *prometheus.CounterVec

	// FinalizeDuration tracks finalize latency (hash + introspection)
	FinalizeDuration prometheus.Histogram

	// ActiveUploads tracks uploads currently in a non-terminal state
	ActiveUploads prometheus.Gauge

	// CleanupRemoved counts uploads reaped by the stale janitor
	CleanupRemoved prometheus.Counter

	// OffloadTotal counts S3 archival attempts by result
	OffloadTotal *prometheus.CounterVec
}

// NewMetrics creates upload metrics with the shuttle_ prefix.
//
// Panics if registration fails, which is expected only during
// initialization (duplicate registration is a programming error).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UploadsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shuttle_uploads_started_total",
				Help: "Total uploads created by the init handshake",
			},
		),
		ChunksReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shuttle_chunks_received_total",
				Help: "Total chunks durably written and recorded",
			},
		),
		ChunkBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shuttle_chunk_bytes_total",
				Help: "Total chunk payload bytes written into blobs",
			},
		),
		FinalizeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuttle_finalize_total",
				Help: "Total finalize attempts by outcome",
			},
			[]string{"result"},
		),
		FinalizeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shuttle_finalize_duration_seconds",
				Help:    "Finalize duration including hashing and archive inspection",
				Buckets: prometheus.DefBuckets,
			},
		),
		ActiveUploads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shuttle_active_uploads",
				Help: "Uploads currently in uploading or processing state",
			},
		),
		CleanupRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shuttle_cleanup_removed_total",
				Help: "Total stale uploads removed by cleanup sweeps",
			},
		),
		OffloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuttle_offload_total",
				Help: "Total S3 offload attempts by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.UploadsStarted,
		m.ChunksReceived,
		m.ChunkBytes,
		m.FinalizeTotal,
		m.FinalizeDuration,
		m.ActiveUploads,
		m.CleanupRemoved,
		m.OffloadTotal,
	)

	return m
}

// RecordUploadStarted records a freshly created upload.
func (m *Metrics) RecordUploadStarted() {
	if m == nil {
		return
	}
	m.UploadsStarted.Inc()
	m.ActiveUploads.Inc()
}

// RecordUploadFinished records an upload leaving the active set
// (completed, failed, or aborted).
func (m *Metrics) RecordUploadFinished() {
	if m == nil {
		return
	}
	m.ActiveUploads.Dec()
}

// RecordChunk records one applied chunk and its payload size.
func (m *Metrics) RecordChunk(bytes int64) {
	if m == nil {
		return
	}
	m.ChunksReceived.Inc()
	if bytes > 0 {
		m.ChunkBytes.Add(float64(bytes))
	}
}

// RecordFinalize records a finalize attempt outcome and duration.
//
// result should be one of the Result* constants.
func (m *Metrics) RecordFinalize(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FinalizeTotal.WithLabelValues(result).Inc()
	m.FinalizeDuration.Observe(duration.Seconds())
}

// RecordCleanup records a sweep that removed the given number of stale
// uploads. Removed uploads also leave the active set.
func (m *Metrics) RecordCleanup(removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.CleanupRemoved.Add(float64(removed))
	m.ActiveUploads.Sub(float64(removed))
}

// RecordOffload records an S3 archival attempt.
func (m *Metrics) RecordOffload(err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.OffloadTotal.WithLabelValues(result).Inc()
}

// NullMetrics returns nil, which acts as a no-op metrics collector.
// All Metrics methods handle nil receiver gracefully.
func NullMetrics() *Metrics {
	return nil
}
