// Package uploader implements the client-side transfer engine: a
// bounded worker pool over a fixed chunk plan with per-chunk retry,
// pause/resume and progress reporting.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shuttleup/shuttle/internal/logger"
	"github.com/shuttleup/shuttle/pkg/apiclient"
)

// Default engine tuning. ChunkSize must stay stable across runs of the
// same upload because resume is keyed by chunk indexes.
const (
	DefaultChunkSize      = 5 * 1024 * 1024
	DefaultMaxConcurrency = 3
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
)

// Status is the engine lifecycle state.
type Status string

const (
	StatusUploading  Status = "UPLOADING"
	StatusPaused     Status = "PAUSED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ChunkState is the per-chunk transfer state.
type ChunkState string

const (
	ChunkPending    ChunkState = "PENDING"
	ChunkUploading  ChunkState = "UPLOADING"
	ChunkSuccess    ChunkState = "SUCCESS"
	ChunkErrorRetry ChunkState = "ERROR_RETRY"
	ChunkErrorFatal ChunkState = "ERROR_FATAL"
)

// Chunk is one entry of the chunk plan: the byte range [Start, End) of
// the source file at a zero-based index.
type Chunk struct {
	Index    int
	Start    int64
	End      int64
	Status   ChunkState
	Attempts int
}

// Progress is a snapshot of the transfer, emitted after every state
// change.
type Progress struct {
	Chunks        []Chunk
	Status        Status
	UploadedBytes int64
	TotalBytes    int64
	ProgressPct   float64
	SpeedMbps     float64
	ETASeconds    float64
}

// Options configures an upload engine.
type Options struct {
	// ChunkSize is the size of each chunk in bytes. Resume relies on
	// chunk indexes, so it must match the value used when the upload
	// was started.
	ChunkSize int64

	// MaxConcurrency bounds the number of chunk PUTs in flight.
	MaxConcurrency int

	// MaxRetries is how many times a transiently failed chunk is
	// retried before the transfer fails.
	MaxRetries int

	// RetryBaseDelay is the base for exponential backoff between
	// retries of the same chunk (delay = base * 2^attempts).
	RetryBaseDelay time.Duration

	// ClientHash is an optional hex SHA-256 of the whole file, passed
	// through to finalize for server-side verification. The engine
	// never hashes the file itself.
	ClientHash string

	// OnProgress is invoked after every chunk or engine state change.
	// Calls are serialized but may come from any worker goroutine.
	OnProgress func(Progress)

	// OnComplete is invoked once when finalize commits the upload.
	OnComplete func(*apiclient.FinalizeResult)

	// OnError is invoked once per run when the transfer fails.
	OnError func(error)
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
}

// Engine drives one file transfer. Run blocks until the upload reaches
// a terminal state; Pause and Resume may be called from other
// goroutines. After a failed run the chunk plan and attempt counters
// survive, so calling Run again retries every non-SUCCESS chunk once
// more before re-failing.
type Engine struct {
	client   *apiclient.Client
	file     io.ReaderAt
	size     int64
	filename string
	opts     Options

	mu            sync.Mutex
	cond          *sync.Cond
	status        Status
	running       bool
	chunks        []Chunk
	uploadID      string
	uploadedBytes int64
	startTime     time.Time
	fatalErr      error
	result        *apiclient.FinalizeResult

	// emitMu serializes OnProgress calls across workers.
	emitMu sync.Mutex
}

// New creates an upload engine for a file of known size. The file must
// support concurrent ReadAt (os.File does); the engine never closes it.
func New(client *apiclient.Client, file io.ReaderAt, size int64, filename string, opts Options) (*Engine, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if file == nil {
		return nil, errors.New("file is required")
	}
	if filename == "" {
		return nil, errors.New("filename is required")
	}
	if size < 0 {
		return nil, errors.New("size must be nonnegative")
	}
	opts.applyDefaults()

	total := int((size + opts.ChunkSize - 1) / opts.ChunkSize)
	if total < 1 {
		// An empty file still travels as one zero-length chunk so the
		// session and finalize flow stay uniform.
		total = 1
	}
	chunks := make([]Chunk, total)
	for i := range chunks {
		start := int64(i) * opts.ChunkSize
		end := start + opts.ChunkSize
		if end > size {
			end = size
		}
		chunks[i] = Chunk{Index: i, Start: start, End: end, Status: ChunkPending}
	}

	e := &Engine{
		client:   client,
		file:     file,
		size:     size,
		filename: filename,
		opts:     opts,
		chunks:   chunks,
	}
	e.cond = sync.NewCond(&e.mu)
	return e, nil
}

// Status returns the engine state. It is empty before the first Run.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// UploadID returns the server-assigned session ID, empty before the
// init handshake.
func (e *Engine) UploadID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uploadID
}

// Run performs the transfer and blocks until it reaches a terminal
// state. On a completed engine it returns the committed result again.
func (e *Engine) Run(ctx context.Context) (*apiclient.FinalizeResult, error) {
	e.mu.Lock()
	if e.status == StatusCompleted {
		result := e.result
		e.mu.Unlock()
		return result, nil
	}
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("upload already in progress")
	}
	e.running = true
	firstPass := e.uploadID == ""
	if !firstPass {
		// Resume pass: every non-SUCCESS chunk goes back in the queue
		// with its attempt counter intact, so each gets one more try
		// before the run can fail again.
		for i := range e.chunks {
			if e.chunks[i].Status != ChunkSuccess {
				e.chunks[i].Status = ChunkPending
			}
		}
	}
	e.fatalErr = nil
	e.status = StatusUploading
	e.startTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if firstPass {
		if err := e.handshake(ctx); err != nil {
			return nil, e.fail(err)
		}
	}
	e.emit()

	e.mu.Lock()
	var pending []int
	for i := range e.chunks {
		if e.chunks[i].Status == ChunkPending {
			pending = append(pending, i)
		}
	}
	e.mu.Unlock()

	if len(pending) > 0 {
		e.runPool(ctx, pending)
	}

	e.mu.Lock()
	fatal := e.fatalErr
	e.mu.Unlock()
	if fatal != nil {
		return nil, e.fail(fatal)
	}

	return e.finalize(ctx)
}

// Pause stops new chunk dispatches. In-flight requests complete and
// their results are applied. It is a no-op unless uploading.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.status != StatusUploading {
		e.mu.Unlock()
		return
	}
	e.status = StatusPaused
	e.mu.Unlock()

	logger.Info("Upload paused", "upload_id", e.UploadID())
	e.emit()
}

// Resume reopens the gate after Pause. Resuming a failed transfer is
// done by calling Run again.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.status != StatusPaused {
		e.mu.Unlock()
		return
	}
	e.status = StatusUploading
	e.cond.Broadcast()
	e.mu.Unlock()

	logger.Info("Upload resumed", "upload_id", e.UploadID())
	e.emit()
}

// Progress returns a snapshot of the transfer.
func (e *Engine) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()

	chunks := make([]Chunk, len(e.chunks))
	copy(chunks, e.chunks)
	succeeded := 0
	for _, c := range chunks {
		if c.Status == ChunkSuccess {
			succeeded++
		}
	}

	var pct float64
	if e.size > 0 {
		pct = 100 * float64(e.uploadedBytes) / float64(e.size)
	} else if len(chunks) > 0 {
		pct = 100 * float64(succeeded) / float64(len(chunks))
	}

	var speedBps, eta float64
	if !e.startTime.IsZero() {
		if elapsed := time.Since(e.startTime).Seconds(); elapsed > 0 {
			speedBps = float64(e.uploadedBytes) / elapsed
		}
	}
	if speedBps > 0 {
		eta = float64(e.size-e.uploadedBytes) / speedBps
	}

	return Progress{
		Chunks:        chunks,
		Status:        e.status,
		UploadedBytes: e.uploadedBytes,
		TotalBytes:    e.size,
		ProgressPct:   pct,
		SpeedMbps:     speedBps * 8 / 1e6,
		ETASeconds:    eta,
	}
}

// handshake declares the upload and seeds the plan with the chunks the
// server already holds.
func (e *Engine) handshake(ctx context.Context) error {
	session, err := e.client.Init(ctx, apiclient.InitRequest{
		Filename:    e.filename,
		TotalSize:   e.size,
		TotalChunks: len(e.chunks),
	})
	if err != nil {
		return fmt.Errorf("init upload: %w", err)
	}

	e.mu.Lock()
	e.uploadID = session.UploadID
	seeded := 0
	for _, idx := range session.UploadedChunks {
		if idx < 0 || idx >= len(e.chunks) {
			continue
		}
		if e.chunks[idx].Status != ChunkSuccess {
			e.chunks[idx].Status = ChunkSuccess
			e.uploadedBytes += e.chunks[idx].End - e.chunks[idx].Start
			seeded++
		}
	}
	e.mu.Unlock()

	logger.Info("Upload session ready",
		"upload_id", session.UploadID,
		"filename", e.filename,
		"total_chunks", len(e.chunks),
		"already_uploaded", seeded,
	)
	return nil
}

// runPool drains the pending queue with a bounded worker pool. Workers
// pull the lowest pending index, dispatch with retry internally, and
// exit on fatal error; the first fatal cancels the rest of the run.
func (e *Engine) runPool(ctx context.Context, pending []int) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Wake paused workers when the run is cancelled so none of them
	// sleeps through shutdown.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-runCtx.Done():
			e.mu.Lock()
			e.cond.Broadcast()
			e.mu.Unlock()
		case <-watcherDone:
		}
	}()

	queue := make(chan int, len(pending))
	for _, idx := range pending {
		queue <- idx
	}
	close(queue)

	workers := e.opts.MaxConcurrency
	if workers > len(pending) {
		workers = len(pending)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				if err := e.dispatch(runCtx, idx); err != nil {
					e.recordFatal(err)
					cancel()
				}
			}
		}()
	}
	wg.Wait()
}

// dispatch uploads one chunk, holding its worker slot through retry
// backoff so in-flight requests can never exceed the concurrency
// bound. It returns nil on success and the fatal error otherwise.
func (e *Engine) dispatch(ctx context.Context, idx int) error {
	for {
		if err := e.waitUploading(ctx); err != nil {
			return err
		}

		e.mu.Lock()
		e.chunks[idx].Status = ChunkUploading
		c := e.chunks[idx]
		uploadID := e.uploadID
		e.mu.Unlock()
		e.emit()

		section := io.NewSectionReader(e.file, c.Start, c.End-c.Start)
		err := e.client.PutChunk(ctx, uploadID, idx, c.Start, c.End-c.Start, section)
		if err == nil {
			e.mu.Lock()
			e.chunks[idx].Status = ChunkSuccess
			e.uploadedBytes += c.End - c.Start
			e.mu.Unlock()

			logger.Debug("Chunk uploaded",
				"upload_id", uploadID, "chunk_index", idx, "bytes", c.End-c.Start)
			e.emit()
			return nil
		}
		if ctx.Err() != nil {
			// The run was cancelled mid-flight; the chunk goes back in
			// the plan for the next pass.
			e.setChunkState(idx, ChunkPending)
			return ctx.Err()
		}

		e.mu.Lock()
		e.chunks[idx].Attempts++
		attempts := e.chunks[idx].Attempts
		e.mu.Unlock()

		if !isTransient(err) {
			e.setChunkState(idx, ChunkErrorFatal)
			e.emit()
			return fmt.Errorf("chunk %d rejected by server: %w", idx, err)
		}
		if attempts > e.opts.MaxRetries {
			e.setChunkState(idx, ChunkErrorFatal)
			e.emit()
			return fmt.Errorf("chunk %d failed after %d attempts: %w", idx, attempts, err)
		}

		delay := backoffDelay(e.opts.RetryBaseDelay, attempts)
		e.setChunkState(idx, ChunkErrorRetry)
		e.emit()
		logger.Warn("Chunk failed, retrying",
			"upload_id", uploadID,
			"chunk_index", idx,
			"attempt", attempts,
			"retry_in", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			e.setChunkState(idx, ChunkPending)
			return ctx.Err()
		case <-time.After(delay):
		}

		e.setChunkState(idx, ChunkPending)
		e.emit()
	}
}

// finalize asks the server to verify and commit the upload.
func (e *Engine) finalize(ctx context.Context) (*apiclient.FinalizeResult, error) {
	e.setStatus(StatusProcessing)
	e.emit()

	uploadID := e.UploadID()
	result, err := e.client.Finalize(ctx, uploadID, e.opts.ClientHash)
	if err != nil {
		return nil, e.fail(fmt.Errorf("finalize upload: %w", err))
	}

	e.mu.Lock()
	e.status = StatusCompleted
	e.result = result
	e.mu.Unlock()

	logger.Info("Upload completed",
		"upload_id", uploadID, "filename", e.filename, "hash", result.Hash)
	e.emit()
	if e.opts.OnComplete != nil {
		e.opts.OnComplete(result)
	}
	return result, nil
}

// fail moves the engine to FAILED and surfaces the error once.
func (e *Engine) fail(err error) error {
	e.setStatus(StatusFailed)

	logger.Error("Upload failed",
		"upload_id", e.UploadID(), "filename", e.filename, "error", err)
	e.emit()
	if e.opts.OnError != nil {
		e.opts.OnError(err)
	}
	return err
}

// waitUploading blocks while the engine is paused. It is the gate
// workers check between attempts.
func (e *Engine) waitUploading(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.status == StatusPaused {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.cond.Wait()
	}
	return ctx.Err()
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

func (e *Engine) setChunkState(idx int, s ChunkState) {
	e.mu.Lock()
	e.chunks[idx].Status = s
	e.mu.Unlock()
}

func (e *Engine) recordFatal(err error) {
	e.mu.Lock()
	if e.fatalErr == nil {
		e.fatalErr = err
	}
	e.mu.Unlock()
}

// emit delivers a progress snapshot. Serialized so consumers see
// events in order even when workers race.
func (e *Engine) emit() {
	if e.opts.OnProgress == nil {
		return
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.opts.OnProgress(e.Progress())
}

// isTransient reports whether a chunk failure is worth retrying.
// Server errors and anything that never produced an HTTP status
// (connection resets, timeouts) are transient; other API responses are
// permanent rejections.
func isTransient(err error) bool {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsServerError()
	}
	return true
}

// backoffDelay is base * 2^attempts, with the shift clamped so the
// duration cannot overflow when attempts keep growing across resume
// passes.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	shift := attempts
	if shift > 20 {
		shift = 20
	}
	return base * time.Duration(int64(1)<<shift)
}
