package uploader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttleup/shuttle/pkg/apiclient"
)

// fakeServer speaks just enough of the upload API to exercise the
// engine, with per-chunk failure injection.
type fakeServer struct {
	srv *httptest.Server

	mu         sync.Mutex
	initCalls  int
	seeded     []int
	chunks     map[int][]byte
	offsets    map[int]int64
	attempts   map[int]int
	attemptsAt map[int][]time.Time
	failures   map[int]int  // index -> remaining 500s before success
	reject     map[int]bool // index -> always 400

	finalizeCalls int
	clientHash    string

	chunkDelay  time.Duration
	inflight    int32
	maxInflight int32

	// When set, chunk handlers announce on arrived and block on
	// release before doing anything else.
	arrived chan int
	release chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		chunks:     make(map[int][]byte),
		offsets:    make(map[int]int64),
		attempts:   make(map[int]int),
		attemptsAt: make(map[int][]time.Time),
		failures:   make(map[int]int),
		reject:     make(map[int]bool),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) URL() string { return f.srv.URL }

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/upload/init":
		f.handleInit(w, r)
	case r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/chunk/"):
		f.handleChunk(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/finalize"):
		f.handleFinalize(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) handleInit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.initCalls++
	seeded := f.seeded
	f.mu.Unlock()
	if seeded == nil {
		seeded = []int{}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"uploadId":       "upload-1",
		"status":         "UPLOADING",
		"uploadedChunks": seeded,
	})
}

func (f *fakeServer) handleChunk(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	idx, _ := strconv.Atoi(parts[len(parts)-1])

	if f.arrived != nil {
		f.arrived <- idx
		<-f.release
	}

	cur := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInflight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInflight, max, cur) {
			break
		}
	}
	if f.chunkDelay > 0 {
		time.Sleep(f.chunkDelay)
	}

	f.mu.Lock()
	f.attempts[idx]++
	f.attemptsAt[idx] = append(f.attemptsAt[idx], time.Now())
	if f.reject[idx] {
		f.mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Chunk index out of range"}`))
		return
	}
	if f.failures[idx] > 0 {
		f.failures[idx]--
		f.mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to write chunk"}`))
		return
	}
	f.mu.Unlock()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	offset, _ := strconv.ParseInt(r.Header.Get("X-Chunk-Offset"), 10, 64)

	f.mu.Lock()
	f.chunks[idx] = body
	f.offsets[idx] = offset
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (f *fakeServer) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientHash string `json:"clientHash"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.finalizeCalls++
	f.clientHash = req.ClientHash
	var size int64
	for idx, body := range f.chunks {
		if end := f.offsets[idx] + int64(len(body)); end > size {
			size = end
		}
	}
	buf := make([]byte, size)
	for idx, body := range f.chunks {
		copy(buf[f.offsets[idx]:], body)
	}
	f.mu.Unlock()

	sum := sha256.Sum256(buf)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     "COMPLETED",
		"uploadId":   "upload-1",
		"hash":       hex.EncodeToString(sum[:]),
		"zipContent": []string{"(Not a valid ZIP archive)"},
	})
}

// assembled returns the file as the server would hash it.
func (f *fakeServer) assembled() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var size int64
	for idx, body := range f.chunks {
		if end := f.offsets[idx] + int64(len(body)); end > size {
			size = end
		}
	}
	buf := make([]byte, size)
	for idx, body := range f.chunks {
		copy(buf[f.offsets[idx]:], body)
	}
	return buf
}

func testContent(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newTestEngine(t *testing.T, server *fakeServer, content []byte, opts Options) *Engine {
	t.Helper()
	if opts.RetryBaseDelay == 0 {
		opts.RetryBaseDelay = time.Millisecond
	}
	engine, err := New(apiclient.New(server.URL()), bytes.NewReader(content), int64(len(content)), "test.bin", opts)
	require.NoError(t, err)
	return engine
}

func TestNewValidation(t *testing.T) {
	client := apiclient.New("http://localhost:4000")

	_, err := New(nil, bytes.NewReader(nil), 0, "f", Options{})
	assert.Error(t, err)

	_, err = New(client, nil, 0, "f", Options{})
	assert.Error(t, err)

	_, err = New(client, bytes.NewReader(nil), 0, "", Options{})
	assert.Error(t, err)

	_, err = New(client, bytes.NewReader(nil), -1, "f", Options{})
	assert.Error(t, err)
}

func TestChunkPlan(t *testing.T) {
	client := apiclient.New("http://localhost:4000")
	engine, err := New(client, bytes.NewReader(testContent(10)), 10, "f", Options{ChunkSize: 4})
	require.NoError(t, err)

	chunks := engine.Progress().Chunks
	require.Len(t, chunks, 3)
	assert.Equal(t, Chunk{Index: 0, Start: 0, End: 4, Status: ChunkPending}, chunks[0])
	assert.Equal(t, Chunk{Index: 1, Start: 4, End: 8, Status: ChunkPending}, chunks[1])
	assert.Equal(t, Chunk{Index: 2, Start: 8, End: 10, Status: ChunkPending}, chunks[2])
}

func TestEngineHappyPath(t *testing.T) {
	server := newFakeServer(t)
	content := testContent(10)

	var completed atomic.Int32
	var gotResult *apiclient.FinalizeResult
	engine := newTestEngine(t, server, content, Options{
		ChunkSize: 4,
		OnComplete: func(r *apiclient.FinalizeResult) {
			completed.Add(1)
			gotResult = r
		},
		OnError: func(err error) {
			t.Errorf("OnError called: %v", err)
		},
	})

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), result.Hash)
	assert.Equal(t, []string{"(Not a valid ZIP archive)"}, result.ZipContent)
	assert.Equal(t, StatusCompleted, engine.Status())
	assert.Equal(t, "upload-1", engine.UploadID())
	assert.Equal(t, int32(1), completed.Load())
	assert.Equal(t, result, gotResult)

	assert.Equal(t, content, server.assembled())
	assert.Equal(t, int64(0), server.offsets[0])
	assert.Equal(t, int64(4), server.offsets[1])
	assert.Equal(t, int64(8), server.offsets[2])
	assert.Equal(t, 1, server.finalizeCalls)

	progress := engine.Progress()
	assert.InDelta(t, 100, progress.ProgressPct, 0.01)
	for _, c := range progress.Chunks {
		assert.Equal(t, ChunkSuccess, c.Status)
	}
}

func TestEngineRunAfterCompletedReplays(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server, testContent(8), Options{ChunkSize: 4})

	first, err := engine.Run(context.Background())
	require.NoError(t, err)

	again, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, server.finalizeCalls)
}

func TestEngineRetriesTransientFailures(t *testing.T) {
	server := newFakeServer(t)
	server.failures[1] = 2

	var errCalls atomic.Int32
	engine := newTestEngine(t, server, testContent(12), Options{
		ChunkSize:  4,
		MaxRetries: 3,
		OnError:    func(error) { errCalls.Add(1) },
	})

	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 3, server.attempts[1])
	assert.Equal(t, int32(0), errCalls.Load())
	assert.Equal(t, StatusCompleted, engine.Status())

	for _, c := range engine.Progress().Chunks {
		if c.Index == 1 {
			assert.Equal(t, 2, c.Attempts)
		}
	}
}

func TestEngineFatalOn4xx(t *testing.T) {
	server := newFakeServer(t)
	server.reject[1] = true

	var errCalls atomic.Int32
	var gotErr error
	engine := newTestEngine(t, server, testContent(12), Options{
		ChunkSize:      4,
		MaxConcurrency: 1,
		OnError: func(err error) {
			errCalls.Add(1)
			gotErr = err
		},
	})

	_, err := engine.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, StatusFailed, engine.Status())
	assert.Equal(t, int32(1), errCalls.Load())
	assert.Equal(t, 1, server.attempts[1], "4xx must not be retried")
	assert.Equal(t, 0, server.finalizeCalls)

	var apiErr *apiclient.APIError
	require.True(t, errors.As(gotErr, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	for _, c := range engine.Progress().Chunks {
		if c.Index == 1 {
			assert.Equal(t, ChunkErrorFatal, c.Status)
		}
	}
}

func TestEngineRetryExhausted(t *testing.T) {
	server := newFakeServer(t)
	server.failures[2] = 999

	var errCalls atomic.Int32
	engine := newTestEngine(t, server, testContent(12), Options{
		ChunkSize:  4,
		MaxRetries: 2,
		OnError:    func(error) { errCalls.Add(1) },
	})

	_, err := engine.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2 failed after 3 attempts")

	assert.Equal(t, StatusFailed, engine.Status())
	assert.Equal(t, int32(1), errCalls.Load())
	assert.Equal(t, 3, server.attempts[2])
	assert.Equal(t, 0, server.finalizeCalls)
}

func TestEngineSeedsFromHandshake(t *testing.T) {
	server := newFakeServer(t)
	server.seeded = []int{0, 2}

	engine := newTestEngine(t, server, testContent(12), Options{ChunkSize: 4})

	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 0, server.attempts[0], "seeded chunk must not be re-sent")
	assert.Equal(t, 1, server.attempts[1])
	assert.Equal(t, 0, server.attempts[2], "seeded chunk must not be re-sent")

	progress := engine.Progress()
	assert.Equal(t, int64(12), progress.UploadedBytes)
	assert.InDelta(t, 100, progress.ProgressPct, 0.01)
}

func TestEngineRunAgainAfterFailure(t *testing.T) {
	server := newFakeServer(t)
	server.reject[1] = true

	engine := newTestEngine(t, server, testContent(12), Options{
		ChunkSize:      4,
		MaxConcurrency: 1,
	})

	_, err := engine.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, StatusFailed, engine.Status())

	server.mu.Lock()
	server.reject[1] = false
	server.mu.Unlock()

	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, StatusCompleted, engine.Status())

	assert.Equal(t, 1, server.initCalls, "resume must not re-handshake")
	assert.Equal(t, 1, server.attempts[0], "successful chunks are not re-sent")
	assert.Equal(t, 2, server.attempts[1])
	assert.Equal(t, testContent(12), server.assembled())
}

func TestEngineEmptyFile(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server, nil, Options{})

	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	sum := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(sum[:]), result.Hash)
	assert.Equal(t, 1, server.attempts[0])
	assert.Empty(t, server.chunks[0])
}

func TestEngineClientHashPassthrough(t *testing.T) {
	server := newFakeServer(t)
	engine := newTestEngine(t, server, testContent(8), Options{
		ChunkSize:  4,
		ClientHash: "cafebabe",
	})

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cafebabe", server.clientHash)
}

func TestEngineBoundedConcurrency(t *testing.T) {
	server := newFakeServer(t)
	server.chunkDelay = 20 * time.Millisecond

	engine := newTestEngine(t, server, testContent(8), Options{
		ChunkSize:      1,
		MaxConcurrency: 3,
	})

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	max := atomic.LoadInt32(&server.maxInflight)
	assert.LessOrEqual(t, max, int32(3), "in-flight PUTs exceeded the concurrency bound")
	assert.Greater(t, max, int32(1), "expected parallel dispatches")
}

func TestEngineBackoffDelay(t *testing.T) {
	server := newFakeServer(t)
	server.failures[0] = 1

	base := 50 * time.Millisecond
	engine := newTestEngine(t, server, testContent(4), Options{
		ChunkSize:      4,
		RetryBaseDelay: base,
	})

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	times := server.attemptsAt[0]
	require.Len(t, times, 2)
	gap := times[1].Sub(times[0])
	assert.GreaterOrEqual(t, gap, 2*base, "first retry must wait at least 2^1 * base")
}

func TestEnginePauseGate(t *testing.T) {
	server := newFakeServer(t)
	server.arrived = make(chan int)
	server.release = make(chan struct{})

	engine := newTestEngine(t, server, testContent(8), Options{
		ChunkSize:      4,
		MaxConcurrency: 1,
	})

	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(context.Background())
		done <- err
	}()

	// First chunk is in flight; pause before letting it finish.
	<-server.arrived
	engine.Pause()
	server.release <- struct{}{}

	// The in-flight result is applied but nothing new goes out.
	select {
	case idx := <-server.arrived:
		t.Fatalf("chunk %d dispatched while paused", idx)
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, StatusPaused, engine.Status())

	engine.Resume()
	<-server.arrived
	server.release <- struct{}{}

	require.NoError(t, <-done)
	assert.Equal(t, StatusCompleted, engine.Status())
	assert.Equal(t, testContent(8), server.assembled())
}

func TestEngineCancelledContext(t *testing.T) {
	server := newFakeServer(t)
	server.arrived = make(chan int)
	server.release = make(chan struct{})

	engine := newTestEngine(t, server, testContent(8), Options{
		ChunkSize:      4,
		MaxConcurrency: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(ctx)
		done <- err
	}()

	<-server.arrived
	cancel()
	server.release <- struct{}{}

	err := <-done
	require.Error(t, err)
	assert.Equal(t, StatusFailed, engine.Status())
	assert.Equal(t, 0, server.finalizeCalls)
}

func TestEngineProgressEvents(t *testing.T) {
	server := newFakeServer(t)

	var mu sync.Mutex
	var events []Progress
	engine := newTestEngine(t, server, testContent(8), Options{
		ChunkSize:      4,
		MaxConcurrency: 1,
		OnProgress: func(p Progress) {
			mu.Lock()
			events = append(events, p)
			mu.Unlock()
		},
	})

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)

	seen := make(map[Status]bool)
	for _, p := range events {
		seen[p.Status] = true
	}
	assert.True(t, seen[StatusUploading])
	assert.True(t, seen[StatusProcessing])
	assert.True(t, seen[StatusCompleted])

	last := events[len(events)-1]
	assert.Equal(t, StatusCompleted, last.Status)
	assert.InDelta(t, 100, last.ProgressPct, 0.01)
	assert.Equal(t, int64(8), last.UploadedBytes)
}

func TestBackoffDelaySchedule(t *testing.T) {
	base := time.Second
	assert.Equal(t, 2*time.Second, backoffDelay(base, 1))
	assert.Equal(t, 4*time.Second, backoffDelay(base, 2))
	assert.Equal(t, 8*time.Second, backoffDelay(base, 3))
	assert.Greater(t, backoffDelay(base, 100), time.Duration(0), "clamped shift must not overflow")
}
