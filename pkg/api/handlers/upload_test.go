//go:build integration

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/shuttleup/shuttle/pkg/blob"
	"github.com/shuttleup/shuttle/pkg/blob/fs"
	"github.com/shuttleup/shuttle/pkg/models"
	"github.com/shuttleup/shuttle/pkg/store"
)

// setupUploadTest creates an upload handler backed by an in-memory
// SQLite store and a temp-dir blob store.
func setupUploadTest(t *testing.T) (store.Store, blob.Store, *UploadHandler) {
	t.Helper()

	st, err := store.New(&store.Config{
		Type: store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	// In-memory SQLite gives every pooled connection its own database,
	// so the pool is pinned to a single connection.
	sqlDB, err := st.DB().DB()
	if err != nil {
		t.Fatalf("Failed to get underlying database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	blobs, err := fs.NewWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}

	t.Cleanup(func() {
		_ = blobs.Close()
		_ = st.Close()
	})

	return st, blobs, NewUploadHandler(st, blobs, nil, nil)
}

// withURLParams attaches chi URL parameters to a request so handlers
// can be invoked without a router.
func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// doInit runs an init request and returns the decoded response.
func doInit(t *testing.T, handler *UploadHandler, filename string, totalSize int64, totalChunks int) initResponse {
	t.Helper()

	body, _ := json.Marshal(map[string]any{
		"filename":    filename,
		"totalSize":   totalSize,
		"totalChunks": totalChunks,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/upload/init", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.Init(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Init() status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp initResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal init response: %v", err)
	}
	return resp
}

// doChunk sends one chunk and returns the recorder without asserting
// the status, so callers can check error paths.
func doChunk(t *testing.T, handler *UploadHandler, uploadID string, index int, offset int64, payload []byte) *httptest.ResponseRecorder {
	t.Helper()

	path := fmt.Sprintf("/api/upload/%s/chunk/%d", uploadID, index)
	req := httptest.NewRequest(http.MethodPut, path, bytes.NewReader(payload))
	req.Header.Set("X-Chunk-Offset", fmt.Sprintf("%d", offset))
	req = withURLParams(req, map[string]string{
		"uploadID":   uploadID,
		"chunkIndex": fmt.Sprintf("%d", index),
	})
	w := httptest.NewRecorder()

	handler.PutChunk(w, req)
	return w
}

func mustChunk(t *testing.T, handler *UploadHandler, uploadID string, index int, offset int64, payload []byte) {
	t.Helper()
	if w := doChunk(t, handler, uploadID, index, offset, payload); w.Code != http.StatusOK {
		t.Fatalf("PutChunk(%d) status = %d, body = %s", index, w.Code, w.Body.String())
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to unmarshal error body %q: %v", w.Body.String(), err)
	}
	return body.Error
}

func TestUploadHandler_Init(t *testing.T) {
	_, _, handler := setupUploadTest(t)

	t.Run("creates a new session", func(t *testing.T) {
		resp := doInit(t, handler, "photos.zip", 1024, 2)

		if resp.UploadID == "" {
			t.Error("Expected a non-empty upload id")
		}
		if resp.Status != "UPLOADING" {
			t.Errorf("Status = %q, want UPLOADING", resp.Status)
		}
		if resp.UploadedChunks == nil || len(resp.UploadedChunks) != 0 {
			t.Errorf("UploadedChunks = %v, want empty list", resp.UploadedChunks)
		}
	})

	t.Run("serializes uploadedChunks as an array", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"filename": "raw.zip", "totalSize": 10, "totalChunks": 1,
		})
		req := httptest.NewRequest(http.MethodPost, "/api/upload/init", bytes.NewReader(body))
		w := httptest.NewRecorder()
		handler.Init(w, req)

		if !bytes.Contains(w.Body.Bytes(), []byte(`"uploadedChunks":[]`)) {
			t.Errorf("Expected uploadedChunks to serialize as [], body = %s", w.Body.String())
		}
	})

	tests := []struct {
		name string
		body string
	}{
		{"rejects malformed body", `{"filename": `},
		{"rejects missing filename", `{"totalSize": 10, "totalChunks": 1}`},
		{"rejects zero chunks", `{"filename": "a.zip", "totalSize": 10, "totalChunks": 0}`},
		{"rejects negative size", `{"filename": "a.zip", "totalSize": -1, "totalChunks": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/upload/init", bytes.NewReader([]byte(tt.body)))
			w := httptest.NewRecorder()
			handler.Init(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Init() status = %d, want %d, body = %s", w.Code, http.StatusBadRequest, w.Body.String())
			}
			if msg := decodeError(t, w); msg == "" {
				t.Error("Expected an error message in the body")
			}
		})
	}
}

func TestUploadHandler_Init_Resume(t *testing.T) {
	st, _, handler := setupUploadTest(t)
	ctx := context.Background()

	t.Run("resumes a matching session with its chunks", func(t *testing.T) {
		created := doInit(t, handler, "resume.zip", 1000, 4)
		mustChunk(t, handler, created.UploadID, 0, 0, bytes.Repeat([]byte{1}, 250))
		mustChunk(t, handler, created.UploadID, 1, 250, bytes.Repeat([]byte{2}, 250))

		resumed := doInit(t, handler, "resume.zip", 1000, 4)

		if resumed.UploadID != created.UploadID {
			t.Errorf("Resumed id = %s, want %s", resumed.UploadID, created.UploadID)
		}
		if len(resumed.UploadedChunks) != 2 || resumed.UploadedChunks[0] != 0 || resumed.UploadedChunks[1] != 1 {
			t.Errorf("UploadedChunks = %v, want [0 1]", resumed.UploadedChunks)
		}
	})

	t.Run("different size starts a new session", func(t *testing.T) {
		first := doInit(t, handler, "sized.zip", 500, 1)
		second := doInit(t, handler, "sized.zip", 600, 1)

		if first.UploadID == second.UploadID {
			t.Error("Expected a different session for a different total size")
		}
	})

	t.Run("failed sessions are not resumed", func(t *testing.T) {
		first := doInit(t, handler, "failed.zip", 800, 2)
		if err := st.FailUpload(ctx, first.UploadID, models.StatusUploading, "hash mismatch"); err != nil {
			t.Fatalf("Failed to fail upload: %v", err)
		}

		second := doInit(t, handler, "failed.zip", 800, 2)

		if second.UploadID == first.UploadID {
			t.Error("Expected a fresh session after failure")
		}
		if len(second.UploadedChunks) != 0 {
			t.Errorf("UploadedChunks = %v, want empty", second.UploadedChunks)
		}
	})
}

func TestUploadHandler_Init_ResetsWhenBlobMissing(t *testing.T) {
	st, blobs, handler := setupUploadTest(t)
	ctx := context.Background()

	created := doInit(t, handler, "vanished.zip", 600, 3)
	mustChunk(t, handler, created.UploadID, 0, 0, bytes.Repeat([]byte{7}, 200))

	// Simulate the blob disappearing out from under the session
	if err := blobs.Remove(ctx, created.UploadID); err != nil {
		t.Fatalf("Failed to remove blob: %v", err)
	}

	resumed := doInit(t, handler, "vanished.zip", 600, 3)

	if resumed.UploadID != created.UploadID {
		t.Errorf("Reset should keep the session id, got %s want %s", resumed.UploadID, created.UploadID)
	}
	if len(resumed.UploadedChunks) != 0 {
		t.Errorf("UploadedChunks = %v, want empty after reset", resumed.UploadedChunks)
	}

	exists, err := blobs.Exists(ctx, created.UploadID)
	if err != nil {
		t.Fatalf("Failed to check blob: %v", err)
	}
	if !exists {
		t.Error("Expected the blob to be recreated")
	}

	indexes, err := st.ChunkIndexes(ctx, created.UploadID)
	if err != nil {
		t.Fatalf("Failed to list chunks: %v", err)
	}
	if len(indexes) != 0 {
		t.Errorf("Chunk receipts = %v, want none after reset", indexes)
	}
}

func TestUploadHandler_PutChunk(t *testing.T) {
	st, blobs, handler := setupUploadTest(t)
	ctx := context.Background()

	t.Run("stores the chunk at its offset", func(t *testing.T) {
		created := doInit(t, handler, "bytes.zip", 10, 2)

		w := doChunk(t, handler, created.UploadID, 1, 5, []byte("world"))
		if w.Code != http.StatusOK {
			t.Fatalf("PutChunk() status = %d, body = %s", w.Code, w.Body.String())
		}
		var resp chunkResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || !resp.Success {
			t.Errorf("Expected success response, got %s", w.Body.String())
		}

		f, err := blobs.Open(ctx, created.UploadID)
		if err != nil {
			t.Fatalf("Failed to open blob: %v", err)
		}
		defer f.Close()
		got := make([]byte, 5)
		if _, err := f.ReadAt(got, 5); err != nil {
			t.Fatalf("Failed to read blob: %v", err)
		}
		if string(got) != "world" {
			t.Errorf("Blob bytes = %q, want %q", got, "world")
		}
	})

	t.Run("missing offset header mutates nothing", func(t *testing.T) {
		created := doInit(t, handler, "strict.zip", 10, 2)

		path := fmt.Sprintf("/api/upload/%s/chunk/0", created.UploadID)
		req := httptest.NewRequest(http.MethodPut, path, bytes.NewReader([]byte("hello")))
		req = withURLParams(req, map[string]string{"uploadID": created.UploadID, "chunkIndex": "0"})
		w := httptest.NewRecorder()
		handler.PutChunk(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("PutChunk() status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if msg := decodeError(t, w); msg != "Missing X-Chunk-Offset header" {
			t.Errorf("Error = %q, want missing-header message", msg)
		}

		indexes, err := st.ChunkIndexes(ctx, created.UploadID)
		if err != nil {
			t.Fatalf("Failed to list chunks: %v", err)
		}
		if len(indexes) != 0 {
			t.Errorf("Chunk receipts = %v, want none", indexes)
		}
	})

	t.Run("malformed offset header rejected", func(t *testing.T) {
		created := doInit(t, handler, "garbled.zip", 10, 2)

		path := fmt.Sprintf("/api/upload/%s/chunk/0", created.UploadID)
		for _, bad := range []string{"abc", "-5", "1.5"} {
			req := httptest.NewRequest(http.MethodPut, path, bytes.NewReader([]byte("hello")))
			req.Header.Set("X-Chunk-Offset", bad)
			req = withURLParams(req, map[string]string{"uploadID": created.UploadID, "chunkIndex": "0"})
			w := httptest.NewRecorder()
			handler.PutChunk(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("PutChunk(offset=%q) status = %d, want %d", bad, w.Code, http.StatusBadRequest)
			}
		}
	})

	t.Run("unknown upload returns 404", func(t *testing.T) {
		w := doChunk(t, handler, "11111111-2222-3333-4444-555555555555", 0, 0, []byte("x"))
		if w.Code != http.StatusNotFound {
			t.Errorf("PutChunk() status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("index past the declared count rejected", func(t *testing.T) {
		created := doInit(t, handler, "narrow.zip", 10, 2)

		w := doChunk(t, handler, created.UploadID, 2, 0, []byte("x"))
		if w.Code != http.StatusBadRequest {
			t.Errorf("PutChunk() status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if msg := decodeError(t, w); msg != "Chunk index out of range" {
			t.Errorf("Error = %q, want out-of-range message", msg)
		}
	})

	t.Run("body overrunning the file size rejected", func(t *testing.T) {
		created := doInit(t, handler, "overflow.zip", 10, 2)

		w := doChunk(t, handler, created.UploadID, 1, 8, []byte("toolong"))
		if w.Code != http.StatusBadRequest {
			t.Errorf("PutChunk() status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if msg := decodeError(t, w); msg != "Chunk exceeds declared file size" {
			t.Errorf("Error = %q, want size message", msg)
		}
	})

	t.Run("non-uploading session rejects chunks", func(t *testing.T) {
		created := doInit(t, handler, "busy.zip", 10, 1)
		if err := st.TransitionStatus(ctx, created.UploadID, models.StatusUploading, models.StatusProcessing); err != nil {
			t.Fatalf("Failed to transition: %v", err)
		}

		w := doChunk(t, handler, created.UploadID, 0, 0, []byte("x"))
		if w.Code != http.StatusConflict {
			t.Errorf("PutChunk() status = %d, want %d", w.Code, http.StatusConflict)
		}
	})

	t.Run("resending an index overwrites the receipt", func(t *testing.T) {
		created := doInit(t, handler, "again.zip", 10, 2)

		mustChunk(t, handler, created.UploadID, 0, 0, []byte("AAAAA"))
		mustChunk(t, handler, created.UploadID, 0, 0, []byte("BBBBB"))

		indexes, err := st.ChunkIndexes(ctx, created.UploadID)
		if err != nil {
			t.Fatalf("Failed to list chunks: %v", err)
		}
		if len(indexes) != 1 || indexes[0] != 0 {
			t.Errorf("Chunk receipts = %v, want [0]", indexes)
		}

		f, err := blobs.Open(ctx, created.UploadID)
		if err != nil {
			t.Fatalf("Failed to open blob: %v", err)
		}
		defer f.Close()
		got := make([]byte, 5)
		if _, err := f.ReadAt(got, 0); err != nil {
			t.Fatalf("Failed to read blob: %v", err)
		}
		if string(got) != "BBBBB" {
			t.Errorf("Blob bytes = %q, want the resent payload", got)
		}
	})
}

func TestUploadHandler_Status(t *testing.T) {
	_, _, handler := setupUploadTest(t)

	t.Run("unknown upload returns 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/upload/nope/status", nil)
		req = withURLParams(req, map[string]string{"uploadID": "11111111-2222-3333-4444-555555555555"})
		w := httptest.NewRecorder()
		handler.Status(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Status() status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("reports received chunks and progress", func(t *testing.T) {
		created := doInit(t, handler, "progress.zip", 300, 3)
		mustChunk(t, handler, created.UploadID, 0, 0, bytes.Repeat([]byte{1}, 100))
		mustChunk(t, handler, created.UploadID, 2, 200, bytes.Repeat([]byte{3}, 100))

		req := httptest.NewRequest(http.MethodGet, "/api/upload/x/status", nil)
		req = withURLParams(req, map[string]string{"uploadID": created.UploadID})
		w := httptest.NewRecorder()
		handler.Status(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Status() status = %d, body = %s", w.Code, w.Body.String())
		}
		var resp statusResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to unmarshal: %v", err)
		}

		if resp.Status != "UPLOADING" {
			t.Errorf("Status = %q, want UPLOADING", resp.Status)
		}
		if len(resp.UploadedChunks) != 2 || resp.UploadedChunks[0] != 0 || resp.UploadedChunks[1] != 2 {
			t.Errorf("UploadedChunks = %v, want [0 2]", resp.UploadedChunks)
		}
		if resp.ProgressPct < 66.6 || resp.ProgressPct > 66.7 {
			t.Errorf("ProgressPct = %f, want about 66.67", resp.ProgressPct)
		}
		if resp.FinalHash != "" {
			t.Errorf("FinalHash = %q, want empty before finalize", resp.FinalHash)
		}
	})
}

func TestUploadHandler_List(t *testing.T) {
	st, _, handler := setupUploadTest(t)
	ctx := context.Background()

	t.Run("empty store lists no uploads", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/uploads", nil)
		w := httptest.NewRecorder()
		handler.List(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("List() status = %d", w.Code)
		}
		if !bytes.Contains(w.Body.Bytes(), []byte(`"uploads":[]`)) {
			t.Errorf("Expected uploads to serialize as [], body = %s", w.Body.String())
		}
	})

	t.Run("filters by status", func(t *testing.T) {
		active := doInit(t, handler, "active.zip", 100, 1)
		done := doInit(t, handler, "done.zip", 100, 1)
		if err := st.TransitionStatus(ctx, done.UploadID, models.StatusUploading, models.StatusProcessing); err != nil {
			t.Fatalf("Failed to transition: %v", err)
		}
		if err := st.CompleteUpload(ctx, done.UploadID, "abc123"); err != nil {
			t.Fatalf("Failed to complete: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/api/uploads?status=UPLOADING", nil)
		w := httptest.NewRecorder()
		handler.List(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("List() status = %d, body = %s", w.Code, w.Body.String())
		}
		var resp listResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to unmarshal: %v", err)
		}
		if len(resp.Uploads) != 1 || resp.Uploads[0].UploadID != active.UploadID {
			t.Errorf("Filtered list = %+v, want just the active session", resp.Uploads)
		}
	})

	t.Run("rejects an unknown status filter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/uploads?status=bogus", nil)
		w := httptest.NewRecorder()
		handler.List(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("List() status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestUploadHandler_Abort(t *testing.T) {
	st, blobs, handler := setupUploadTest(t)
	ctx := context.Background()

	abort := func(t *testing.T, id string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodDelete, "/api/upload/"+id, nil)
		req = withURLParams(req, map[string]string{"uploadID": id})
		w := httptest.NewRecorder()
		handler.Abort(w, req)
		return w
	}

	t.Run("removes the session and its blob", func(t *testing.T) {
		created := doInit(t, handler, "doomed.zip", 100, 2)
		mustChunk(t, handler, created.UploadID, 0, 0, bytes.Repeat([]byte{9}, 50))

		w := abort(t, created.UploadID)
		if w.Code != http.StatusNoContent {
			t.Fatalf("Abort() status = %d, want %d", w.Code, http.StatusNoContent)
		}

		if _, err := st.GetUpload(ctx, created.UploadID); err == nil {
			t.Error("Expected the session to be gone")
		}
		exists, err := blobs.Exists(ctx, created.UploadID)
		if err != nil {
			t.Fatalf("Failed to check blob: %v", err)
		}
		if exists {
			t.Error("Expected the blob to be removed")
		}
	})

	t.Run("unknown upload returns 404", func(t *testing.T) {
		w := abort(t, "11111111-2222-3333-4444-555555555555")
		if w.Code != http.StatusNotFound {
			t.Errorf("Abort() status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("terminal sessions are removable", func(t *testing.T) {
		created := doInit(t, handler, "done-for.zip", 100, 1)
		if err := st.FailUpload(ctx, created.UploadID, models.StatusUploading, "hash mismatch"); err != nil {
			t.Fatalf("Failed to fail upload: %v", err)
		}

		w := abort(t, created.UploadID)
		if w.Code != http.StatusNoContent {
			t.Errorf("Abort() status = %d, want %d", w.Code, http.StatusNoContent)
		}
	})
}
