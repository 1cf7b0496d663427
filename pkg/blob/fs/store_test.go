//go:build integration

package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/shuttleup/shuttle/pkg/blob"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("NewWithPath failed: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestStore_CreateAndExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := uuid.New().String()

	exists, err := s.Exists(ctx, id)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("blob should not exist before Create")
	}

	if err := s.Create(ctx, id); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	exists, err = s.Exists(ctx, id)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("blob should exist after Create")
	}

	size, err := s.Size(ctx, id)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 0 {
		t.Errorf("new blob size = %d, want 0", size)
	}

	// Verify file layout on disk
	path := filepath.Join(s.BasePath(), id+".bin")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("blob file not found at %s", path)
	}
}

func TestStore_CreatePreservesContents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := uuid.New().String()

	if _, err := s.WriteAt(ctx, id, 0, strings.NewReader("payload")); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	// Create on an existing blob must not truncate
	if err := s.Create(ctx, id); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	size, err := s.Size(ctx, id)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != int64(len("payload")) {
		t.Errorf("size after re-Create = %d, want %d", size, len("payload"))
	}
}

func TestStore_WriteAtSequential(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := uuid.New().String()

	n, err := s.WriteAt(ctx, id, 0, strings.NewReader("hello "))
	if err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if n != 6 {
		t.Errorf("WriteAt wrote %d bytes, want 6", n)
	}

	if _, err := s.WriteAt(ctx, id, 6, strings.NewReader("world")); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	got := readAll(t, s, id)
	if string(got) != "hello world" {
		t.Errorf("blob contents = %q, want %q", got, "hello world")
	}
}

func TestStore_WriteAtOutOfOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := uuid.New().String()

	// Write the tail first: the file grows to its final length and the gap
	// reads back as zeros until the head chunk lands.
	if _, err := s.WriteAt(ctx, id, 6, strings.NewReader("world")); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	size, err := s.Size(ctx, id)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 11 {
		t.Errorf("sparse blob size = %d, want 11", size)
	}

	got := readAll(t, s, id)
	if !bytes.Equal(got[:6], make([]byte, 6)) {
		t.Errorf("hole reads %v, want zeros", got[:6])
	}

	if _, err := s.WriteAt(ctx, id, 0, strings.NewReader("hello ")); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	got = readAll(t, s, id)
	if string(got) != "hello world" {
		t.Errorf("blob contents = %q, want %q", got, "hello world")
	}
}

func TestStore_WriteAtOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := uuid.New().String()

	if _, err := s.WriteAt(ctx, id, 0, strings.NewReader("aaaabbbbcccc")); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	// Re-sending a chunk overwrites its own range and nothing else
	if _, err := s.WriteAt(ctx, id, 4, strings.NewReader("BBBB")); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	got := readAll(t, s, id)
	if string(got) != "aaaaBBBBcccc" {
		t.Errorf("blob contents = %q, want %q", got, "aaaaBBBBcccc")
	}
}

func TestStore_WriteAtNegativeOffset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := uuid.New().String()

	if _, err := s.WriteAt(ctx, id, -1, strings.NewReader("x")); err == nil {
		t.Error("expected error for negative offset")
	}
}

func TestStore_ConcurrentDisjointWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := uuid.New().String()

	const chunkSize = 64 << 10
	const chunks = 8

	var wg sync.WaitGroup
	for i := 0; i < chunks; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte('a' + idx)}, chunkSize)
			if _, err := s.WriteAt(ctx, id, int64(idx)*chunkSize, bytes.NewReader(payload)); err != nil {
				t.Errorf("chunk %d: WriteAt failed: %v", idx, err)
			}
		}(i)
	}
	wg.Wait()

	got := readAll(t, s, id)
	if len(got) != chunks*chunkSize {
		t.Fatalf("blob size = %d, want %d", len(got), chunks*chunkSize)
	}
	for i := 0; i < chunks; i++ {
		region := got[i*chunkSize : (i+1)*chunkSize]
		for _, b := range region {
			if b != byte('a'+i) {
				t.Fatalf("chunk %d corrupted: found byte %q", i, b)
			}
		}
	}
}

func TestStore_OpenNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Open(ctx, uuid.New().String())
	if !errors.Is(err, blob.ErrBlobNotFound) {
		t.Errorf("Open returned %v, want ErrBlobNotFound", err)
	}
}

func TestStore_SizeNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Size(ctx, uuid.New().String())
	if !errors.Is(err, blob.ErrBlobNotFound) {
		t.Errorf("Size returned %v, want ErrBlobNotFound", err)
	}
}

func TestStore_InvalidID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Path traversal attempts must be rejected at ID validation
	for _, id := range []string{"../escape", "nested/path", "", "not-a-uuid"} {
		if err := s.Create(ctx, id); !errors.Is(err, blob.ErrInvalidID) {
			t.Errorf("Create(%q) returned %v, want ErrInvalidID", id, err)
		}
		if _, err := s.WriteAt(ctx, id, 0, strings.NewReader("x")); !errors.Is(err, blob.ErrInvalidID) {
			t.Errorf("WriteAt(%q) returned %v, want ErrInvalidID", id, err)
		}
	}
}

func TestStore_Remove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := uuid.New().String()

	if err := s.Create(ctx, id); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.Remove(ctx, id); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	exists, err := s.Exists(ctx, id)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("blob should not exist after Remove")
	}

	// Removing a missing blob is not an error
	if err := s.Remove(ctx, id); err != nil {
		t.Errorf("Remove of missing blob returned %v", err)
	}
}

func TestStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := uuid.New().String()

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := s.Create(ctx, id); !errors.Is(err, blob.ErrStoreClosed) {
		t.Errorf("Create on closed store returned %v, want ErrStoreClosed", err)
	}
	if _, err := s.WriteAt(ctx, id, 0, strings.NewReader("x")); !errors.Is(err, blob.ErrStoreClosed) {
		t.Errorf("WriteAt on closed store returned %v, want ErrStoreClosed", err)
	}
	if err := s.HealthCheck(ctx); !errors.Is(err, blob.ErrStoreClosed) {
		t.Errorf("HealthCheck on closed store returned %v, want ErrStoreClosed", err)
	}
}

func TestStore_HealthCheck(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func readAll(t *testing.T, s *Store, id string) []byte {
	t.Helper()

	f, err := s.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return data
}
