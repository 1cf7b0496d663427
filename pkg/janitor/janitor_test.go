//go:build integration

package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/shuttleup/shuttle/pkg/blob"
	"github.com/shuttleup/shuttle/pkg/blob/fs"
	"github.com/shuttleup/shuttle/pkg/models"
	"github.com/shuttleup/shuttle/pkg/store"
)

func setupJanitorTest(t *testing.T, config Config) (*store.GORMStore, blob.Store, *Janitor) {
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

	return st, blobs, New(st, blobs, nil, config)
}

// seedUpload creates a session with a blob in the given state.
func seedUpload(t *testing.T, st *store.GORMStore, blobs blob.Store, status models.UploadStatus) string {
	t.Helper()
	ctx := context.Background()

	id, err := st.CreateUpload(ctx, &models.Upload{
		Filename:    "seed.bin",
		TotalSize:   100,
		TotalChunks: 1,
		Status:      models.StatusUploading,
	})
	if err != nil {
		t.Fatalf("Failed to create upload: %v", err)
	}
	if err := blobs.Create(ctx, id); err != nil {
		t.Fatalf("Failed to create blob: %v", err)
	}

	if status != models.StatusUploading {
		if err := st.TransitionStatus(ctx, id, models.StatusUploading, status); err != nil {
			t.Fatalf("Failed to transition: %v", err)
		}
	}
	return id
}

// backdate pushes a session's last activity into the past.
func backdate(t *testing.T, st *store.GORMStore, id string, age time.Duration) {
	t.Helper()
	err := st.DB().
		Exec("UPDATE uploads SET updated_at = ? WHERE id = ?", time.Now().Add(-age), id).
		Error
	if err != nil {
		t.Fatalf("Failed to backdate upload: %v", err)
	}
}

func TestJanitor_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("fails idle uploading sessions and removes their blobs", func(t *testing.T) {
		st, blobs, j := setupJanitorTest(t, Config{StaleTTL: time.Hour})

		staleID := seedUpload(t, st, blobs, models.StatusUploading)
		backdate(t, st, staleID, 2*time.Hour)
		freshID := seedUpload(t, st, blobs, models.StatusUploading)

		removed, err := j.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep() error: %v", err)
		}
		if removed != 1 {
			t.Errorf("Sweep() removed = %d, want 1", removed)
		}

		swept, err := st.GetUpload(ctx, staleID)
		if err != nil {
			t.Fatalf("Failed to load upload: %v", err)
		}
		if swept.Status != models.StatusFailed {
			t.Errorf("Swept status = %q, want failed", swept.Status)
		}
		if swept.FailureReason != staleReason {
			t.Errorf("FailureReason = %q, want %q", swept.FailureReason, staleReason)
		}
		exists, err := blobs.Exists(ctx, staleID)
		if err != nil {
			t.Fatalf("Failed to check blob: %v", err)
		}
		if exists {
			t.Error("Expected the stale blob to be removed")
		}

		fresh, err := st.GetUpload(ctx, freshID)
		if err != nil {
			t.Fatalf("Failed to load upload: %v", err)
		}
		if fresh.Status != models.StatusUploading {
			t.Errorf("Fresh status = %q, want uploading", fresh.Status)
		}
	})

	t.Run("sweeping twice removes nothing more", func(t *testing.T) {
		st, blobs, j := setupJanitorTest(t, Config{StaleTTL: time.Hour})

		id := seedUpload(t, st, blobs, models.StatusUploading)
		backdate(t, st, id, 2*time.Hour)

		if removed, err := j.Sweep(ctx); err != nil || removed != 1 {
			t.Fatalf("First sweep = (%d, %v), want (1, nil)", removed, err)
		}
		if removed, err := j.Sweep(ctx); err != nil || removed != 0 {
			t.Errorf("Second sweep = (%d, %v), want (0, nil)", removed, err)
		}
	})

	t.Run("leaves terminal and processing sessions alone", func(t *testing.T) {
		st, blobs, j := setupJanitorTest(t, Config{StaleTTL: time.Hour})

		completedID := seedUpload(t, st, blobs, models.StatusProcessing)
		if err := st.CompleteUpload(ctx, completedID, "deadbeef"); err != nil {
			t.Fatalf("Failed to complete: %v", err)
		}
		processingID := seedUpload(t, st, blobs, models.StatusProcessing)
		for _, id := range []string{completedID, processingID} {
			backdate(t, st, id, 48*time.Hour)
		}

		removed, err := j.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep() error: %v", err)
		}
		if removed != 0 {
			t.Errorf("Sweep() removed = %d, want 0", removed)
		}

		for _, id := range []string{completedID, processingID} {
			exists, err := blobs.Exists(ctx, id)
			if err != nil {
				t.Fatalf("Failed to check blob: %v", err)
			}
			if !exists {
				t.Errorf("Blob for %s should survive the sweep", id)
			}
		}
	})

	t.Run("empty store sweeps cleanly", func(t *testing.T) {
		_, _, j := setupJanitorTest(t, Config{StaleTTL: time.Hour})

		removed, err := j.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep() error: %v", err)
		}
		if removed != 0 {
			t.Errorf("Sweep() removed = %d, want 0", removed)
		}
	})
}

func TestJanitor_Run(t *testing.T) {
	t.Run("sweeps on the interval until cancelled", func(t *testing.T) {
		st, blobs, j := setupJanitorTest(t, Config{StaleTTL: time.Hour, Interval: 20 * time.Millisecond})

		id := seedUpload(t, st, blobs, models.StatusUploading)
		backdate(t, st, id, 2*time.Hour)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			j.Run(ctx)
		}()

		deadline := time.After(2 * time.Second)
		for {
			upload, err := st.GetUpload(context.Background(), id)
			if err != nil {
				t.Fatalf("Failed to load upload: %v", err)
			}
			if upload.Status == models.StatusFailed {
				break
			}
			select {
			case <-deadline:
				t.Fatal("Upload was not swept in time")
			case <-time.After(10 * time.Millisecond):
			}
		}

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Run did not stop on cancellation")
		}
	})

	t.Run("zero interval returns immediately", func(t *testing.T) {
		_, _, j := setupJanitorTest(t, Config{StaleTTL: time.Hour})

		done := make(chan struct{})
		go func() {
			defer close(done)
			j.Run(context.Background())
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Run with a zero interval should return")
		}
	})
}
