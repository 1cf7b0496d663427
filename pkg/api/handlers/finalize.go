package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shuttleup/shuttle/internal/logger"
	"github.com/shuttleup/shuttle/internal/telemetry"
	"github.com/shuttleup/shuttle/pkg/archive"
	"github.com/shuttleup/shuttle/pkg/bufpool"
	"github.com/shuttleup/shuttle/pkg/metrics"
	"github.com/shuttleup/shuttle/pkg/models"
)

type finalizeRequest struct {
	// ClientHash is an optional SHA-256 hex digest computed by the caller.
	// When present it is checked against the server-side digest.
	ClientHash string `json:"clientHash"`
}

type finalizeResponse struct {
	Status     string   `json:"status"`
	UploadID   string   `json:"uploadId"`
	Hash       string   `json:"hash"`
	ZipContent []string `json:"zipContent"`
}

type incompleteResponse struct {
	Error   string `json:"error"`
	Missing int64  `json:"missing"`
}

type hashMismatchResponse struct {
	Error      string `json:"error"`
	ServerHash string `json:"serverHash"`
	ClientHash string `json:"clientHash"`
}

// Finalize handles POST /api/upload/{uploadID}/finalize.
//
// Finalize is single-winner: the uploading→processing transition is a
// conditional update, so exactly one of any number of concurrent calls
// performs the assembly work. Losers observe processing (409) or the
// committed result (200). Re-finalizing a completed upload replays the
// stored result.
//
// The winner verifies completeness, streams the blob through SHA-256,
// optionally checks the client digest, peeks at the archive entry names
// and commits the session as completed.
func (h *UploadHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	// The body is optional: absent, {} and {clientHash} are all legal
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "Invalid request body")
		return
	}

	ctx, span := telemetry.StartUploadSpan(r.Context(), telemetry.SpanUploadFinalize, uploadID)
	defer span.End()

	start := time.Now()

	upload, err := h.store.GetUpload(ctx, uploadID)
	if err != nil {
		if errors.Is(err, models.ErrUploadNotFound) {
			NotFound(w, "Upload not found")
			return
		}
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to load upload", "upload_id", uploadID, "error", err)
		InternalServerError(w, "Failed to load upload")
		return
	}

	switch upload.Status {
	case models.StatusCompleted:
		h.replayFinalized(ctx, w, upload)
		return
	case models.StatusProcessing:
		h.metrics.RecordFinalize(metrics.ResultConflict, time.Since(start))
		Conflict(w, "Finalize already in progress")
		return
	case models.StatusFailed:
		Conflict(w, "Upload has failed")
		return
	}

	if err := h.store.TransitionStatus(ctx, uploadID, models.StatusUploading, models.StatusProcessing); err != nil {
		switch {
		case errors.Is(err, models.ErrUploadNotFound):
			NotFound(w, "Upload not found")
		case errors.Is(err, models.ErrStaleTransition):
			// Lost the race. The winner may already have committed, in
			// which case the stored result is the right answer.
			if current, gerr := h.store.GetUpload(ctx, uploadID); gerr == nil && current.Status == models.StatusCompleted {
				h.replayFinalized(ctx, w, current)
				return
			}
			h.metrics.RecordFinalize(metrics.ResultConflict, time.Since(start))
			Conflict(w, "Finalize already in progress")
		default:
			telemetry.RecordError(ctx, err)
			logger.ErrorCtx(ctx, "Failed to start finalize", "upload_id", uploadID, "error", err)
			InternalServerError(w, "Failed to start finalize")
		}
		return
	}

	// From here this handler owns the processing state and must either
	// commit, fail, or revert before returning. The settling writes run
	// on a context that survives request cancellation: a client that
	// gives up mid-hash must not strand the session in processing.
	settle := context.WithoutCancel(ctx)

	received, err := h.store.CountChunks(ctx, uploadID)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to count chunks", "upload_id", uploadID, "error", err)
		h.revertProcessing(settle, uploadID)
		InternalServerError(w, "Failed to verify upload")
		return
	}
	if received < int64(upload.TotalChunks) {
		missing := int64(upload.TotalChunks) - received
		span.SetAttributes(telemetry.ChunksReceived(received), telemetry.ChunksMissing(missing))
		logger.WarnCtx(ctx, "Finalize rejected, upload incomplete",
			"upload_id", uploadID, "received", received, "total", upload.TotalChunks)

		h.revertProcessing(settle, uploadID)
		h.metrics.RecordFinalize(metrics.ResultIncomplete, time.Since(start))
		WriteJSON(w, http.StatusConflict, incompleteResponse{
			Error:   "upload incomplete",
			Missing: missing,
		})
		return
	}

	serverHash, err := h.hashBlob(ctx, uploadID)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to hash upload", "upload_id", uploadID, "error", err)
		h.failUpload(settle, uploadID, "failed to read upload data")
		h.metrics.RecordFinalize(metrics.ResultError, time.Since(start))
		InternalServerError(w, "Failed to read upload data")
		return
	}
	span.SetAttributes(telemetry.Checksum(serverHash))

	if req.ClientHash != "" && strings.ToLower(strings.TrimSpace(req.ClientHash)) != serverHash {
		logger.WarnCtx(ctx, "Hash mismatch",
			"upload_id", uploadID, "server_hash", serverHash, "client_hash", req.ClientHash)

		h.failUpload(settle, uploadID, "hash mismatch")
		h.metrics.RecordFinalize(metrics.ResultHashMismatch, time.Since(start))
		WriteJSON(w, http.StatusBadRequest, hashMismatchResponse{
			Error:      "Hash mismatch",
			ServerHash: serverHash,
			ClientHash: req.ClientHash,
		})
		return
	}

	zipContent := h.inspectBlob(ctx, uploadID)

	if err := h.store.CompleteUpload(settle, uploadID, serverHash); err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to record completion", "upload_id", uploadID, "error", err)
		h.revertProcessing(settle, uploadID)
		h.metrics.RecordFinalize(metrics.ResultError, time.Since(start))
		InternalServerError(w, "Failed to record completion")
		return
	}

	h.metrics.RecordFinalize(metrics.ResultCompleted, time.Since(start))
	h.metrics.RecordUploadFinished()
	logger.InfoCtx(ctx, "Upload completed",
		"upload_id", uploadID,
		"filename", upload.Filename,
		"hash", serverHash,
		"duration", time.Since(start).String(),
	)

	if h.archiver != nil {
		completed := *upload
		completed.Status = models.StatusCompleted
		completed.Checksum = serverHash
		go h.archiveInBackground(&completed)
	}

	WriteJSONOK(w, finalizeResponse{
		Status:     wireStatus(models.StatusCompleted),
		UploadID:   uploadID,
		Hash:       serverHash,
		ZipContent: zipContent,
	})
}

// replayFinalized re-serves the committed result of an earlier finalize.
// The hash comes from the session record; the entry listing is
// informational and is re-read from the blob.
func (h *UploadHandler) replayFinalized(ctx context.Context, w http.ResponseWriter, upload *models.Upload) {
	WriteJSONOK(w, finalizeResponse{
		Status:     wireStatus(upload.Status),
		UploadID:   upload.ID,
		Hash:       upload.Checksum,
		ZipContent: h.inspectBlob(ctx, upload.ID),
	})
}

// hashBlob streams the assembled blob through SHA-256 and returns the
// lowercase hex digest. The copy uses a pooled buffer so memory stays
// bounded regardless of blob size.
func (h *UploadHandler) hashBlob(ctx context.Context, uploadID string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFinalizeHash)
	defer span.End()

	f, err := h.blobs.Open(ctx, uploadID)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest := sha256.New()
	buf := bufpool.Get(bufpool.DefaultMediumSize)
	defer bufpool.Put(buf)

	n, err := io.CopyBuffer(digest, f, buf)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", err
	}
	span.SetAttributes(telemetry.BytesRead(n))

	return hex.EncodeToString(digest.Sum(nil)), nil
}

// inspectBlob lists the blob's archive entry names. Any failure folds
// into the not-a-zip sentinel; inspection never fails a finalize.
func (h *UploadHandler) inspectBlob(ctx context.Context, uploadID string) []string {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFinalizeInspect)
	defer span.End()

	f, err := h.blobs.Open(ctx, uploadID)
	if err != nil {
		return []string{archive.NotZipSentinel}
	}
	defer f.Close()

	size, err := h.blobs.Size(ctx, uploadID)
	if err != nil {
		return []string{archive.NotZipSentinel}
	}

	return archive.Peek(f, size)
}

// revertProcessing returns a session to uploading after a finalize that
// could not proceed, so the client can top up chunks and retry. Failure
// to revert is logged; the session can still be recovered via abort.
func (h *UploadHandler) revertProcessing(ctx context.Context, uploadID string) {
	if err := h.store.TransitionStatus(ctx, uploadID, models.StatusProcessing, models.StatusUploading); err != nil {
		logger.ErrorCtx(ctx, "Failed to revert upload to uploading", "upload_id", uploadID, "error", err)
	}
}

// failUpload marks a processing session failed and records its
// departure from the active set.
func (h *UploadHandler) failUpload(ctx context.Context, uploadID, reason string) {
	if err := h.store.FailUpload(ctx, uploadID, models.StatusProcessing, reason); err != nil {
		logger.ErrorCtx(ctx, "Failed to mark upload failed", "upload_id", uploadID, "error", err)
		return
	}
	h.metrics.RecordUploadFinished()
}

// archiveInBackground hands a completed upload to the configured
// archiver. It runs detached from the request so offload latency and
// failures never reach the client.
func (h *UploadHandler) archiveInBackground(upload *models.Upload) {
	if err := h.archiver.Archive(context.Background(), upload); err != nil {
		logger.Error("Failed to archive upload",
			"upload_id", upload.ID, "filename", upload.Filename, "error", err)
	}
}
