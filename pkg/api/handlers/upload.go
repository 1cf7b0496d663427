package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shuttleup/shuttle/internal/logger"
	"github.com/shuttleup/shuttle/internal/telemetry"
	"github.com/shuttleup/shuttle/pkg/blob"
	"github.com/shuttleup/shuttle/pkg/metrics"
	"github.com/shuttleup/shuttle/pkg/models"
	"github.com/shuttleup/shuttle/pkg/store"
)

// Archiver sends completed uploads to long-term storage.
//
// Implementations must be safe for concurrent use; calls run in the
// background after finalize has responded, so failures must be handled
// out of band (logged and counted) rather than surfaced to the client.
type Archiver interface {
	Archive(ctx context.Context, upload *models.Upload) error
}

// UploadHandler serves the upload session lifecycle: init, chunk
// receipt, finalize, status, listing and abort.
type UploadHandler struct {
	store    store.Store
	blobs    blob.Store
	metrics  *metrics.Metrics
	archiver Archiver
}

// NewUploadHandler creates an upload handler.
//
// metrics may be nil to disable collection; archiver may be nil when
// offload is not configured.
func NewUploadHandler(st store.Store, blobs blob.Store, m *metrics.Metrics, archiver Archiver) *UploadHandler {
	return &UploadHandler{
		store:    st,
		blobs:    blobs,
		metrics:  m,
		archiver: archiver,
	}
}

// wireStatus converts a stored status to its wire form. The database
// keeps statuses lowercase; the API speaks them in uppercase.
func wireStatus(s models.UploadStatus) string {
	return strings.ToUpper(string(s))
}

type initRequest struct {
	Filename    string `json:"filename" validate:"required"`
	TotalSize   int64  `json:"totalSize" validate:"min=0"`
	TotalChunks int    `json:"totalChunks" validate:"min=1"`
}

type initResponse struct {
	UploadID string `json:"uploadId"`
	Status   string `json:"status"`

	// UploadedChunks is never null: an upload with no received chunks
	// reports an empty list.
	UploadedChunks []int `json:"uploadedChunks"`
}

// Init handles POST /api/upload/init.
//
// A non-terminal session matching (filename, totalSize) is resumed:
// the response carries the chunk indexes already received so the client
// skips them. If the session's blob has disappeared, its chunk receipts
// are discarded and the upload restarts from an empty blob under the
// same ID. Otherwise a fresh session is created.
func (h *UploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		BadRequest(w, validationMessage(err))
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), telemetry.SpanUploadInit)
	defer span.End()
	span.SetAttributes(
		telemetry.Filename(req.Filename),
		telemetry.TotalSize(req.TotalSize),
		telemetry.TotalChunks(req.TotalChunks),
	)

	existing, err := h.store.FindResumable(ctx, req.Filename, req.TotalSize)
	switch {
	case err == nil:
		span.SetAttributes(telemetry.Resumed(true), telemetry.UploadID(existing.ID))
		h.resumeSession(ctx, w, existing)
		return
	case errors.Is(err, models.ErrUploadNotFound):
		// No session to resume; fall through to create one
	default:
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to look up resumable upload",
			"filename", req.Filename, "error", err)
		InternalServerError(w, "Failed to look up upload")
		return
	}

	upload := &models.Upload{
		Filename:    req.Filename,
		TotalSize:   req.TotalSize,
		TotalChunks: req.TotalChunks,
		Status:      models.StatusUploading,
	}
	id, err := h.store.CreateUpload(ctx, upload)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to create upload", "filename", req.Filename, "error", err)
		InternalServerError(w, "Failed to create upload")
		return
	}

	if err := h.blobs.Create(ctx, id); err != nil {
		// The session row stays behind; the next init finds it without a
		// blob and resets it.
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to create blob", "upload_id", id, "error", err)
		InternalServerError(w, "Failed to create upload")
		return
	}

	h.metrics.RecordUploadStarted()
	span.SetAttributes(telemetry.Resumed(false), telemetry.UploadID(id))
	logger.InfoCtx(ctx, "Upload created",
		"upload_id", id,
		"filename", req.Filename,
		"total_size", req.TotalSize,
		"total_chunks", req.TotalChunks,
	)

	WriteJSONOK(w, initResponse{
		UploadID:       id,
		Status:         wireStatus(models.StatusUploading),
		UploadedChunks: []int{},
	})
}

// resumeSession reattaches a client to an existing uploading session.
func (h *UploadHandler) resumeSession(ctx context.Context, w http.ResponseWriter, upload *models.Upload) {
	exists, err := h.blobs.Exists(ctx, upload.ID)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to check blob", "upload_id", upload.ID, "error", err)
		InternalServerError(w, "Failed to resume upload")
		return
	}

	var indexes []int
	if exists {
		indexes, err = h.store.ChunkIndexes(ctx, upload.ID)
		if err != nil {
			telemetry.RecordError(ctx, err)
			logger.ErrorCtx(ctx, "Failed to list chunks", "upload_id", upload.ID, "error", err)
			InternalServerError(w, "Failed to resume upload")
			return
		}
	} else {
		// The blob vanished underneath the session (disk wipe, manual
		// delete). Chunk receipts no longer describe anything on disk,
		// so the upload restarts from scratch under the same ID.
		logger.WarnCtx(ctx, "Blob missing for resumable upload, resetting",
			"upload_id", upload.ID, "filename", upload.Filename)

		if err := h.store.DeleteChunks(ctx, upload.ID); err != nil {
			telemetry.RecordError(ctx, err)
			logger.ErrorCtx(ctx, "Failed to reset chunks", "upload_id", upload.ID, "error", err)
			InternalServerError(w, "Failed to resume upload")
			return
		}
		if err := h.blobs.Create(ctx, upload.ID); err != nil {
			telemetry.RecordError(ctx, err)
			logger.ErrorCtx(ctx, "Failed to recreate blob", "upload_id", upload.ID, "error", err)
			InternalServerError(w, "Failed to resume upload")
			return
		}
	}
	if indexes == nil {
		indexes = []int{}
	}

	if err := h.store.TouchUpload(ctx, upload.ID); err != nil {
		logger.WarnCtx(ctx, "Failed to refresh upload activity", "upload_id", upload.ID, "error", err)
	}

	logger.InfoCtx(ctx, "Upload resumed",
		"upload_id", upload.ID,
		"filename", upload.Filename,
		"chunks_present", len(indexes),
	)

	WriteJSONOK(w, initResponse{
		UploadID:       upload.ID,
		Status:         wireStatus(upload.Status),
		UploadedChunks: indexes,
	})
}

type chunkResponse struct {
	Success bool `json:"success"`
}

// PutChunk handles PUT /api/upload/{uploadID}/chunk/{chunkIndex}.
//
// The body is the raw chunk payload. X-Chunk-Offset declares the
// absolute byte position and is authoritative for placement; the index
// in the path identifies the chunk record. Re-sending an index is
// idempotent: the byte range and the receipt row are overwritten.
func (h *UploadHandler) PutChunk(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	index, err := strconv.Atoi(chi.URLParam(r, "chunkIndex"))
	if err != nil || index < 0 {
		BadRequest(w, "Invalid chunk index")
		return
	}

	// The offset header must parse before anything mutates
	offsetHeader := r.Header.Get("X-Chunk-Offset")
	if offsetHeader == "" {
		BadRequest(w, "Missing X-Chunk-Offset header")
		return
	}
	offset, err := strconv.ParseInt(offsetHeader, 10, 64)
	if err != nil || offset < 0 {
		BadRequest(w, "Invalid X-Chunk-Offset header")
		return
	}

	if idxHeader := r.Header.Get("X-Chunk-Index"); idxHeader != "" && idxHeader != strconv.Itoa(index) {
		// The path segment wins; the header is advisory
		logger.Debug("Chunk index header disagrees with path",
			"upload_id", uploadID, "path_index", index, "header_index", idxHeader)
	}

	ctx, span := telemetry.StartUploadSpan(r.Context(), telemetry.SpanUploadChunk, uploadID,
		telemetry.ChunkIndex(index),
		telemetry.Offset(offset),
	)
	defer span.End()

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

	if upload.Status != models.StatusUploading {
		Conflict(w, fmt.Sprintf("Upload is %s", wireStatus(upload.Status)))
		return
	}
	if index >= upload.TotalChunks {
		BadRequest(w, "Chunk index out of range")
		return
	}
	if length := r.ContentLength; length >= 0 && offset+length > upload.TotalSize {
		BadRequest(w, "Chunk exceeds declared file size")
		return
	}

	written, err := h.blobs.WriteAt(ctx, uploadID, offset, r.Body)
	if err != nil {
		// The upload stays in uploading so the client can retry the chunk
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to write chunk",
			"upload_id", uploadID, "chunk_index", index, "offset", offset, "error", err)
		InternalServerError(w, "Failed to write chunk")
		return
	}

	chunk := &models.Chunk{
		UploadID:   uploadID,
		ChunkIndex: index,
		Offset:     offset,
		Size:       written,
	}
	if err := h.store.UpsertChunk(ctx, chunk); err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to record chunk",
			"upload_id", uploadID, "chunk_index", index, "error", err)
		InternalServerError(w, "Failed to record chunk")
		return
	}

	// Chunk receipts count as activity for the stale sweep
	if err := h.store.TouchUpload(ctx, uploadID); err != nil {
		logger.WarnCtx(ctx, "Failed to refresh upload activity", "upload_id", uploadID, "error", err)
	}

	h.metrics.RecordChunk(written)
	span.SetAttributes(telemetry.BytesWritten(written))
	logger.DebugCtx(ctx, "Chunk received",
		"upload_id", uploadID,
		"chunk_index", index,
		"offset", offset,
		"bytes", written,
	)

	WriteJSONOK(w, chunkResponse{Success: true})
}

type statusResponse struct {
	UploadID       string  `json:"uploadId"`
	Filename       string  `json:"filename"`
	Status         string  `json:"status"`
	TotalSize      int64   `json:"totalSize"`
	TotalChunks    int     `json:"totalChunks"`
	UploadedChunks []int   `json:"uploadedChunks"`
	ProgressPct    float64 `json:"progressPct"`
	FinalHash      string  `json:"finalHash,omitempty"`
	FailureReason  string  `json:"failureReason,omitempty"`
}

// Status handles GET /api/upload/{uploadID}/status.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")
	ctx := r.Context()

	upload, err := h.store.GetUpload(ctx, uploadID)
	if err != nil {
		if errors.Is(err, models.ErrUploadNotFound) {
			NotFound(w, "Upload not found")
			return
		}
		logger.ErrorCtx(ctx, "Failed to load upload", "upload_id", uploadID, "error", err)
		InternalServerError(w, "Failed to load upload")
		return
	}

	indexes, err := h.store.ChunkIndexes(ctx, uploadID)
	if err != nil {
		logger.ErrorCtx(ctx, "Failed to list chunks", "upload_id", uploadID, "error", err)
		InternalServerError(w, "Failed to load upload")
		return
	}
	if indexes == nil {
		indexes = []int{}
	}

	WriteJSONOK(w, statusResponse{
		UploadID:       upload.ID,
		Filename:       upload.Filename,
		Status:         wireStatus(upload.Status),
		TotalSize:      upload.TotalSize,
		TotalChunks:    upload.TotalChunks,
		UploadedChunks: indexes,
		ProgressPct:    upload.Progress(int64(len(indexes))),
		FinalHash:      upload.Checksum,
		FailureReason:  upload.FailureReason,
	})
}

type listItem struct {
	UploadID       string    `json:"uploadId"`
	Filename       string    `json:"filename"`
	Status         string    `json:"status"`
	TotalSize      int64     `json:"totalSize"`
	TotalChunks    int       `json:"totalChunks"`
	ReceivedChunks int64     `json:"receivedChunks"`
	ProgressPct    float64   `json:"progressPct"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type listResponse struct {
	Uploads []listItem `json:"uploads"`
}

// List handles GET /api/uploads.
//
// An optional ?status= query filters to one lifecycle state.
func (h *UploadHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var status models.UploadStatus
	if q := r.URL.Query().Get("status"); q != "" {
		status = models.UploadStatus(strings.ToLower(q))
		if !status.IsValid() {
			BadRequest(w, "Invalid status filter")
			return
		}
	}

	uploads, err := h.store.ListUploads(ctx, status)
	if err != nil {
		logger.ErrorCtx(ctx, "Failed to list uploads", "error", err)
		InternalServerError(w, "Failed to list uploads")
		return
	}

	items := make([]listItem, 0, len(uploads))
	for _, u := range uploads {
		received, err := h.store.CountChunks(ctx, u.ID)
		if err != nil {
			logger.ErrorCtx(ctx, "Failed to count chunks", "upload_id", u.ID, "error", err)
			InternalServerError(w, "Failed to list uploads")
			return
		}
		items = append(items, listItem{
			UploadID:       u.ID,
			Filename:       u.Filename,
			Status:         wireStatus(u.Status),
			TotalSize:      u.TotalSize,
			TotalChunks:    u.TotalChunks,
			ReceivedChunks: received,
			ProgressPct:    u.Progress(received),
			CreatedAt:      u.CreatedAt,
			UpdatedAt:      u.UpdatedAt,
		})
	}

	WriteJSONOK(w, listResponse{Uploads: items})
}

// Abort handles DELETE /api/upload/{uploadID}.
//
// The session, its chunk receipts and its blob are removed. Aborting
// works in any state; it is the recovery path for wedged uploads.
func (h *UploadHandler) Abort(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	ctx, span := telemetry.StartUploadSpan(r.Context(), telemetry.SpanUploadAbort, uploadID)
	defer span.End()

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

	// Blob first: a session row without a blob resets cleanly on the
	// next init, while a blob without a row would linger on disk forever.
	if err := h.blobs.Remove(ctx, uploadID); err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to remove blob", "upload_id", uploadID, "error", err)
		InternalServerError(w, "Failed to remove upload data")
		return
	}

	if err := h.store.DeleteUpload(ctx, uploadID); err != nil && !errors.Is(err, models.ErrUploadNotFound) {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to delete upload", "upload_id", uploadID, "error", err)
		InternalServerError(w, "Failed to delete upload")
		return
	}

	if !upload.Status.IsTerminal() {
		h.metrics.RecordUploadFinished()
	}
	logger.InfoCtx(ctx, "Upload aborted", "upload_id", uploadID, "filename", upload.Filename)

	WriteNoContent(w)
}
