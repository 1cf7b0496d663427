package models

import "errors"

// Common errors for upload session operations.
var (
	// Session errors
	ErrUploadNotFound    = errors.New("upload not found")
	ErrDuplicateUpload   = errors.New("upload already exists")
	ErrUploadNotActive   = errors.New("upload is not accepting chunks")
	ErrUploadIncomplete  = errors.New("upload is missing chunks")
	ErrUploadFailed      = errors.New("upload has already failed")
	ErrAlreadyProcessing = errors.New("upload is already being finalized")

	// Chunk errors
	ErrChunkNotFound   = errors.New("chunk not found")
	ErrChunkOutOfRange = errors.New("chunk exceeds declared file size")

	// Verification errors
	ErrChecksumMismatch = errors.New("checksum verification failed")

	// Store errors
	ErrStaleTransition   = errors.New("status changed concurrently")
	ErrInvalidTransition = errors.New("status transition not allowed")
)
