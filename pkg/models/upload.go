package models

import (
	"path/filepath"
	"strings"
	"time"
)

// UploadStatus represents the lifecycle state of an upload session.
type UploadStatus string

const (
	// StatusUploading accepts chunk writes; the initial state.
	StatusUploading UploadStatus = "uploading"
	// StatusProcessing is held by exactly one finalize call while the
	// assembled file is verified.
	StatusProcessing UploadStatus = "processing"
	// StatusCompleted is terminal; the assembled file passed verification.
	StatusCompleted UploadStatus = "completed"
	// StatusFailed is terminal; verification failed.
	StatusFailed UploadStatus = "failed"
)

// IsValid checks if the status is a known UploadStatus.
func (s UploadStatus) IsValid() bool {
	switch s {
	case StatusUploading, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s UploadStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the transition s -> next is allowed.
// Processing may move back to uploading when finalize finds chunks
// missing; uploading may move straight to failed when the cleanup sweep
// claims an idle session.
func (s UploadStatus) CanTransitionTo(next UploadStatus) bool {
	switch s {
	case StatusUploading:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusUploading
	default:
		return false
	}
}

// Upload represents a resumable upload session.
//
// A session is created by the init endpoint, accumulates chunks while in the
// uploading state, and is assembled and verified exactly once by finalize.
// UpdatedAt is refreshed on every chunk receipt so stale sessions can be
// identified by their last activity.
type Upload struct {
	ID          string       `gorm:"primaryKey;size:36" json:"id"`
	Filename    string       `gorm:"not null;size:255;index:idx_uploads_identity" json:"filename"`
	TotalSize   int64        `gorm:"not null;index:idx_uploads_identity" json:"total_size"`
	TotalChunks int          `gorm:"not null" json:"total_chunks"`
	Status      UploadStatus `gorm:"not null;default:uploading;size:20;index" json:"status"`
	Checksum    string       `gorm:"size:64" json:"checksum,omitempty"`

	// FailureReason records why a session ended up failed.
	FailureReason string `gorm:"size:255" json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime;index" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Relationships
	Chunks []Chunk `gorm:"foreignKey:UploadID;constraint:OnDelete:CASCADE" json:"chunks,omitempty"`
}

// TableName returns the table name for Upload.
func (Upload) TableName() string {
	return "uploads"
}

// Progress returns the percentage of chunks received, in [0, 100].
func (u *Upload) Progress(received int64) float64 {
	if u.TotalChunks <= 0 {
		return 0
	}
	pct := 100 * float64(received) / float64(u.TotalChunks)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// IsZip reports whether the filename carries a .zip extension.
func (u *Upload) IsZip() bool {
	return strings.EqualFold(filepath.Ext(u.Filename), ".zip")
}
