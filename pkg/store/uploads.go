package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shuttleup/shuttle/pkg/models"
)

// ============================================
// UPLOAD SESSION OPERATIONS
// ============================================

func (s *GORMStore) CreateUpload(ctx context.Context, upload *models.Upload) (string, error) {
	if upload.ID == "" {
		upload.ID = uuid.New().String()
	}
	if upload.Status == "" {
		upload.Status = models.StatusUploading
	}
	upload.CreatedAt = time.Now()

	if err := s.db.WithContext(ctx).Create(upload).Error; err != nil {
		if isUniqueConstraintError(err) {
			return "", models.ErrDuplicateUpload
		}
		return "", err
	}
	return upload.ID, nil
}

func (s *GORMStore) GetUpload(ctx context.Context, id string) (*models.Upload, error) {
	return getByField[models.Upload](s.db, ctx, "id", id, models.ErrUploadNotFound)
}

func (s *GORMStore) FindResumable(ctx context.Context, filename string, totalSize int64) (*models.Upload, error) {
	var upload models.Upload
	err := s.db.WithContext(ctx).
		Where("filename = ? AND total_size = ? AND status = ?", filename, totalSize, models.StatusUploading).
		Order("created_at DESC").
		First(&upload).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrUploadNotFound)
	}
	return &upload, nil
}

func (s *GORMStore) ListUploads(ctx context.Context, status models.UploadStatus) ([]*models.Upload, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var uploads []*models.Upload
	if err := q.Find(&uploads).Error; err != nil {
		return nil, err
	}
	return uploads, nil
}

// ListStale returns uploading sessions whose last activity predates the
// cutoff. Terminal and processing sessions are never sweep candidates,
// so the filter lives in the query and the result set stays small no
// matter how many finished uploads the table holds.
func (s *GORMStore) ListStale(ctx context.Context, cutoff time.Time) ([]*models.Upload, error) {
	var uploads []*models.Upload
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StatusUploading, cutoff).
		Order("updated_at ASC").
		Find(&uploads).Error
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

func (s *GORMStore) DeleteUpload(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var upload models.Upload
		if err := tx.Where("id = ?", id).First(&upload).Error; err != nil {
			return convertNotFoundError(err, models.ErrUploadNotFound)
		}

		// Delete chunk receipts first
		if err := tx.Where("upload_id = ?", id).Delete(&models.Chunk{}).Error; err != nil {
			return err
		}

		return tx.Delete(&upload).Error
	})
}

func (s *GORMStore) TouchUpload(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("id = ?", id).
		Update("updated_at", time.Now())

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUploadNotFound
	}
	return nil
}

// ============================================
// STATUS TRANSITIONS
// ============================================

// TransitionStatus performs a compare-and-swap on the session status.
// When two finalize calls race, the conditional WHERE guarantees only one
// of them moves the row; the loser sees zero affected rows. Transitions
// outside the lifecycle graph are rejected before touching the database.
func (s *GORMStore) TransitionStatus(ctx context.Context, id string, from, to models.UploadStatus) error {
	if !from.CanTransitionTo(to) {
		return models.ErrInvalidTransition
	}

	result := s.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.explainTransitionFailure(ctx, id)
	}
	return nil
}

func (s *GORMStore) CompleteUpload(ctx context.Context, id string, checksum string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(map[string]any{
			"status":       models.StatusCompleted,
			"checksum":     checksum,
			"completed_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.explainTransitionFailure(ctx, id)
	}
	return nil
}

// FailUpload moves a session from the given state to failed, recording
// the reason. Like TransitionStatus it is a compare-and-swap: the
// janitor fails idle uploading sessions, finalize fails processing ones,
// and neither can clobber a session the other path already moved.
func (s *GORMStore) FailUpload(ctx context.Context, id string, from models.UploadStatus, reason string) error {
	if !from.CanTransitionTo(models.StatusFailed) {
		return models.ErrInvalidTransition
	}

	result := s.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":         models.StatusFailed,
			"failure_reason": reason,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.explainTransitionFailure(ctx, id)
	}
	return nil
}

// explainTransitionFailure distinguishes a missing session from one whose
// status moved underneath the caller.
func (s *GORMStore) explainTransitionFailure(ctx context.Context, id string) error {
	var upload models.Upload
	if err := s.db.WithContext(ctx).Select("id").Where("id = ?", id).First(&upload).Error; err != nil {
		return convertNotFoundError(err, models.ErrUploadNotFound)
	}
	return models.ErrStaleTransition
}
