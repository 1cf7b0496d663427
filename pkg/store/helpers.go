package store

import (
	"context"

	"gorm.io/gorm"
)

// ============================================================================
// Generic GORM Helpers
// ============================================================================
//
// These helpers reduce repetitive CRUD boilerplate across store implementation
// files. They are unexported (package-internal) and operate on the raw *gorm.DB
// to avoid coupling to GORMStore. Each helper handles standard concerns like
// context propagation and not-found error conversion.

// getByField retrieves a single record of type T by matching field=value.
// It converts gorm.ErrRecordNotFound to the provided notFoundErr for
// consistent domain error mapping.
//
// Example:
//
//	upload, err := getByField[models.Upload](db, ctx, "id", id, models.ErrUploadNotFound)
func getByField[T any](db *gorm.DB, ctx context.Context, field string, value any, notFoundErr error) (*T, error) {
	var result T
	if err := db.WithContext(ctx).Where(field+" = ?", value).First(&result).Error; err != nil {
		return nil, convertNotFoundError(err, notFoundErr)
	}
	return &result, nil
}

// deleteByField deletes records of type T matching field=value.
// Returns notFoundErr if no rows were affected and notFoundErr is non-nil;
// pass nil when deleting zero rows is acceptable.
//
// Example:
//
//	err := deleteByField[models.Chunk](db, ctx, "upload_id", id, nil)
func deleteByField[T any](db *gorm.DB, ctx context.Context, field string, value any, notFoundErr error) error {
	var zero T
	result := db.WithContext(ctx).Where(field+" = ?", value).Delete(&zero)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 && notFoundErr != nil {
		return notFoundErr
	}
	return nil
}
