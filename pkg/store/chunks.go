package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/shuttleup/shuttle/pkg/models"
)

// ============================================
// CHUNK OPERATIONS
// ============================================

// UpsertChunk records a chunk receipt keyed by (upload_id, chunk_index).
// Retransmissions replace the previous receipt, so duplicate uploads of the
// same index stay idempotent.
func (s *GORMStore) UpsertChunk(ctx context.Context, chunk *models.Chunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "upload_id"}, {Name: "chunk_index"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"byte_offset", "size", "received_at",
			}),
		}).
		Create(chunk).Error
}

func (s *GORMStore) ListChunks(ctx context.Context, uploadID string) ([]*models.Chunk, error) {
	var chunks []*models.Chunk
	err := s.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *GORMStore) ChunkIndexes(ctx context.Context, uploadID string) ([]int, error) {
	var indexes []int
	err := s.db.WithContext(ctx).
		Model(&models.Chunk{}).
		Where("upload_id = ?", uploadID).
		Order("chunk_index ASC").
		Pluck("chunk_index", &indexes).Error
	if err != nil {
		return nil, err
	}
	return indexes, nil
}

func (s *GORMStore) CountChunks(ctx context.Context, uploadID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Chunk{}).
		Where("upload_id = ?", uploadID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *GORMStore) DeleteChunks(ctx context.Context, uploadID string) error {
	return deleteByField[models.Chunk](s.db, ctx, "upload_id", uploadID, nil)
}
