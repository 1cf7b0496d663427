package models

import "time"

// Chunk records the receipt of a single chunk within an upload session.
//
// Receipt is idempotent: re-uploading an index overwrites the previous row,
// so the set of rows for a session is always the set of distinct indexes
// received. Completeness is judged by counting them against TotalChunks.
type Chunk struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	UploadID string `gorm:"not null;size:36;uniqueIndex:idx_chunks_upload_index" json:"upload_id"`

	// ChunkIndex is the zero-based position of the chunk within the file.
	ChunkIndex int `gorm:"not null;uniqueIndex:idx_chunks_upload_index" json:"chunk_index"`

	// Offset is the byte position the payload was written at, as declared
	// by the client. It is authoritative for placement. Stored as byte_offset
	// because OFFSET is a reserved word in PostgreSQL.
	Offset int64 `gorm:"column:byte_offset;not null" json:"offset"`

	// Size is the payload length in bytes.
	Size int64 `gorm:"not null" json:"size"`

	ReceivedAt time.Time `gorm:"autoCreateTime" json:"received_at"`
}

// TableName returns the table name for Chunk.
func (Chunk) TableName() string {
	return "chunks"
}
