package model

import "time"

// Document status values as stored in the registry.
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// Document is the registry row for one ingested PDF. The vector index owns
// the chunk records themselves; this row only tracks ingestion state so the
// UI can show processed files and refuse duplicate uploads.
type Document struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Filename   string    `gorm:"size:256;not null;uniqueIndex" json:"filename"`
	Status     string    `gorm:"size:16;not null;index" json:"status"`
	PageCount  int       `json:"page_count"`
	ChunkCount int       `json:"chunk_count"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
