package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// Document is the primary record for an uploaded file. Its chunks live only
// in the vector store and point back here through metadata, so deleting a
// document triggers the vector cascade as a side effect.
type Document struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Filename string `gorm:"column:filename;not null" json:"filename"`
	SizeB    int64  `gorm:"column:size_bytes;not null;default:0" json:"size_bytes"`
	MimeType string `gorm:"column:mime_type;not null;default:''" json:"mime_type"`

	ProcessingStatus string `gorm:"column:processing_status;not null;default:'pending';index" json:"processing_status"`
	ProcessingError  string `gorm:"column:processing_error;type:text;not null;default:''" json:"processing_error,omitempty"`
	ChunkCount       int    `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`

	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Document) TableName() string { return "document" }
