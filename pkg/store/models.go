package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID        string `gorm:"primaryKey"`
	LoanID    string `gorm:"not null;index"`
	Stage     string `gorm:"not null;index"`
	Category  string `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	Status    string `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

type VersionModel struct {
	ID         string `gorm:"primaryKey"`
	DocumentID string `gorm:"not null;index"`
	Seq        int    `gorm:"not null"`
	FileName   string `gorm:"not null"`
	StorageKey string
	SizeBytes  int64  `gorm:"not null"`
	MimeType   string
	UploadedBy string
	Metadata   datatypes.JSON `gorm:"type:jsonb"`
	UploadedAt time.Time      `gorm:"not null;index"`
}

type CommentModel struct {
	ID         string `gorm:"primaryKey"`
	DocumentID string `gorm:"not null;index"`
	AuthorID   string `gorm:"not null"`
	Body       string `gorm:"type:text;not null"`
	PostedAt   time.Time `gorm:"not null;index"`
}
