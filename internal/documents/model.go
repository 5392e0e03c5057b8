package documents

import (
	"errors"
	"time"
)

var (
	// ErrDocumentNotFound indicates the referenced document does not exist.
	ErrDocumentNotFound = errors.New("documents: document not found")
	// ErrVersionNotFound indicates the referenced version does not exist.
	ErrVersionNotFound = errors.New("documents: version not found")
	// ErrVersionConflict indicates concurrent edits exhausted the version
	// allocation retries. The whole operation is safe to retry.
	ErrVersionConflict = errors.New("documents: version conflict")
)

// Document is the live record. Content is opaque to this core: the HTML
// source of truth and its plain-text derivative are both supplied by the
// caller (the editor and OCR pipeline live outside this system).
type Document struct {
	DocumentID       string    `gorm:"column:document_id;primaryKey;size:190;not null"`
	OwnerID          string    `gorm:"column:owner_id;size:190;not null;index"`
	Title            string    `gorm:"column:title;size:255;not null"`
	HTML             string    `gorm:"column:html;type:text;not null"`
	Text             string    `gorm:"column:text;type:text;not null"`
	CurrentVersionNo int64     `gorm:"column:current_version_no;not null;default:1"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Version is an immutable content snapshot. The composite unique index on
// (document_id, version_no) is the correctness backstop for concurrent edits:
// two writers can never both claim the same slot.
type Version struct {
	VersionID  string    `gorm:"column:version_id;primaryKey;size:190;not null"`
	DocumentID string    `gorm:"column:document_id;size:190;not null;uniqueIndex:idx_versions_document_no,priority:1"`
	VersionNo  int64     `gorm:"column:version_no;not null;uniqueIndex:idx_versions_document_no,priority:2"`
	HTML       string    `gorm:"column:html;type:text;not null"`
	Text       string    `gorm:"column:text;type:text;not null"`
	Hash       string    `gorm:"column:hash;size:64;not null"`
	AuthorRef  string    `gorm:"column:author_ref;size:190;not null"`
	ChangeNote string    `gorm:"column:change_note;type:text;not null;default:''"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Version) TableName() string {
	return "document_versions"
}

// Content is the caller-supplied pair versioned by the ledger.
type Content struct {
	HTML string
	Text string
}
