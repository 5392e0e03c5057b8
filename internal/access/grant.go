package access

import "time"

// SubjectKind tags the principal a grant binds to. Anonymous bearers are not
// grant subjects; share and QR tokens live in their own store and resolve to
// a token identity before grant aggregation runs.
type SubjectKind string

const (
	SubjectKindUser  SubjectKind = "user"
	SubjectKindGroup SubjectKind = "group"
)

// Grant binds a subject to a role on one document, with optional expiry.
// Expired grants are never deleted; they are simply excluded from resolution
// so the sharing history stays reconstructible.
type Grant struct {
	GrantID     string      `gorm:"column:grant_id;primaryKey;size:190;not null"`
	DocumentID  string      `gorm:"column:document_id;size:190;not null;index:idx_grants_document_subject,priority:1"`
	SubjectKind SubjectKind `gorm:"column:subject_kind;size:16;not null;index:idx_grants_document_subject,priority:2"`
	SubjectID   string      `gorm:"column:subject_id;size:190;not null;index:idx_grants_document_subject,priority:3"`
	Role        Role        `gorm:"column:role;size:16;not null"`
	ExpiresAt   *time.Time  `gorm:"column:expires_at"`
	CreatedBy   string      `gorm:"column:created_by;size:190;not null"`
	CreatedAt   time.Time   `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Grant) TableName() string {
	return "document_grants"
}

// ValidAt reports whether the grant participates in resolution at the given
// instant. A grant expiring exactly now is already inert.
func (g Grant) ValidAt(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}
