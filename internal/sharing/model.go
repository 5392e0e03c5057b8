package sharing

import (
	"time"

	"github.com/inkline-hq/inkline/backend/internal/access"
)

// ShareLink is an anonymous bearer credential for one document. Anyone
// presenting the token assumes the link's role; no actor identity is attached.
type ShareLink struct {
	LinkID     string      `gorm:"column:link_id;primaryKey;size:190;not null"`
	DocumentID string      `gorm:"column:document_id;size:190;not null;index"`
	Role       access.Role `gorm:"column:role;size:16;not null"`
	Token      string      `gorm:"column:token;size:190;uniqueIndex;not null"`
	ExpiresAt  *time.Time  `gorm:"column:expires_at"`
	RevokedAt  *time.Time  `gorm:"column:revoked_at"`
	CreatedBy  string      `gorm:"column:created_by;size:190;not null"`
	CreatedAt  time.Time   `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (ShareLink) TableName() string {
	return "share_links"
}

// AuditRef is the identity reference recorded when this link is used.
func (l ShareLink) AuditRef() string {
	return "share_link:" + l.LinkID
}

// QRLink resolves a printed or embedded code to a document, optionally pinned
// to a specific version. Deactivation is permanent, mirroring share-link
// revocation.
type QRLink struct {
	QRID       string     `gorm:"column:qr_id;primaryKey;size:190;not null"`
	DocumentID string     `gorm:"column:document_id;size:190;not null;index"`
	VersionNo  *int64     `gorm:"column:version_no"`
	Code       string     `gorm:"column:code;size:190;uniqueIndex;not null"`
	Signature  string     `gorm:"column:sig;size:190"`
	ExpiresAt  *time.Time `gorm:"column:expires_at"`
	Active     bool       `gorm:"column:active;not null;default:true"`
	CreatedBy  string     `gorm:"column:created_by;size:190;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (QRLink) TableName() string {
	return "qr_links"
}

// AuditRef is the identity reference recorded when this link is used.
func (l QRLink) AuditRef() string {
	return "qr_link:" + l.QRID
}
