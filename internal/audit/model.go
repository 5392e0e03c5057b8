package audit

import "time"

// Kind enumerates the recorded action kinds. ACCESS_DENIED and ACCESS_REVOKED
// capture gate rejections; the rest mirror the gated actions themselves.
type Kind string

const (
	KindView          Kind = "VIEW"
	KindEdit          Kind = "EDIT"
	KindShare         Kind = "SHARE"
	KindExport        Kind = "EXPORT"
	KindDelete        Kind = "DELETE"
	KindAccessDenied  Kind = "ACCESS_DENIED"
	KindAccessRevoked Kind = "ACCESS_REVOKED"
)

// Event is one append-only audit record. Events are never mutated or deleted;
// their timestamp ordering is both the human review order and the change
// feed's cursor.
type Event struct {
	EventID     string    `gorm:"column:event_id;primaryKey;size:190;not null"`
	DocumentID  string    `gorm:"column:document_id;size:190;not null;index:idx_audit_document_ts,priority:1"`
	IdentityRef string    `gorm:"column:identity_ref;size:190;not null"`
	Kind        Kind      `gorm:"column:kind;size:16;not null"`
	VersionNo   *int64    `gorm:"column:version_no"`
	Timestamp   time.Time `gorm:"column:ts;not null;index:idx_audit_document_ts,priority:2"`
	ContextJSON string    `gorm:"column:context_json;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "audit_events"
}
