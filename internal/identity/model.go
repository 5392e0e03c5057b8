package identity

import "time"

// Actor is an authenticated user of the system. Admin actors bypass all
// permission checks; the resolver treats them as unconditional owners.
type Actor struct {
	ActorID     string    `gorm:"column:actor_id;primaryKey;size:190;not null"`
	Email       string    `gorm:"column:email;size:320;uniqueIndex"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Admin       bool      `gorm:"column:admin;not null;default:false"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Actor) TableName() string {
	return "actors"
}

// Group is a named collection of actors used for group-scoped grants.
type Group struct {
	GroupID   string    `gorm:"column:group_id;primaryKey;size:190;not null"`
	Name      string    `gorm:"column:name;size:190;uniqueIndex;not null"`
	CreatedBy string    `gorm:"column:created_by;size:190;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Group) TableName() string {
	return "groups"
}

// Membership links an actor to a group.
type Membership struct {
	GroupID   string    `gorm:"column:group_id;primaryKey;size:190;not null"`
	ActorID   string    `gorm:"column:actor_id;primaryKey;size:190;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "group_memberships"
}
