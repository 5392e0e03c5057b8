package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inkline-hq/inkline/backend/internal/access"
	"github.com/inkline-hq/inkline/backend/internal/ids"
	"gorm.io/gorm"
)

var (
	// ErrUnknownActor indicates the actor id has no record.
	ErrUnknownActor = errors.New("identity: unknown actor")
	// ErrGroupNotFound indicates the referenced group does not exist.
	ErrGroupNotFound = errors.New("identity: group not found")
	// ErrInvalidName indicates an empty actor or group name.
	ErrInvalidName = errors.New("identity: invalid name")
)

// ServiceConfig describes the dependencies for identity resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
}

// Service manages actors, groups, and memberships, and assembles the
// identity value the permission resolver consumes.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider ids.Provider
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("identity: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock, idProvider: cfg.IDProvider}, nil
}

// EnsureActor creates the actor record when the id has not been seen before,
// refreshing the profile fields otherwise. The upstream session layer owns
// authentication; this is just the local mapping.
func (s *Service) EnsureActor(ctx context.Context, actorID, email, displayName string) (Actor, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Actor{}, ErrInvalidName
	}

	var actor Actor
	err := s.db.WithContext(ctx).Where("actor_id = ?", actorID).First(&actor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		actor = Actor{
			ActorID:     actorID,
			Email:       strings.TrimSpace(email),
			DisplayName: strings.TrimSpace(displayName),
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&actor).Error; err != nil {
			return Actor{}, err
		}
		return actor, nil
	}
	if err != nil {
		return Actor{}, err
	}

	updates := map[string]interface{}{"last_seen_at": s.now()}
	if email := strings.TrimSpace(email); email != "" && email != actor.Email {
		updates["email"] = email
		actor.Email = email
	}
	if display := strings.TrimSpace(displayName); display != "" && display != actor.DisplayName {
		updates["display_name"] = display
		actor.DisplayName = display
	}
	if err := s.db.WithContext(ctx).Model(&Actor{}).Where("actor_id = ?", actorID).Updates(updates).Error; err != nil {
		return Actor{}, err
	}
	return actor, nil
}

// Lookup assembles the resolver-facing identity for an actor: its admin flag
// plus every group it belongs to.
func (s *Service) Lookup(ctx context.Context, actorID string) (access.Identity, error) {
	var actor Actor
	err := s.db.WithContext(ctx).Where("actor_id = ?", actorID).Take(&actor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return access.Identity{}, ErrUnknownActor
	}
	if err != nil {
		return access.Identity{}, err
	}

	var memberships []Membership
	if err := s.db.WithContext(ctx).Where("actor_id = ?", actorID).Find(&memberships).Error; err != nil {
		return access.Identity{}, err
	}
	groupIDs := make([]string, 0, len(memberships))
	for _, membership := range memberships {
		groupIDs = append(groupIDs, membership.GroupID)
	}
	return access.ActorIdentity(actor.ActorID, actor.Admin, groupIDs), nil
}

// CreateGroup registers a new named group.
func (s *Service) CreateGroup(ctx context.Context, name, createdBy string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, ErrInvalidName
	}
	groupID, err := s.idProvider.NewID()
	if err != nil {
		return Group{}, err
	}
	group := Group{GroupID: groupID, Name: name, CreatedBy: createdBy, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&group).Error; err != nil {
		return Group{}, err
	}
	return group, nil
}

// AddMember puts an actor into a group. Adding an existing member is a no-op.
func (s *Service) AddMember(ctx context.Context, groupID, actorID string) error {
	var group Group
	err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrGroupNotFound
	}
	if err != nil {
		return err
	}

	membership := Membership{GroupID: groupID, ActorID: actorID, CreatedAt: s.now()}
	err = s.db.WithContext(ctx).Create(&membership).Error
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return nil
	}
	return err
}

// RemoveMember takes an actor out of a group. Removing a non-member is a
// no-op.
func (s *Service) RemoveMember(ctx context.Context, groupID, actorID string) error {
	return s.db.WithContext(ctx).
		Where("group_id = ? AND actor_id = ?", groupID, actorID).
		Delete(&Membership{}).Error
}

// ListMembers returns the actor ids in a group.
func (s *Service) ListMembers(ctx context.Context, groupID string) ([]string, error) {
	var memberships []Membership
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Find(&memberships).Error; err != nil {
		return nil, err
	}
	actorIDs := make([]string, 0, len(memberships))
	for _, membership := range memberships {
		actorIDs = append(actorIDs, membership.ActorID)
	}
	return actorIDs, nil
}
