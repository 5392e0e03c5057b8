package access

import (
	"context"
	"errors"
	"time"

	"github.com/inkline-hq/inkline/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opGrantStoreNew = "access.grant_store.new"
	opGrantCreate   = "access.grant_create"
	opGrantList     = "access.grant_list"
	opGrantUpdate   = "access.grant_update"
	opGrantDelete   = "access.grant_delete"
)

var (
	errMissingIDProvider = errors.New("id provider is required")
	// ErrGrantNotFound indicates the referenced grant does not exist.
	ErrGrantNotFound = errors.New("access: grant not found")
)

// GrantStoreConfig describes the dependencies for grant management.
type GrantStoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// GrantStore manages the durable ACL entries consumed by the resolver.
// Writes happen only through OWNER-level SHARE actions, gated by the caller.
type GrantStore struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewGrantStore constructs a GrantStore.
func NewGrantStore(cfg GrantStoreConfig) (*GrantStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opGrantStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opGrantStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &GrantStore{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// CreateGrantRequest describes a new ACL entry.
type CreateGrantRequest struct {
	DocumentID  string
	SubjectKind SubjectKind
	SubjectID   string
	Role        Role
	ExpiresAt   *time.Time
	CreatedBy   string
}

// Create inserts a new grant. Multiple grants for the same subject and
// document may coexist; resolution takes the maximum over the valid ones.
func (s *GrantStore) Create(ctx context.Context, req CreateGrantRequest) (Grant, error) {
	grantID, err := s.idProvider.NewID()
	if err != nil {
		return Grant{}, newServiceError(opGrantCreate, "id_generation_failed", err)
	}
	grant := Grant{
		GrantID:     grantID,
		DocumentID:  req.DocumentID,
		SubjectKind: req.SubjectKind,
		SubjectID:   req.SubjectID,
		Role:        req.Role,
		ExpiresAt:   req.ExpiresAt,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&grant).Error; err != nil {
		s.logger.Error("grant insert failed",
			zap.String("operation", opGrantCreate),
			zap.String("document_id", req.DocumentID),
			zap.Error(err))
		return Grant{}, newServiceError(opGrantCreate, "insert_failed", err)
	}
	return grant, nil
}

// List returns every grant on the document, expired ones included, newest
// first. Callers filter for display; resolution applies ValidAt itself.
func (s *GrantStore) List(ctx context.Context, documentID string) ([]Grant, error) {
	var grants []Grant
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		Find(&grants).Error
	if err != nil {
		return nil, newServiceError(opGrantList, "query_failed", err)
	}
	return grants, nil
}

// Get loads one grant by id.
func (s *GrantStore) Get(ctx context.Context, grantID string) (Grant, error) {
	var grant Grant
	err := s.db.WithContext(ctx).Where("grant_id = ?", grantID).Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Grant{}, ErrGrantNotFound
	}
	if err != nil {
		return Grant{}, newServiceError(opGrantUpdate, "query_failed", err)
	}
	return grant, nil
}

// UpdateRole changes the role on an existing grant.
func (s *GrantStore) UpdateRole(ctx context.Context, grantID string, role Role) (Grant, error) {
	grant, err := s.Get(ctx, grantID)
	if err != nil {
		return Grant{}, err
	}
	if err := s.db.WithContext(ctx).Model(&Grant{}).
		Where("grant_id = ?", grantID).
		Update("role", role).Error; err != nil {
		return Grant{}, newServiceError(opGrantUpdate, "update_failed", err)
	}
	grant.Role = role
	return grant, nil
}

// Delete removes a grant outright. Expiry is the usual way access lapses;
// deletion exists for explicit un-sharing.
func (s *GrantStore) Delete(ctx context.Context, grantID string) (Grant, error) {
	grant, err := s.Get(ctx, grantID)
	if err != nil {
		return Grant{}, err
	}
	if err := s.db.WithContext(ctx).Where("grant_id = ?", grantID).Delete(&Grant{}).Error; err != nil {
		return Grant{}, newServiceError(opGrantDelete, "delete_failed", err)
	}
	return grant, nil
}
