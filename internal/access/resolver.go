package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opResolverNew   = "access.resolver.new"
	opEffectiveRole = "access.effective_role"
	opFilterView    = "access.filter_viewable"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ResolverConfig describes the dependencies for permission resolution.
type ResolverConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Resolver computes the effective role an identity holds on a document.
// It is a pure read over the grant store and is safe for concurrent use.
type Resolver struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opResolverNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Resolver{db: cfg.Database, clock: clock, logger: logger}, nil
}

// EffectiveRole returns the strongest role the identity holds on the document,
// or ("", false) when it holds none.
//
// Platform administrators resolve to OWNER unconditionally. A token identity
// yields exactly the role its token carries, and only on the token's own
// document. An actor identity aggregates the document owner's implicit grant
// with every currently-valid direct and group grant.
func (r *Resolver) EffectiveRole(ctx context.Context, identity Identity, doc DocumentRef) (Role, bool, error) {
	if identity.Kind == IdentityKindToken {
		if identity.TokenDocumentID != doc.ID {
			return "", false, nil
		}
		return identity.TokenRole, true, nil
	}

	if identity.ActorID == "" {
		return "", false, nil
	}
	if identity.Admin {
		return RoleOwner, true, nil
	}

	grants, err := r.grantsForActor(ctx, identity, doc.ID)
	if err != nil {
		r.logger.Error("grant lookup failed",
			zap.String("operation", opEffectiveRole),
			zap.String("document_id", doc.ID),
			zap.Error(err))
		return "", false, newServiceError(opEffectiveRole, "grant_query_failed", err)
	}

	role, ok := effectiveFromGrants(identity, doc, grants, r.clock().UTC())
	return role, ok, nil
}

// effectiveFromGrants is the max-aggregate at the heart of resolution. It is
// deliberately a pure function over a materialized grant list so the expiry
// and precedence rules are testable without a datastore.
func effectiveFromGrants(identity Identity, doc DocumentRef, grants []Grant, now time.Time) (Role, bool) {
	roles := make([]Role, 0, len(grants)+1)
	if doc.OwnerID != "" && doc.OwnerID == identity.ActorID {
		roles = append(roles, RoleOwner)
	}
	memberOf := make(map[string]bool, len(identity.GroupIDs))
	for _, groupID := range identity.GroupIDs {
		memberOf[groupID] = true
	}
	for _, grant := range grants {
		if !grant.ValidAt(now) {
			continue
		}
		switch grant.SubjectKind {
		case SubjectKindUser:
			if grant.SubjectID == identity.ActorID {
				roles = append(roles, grant.Role)
			}
		case SubjectKindGroup:
			if memberOf[grant.SubjectID] {
				roles = append(roles, grant.Role)
			}
		}
	}
	return MaxRole(roles)
}

func (r *Resolver) grantsForActor(ctx context.Context, identity Identity, documentID string) ([]Grant, error) {
	subjects := make([]string, 0, len(identity.GroupIDs)+1)
	subjects = append(subjects, identity.ActorID)
	subjects = append(subjects, identity.GroupIDs...)

	var grants []Grant
	err := r.db.WithContext(ctx).
		Where("document_id = ? AND subject_kind IN ? AND subject_id IN ?",
			documentID, []SubjectKind{SubjectKindUser, SubjectKindGroup}, subjects).
		Find(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

// FilterViewable returns the subset of candidate documents the identity may
// view, preserving candidate order. It shares the exact grant aggregation used
// by EffectiveRole so search visibility can never diverge from open-document
// authorization. Administrators bypass the filter.
func (r *Resolver) FilterViewable(ctx context.Context, identity Identity, candidates []DocumentRef) ([]string, error) {
	if identity.Kind == IdentityKindActor && identity.Admin {
		ids := make([]string, 0, len(candidates))
		for _, candidate := range candidates {
			ids = append(ids, candidate.ID)
		}
		return ids, nil
	}

	permitted := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		role, ok, err := r.EffectiveRole(ctx, identity, candidate)
		if err != nil {
			return nil, newServiceError(opFilterView, "resolve_failed", err)
		}
		if ok && role.AtLeast(RoleViewer) {
			permitted = append(permitted, candidate.ID)
		}
	}
	return permitted, nil
}
