package sharing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inkline-hq/inkline/backend/internal/access"
	"github.com/inkline-hq/inkline/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrInvalidToken is returned for every resolution failure: unknown token,
	// revoked link, expired link. The cause is deliberately not distinguished
	// so resolution cannot be used to probe token state.
	ErrInvalidToken = errors.New("sharing: invalid token")
	// ErrLinkNotFound indicates the referenced link record does not exist.
	ErrLinkNotFound = errors.New("sharing: link not found")
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
	opServiceNew   = "sharing.service.new"
	opIssueLink    = "sharing.issue_share_link"
	opResolveToken = "sharing.resolve_share_token"
	opRevokeLink   = "sharing.revoke_share_link"
	opListLinks    = "sharing.list_share_links"
	opIssueQR      = "sharing.issue_qr_link"
	opResolveQR    = "sharing.resolve_qr_code"
	opDeactivateQR = "sharing.deactivate_qr_link"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies for the ephemeral token store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service issues, resolves, and revokes share links and QR links.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the sharing service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// IssueShareLink creates a share link carrying its own role and expiry.
func (s *Service) IssueShareLink(ctx context.Context, documentID string, role access.Role, expiresAt *time.Time, createdBy string) (ShareLink, error) {
	linkID, err := s.idProvider.NewID()
	if err != nil {
		return ShareLink{}, newServiceError(opIssueLink, "id_generation_failed", err)
	}
	token, err := newToken()
	if err != nil {
		return ShareLink{}, newServiceError(opIssueLink, "token_generation_failed", err)
	}
	link := ShareLink{
		LinkID:     linkID,
		DocumentID: documentID,
		Role:       role,
		Token:      token,
		ExpiresAt:  expiresAt,
		CreatedBy:  createdBy,
		CreatedAt:  s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&link).Error; err != nil {
		s.logger.Error("share link insert failed",
			zap.String("operation", opIssueLink),
			zap.String("document_id", documentID),
			zap.Error(err))
		return ShareLink{}, newServiceError(opIssueLink, "insert_failed", err)
	}
	return link, nil
}

// ResolveShareToken checks existence, revocation, and expiry in that order and
// returns the link when all pass. Expiry is inclusive of now: a link expiring
// at this instant is already invalid.
func (s *Service) ResolveShareToken(ctx context.Context, token string) (ShareLink, error) {
	if token == "" {
		return ShareLink{}, ErrInvalidToken
	}
	var link ShareLink
	err := s.db.WithContext(ctx).Where("token = ?", token).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ShareLink{}, ErrInvalidToken
	}
	if err != nil {
		return ShareLink{}, newServiceError(opResolveToken, "query_failed", err)
	}
	if link.RevokedAt != nil {
		return ShareLink{}, ErrInvalidToken
	}
	now := s.clock().UTC()
	if link.ExpiresAt != nil && !link.ExpiresAt.After(now) {
		return ShareLink{}, ErrInvalidToken
	}
	return link, nil
}

// RevokeShareLink marks the link revoked. Revocation is monotonic: revoking a
// link that is already revoked or expired is a no-op, never an error.
func (s *Service) RevokeShareLink(ctx context.Context, linkID string) (ShareLink, error) {
	var link ShareLink
	err := s.db.WithContext(ctx).Where("link_id = ?", linkID).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ShareLink{}, ErrLinkNotFound
	}
	if err != nil {
		return ShareLink{}, newServiceError(opRevokeLink, "query_failed", err)
	}
	if link.RevokedAt != nil {
		return link, nil
	}
	revokedAt := s.clock().UTC()
	if err := s.db.WithContext(ctx).Model(&ShareLink{}).
		Where("link_id = ? AND revoked_at IS NULL", linkID).
		Update("revoked_at", revokedAt).Error; err != nil {
		return ShareLink{}, newServiceError(opRevokeLink, "update_failed", err)
	}
	link.RevokedAt = &revokedAt
	return link, nil
}

// ListShareLinks returns every share link for the document, newest first,
// revoked and expired ones included.
func (s *Service) ListShareLinks(ctx context.Context, documentID string) ([]ShareLink, error) {
	var links []ShareLink
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		Find(&links).Error
	if err != nil {
		return nil, newServiceError(opListLinks, "query_failed", err)
	}
	return links, nil
}

// IssueQRLink creates a QR code binding for a document, optionally pinned to a
// version.
func (s *Service) IssueQRLink(ctx context.Context, documentID string, versionNo *int64, expiresAt *time.Time, createdBy string) (QRLink, error) {
	qrID, err := s.idProvider.NewID()
	if err != nil {
		return QRLink{}, newServiceError(opIssueQR, "id_generation_failed", err)
	}
	code, err := newToken()
	if err != nil {
		return QRLink{}, newServiceError(opIssueQR, "code_generation_failed", err)
	}
	link := QRLink{
		QRID:       qrID,
		DocumentID: documentID,
		VersionNo:  versionNo,
		Code:       code,
		ExpiresAt:  expiresAt,
		Active:     true,
		CreatedBy:  createdBy,
		CreatedAt:  s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&link).Error; err != nil {
		s.logger.Error("qr link insert failed",
			zap.String("operation", opIssueQR),
			zap.String("document_id", documentID),
			zap.Error(err))
		return QRLink{}, newServiceError(opIssueQR, "insert_failed", err)
	}
	return link, nil
}

// ResolveQRCode returns the QR link for a code when it is active and not
// expired. Failures are uniform, matching share-token resolution.
func (s *Service) ResolveQRCode(ctx context.Context, code string) (QRLink, error) {
	if code == "" {
		return QRLink{}, ErrInvalidToken
	}
	var link QRLink
	err := s.db.WithContext(ctx).Where("code = ?", code).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return QRLink{}, ErrInvalidToken
	}
	if err != nil {
		return QRLink{}, newServiceError(opResolveQR, "query_failed", err)
	}
	if !link.Active {
		return QRLink{}, ErrInvalidToken
	}
	now := s.clock().UTC()
	if link.ExpiresAt != nil && !link.ExpiresAt.After(now) {
		return QRLink{}, ErrInvalidToken
	}
	return link, nil
}

// DeactivateQRLink permanently switches a QR link off. Idempotent.
func (s *Service) DeactivateQRLink(ctx context.Context, qrID string) (QRLink, error) {
	var link QRLink
	err := s.db.WithContext(ctx).Where("qr_id = ?", qrID).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return QRLink{}, ErrLinkNotFound
	}
	if err != nil {
		return QRLink{}, newServiceError(opDeactivateQR, "query_failed", err)
	}
	if !link.Active {
		return link, nil
	}
	if err := s.db.WithContext(ctx).Model(&QRLink{}).
		Where("qr_id = ?", qrID).
		Update("active", false).Error; err != nil {
		return QRLink{}, newServiceError(opDeactivateQR, "update_failed", err)
	}
	link.Active = false
	return link, nil
}
