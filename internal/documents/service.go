package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inkline-hq/inkline/backend/internal/access"
	"github.com/inkline-hq/inkline/backend/internal/audit"
	"github.com/inkline-hq/inkline/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
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

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

const (
	opServiceNew   = "documents.service.new"
	opCreate       = "documents.create"
	opGet          = "documents.get"
	opUpdate       = "documents.update"
	opRename       = "documents.rename"
	opDelete       = "documents.delete"
	opExport       = "documents.export"
	opListVersions = "documents.list_versions"
	opGetVersion   = "documents.get_version"
	opSearch       = "documents.search"
	opPollAccess   = "documents.poll_access"
)

// ServiceConfig describes the dependencies for the document service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Resolver   *access.Resolver
	Gate       *access.Gate
	Ledger     *Ledger
	Recorder   *audit.Recorder
	Logger     *zap.Logger
}

// Service is the gated surface over documents: every read and write passes
// the action gate and leaves an audit record, granted or denied.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	resolver   *access.Resolver
	gate       *access.Gate
	ledger     *Ledger
	recorder   *audit.Recorder
	logger     *zap.Logger
}

// NewService constructs the document service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Resolver == nil || cfg.Gate == nil || cfg.Ledger == nil || cfg.Recorder == nil {
		return nil, newServiceError(opServiceNew, "missing_dependency", errors.New("resolver, gate, ledger, and recorder are required"))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		resolver:   cfg.Resolver,
		gate:       cfg.Gate,
		ledger:     cfg.Ledger,
		recorder:   cfg.Recorder,
		logger:     logger,
	}, nil
}

// Load fetches a document without gating. Callers that need authorization go
// through the action-specific methods; this exists for the boundary layers
// that must resolve the document before building an identity (share links).
func (s *Service) Load(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, newServiceError(opGet, "query_failed", err)
	}
	return doc, nil
}

// Create inserts a new document owned by the acting actor, with its content
// as version 1. Anonymous token identities cannot create documents.
func (s *Service) Create(ctx context.Context, identity access.Identity, title string, content Content) (Document, error) {
	if identity.Kind != access.IdentityKindActor || identity.ActorID == "" {
		return Document{}, fmt.Errorf("%w: document creation requires an authenticated actor", access.ErrDenied)
	}

	documentID, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	versionID, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	doc := Document{
		DocumentID:       documentID,
		OwnerID:          identity.ActorID,
		Title:            title,
		HTML:             content.HTML,
		Text:             content.Text,
		CurrentVersionNo: 1,
	}
	initial := Version{
		VersionID:  versionID,
		DocumentID: documentID,
		VersionNo:  1,
		HTML:       content.HTML,
		Text:       content.Text,
		Hash:       ContentHash(content),
		AuthorRef:  identity.AuditRef(),
		ChangeNote: "initial version",
		CreatedAt:  now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&doc).Error; err != nil {
			return newServiceError(opCreate, "document_insert_failed", err)
		}
		if err := tx.Create(&initial).Error; err != nil {
			return newServiceError(opCreate, "version_insert_failed", err)
		}
		versionNo := int64(1)
		if _, err := s.recorder.RecordTx(ctx, tx, audit.Entry{
			DocumentID:  documentID,
			IdentityRef: identity.AuditRef(),
			Kind:        audit.KindEdit,
			VersionNo:   &versionNo,
			Context:     map[string]any{"created": true},
		}); err != nil {
			return err
		}
		return nil
	})
	if txErr != nil {
		return Document{}, txErr
	}
	return doc, nil
}

// Get returns the document after a VIEW check, auditing the outcome.
func (s *Service) Get(ctx context.Context, identity access.Identity, documentID string) (Document, error) {
	doc, err := s.Load(ctx, documentID)
	if err != nil {
		return Document{}, err
	}
	if err := s.authorize(ctx, identity, doc, access.ActionView); err != nil {
		return Document{}, err
	}
	if _, err := s.recorder.Record(ctx, audit.Entry{
		DocumentID:  doc.DocumentID,
		IdentityRef: identity.AuditRef(),
		Kind:        audit.KindView,
		VersionNo:   &doc.CurrentVersionNo,
	}); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Update runs an accepted edit through the version ledger.
func (s *Service) Update(ctx context.Context, identity access.Identity, documentID string, content Content, changeNote string) (EditOutcome, error) {
	doc, err := s.Load(ctx, documentID)
	if err != nil {
		return EditOutcome{}, err
	}
	if err := s.authorize(ctx, identity, doc, access.ActionEdit); err != nil {
		return EditOutcome{}, err
	}
	return s.ledger.RecordEdit(ctx, documentID, content, identity.AuditRef(), changeNote)
}

// Rename changes the document title. Titles are metadata, not content: no
// version is allocated, but the edit is still gated and audited.
func (s *Service) Rename(ctx context.Context, identity access.Identity, documentID, title string) (Document, error) {
	doc, err := s.Load(ctx, documentID)
	if err != nil {
		return Document{}, err
	}
	if err := s.authorize(ctx, identity, doc, access.ActionEdit); err != nil {
		return Document{}, err
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Document{}).Where("document_id = ?", documentID).Update("title", title).Error; err != nil {
			return newServiceError(opRename, "update_failed", err)
		}
		if _, err := s.recorder.RecordTx(ctx, tx, audit.Entry{
			DocumentID:  documentID,
			IdentityRef: identity.AuditRef(),
			Kind:        audit.KindEdit,
			Context:     map[string]any{"title_changed": true},
		}); err != nil {
			return err
		}
		return nil
	})
	if txErr != nil {
		return Document{}, txErr
	}
	doc.Title = title
	return doc, nil
}

// Delete removes the document and its versions. The audit trail survives the
// document so the deletion itself stays reviewable.
func (s *Service) Delete(ctx context.Context, identity access.Identity, documentID string) error {
	doc, err := s.Load(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, identity, doc, access.ActionDelete); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.recorder.RecordTx(ctx, tx, audit.Entry{
			DocumentID:  documentID,
			IdentityRef: identity.AuditRef(),
			Kind:        audit.KindDelete,
			VersionNo:   &doc.CurrentVersionNo,
		}); err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&Version{}).Error; err != nil {
			return newServiceError(opDelete, "version_delete_failed", err)
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&Document{}).Error; err != nil {
			return newServiceError(opDelete, "document_delete_failed", err)
		}
		return nil
	})
}

// Export returns the current content after an EXPORT check. Rendering to an
// output format happens outside this core.
func (s *Service) Export(ctx context.Context, identity access.Identity, documentID string) (Document, error) {
	doc, err := s.Load(ctx, documentID)
	if err != nil {
		return Document{}, err
	}
	if err := s.authorize(ctx, identity, doc, access.ActionExport); err != nil {
		return Document{}, err
	}
	if _, err := s.recorder.Record(ctx, audit.Entry{
		DocumentID:  doc.DocumentID,
		IdentityRef: identity.AuditRef(),
		Kind:        audit.KindExport,
		VersionNo:   &doc.CurrentVersionNo,
	}); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Restore appends a new version carrying the target version's content.
func (s *Service) Restore(ctx context.Context, identity access.Identity, documentID string, targetVersionNo int64, changeNote string) (EditOutcome, error) {
	doc, err := s.Load(ctx, documentID)
	if err != nil {
		return EditOutcome{}, err
	}
	if err := s.authorize(ctx, identity, doc, access.ActionEdit); err != nil {
		return EditOutcome{}, err
	}
	return s.ledger.Restore(ctx, documentID, targetVersionNo, identity.AuditRef(), changeNote)
}

// ListVersions returns the document's version history, newest first.
func (s *Service) ListVersions(ctx context.Context, identity access.Identity, documentID string) ([]Version, error) {
	doc, err := s.Load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, identity, doc, access.ActionView); err != nil {
		return nil, err
	}
	var versions []Version
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("version_no DESC").
		Find(&versions).Error; err != nil {
		return nil, newServiceError(opListVersions, "query_failed", err)
	}
	return versions, nil
}

// GetVersion returns one immutable snapshot, auditing the view.
func (s *Service) GetVersion(ctx context.Context, identity access.Identity, documentID string, versionNo int64) (Version, error) {
	doc, err := s.Load(ctx, documentID)
	if err != nil {
		return Version{}, err
	}
	if err := s.authorize(ctx, identity, doc, access.ActionView); err != nil {
		return Version{}, err
	}
	var version Version
	err = s.db.WithContext(ctx).
		Where("document_id = ? AND version_no = ?", documentID, versionNo).
		Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Version{}, ErrVersionNotFound
	}
	if err != nil {
		return Version{}, newServiceError(opGetVersion, "query_failed", err)
	}
	if _, err := s.recorder.Record(ctx, audit.Entry{
		DocumentID:  documentID,
		IdentityRef: identity.AuditRef(),
		Kind:        audit.KindView,
		VersionNo:   &versionNo,
	}); err != nil {
		return Version{}, err
	}
	return version, nil
}

// Search returns documents whose title or text matches the query and which
// the identity may view, sharing the resolver's grant aggregation with the
// open-document path.
func (s *Service) Search(ctx context.Context, identity access.Identity, query string) ([]Document, error) {
	var candidates []Document
	db := s.db.WithContext(ctx).Order("updated_at DESC")
	if query != "" {
		pattern := "%" + query + "%"
		db = db.Where("title LIKE ? OR text LIKE ?", pattern, pattern)
	}
	if err := db.Find(&candidates).Error; err != nil {
		return nil, newServiceError(opSearch, "query_failed", err)
	}

	refs := make([]access.DocumentRef, 0, len(candidates))
	byID := make(map[string]Document, len(candidates))
	for _, candidate := range candidates {
		refs = append(refs, access.DocumentRef{ID: candidate.DocumentID, OwnerID: candidate.OwnerID})
		byID[candidate.DocumentID] = candidate
	}
	permitted, err := s.resolver.FilterViewable(ctx, identity, refs)
	if err != nil {
		return nil, err
	}

	results := make([]Document, 0, len(permitted))
	for _, id := range permitted {
		results = append(results, byID[id])
	}
	return results, nil
}

// PollAccess re-authorizes VIEW for a polling client. A denial is recorded as
// ACCESS_REVOKED and reported as terminal so the client stops polling instead
// of going silently quiet.
func (s *Service) PollAccess(ctx context.Context, identity access.Identity, documentID string) (Document, bool, error) {
	doc, err := s.Load(ctx, documentID)
	if err != nil {
		return Document{}, false, err
	}
	decision, err := s.gate.Authorize(ctx, identity, access.DocumentRef{ID: doc.DocumentID, OwnerID: doc.OwnerID}, access.ActionView)
	if err != nil {
		return Document{}, false, err
	}
	if !decision.Allowed {
		if _, err := s.recorder.Record(ctx, audit.Entry{
			DocumentID:  doc.DocumentID,
			IdentityRef: identity.AuditRef(),
			Kind:        audit.KindAccessRevoked,
			Context:     map[string]any{"reason": string(decision.Reason)},
		}); err != nil {
			return Document{}, false, err
		}
		return Document{}, true, nil
	}
	return doc, false, nil
}

// authorize gates one action and audits a denial. The allowed path is audited
// by the caller with the action's own kind and context.
func (s *Service) authorize(ctx context.Context, identity access.Identity, doc Document, action access.Action) error {
	decision, err := s.gate.Authorize(ctx, identity, access.DocumentRef{ID: doc.DocumentID, OwnerID: doc.OwnerID}, action)
	if err != nil {
		return err
	}
	if decision.Allowed {
		return nil
	}
	if _, err := s.recorder.Record(ctx, audit.Entry{
		DocumentID:  doc.DocumentID,
		IdentityRef: identity.AuditRef(),
		Kind:        audit.KindAccessDenied,
		Context:     map[string]any{"action": string(action), "reason": string(decision.Reason)},
	}); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s requires more than the resolved role", access.ErrDenied, action)
}
