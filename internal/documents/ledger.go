package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inkline-hq/inkline/backend/internal/audit"
	"github.com/inkline-hq/inkline/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxEditRetries bounds version slot allocation retries under write races.
const maxEditRetries = 3

const (
	opLedgerNew = "documents.ledger.new"
	opRecord    = "documents.record_edit"
	opRestore   = "documents.restore"
)

// LedgerConfig describes the dependencies for the version ledger.
type LedgerConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Recorder   *audit.Recorder
	Logger     *zap.Logger
}

// Ledger appends immutable versions on accepted edits and advances the
// document's current-version pointer. Each accepted edit commits the version
// row, the live document update, and its audit record in one transaction.
type Ledger struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	recorder   *audit.Recorder
	logger     *zap.Logger
}

// NewLedger constructs a Ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opLedgerNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opLedgerNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Recorder == nil {
		return nil, newServiceError(opLedgerNew, "missing_recorder", errors.New("audit recorder is required"))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Ledger{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		recorder:   cfg.Recorder,
		logger:     logger,
	}, nil
}

// EditOutcome reports what one RecordEdit call did.
type EditOutcome struct {
	// Recorded is false when the content hash matched the current version and
	// the call was an idempotent no-op.
	Recorded  bool
	VersionNo int64
}

// RecordEdit appends a new version when the content actually changed.
// Unchanged content is a no-op. A concurrent edit racing on the same version
// slot loses to the unique index and is retried against freshly read state; a
// caller only sees ErrVersionConflict once the retries are exhausted.
func (l *Ledger) RecordEdit(ctx context.Context, documentID string, content Content, authorRef, changeNote string) (EditOutcome, error) {
	return l.recordEdit(ctx, documentID, content, authorRef, changeNote, nil)
}

func (l *Ledger) recordEdit(ctx context.Context, documentID string, content Content, authorRef, changeNote string, auditContext map[string]any) (EditOutcome, error) {
	newHash := ContentHash(content)

	var lastErr error
	for attempt := 0; attempt < maxEditRetries; attempt++ {
		outcome, err := l.attemptEdit(ctx, documentID, content, newHash, authorRef, changeNote, auditContext)
		if err == nil {
			return outcome, nil
		}
		if !isUniqueViolation(err) {
			return EditOutcome{}, err
		}
		lastErr = err
		l.logger.Warn("version slot conflict, retrying with fresh state",
			zap.String("operation", opRecord),
			zap.String("document_id", documentID),
			zap.Int("attempt", attempt+1))
	}
	return EditOutcome{}, fmt.Errorf("%w: %v", ErrVersionConflict, lastErr)
}

func (l *Ledger) attemptEdit(ctx context.Context, documentID string, content Content, newHash, authorRef, changeNote string, auditContext map[string]any) (EditOutcome, error) {
	var outcome EditOutcome
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_id = ?", documentID).
			Take(&doc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDocumentNotFound
		}
		if err != nil {
			return newServiceError(opRecord, "document_select_failed", err)
		}

		var current Version
		err = tx.Where("document_id = ? AND version_no = ?", documentID, doc.CurrentVersionNo).
			Take(&current).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opRecord, "version_select_failed", err)
		}
		if err == nil && current.Hash == newHash {
			outcome = EditOutcome{Recorded: false, VersionNo: doc.CurrentVersionNo}
			return nil
		}

		versionID, err := l.idProvider.NewID()
		if err != nil {
			return newServiceError(opRecord, "id_generation_failed", err)
		}
		next := Version{
			VersionID:  versionID,
			DocumentID: documentID,
			VersionNo:  doc.CurrentVersionNo + 1,
			HTML:       content.HTML,
			Text:       content.Text,
			Hash:       newHash,
			AuthorRef:  authorRef,
			ChangeNote: changeNote,
			CreatedAt:  l.clock().UTC(),
		}
		if err := tx.Create(&next).Error; err != nil {
			// Unique violations bubble up untouched so the retry loop can
			// distinguish a lost race from an infrastructure fault.
			return err
		}

		updates := map[string]any{
			"html":               content.HTML,
			"text":               content.Text,
			"current_version_no": next.VersionNo,
		}
		if err := tx.Model(&Document{}).Where("document_id = ?", documentID).Updates(updates).Error; err != nil {
			return newServiceError(opRecord, "document_update_failed", err)
		}

		if _, err := l.recorder.RecordTx(ctx, tx, audit.Entry{
			DocumentID:  documentID,
			IdentityRef: authorRef,
			Kind:        audit.KindEdit,
			VersionNo:   &next.VersionNo,
			Context:     auditContext,
		}); err != nil {
			return err
		}

		outcome = EditOutcome{Recorded: true, VersionNo: next.VersionNo}
		return nil
	})
	if txErr != nil {
		return EditOutcome{}, txErr
	}
	return outcome, nil
}

// Restore appends a new version carrying an older version's content. History
// is never rewritten: the target and every intermediate version stay intact,
// and restoring the current content is the usual idempotent no-op.
func (l *Ledger) Restore(ctx context.Context, documentID string, targetVersionNo int64, authorRef, changeNote string) (EditOutcome, error) {
	var target Version
	err := l.db.WithContext(ctx).
		Where("document_id = ? AND version_no = ?", documentID, targetVersionNo).
		Take(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return EditOutcome{}, ErrVersionNotFound
	}
	if err != nil {
		return EditOutcome{}, newServiceError(opRestore, "version_select_failed", err)
	}

	note := strings.TrimSpace(changeNote)
	suffix := fmt.Sprintf("(restored from version %d)", targetVersionNo)
	if note == "" {
		note = suffix
	} else {
		note = note + " " + suffix
	}

	return l.recordEdit(ctx, documentID, Content{HTML: target.HTML, Text: target.Text}, authorRef, note,
		map[string]any{"restored_from": targetVersionNo})
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
