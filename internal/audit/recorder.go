package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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

const (
	opRecorderNew = "audit.recorder.new"
	opRecord      = "audit.record"
	opList        = "audit.list"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Notifier is told about every successfully persisted event so interested
// parties (long polls) can wake without waiting for their next cursor read.
type Notifier interface {
	NotifyDocumentEvent(documentID string, kind Kind, timestamp time.Time)
}

// RecorderConfig describes the dependencies for audit recording.
type RecorderConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Notifier   Notifier
	Logger     *zap.Logger
}

// Recorder appends audit events. A failed append is returned to the caller,
// which must treat it as fatal to the triggering operation: an action the
// system cannot record must not take effect.
type Recorder struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	notifier   Notifier
	logger     *zap.Logger
}

// NewRecorder constructs a Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opRecorderNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opRecorderNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Recorder{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		notifier:   cfg.Notifier,
		logger:     logger,
	}, nil
}

// Entry describes one event to record.
type Entry struct {
	DocumentID  string
	IdentityRef string
	Kind        Kind
	VersionNo   *int64
	Context     map[string]any
}

// Record appends the event with the recorder's current time as its cursor
// position.
func (r *Recorder) Record(ctx context.Context, entry Entry) (Event, error) {
	return r.RecordTx(ctx, r.db, entry)
}

// RecordTx appends the event inside the caller's transaction so a data write
// and its audit record commit or roll back together.
func (r *Recorder) RecordTx(ctx context.Context, tx *gorm.DB, entry Entry) (Event, error) {
	eventID, err := r.idProvider.NewID()
	if err != nil {
		return Event{}, newServiceError(opRecord, "id_generation_failed", err)
	}

	contextJSON := ""
	if len(entry.Context) > 0 {
		encoded, err := json.Marshal(entry.Context)
		if err != nil {
			return Event{}, newServiceError(opRecord, "context_encode_failed", err)
		}
		contextJSON = string(encoded)
	}

	event := Event{
		EventID:     eventID,
		DocumentID:  entry.DocumentID,
		IdentityRef: entry.IdentityRef,
		Kind:        entry.Kind,
		VersionNo:   entry.VersionNo,
		Timestamp:   r.clock().UTC(),
		ContextJSON: contextJSON,
	}
	if err := tx.WithContext(ctx).Create(&event).Error; err != nil {
		r.logger.Error("audit append failed",
			zap.String("operation", opRecord),
			zap.String("document_id", entry.DocumentID),
			zap.String("kind", string(entry.Kind)),
			zap.Error(err))
		return Event{}, newServiceError(opRecord, "insert_failed", err)
	}

	if r.notifier != nil {
		r.notifier.NotifyDocumentEvent(event.DocumentID, event.Kind, event.Timestamp)
	}
	return event, nil
}

// List returns the full trail for a document, oldest first, for audit review.
func (r *Recorder) List(ctx context.Context, documentID string) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("ts ASC").
		Find(&events).Error
	if err != nil {
		return nil, newServiceError(opList, "query_failed", err)
	}
	return events, nil
}
