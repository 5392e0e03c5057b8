package documents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/inkline-hq/inkline/backend/internal/access"
	"github.com/inkline-hq/inkline/backend/internal/audit"
)

func TestRecordEditAppendsContiguousVersions(t *testing.T) {
	stack := newTestStack(t)
	owner := access.ActorIdentity("owner-1", false, nil)
	doc := mustCreateDocument(t, stack, owner, "notes", "v1")

	stack.clock.now = stack.clock.now.Add(time.Second)
	outcome := mustRecordEdit(t, stack, doc.DocumentID, "v2", "owner-1")
	if !outcome.Recorded || outcome.VersionNo != 2 {
		t.Fatalf("expected version 2 to be recorded, got %+v", outcome)
	}

	stack.clock.now = stack.clock.now.Add(time.Second)
	outcome = mustRecordEdit(t, stack, doc.DocumentID, "v3", "owner-1")
	if !outcome.Recorded || outcome.VersionNo != 3 {
		t.Fatalf("expected version 3 to be recorded, got %+v", outcome)
	}

	stored := loadDocument(t, stack, doc.DocumentID)
	if stored.CurrentVersionNo != 3 || stored.HTML != "v3" {
		t.Fatalf("unexpected live document state: version=%d html=%q", stored.CurrentVersionNo, stored.HTML)
	}

	var versions []Version
	if err := stack.db.Where("document_id = ?", doc.DocumentID).Order("version_no ASC").Find(&versions).Error; err != nil {
		t.Fatalf("failed to load versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	for i, version := range versions {
		if version.VersionNo != int64(i+1) {
			t.Fatalf("version numbers not contiguous: %+v", versions)
		}
	}
}

func TestRecordEditUnchangedContentIsIdempotent(t *testing.T) {
	stack := newTestStack(t)
	owner := access.ActorIdentity("owner-1", false, nil)
	doc := mustCreateDocument(t, stack, owner, "notes", "v1")

	outcome := mustRecordEdit(t, stack, doc.DocumentID, "v1", "owner-1")
	if outcome.Recorded {
		t.Fatalf("saving unchanged content must not record a version")
	}
	if outcome.VersionNo != 1 {
		t.Fatalf("no-op outcome should report the current version, got %d", outcome.VersionNo)
	}

	var count int64
	if err := stack.db.Model(&Version{}).Where("document_id = ?", doc.DocumentID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count versions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one version, got %d", count)
	}
}

func TestRestoreAppendsNewVersionWithOldContent(t *testing.T) {
	stack := newTestStack(t)
	owner := access.ActorIdentity("owner-1", false, nil)
	doc := mustCreateDocument(t, stack, owner, "notes", "v1")
	stack.clock.now = stack.clock.now.Add(time.Second)
	mustRecordEdit(t, stack, doc.DocumentID, "v2", "owner-1")

	stack.clock.now = stack.clock.now.Add(time.Second)
	outcome, err := stack.ledger.Restore(context.Background(), doc.DocumentID, 1, "owner-1", "")
	if err != nil {
		t.Fatalf("unexpected restore error: %v", err)
	}
	if !outcome.Recorded || outcome.VersionNo != 3 {
		t.Fatalf("expected restore to record version 3, got %+v", outcome)
	}

	stored := loadDocument(t, stack, doc.DocumentID)
	if stored.CurrentVersionNo != 3 || stored.HTML != "v1" {
		t.Fatalf("expected current version 3 with restored content, got version=%d html=%q", stored.CurrentVersionNo, stored.HTML)
	}

	var restored Version
	if err := stack.db.Where("document_id = ? AND version_no = ?", doc.DocumentID, 3).Take(&restored).Error; err != nil {
		t.Fatalf("failed to load restored version: %v", err)
	}
	if restored.ChangeNote != "(restored from version 1)" {
		t.Fatalf("unexpected change note: %q", restored.ChangeNote)
	}

	// The target version is untouched.
	var target Version
	if err := stack.db.Where("document_id = ? AND version_no = ?", doc.DocumentID, 1).Take(&target).Error; err != nil {
		t.Fatalf("target version must survive restore: %v", err)
	}
	if target.HTML != "v1" {
		t.Fatalf("target version mutated: %q", target.HTML)
	}
}

func TestRestoreToCurrentVersionIsNoOp(t *testing.T) {
	stack := newTestStack(t)
	owner := access.ActorIdentity("owner-1", false, nil)
	doc := mustCreateDocument(t, stack, owner, "notes", "v1")

	outcome, err := stack.ledger.Restore(context.Background(), doc.DocumentID, 1, "owner-1", "")
	if err != nil {
		t.Fatalf("unexpected restore error: %v", err)
	}
	if outcome.Recorded {
		t.Fatalf("restoring the current content must be a no-op")
	}
}

func TestRestoreUnknownVersion(t *testing.T) {
	stack := newTestStack(t)
	owner := access.ActorIdentity("owner-1", false, nil)
	doc := mustCreateDocument(t, stack, owner, "notes", "v1")

	if _, err := stack.ledger.Restore(context.Background(), doc.DocumentID, 9, "owner-1", ""); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestRecordEditAuditsInsideTransaction(t *testing.T) {
	stack := newTestStack(t)
	owner := access.ActorIdentity("owner-1", false, nil)
	doc := mustCreateDocument(t, stack, owner, "notes", "v1")

	stack.clock.now = stack.clock.now.Add(time.Second)
	mustRecordEdit(t, stack, doc.DocumentID, "v2", "owner-1")

	events := loadEvents(t, stack, doc.DocumentID)
	last := events[len(events)-1]
	if last.Kind != audit.KindEdit {
		t.Fatalf("expected trailing EDIT event, got %s", last.Kind)
	}
	if last.VersionNo == nil || *last.VersionNo != 2 {
		t.Fatalf("expected EDIT event for version 2, got %+v", last.VersionNo)
	}
}

func TestConcurrentEditsNeverShareAVersionSlot(t *testing.T) {
	stack := newTestStack(t)
	owner := access.ActorIdentity("owner-1", false, nil)
	doc := mustCreateDocument(t, stack, owner, "notes", "v1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	contents := []string{"concurrent-a", "concurrent-b"}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = stack.ledger.RecordEdit(context.Background(), doc.DocumentID,
				Content{HTML: contents[slot], Text: contents[slot]}, "owner-1", "")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d failed: %v", i, err)
		}
	}

	var versions []Version
	if err := stack.db.Where("document_id = ?", doc.DocumentID).Order("version_no ASC").Find(&versions).Error; err != nil {
		t.Fatalf("failed to load versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected versions 1..3, got %d rows", len(versions))
	}
	for i, version := range versions {
		if version.VersionNo != int64(i+1) {
			t.Fatalf("version slots not unique and contiguous: %+v", versions)
		}
	}
	stored := loadDocument(t, stack, doc.DocumentID)
	if stored.CurrentVersionNo != 3 {
		t.Fatalf("expected current version 3, got %d", stored.CurrentVersionNo)
	}
}

func TestRecordEditSurfacesExhaustedConflict(t *testing.T) {
	stack := newTestStack(t)
	owner := access.ActorIdentity("owner-1", false, nil)
	doc := mustCreateDocument(t, stack, owner, "notes", "v1")

	// An orphan row occupying the next slot without the pointer advancing
	// makes every retry lose the same race.
	orphan := Version{
		VersionID:  "orphan-version",
		DocumentID: doc.DocumentID,
		VersionNo:  2,
		HTML:       "squatter",
		Text:       "squatter",
		Hash:       ContentHash(Content{HTML: "squatter"}),
		AuthorRef:  "owner-1",
		CreatedAt:  stack.clock.now,
	}
	if err := stack.db.Create(&orphan).Error; err != nil {
		t.Fatalf("failed to seed conflicting version: %v", err)
	}

	_, err := stack.ledger.RecordEdit(context.Background(), doc.DocumentID, Content{HTML: "v2", Text: "v2"}, "owner-1", "")
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict after exhausted retries, got %v", err)
	}
}

func TestRecordEditRollsBackWhenAuditCannotPersist(t *testing.T) {
	stack := newTestStack(t)
	owner := access.ActorIdentity("owner-1", false, nil)
	doc := mustCreateDocument(t, stack, owner, "notes", "v1")

	// With the audit table gone the edit's event cannot be written; an action
	// the trail cannot record must not take effect.
	if err := stack.db.Migrator().DropTable(&audit.Event{}); err != nil {
		t.Fatalf("failed to drop audit table: %v", err)
	}

	stack.clock.now = stack.clock.now.Add(time.Second)
	if _, err := stack.ledger.RecordEdit(context.Background(), doc.DocumentID,
		Content{HTML: "v2", Text: "v2"}, "owner-1", ""); err == nil {
		t.Fatalf("expected edit to fail when the audit event cannot persist")
	}

	var count int64
	if err := stack.db.Model(&Version{}).Where("document_id = ?", doc.DocumentID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count versions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the version append to roll back, got %d rows", count)
	}
	stored := loadDocument(t, stack, doc.DocumentID)
	if stored.CurrentVersionNo != 1 || stored.HTML != "v1" {
		t.Fatalf("expected live document unchanged, got version=%d html=%q", stored.CurrentVersionNo, stored.HTML)
	}
}
