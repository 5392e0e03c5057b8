package documents

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/inkline-hq/inkline/backend/internal/access"
	"github.com/inkline-hq/inkline/backend/internal/audit"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	next int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

type movableClock struct {
	now time.Time
}

func (c *movableClock) Now() time.Time {
	return c.now
}

type testStack struct {
	db       *gorm.DB
	clock    *movableClock
	grants   *access.GrantStore
	recorder *audit.Recorder
	feed     *audit.Feed
	ledger   *Ledger
	service  *Service
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	dsn := fmt.Sprintf("file:documents_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Document{}, &Version{}, &access.Grant{}, &audit.Event{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &movableClock{now: time.Unix(1700000000, 0).UTC()}
	generator := &sequenceIDGenerator{}

	resolver, err := access.NewResolver(access.ResolverConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct resolver: %v", err)
	}
	gate, err := access.NewGate(resolver)
	if err != nil {
		t.Fatalf("failed to construct gate: %v", err)
	}
	grants, err := access.NewGrantStore(access.GrantStoreConfig{Database: db, Clock: clock.Now, IDProvider: generator})
	if err != nil {
		t.Fatalf("failed to construct grant store: %v", err)
	}
	recorder, err := audit.NewRecorder(audit.RecorderConfig{Database: db, Clock: clock.Now, IDProvider: generator})
	if err != nil {
		t.Fatalf("failed to construct recorder: %v", err)
	}
	feed, err := audit.NewFeed(audit.FeedConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct feed: %v", err)
	}
	ledger, err := NewLedger(LedgerConfig{Database: db, Clock: clock.Now, IDProvider: generator, Recorder: recorder})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: generator,
		Resolver:   resolver,
		Gate:       gate,
		Ledger:     ledger,
		Recorder:   recorder,
	})
	if err != nil {
		t.Fatalf("failed to construct document service: %v", err)
	}

	return &testStack{
		db:       db,
		clock:    clock,
		grants:   grants,
		recorder: recorder,
		feed:     feed,
		ledger:   ledger,
		service:  service,
	}
}

func mustCreateDocument(t *testing.T, stack *testStack, owner access.Identity, title, html string) Document {
	t.Helper()
	doc, err := stack.service.Create(context.Background(), owner, title, Content{HTML: html, Text: html})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return doc
}

func mustRecordEdit(t *testing.T, stack *testStack, documentID, html, author string) EditOutcome {
	t.Helper()
	outcome, err := stack.ledger.RecordEdit(context.Background(), documentID, Content{HTML: html, Text: html}, author, "")
	if err != nil {
		t.Fatalf("unexpected record edit error: %v", err)
	}
	return outcome
}

func loadDocument(t *testing.T, stack *testStack, documentID string) Document {
	t.Helper()
	var doc Document
	if err := stack.db.Where("document_id = ?", documentID).Take(&doc).Error; err != nil {
		t.Fatalf("failed to load document: %v", err)
	}
	return doc
}

func loadEvents(t *testing.T, stack *testStack, documentID string) []audit.Event {
	t.Helper()
	events, err := stack.recorder.List(context.Background(), documentID)
	if err != nil {
		t.Fatalf("failed to list audit events: %v", err)
	}
	return events
}
