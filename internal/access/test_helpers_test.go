package access

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func testContext() context.Context {
	return context.Background()
}

func testClock() time.Time {
	return time.Unix(1700000600, 0).UTC()
}

func newTestAccess(t *testing.T) (*Resolver, *GrantStore) {
	t.Helper()

	dsn := fmt.Sprintf("file:access_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Grant{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	resolver, err := NewResolver(ResolverConfig{Database: db, Clock: testClock})
	if err != nil {
		t.Fatalf("failed to construct resolver: %v", err)
	}
	store, err := NewGrantStore(GrantStoreConfig{
		Database:   db,
		Clock:      testClock,
		IDProvider: &sequenceIDGenerator{prefix: "grant"},
	})
	if err != nil {
		t.Fatalf("failed to construct grant store: %v", err)
	}
	return resolver, store
}

type sequenceIDGenerator struct {
	prefix string
	next   int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

func mustCreateGrant(t *testing.T, store *GrantStore, req CreateGrantRequest) Grant {
	t.Helper()
	grant, err := store.Create(testContext(), req)
	if err != nil {
		t.Fatalf("unexpected grant create error: %v", err)
	}
	return grant
}
