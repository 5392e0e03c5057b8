package sharing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/inkline-hq/inkline/backend/internal/access"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	next int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("link-%d", g.next), nil
}

type movableClock struct {
	now time.Time
}

func (c *movableClock) Now() time.Time {
	return c.now
}

func newTestService(t *testing.T) (*Service, *movableClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:sharing_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ShareLink{}, &QRLink{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &movableClock{now: time.Unix(1700000000, 0).UTC()}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct sharing service: %v", err)
	}
	return service, clock
}

func TestIssueThenResolveRoundTrip(t *testing.T) {
	service, _ := newTestService(t)

	issued, err := service.IssueShareLink(context.Background(), "doc-1", access.RoleViewer, nil, "owner-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if issued.Token == "" {
		t.Fatalf("expected a token to be generated")
	}

	resolved, err := service.ResolveShareToken(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if resolved.DocumentID != "doc-1" || resolved.Role != access.RoleViewer {
		t.Fatalf("resolved (%s, %s), expected (doc-1, VIEWER)", resolved.DocumentID, resolved.Role)
	}
}

func TestResolveUnknownTokenIsInvalid(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.ResolveShareToken(context.Background(), "no-such-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRevocationIsPermanent(t *testing.T) {
	service, _ := newTestService(t)

	issued, err := service.IssueShareLink(context.Background(), "doc-1", access.RoleViewer, nil, "owner-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if _, err := service.ResolveShareToken(context.Background(), issued.Token); err != nil {
		t.Fatalf("expected resolve to succeed before revocation: %v", err)
	}

	revoked, err := service.RevokeShareLink(context.Background(), issued.LinkID)
	if err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}
	if revoked.RevokedAt == nil {
		t.Fatalf("expected revoked_at to be set")
	}

	if _, err := service.ResolveShareToken(context.Background(), issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after revocation, got %v", err)
	}

	// Revoking again is a no-op and the original revocation timestamp holds.
	again, err := service.RevokeShareLink(context.Background(), issued.LinkID)
	if err != nil {
		t.Fatalf("unexpected repeated revoke error: %v", err)
	}
	if again.RevokedAt == nil || !again.RevokedAt.Equal(*revoked.RevokedAt) {
		t.Fatalf("repeated revoke must not move the revocation timestamp")
	}
	if _, err := service.ResolveShareToken(context.Background(), issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken to persist, got %v", err)
	}
}

func TestExpiryIsInclusiveOfNow(t *testing.T) {
	service, clock := newTestService(t)

	expiresAt := clock.now.Add(time.Hour)
	issued, err := service.IssueShareLink(context.Background(), "doc-1", access.RoleViewer, &expiresAt, "owner-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if _, err := service.ResolveShareToken(context.Background(), issued.Token); err != nil {
		t.Fatalf("expected resolve to succeed before expiry: %v", err)
	}

	clock.now = expiresAt
	if _, err := service.ResolveShareToken(context.Background(), issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token expiring exactly now must be invalid, got %v", err)
	}
}

func TestRevokeExpiredLinkIsNoOp(t *testing.T) {
	service, clock := newTestService(t)

	expiresAt := clock.now.Add(time.Minute)
	issued, err := service.IssueShareLink(context.Background(), "doc-1", access.RoleViewer, &expiresAt, "owner-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	clock.now = clock.now.Add(time.Hour)

	if _, err := service.RevokeShareLink(context.Background(), issued.LinkID); err != nil {
		t.Fatalf("revoking an expired link must not error: %v", err)
	}
}

func TestTokensAreUniqueAndOpaque(t *testing.T) {
	service, _ := newTestService(t)

	first, err := service.IssueShareLink(context.Background(), "doc-1", access.RoleViewer, nil, "owner-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	second, err := service.IssueShareLink(context.Background(), "doc-1", access.RoleViewer, nil, "owner-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if first.Token == second.Token {
		t.Fatalf("two issued tokens must differ")
	}
	if len(first.Token) < 40 {
		t.Fatalf("token too short to carry the required entropy: %q", first.Token)
	}
}

func TestQRLinkLifecycle(t *testing.T) {
	service, _ := newTestService(t)

	pinned := int64(2)
	issued, err := service.IssueQRLink(context.Background(), "doc-1", &pinned, nil, "owner-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	resolved, err := service.ResolveQRCode(context.Background(), issued.Code)
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if resolved.DocumentID != "doc-1" || resolved.VersionNo == nil || *resolved.VersionNo != 2 {
		t.Fatalf("unexpected resolved qr link: %+v", resolved)
	}

	if _, err := service.DeactivateQRLink(context.Background(), issued.QRID); err != nil {
		t.Fatalf("unexpected deactivate error: %v", err)
	}
	if _, err := service.ResolveQRCode(context.Background(), issued.Code); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after deactivation, got %v", err)
	}

	// Deactivating again stays a no-op.
	if _, err := service.DeactivateQRLink(context.Background(), issued.QRID); err != nil {
		t.Fatalf("repeated deactivate must not error: %v", err)
	}
}
