package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/inkline-hq/inkline/backend/internal/access"
	"github.com/inkline-hq/inkline/backend/internal/audit"
	"github.com/inkline-hq/inkline/backend/internal/auth"
	"github.com/inkline-hq/inkline/backend/internal/documents"
	"github.com/inkline-hq/inkline/backend/internal/identity"
	"github.com/inkline-hq/inkline/backend/internal/sharing"
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

type testServer struct {
	handler    http.Handler
	db         *gorm.DB
	clock      *movableClock
	sessions   *auth.SessionIssuer
	identities *identity.Service
	grants     *access.GrantStore
	recorder   *audit.Recorder
	dispatcher *ChangeDispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&documents.Document{},
		&documents.Version{},
		&access.Grant{},
		&sharing.ShareLink{},
		&sharing.QRLink{},
		&audit.Event{},
		&identity.Actor{},
		&identity.Group{},
		&identity.Membership{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &movableClock{now: time.Unix(1700000000, 0).UTC()}
	generator := &sequenceIDGenerator{}
	dispatcher := NewChangeDispatcher()

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
	recorder, err := audit.NewRecorder(audit.RecorderConfig{Database: db, Clock: clock.Now, IDProvider: generator, Notifier: dispatcher})
	if err != nil {
		t.Fatalf("failed to construct recorder: %v", err)
	}
	feed, err := audit.NewFeed(audit.FeedConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct feed: %v", err)
	}
	ledger, err := documents.NewLedger(documents.LedgerConfig{Database: db, Clock: clock.Now, IDProvider: generator, Recorder: recorder})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}
	documentService, err := documents.NewService(documents.ServiceConfig{
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
	sharingService, err := sharing.NewService(sharing.ServiceConfig{Database: db, Clock: clock.Now, IDProvider: generator})
	if err != nil {
		t.Fatalf("failed to construct sharing service: %v", err)
	}
	identityService, err := identity.NewService(identity.ServiceConfig{Database: db, Clock: clock.Now, IDProvider: generator})
	if err != nil {
		t.Fatalf("failed to construct identity service: %v", err)
	}
	sessions := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte("server-test-secret"),
		Issuer:        "inkline-auth",
		Audience:      "inkline-api",
		SessionTTL:    time.Hour,
	})

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:    sessions,
		Identities:  identityService,
		Documents:   documentService,
		Grants:      grants,
		Gate:        gate,
		Sharing:     sharingService,
		Audit:       recorder,
		Feed:        feed,
		Dispatcher:  dispatcher,
		Clock:       clock.Now,
		LongPollMax: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testServer{
		handler:    handler,
		db:         db,
		clock:      clock,
		sessions:   sessions,
		identities: identityService,
		grants:     grants,
		recorder:   recorder,
		dispatcher: dispatcher,
	}
}

func (s *testServer) sessionFor(t *testing.T, actorID string) string {
	t.Helper()
	if _, err := s.identities.EnsureActor(context.Background(), actorID, actorID+"@example.com", actorID); err != nil {
		t.Fatalf("failed to ensure actor: %v", err)
	}
	token, _, err := s.sessions.IssueSession(context.Background(), actorID)
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func (s *testServer) createDocument(t *testing.T, token, title, html string) string {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/documents", token, jsonBody{"title": title, "html": html, "text": html})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected created status, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	documentID, _ := payload["document_id"].(string)
	if documentID == "" {
		t.Fatalf("expected document id in response: %s", recorder.Body.String())
	}
	return documentID
}

type jsonBody = map[string]any
