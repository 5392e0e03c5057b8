package access

import "testing"

func newTestGate(t *testing.T) (*Gate, *GrantStore) {
	t.Helper()
	resolver, store := newTestAccess(t)
	gate, err := NewGate(resolver)
	if err != nil {
		t.Fatalf("failed to construct gate: %v", err)
	}
	return gate, store
}

func TestAuthorizeOwnerAllowedEverything(t *testing.T) {
	gate, _ := newTestGate(t)
	identity := ActorIdentity("owner-1", false, nil)
	doc := DocumentRef{ID: "doc-1", OwnerID: "owner-1"}

	for _, action := range []Action{ActionView, ActionEdit, ActionShare, ActionExport, ActionDelete} {
		decision, err := gate.Authorize(testContext(), identity, doc, action)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", action, err)
		}
		if !decision.Allowed {
			t.Fatalf("expected owner to be allowed %s, denied with %s", action, decision.Reason)
		}
	}
}

func TestAuthorizeStrangerDeniedView(t *testing.T) {
	gate, _ := newTestGate(t)
	identity := ActorIdentity("stranger", false, nil)
	doc := DocumentRef{ID: "doc-1", OwnerID: "owner-1"}

	decision, err := gate.Authorize(testContext(), identity, doc, ActionView)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("expected stranger to be denied")
	}
	if decision.Reason != DenyReasonNoAccess {
		t.Fatalf("expected no_access reason, got %s", decision.Reason)
	}
}

func TestAuthorizeViewerBoundaries(t *testing.T) {
	gate, store := newTestGate(t)
	mustCreateGrant(t, store, CreateGrantRequest{
		DocumentID:  "doc-1",
		SubjectKind: SubjectKindUser,
		SubjectID:   "user-1",
		Role:        RoleViewer,
		CreatedBy:   "owner-1",
	})
	identity := ActorIdentity("user-1", false, nil)
	doc := DocumentRef{ID: "doc-1", OwnerID: "owner-1"}

	tests := []struct {
		action  Action
		allowed bool
	}{
		{ActionView, true},
		{ActionExport, true},
		{ActionEdit, false},
		{ActionShare, false},
		{ActionDelete, false},
	}
	for _, tc := range tests {
		decision, err := gate.Authorize(testContext(), identity, doc, tc.action)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tc.action, err)
		}
		if decision.Allowed != tc.allowed {
			t.Fatalf("action %s: expected allowed=%v, got %v (reason=%s)", tc.action, tc.allowed, decision.Allowed, decision.Reason)
		}
		if !tc.allowed && decision.Reason != DenyReasonInsufficientRole {
			t.Fatalf("action %s: expected insufficient_role reason, got %s", tc.action, decision.Reason)
		}
	}
}

func TestAuthorizeEditorCannotShare(t *testing.T) {
	gate, store := newTestGate(t)
	mustCreateGrant(t, store, CreateGrantRequest{
		DocumentID:  "doc-1",
		SubjectKind: SubjectKindUser,
		SubjectID:   "user-1",
		Role:        RoleEditor,
		CreatedBy:   "owner-1",
	})
	identity := ActorIdentity("user-1", false, nil)
	doc := DocumentRef{ID: "doc-1", OwnerID: "owner-1"}

	edit, err := gate.Authorize(testContext(), identity, doc, ActionEdit)
	if err != nil || !edit.Allowed {
		t.Fatalf("expected editor to edit (err=%v, decision=%+v)", err, edit)
	}
	share, err := gate.Authorize(testContext(), identity, doc, ActionShare)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if share.Allowed {
		t.Fatalf("editor must not share")
	}
}

func TestParseRoleAndAction(t *testing.T) {
	if role, err := ParseRole(" editor "); err != nil || role != RoleEditor {
		t.Fatalf("expected EDITOR, got %s (err=%v)", role, err)
	}
	if _, err := ParseRole("SUPERUSER"); err == nil {
		t.Fatalf("expected invalid role error")
	}
	if action, err := ParseAction("view"); err != nil || action != ActionView {
		t.Fatalf("expected VIEW, got %s (err=%v)", action, err)
	}
	if _, err := ParseAction("destroy"); err == nil {
		t.Fatalf("expected invalid action error")
	}
}
