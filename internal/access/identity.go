package access

// IdentityKind distinguishes authenticated actors from anonymous bearers of
// an ephemeral share token.
type IdentityKind string

const (
	IdentityKindActor IdentityKind = "actor"
	IdentityKindToken IdentityKind = "token"
)

// Identity is the resolved principal a request acts as. Actor identities carry
// their group memberships and admin flag so the resolver stays a pure read;
// token identities carry the (document, role) pair the token store resolved,
// because a token never combines with durable grants.
type Identity struct {
	Kind IdentityKind

	ActorID  string
	Admin    bool
	GroupIDs []string

	// TokenRef identifies the presented token in audit records, e.g.
	// "share_link:<id>". Never the raw token value.
	TokenRef        string
	TokenDocumentID string
	TokenRole       Role
}

// ActorIdentity builds an authenticated identity.
func ActorIdentity(actorID string, admin bool, groupIDs []string) Identity {
	return Identity{
		Kind:     IdentityKindActor,
		ActorID:  actorID,
		Admin:    admin,
		GroupIDs: groupIDs,
	}
}

// TokenIdentity builds an anonymous identity from a resolved ephemeral token.
func TokenIdentity(tokenRef, documentID string, role Role) Identity {
	return Identity{
		Kind:            IdentityKindToken,
		TokenRef:        tokenRef,
		TokenDocumentID: documentID,
		TokenRole:       role,
	}
}

// AuditRef returns the identity reference recorded in audit events: the actor
// id for authenticated identities, the token reference for anonymous ones.
// Administrators are prefixed so override actions stay distinguishable in the
// trail from actions taken under a grant.
func (i Identity) AuditRef() string {
	if i.Kind == IdentityKindToken {
		return i.TokenRef
	}
	if i.Admin {
		return "admin:" + i.ActorID
	}
	return i.ActorID
}

// DocumentRef carries the two document attributes permission resolution needs.
type DocumentRef struct {
	ID      string
	OwnerID string
}
