package access

import (
	"context"
	"errors"
)

// DenyReason classifies why the gate rejected an action.
type DenyReason string

const (
	DenyReasonNoAccess         DenyReason = "no_access"
	DenyReasonInsufficientRole DenyReason = "insufficient_role"
)

// ErrDenied is the sentinel callers match to distinguish a policy rejection
// from an infrastructure fault.
var ErrDenied = errors.New("access: denied")

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed bool
	Role    Role
	Reason  DenyReason
}

// Gate maps (effective role, requested action) to allow or deny using the
// fixed policy table. The gate never writes audit records itself; the caller
// owns logging so the action's full context can be attached.
type Gate struct {
	resolver *Resolver
}

// NewGate constructs a Gate over the shared resolver.
func NewGate(resolver *Resolver) (*Gate, error) {
	if resolver == nil {
		return nil, newServiceError("access.gate.new", "missing_resolver", errors.New("resolver is required"))
	}
	return &Gate{resolver: resolver}, nil
}

// Authorize resolves the identity's effective role and checks it against the
// action's minimum. Denial is a normal return value, not an error; the error
// return is reserved for infrastructure faults.
func (g *Gate) Authorize(ctx context.Context, identity Identity, doc DocumentRef, action Action) (Decision, error) {
	minimum, ok := minimumRoleForAction[action]
	if !ok {
		return Decision{}, newServiceError("access.authorize", "unknown_action", ErrInvalidAction)
	}

	role, hasRole, err := g.resolver.EffectiveRole(ctx, identity, doc)
	if err != nil {
		return Decision{}, err
	}
	if !hasRole {
		return Decision{Allowed: false, Reason: DenyReasonNoAccess}, nil
	}
	if !role.AtLeast(minimum) {
		return Decision{Allowed: false, Role: role, Reason: DenyReasonInsufficientRole}, nil
	}
	return Decision{Allowed: true, Role: role}, nil
}
