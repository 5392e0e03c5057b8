package access

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the ordered permission level an identity can hold on a document.
type Role string

const (
	RoleViewer Role = "VIEWER"
	RoleEditor Role = "EDITOR"
	RoleOwner  Role = "OWNER"
)

// ErrInvalidRole indicates that a raw role value is not a known role.
var ErrInvalidRole = errors.New("access: invalid role")

var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleOwner:  3,
}

// ParseRole validates raw input and returns a Role.
func ParseRole(rawInput string) (Role, error) {
	candidate := Role(strings.ToUpper(strings.TrimSpace(rawInput)))
	if _, ok := roleRank[candidate]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, rawInput)
	}
	return candidate, nil
}

// Rank exposes the ordering used for highest-role-wins resolution.
func (r Role) Rank() int {
	return roleRank[r]
}

// AtLeast reports whether r grants at least the privileges of other.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// MaxRole returns the strongest role in the set, or ("", false) when empty.
func MaxRole(roles []Role) (Role, bool) {
	best := Role("")
	for _, role := range roles {
		if roleRank[role] > roleRank[best] {
			best = role
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// Action enumerates the gated operations on a document.
type Action string

const (
	ActionView   Action = "VIEW"
	ActionEdit   Action = "EDIT"
	ActionShare  Action = "SHARE"
	ActionExport Action = "EXPORT"
	ActionDelete Action = "DELETE"
)

// minimumRoleForAction is the policy table consulted by the gate.
var minimumRoleForAction = map[Action]Role{
	ActionView:   RoleViewer,
	ActionExport: RoleViewer,
	ActionEdit:   RoleEditor,
	ActionShare:  RoleOwner,
	ActionDelete: RoleOwner,
}

// ErrInvalidAction indicates a raw action value is not a known gated action.
var ErrInvalidAction = errors.New("access: invalid action")

// ParseAction validates raw input and returns an Action.
func ParseAction(rawInput string) (Action, error) {
	candidate := Action(strings.ToUpper(strings.TrimSpace(rawInput)))
	if _, ok := minimumRoleForAction[candidate]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, rawInput)
	}
	return candidate, nil
}
