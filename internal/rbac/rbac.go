package rbac

import "context"

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead            Action = "read"
	ActionComment         Action = "comment"
	ActionWrite           Action = "write"
	ActionInvite          Action = "invite"
	ActionRemoveMember    Action = "remove_member"
	ActionChangeRole      Action = "change_role"
	ActionDeleteWorkspace Action = "delete_workspace"
)

// Roles lists every role from least to most privileged.
var Roles = []Role{RoleViewer, RoleMember, RoleAdmin, RoleOwner}

// Actions lists every gated action.
var Actions = []Action{
	ActionRead,
	ActionComment,
	ActionWrite,
	ActionInvite,
	ActionRemoveMember,
	ActionChangeRole,
	ActionDeleteWorkspace,
}

// Rank orders roles: owner > admin > member > viewer. Unknown roles rank 0.
func Rank(role Role) int {
	switch role {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleMember:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

func Can(role Role, action Action) bool {
	need := required(action)
	return need > 0 && Rank(role) >= need
}

func required(action Action) int {
	switch action {
	case ActionRead, ActionComment:
		return Rank(RoleViewer)
	case ActionWrite:
		return Rank(RoleMember)
	case ActionInvite, ActionRemoveMember:
		return Rank(RoleAdmin)
	case ActionChangeRole, ActionDeleteWorkspace:
		return Rank(RoleOwner)
	default:
		return 0
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleAdmin, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Assignable reports whether role may be granted through an invitation or a
// role change. Ownership is only ever set at workspace creation.
func Assignable(role string) bool {
	switch Role(role) {
	case RoleAdmin, RoleMember, RoleViewer:
		return true
	default:
		return false
	}
}

// Authorizer decides whether a role may perform an action.
type Authorizer interface {
	Allowed(ctx context.Context, role Role, action Action) (bool, error)
}

// Matrix is the in-process Authorizer backed by Can.
type Matrix struct{}

func (Matrix) Allowed(_ context.Context, role Role, action Action) (bool, error) {
	return Can(role, action), nil
}
