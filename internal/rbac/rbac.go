package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleBuilder  Role = "builder"
	RoleDirector Role = "director"
)

const (
	ActionRead Action = "read"
	// ActionWork covers day-to-day governance writes: gate toggles,
	// blueprint CRUD, reconciliation, incident reporting.
	ActionWork Action = "work"
	// ActionDirect covers destructive or budget-level decisions: forced
	// phase advances, scope deletion, WU initialization and allocation,
	// incident unlock.
	ActionDirect Action = "direct"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleDirector:
		return true
	case RoleBuilder:
		return action == ActionRead || action == ActionWork
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleBuilder, RoleDirector:
		return Role(role)
	default:
		return RoleViewer
	}
}
