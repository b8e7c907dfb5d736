package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RoleAnalyst Role = "analyst"
	RolePM      Role = "pm"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionRecord   Action = "record"
	ActionFinalize Action = "finalize"
	ActionCompile  Action = "compile"
	ActionClose    Action = "close"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RolePM:
		return action == ActionRead || action == ActionRecord || action == ActionFinalize ||
			action == ActionCompile || action == ActionClose
	case RoleAnalyst:
		return action == ActionRead || action == ActionRecord || action == ActionFinalize || action == ActionCompile
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleAnalyst, RolePM, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
