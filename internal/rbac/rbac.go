package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RoleCurator Role = "curator"
	RoleAdmin   Role = "admin"
)

const (
	// ActionRead covers the feed, boards and search.
	ActionRead Action = "read"
	// ActionCurate covers node edits and drags on a board.
	ActionCurate Action = "curate"
	// ActionPublish covers publishing and exporting a board.
	ActionPublish Action = "publish"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleCurator:
		return action == ActionRead || action == ActionCurate || action == ActionPublish
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown roles to viewer.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCurator, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
