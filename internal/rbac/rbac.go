package rbac

type Role string
type Action string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleExpert Role = "expert"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionClaim Action = "claim"
	ActionAdmin Action = "admin"
)

// Can checks coarse role capabilities. Relationship checks (owner, assigned
// expert) live in the workflow guard, not here.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleExpert:
		return action == ActionRead || action == ActionWrite || action == ActionClaim
	case RoleAgent, RoleUser:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAgent, RoleExpert, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
