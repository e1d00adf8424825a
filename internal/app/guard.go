package app

import (
	"valora/api/internal/rbac"
	"valora/api/internal/store"
)

type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
)

// Authorize is a pure function of the request's current state deciding whether
// an actor may perform op on a request or its messages.
//
// Read: the owner always; an expert while the request is unclaimed or when it
// is assigned to them. Write and delete: the owner, or the assigned expert.
// Experts must claim before writing; an unclaimed request accepts messages
// only from its owner.
func Authorize(request store.ValuationRequest, actorID string, actorRole rbac.Role, op Operation) bool {
	if actorID == request.OwnerID {
		return true
	}
	if actorRole != rbac.RoleExpert {
		return false
	}
	assignedToActor := request.ExpertID != nil && *request.ExpertID == actorID
	switch op {
	case OpRead:
		return request.ExpertID == nil || assignedToActor
	case OpWrite, OpDelete:
		return assignedToActor
	default:
		return false
	}
}
