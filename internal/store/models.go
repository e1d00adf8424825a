package store

import "time"

const (
	StatusOpen       = "open"
	StatusClaimed    = "claimed"
	StatusInProgress = "in_progress"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// ValuationRequest is one buyer's ask for a home valuation. ExpertID is nil
// until exactly one expert claims the request; it is never reassigned.
type ValuationRequest struct {
	ID        string
	OwnerID   string
	ExpertID  *string
	Address   string
	Images    []string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID        string
	RequestID string
	SenderID  string
	Body      string
	Images    []string
	IsRead    bool
	CreatedAt time.Time
}
