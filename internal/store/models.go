package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type List struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	// Joined field for API responses
	OwnerName string
}

type Item struct {
	ID              string
	ListID          string
	Text            string
	IsCompleted     bool
	CompletionCount int
	CreatedAt       time.Time
}

// ListAccess is a durable grant: the user may use the list without owning it.
type ListAccess struct {
	ID        string
	UserID    string
	ListID    string
	CreatedAt time.Time
	// Joined fields for API responses
	UserName    string
	ListName    string
	ListOwnerID string
}

// Invite is a pending proposal to extend list access to the receiver.
// It is deleted on acceptance or decline; it is not an audit log.
type Invite struct {
	ID         string
	SenderID   string
	ReceiverID string
	ListID     string
	CreatedAt  time.Time
	// Joined fields for API responses
	SenderName    string
	ReceiverName  string
	ReceiverEmail string
	ListName      string
	ListOwnerID   string
}
