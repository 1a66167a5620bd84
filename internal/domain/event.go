package domain

import "time"

// Event types emitted by the registry.
const (
	EventUserAdded   = "UserAdded"
	EventUserUpdated = "UserUpdated"
)

// Event wraps a registry notification with delivery metadata.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// UserAdded is emitted after a successful add.
type UserAdded struct {
	Index int64  `json:"index"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserUpdated is emitted after a successful update.
type UserUpdated struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
