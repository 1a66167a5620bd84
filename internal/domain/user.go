package domain

import "time"

// User is a registry record keyed by the identity that created it.
type User struct {
	Owner     string
	Name      string
	Email     string
	Index     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
