package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a unique index rejected a write.
var ErrConflict = errors.New("repository: unique constraint violated")
