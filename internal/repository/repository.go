package repository

import (
	"context"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
)

// UserReader serves lookups against committed registry state.
type UserReader interface {
	GetUserByOwner(ctx context.Context, owner string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	// CountInserted reports how many users were ever inserted. It never decreases.
	CountInserted(ctx context.Context) (int64, error)
}

// UserWriter mutates registry state inside a transaction opened by WithinTx.
// Writes become visible to readers only once the transaction commits.
type UserWriter interface {
	UserReader
	InsertUser(ctx context.Context, user *domain.User) error
	UpdateUser(ctx context.Context, previousEmail string, user *domain.User) error
	DeleteUser(ctx context.Context, user *domain.User) error
	// NextIndex increments the insert counter and returns the new value.
	NextIndex(ctx context.Context) (int64, error)
}

// UserRepository persists registry users.
type UserRepository interface {
	UserReader
	// WithinTx runs fn in a serialised write transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx UserWriter) error) error
	Ping(ctx context.Context) error
}
