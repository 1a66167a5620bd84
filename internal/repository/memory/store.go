// Package memory keeps the authoritative registry table in process memory.
//
// Both unique keys (owner and email) live in one go-memdb table, so a write
// transaction updates the record and its reverse index together. go-memdb
// allows a single writer at a time and hands readers immutable snapshots.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository"
)

const (
	tableUsers    = "users"
	tableCounters = "counters"
	indexID       = "id"
	indexEmail    = "email"
	counterUsers  = "users"
)

// userRow is the stored shape. Keys are prefixed so that empty values still index.
type userRow struct {
	OwnerKey string
	EmailKey string
	User     domain.User
}

type counterRow struct {
	Name  string
	Value int64
}

func ownerKey(owner string) string { return "o:" + owner }
func emailKey(email string) string { return "e:" + email }

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableUsers: {
				Name: tableUsers,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "OwnerKey"},
					},
					indexEmail: {
						Name:    indexEmail,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "EmailKey"},
					},
				},
			},
			tableCounters: {
				Name: tableCounters,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
		},
	}
}

// Store implements repository.UserRepository on go-memdb.
type Store struct {
	db *memdb.MemDB
}

var _ repository.UserRepository = (*Store)(nil)

// New constructs an empty Store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &Store{db: db}, nil
}

// GetUserByOwner returns the record created by owner.
func (s *Store) GetUserByOwner(ctx context.Context, owner string) (*domain.User, error) {
	return txn{s.db.Txn(false)}.GetUserByOwner(ctx, owner)
}

// GetUserByEmail returns the record bound to email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return txn{s.db.Txn(false)}.GetUserByEmail(ctx, email)
}

// CountInserted reports the historical insert count.
func (s *Store) CountInserted(ctx context.Context) (int64, error) {
	return txn{s.db.Txn(false)}.CountInserted(ctx)
}

// WithinTx runs fn inside a memdb write transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.UserWriter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := s.db.Txn(true)
	defer tx.Abort()
	if err := fn(txn{tx}); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(context.Context) error {
	return nil
}

type txn struct {
	tx *memdb.Txn
}

func (t txn) GetUserByOwner(_ context.Context, owner string) (*domain.User, error) {
	return t.first(indexID, ownerKey(owner))
}

func (t txn) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	return t.first(indexEmail, emailKey(email))
}

func (t txn) first(index, key string) (*domain.User, error) {
	raw, err := t.tx.First(tableUsers, index, key)
	if err != nil {
		return nil, fmt.Errorf("lookup user by %s: %w", index, err)
	}
	if raw == nil {
		return nil, repository.ErrNotFound
	}
	u := raw.(*userRow).User
	return &u, nil
}

func (t txn) CountInserted(context.Context) (int64, error) {
	raw, err := t.tx.First(tableCounters, indexID, counterUsers)
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	if raw == nil {
		return 0, nil
	}
	return raw.(*counterRow).Value, nil
}

func (t txn) InsertUser(ctx context.Context, user *domain.User) error {
	if _, err := t.GetUserByOwner(ctx, user.Owner); err == nil {
		return repository.ErrConflict
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if _, err := t.GetUserByEmail(ctx, user.Email); err == nil {
		return repository.ErrConflict
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return t.put(user)
}

func (t txn) UpdateUser(ctx context.Context, previousEmail string, user *domain.User) error {
	if _, err := t.GetUserByOwner(ctx, user.Owner); err != nil {
		return err
	}
	if user.Email != previousEmail {
		bound, err := t.GetUserByEmail(ctx, user.Email)
		switch {
		case err == nil && bound.Owner != user.Owner:
			return repository.ErrConflict
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return err
		}
	}
	// Insert on an existing id replaces the row and drops its old email entry.
	return t.put(user)
}

func (t txn) DeleteUser(_ context.Context, user *domain.User) error {
	err := t.tx.Delete(tableUsers, &userRow{OwnerKey: ownerKey(user.Owner)})
	if errors.Is(err, memdb.ErrNotFound) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (t txn) NextIndex(ctx context.Context) (int64, error) {
	current, err := t.CountInserted(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := t.tx.Insert(tableCounters, &counterRow{Name: counterUsers, Value: next}); err != nil {
		return 0, fmt.Errorf("write counter: %w", err)
	}
	return next, nil
}

func (t txn) put(user *domain.User) error {
	row := &userRow{
		OwnerKey: ownerKey(user.Owner),
		EmailKey: emailKey(user.Email),
		User:     *user,
	}
	if err := t.tx.Insert(tableUsers, row); err != nil {
		return fmt.Errorf("write user: %w", err)
	}
	return nil
}
