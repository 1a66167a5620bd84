// Package repotest holds the behaviour every repository.UserRepository must share.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository"
)

// Factory returns an empty, migrated store.
type Factory func(t *testing.T) repository.UserRepository

var errAbort = errors.New("abort")

// Run exercises store against the UserRepository contract.
func Run(t *testing.T, factory Factory) {
	t.Run("insert and lookup", func(t *testing.T) { insertAndLookup(t, factory(t)) })
	t.Run("duplicate keys conflict", func(t *testing.T) { duplicateKeys(t, factory(t)) })
	t.Run("update rebinds email", func(t *testing.T) { updateRebinds(t, factory(t)) })
	t.Run("update onto bound email conflicts", func(t *testing.T) { updateConflict(t, factory(t)) })
	t.Run("delete frees both keys", func(t *testing.T) { deleteFrees(t, factory(t)) })
	t.Run("failed transaction rolls back", func(t *testing.T) { rollback(t, factory(t)) })
	t.Run("counter is monotonic", func(t *testing.T) { counter(t, factory(t)) })
}

func user(owner, email string, index int64) *domain.User {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &domain.User{Owner: owner, Name: "user", Email: email, Index: index, CreatedAt: now, UpdatedAt: now}
}

func insert(t *testing.T, store repository.UserRepository, u *domain.User) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.WithinTx(ctx, func(tx repository.UserWriter) error {
		return tx.InsertUser(ctx, u)
	}))
}

func insertAndLookup(t *testing.T, store repository.UserRepository) {
	ctx := context.Background()
	insert(t, store, user("0xA", "a@domain.com", 1))

	byOwner, err := store.GetUserByOwner(ctx, "0xA")
	require.NoError(t, err)
	assert.Equal(t, "a@domain.com", byOwner.Email)
	assert.Equal(t, int64(1), byOwner.Index)
	assert.True(t, byOwner.CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	byEmail, err := store.GetUserByEmail(ctx, "a@domain.com")
	require.NoError(t, err)
	assert.Equal(t, "0xA", byEmail.Owner)

	_, err = store.GetUserByOwner(ctx, "0xB")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.GetUserByEmail(ctx, "b@domain.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func duplicateKeys(t *testing.T, store repository.UserRepository) {
	ctx := context.Background()
	insert(t, store, user("0xA", "a@domain.com", 1))

	err := store.WithinTx(ctx, func(tx repository.UserWriter) error {
		return tx.InsertUser(ctx, user("0xA", "b@domain.com", 2))
	})
	assert.ErrorIs(t, err, repository.ErrConflict)

	err = store.WithinTx(ctx, func(tx repository.UserWriter) error {
		return tx.InsertUser(ctx, user("0xB", "a@domain.com", 3))
	})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func updateRebinds(t *testing.T, store repository.UserRepository) {
	ctx := context.Background()
	insert(t, store, user("0xA", "old@domain.com", 1))

	next := user("0xA", "new@domain.com", 1)
	next.Name = "renamed"
	require.NoError(t, store.WithinTx(ctx, func(tx repository.UserWriter) error {
		return tx.UpdateUser(ctx, "old@domain.com", next)
	}))

	_, err := store.GetUserByEmail(ctx, "old@domain.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	got, err := store.GetUserByEmail(ctx, "new@domain.com")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "0xA", got.Owner)
}

func updateConflict(t *testing.T, store repository.UserRepository) {
	ctx := context.Background()
	insert(t, store, user("0xA", "a@domain.com", 1))
	insert(t, store, user("0xB", "b@domain.com", 2))

	err := store.WithinTx(ctx, func(tx repository.UserWriter) error {
		return tx.UpdateUser(ctx, "a@domain.com", user("0xA", "b@domain.com", 1))
	})
	assert.ErrorIs(t, err, repository.ErrConflict)

	got, err := store.GetUserByOwner(ctx, "0xA")
	require.NoError(t, err)
	assert.Equal(t, "a@domain.com", got.Email)
}

func deleteFrees(t *testing.T, store repository.UserRepository) {
	ctx := context.Background()
	u := user("0xA", "a@domain.com", 1)
	insert(t, store, u)

	require.NoError(t, store.WithinTx(ctx, func(tx repository.UserWriter) error {
		return tx.DeleteUser(ctx, u)
	}))
	_, err := store.GetUserByOwner(ctx, "0xA")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.GetUserByEmail(ctx, "a@domain.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = store.WithinTx(ctx, func(tx repository.UserWriter) error {
		return tx.DeleteUser(ctx, u)
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func rollback(t *testing.T, store repository.UserRepository) {
	ctx := context.Background()
	err := store.WithinTx(ctx, func(tx repository.UserWriter) error {
		if _, err := tx.NextIndex(ctx); err != nil {
			return err
		}
		if err := tx.InsertUser(ctx, user("0xA", "a@domain.com", 1)); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	_, err = store.GetUserByOwner(ctx, "0xA")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	count, err := store.CountInserted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func counter(t *testing.T, store repository.UserRepository) {
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		var got int64
		require.NoError(t, store.WithinTx(ctx, func(tx repository.UserWriter) error {
			var err error
			got, err = tx.NextIndex(ctx)
			return err
		}))
		assert.Equal(t, want, got)
	}
	count, err := store.CountInserted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
