package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository"
)

// registryLockKey serialises registry writers through pg_advisory_xact_lock.
const registryLockKey int64 = 0x7265676973747279

const counterUsers = "users"

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements repository.UserRepository on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ repository.UserRepository = (*Store)(nil)

// New constructs a Store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool), nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// GetUserByOwner fetches the record created by owner.
func (s *Store) GetUserByOwner(ctx context.Context, owner string) (*domain.User, error) {
	return getUserByOwner(ctx, s.pool, owner)
}

// GetUserByEmail fetches the record bound to email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return getUserByEmail(ctx, s.pool, email)
}

// CountInserted reports the historical insert count.
func (s *Store) CountInserted(ctx context.Context) (int64, error) {
	return countInserted(ctx, s.pool)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithinTx runs fn in a transaction holding the registry advisory lock.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.UserWriter) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, registryLockKey); err != nil {
		return fmt.Errorf("acquire registry lock: %w", err)
	}
	if err := fn(writer{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type writer struct {
	q pgx.Tx
}

func (w writer) GetUserByOwner(ctx context.Context, owner string) (*domain.User, error) {
	return getUserByOwner(ctx, w.q, owner)
}

func (w writer) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return getUserByEmail(ctx, w.q, email)
}

func (w writer) CountInserted(ctx context.Context) (int64, error) {
	return countInserted(ctx, w.q)
}

func (w writer) InsertUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO registry_users (owner, name, email, user_index, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := w.q.Exec(ctx, query, user.Owner, user.Name, user.Email, user.Index, user.CreatedAt, user.UpdatedAt)
	return mapError(err)
}

func (w writer) UpdateUser(ctx context.Context, previousEmail string, user *domain.User) error {
	const query = `UPDATE registry_users
		SET name = $3,
			email = $4,
			updated_at = $5
		WHERE owner = $1 AND email = $2`
	tag, err := w.q.Exec(ctx, query, user.Owner, previousEmail, user.Name, user.Email, user.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (w writer) DeleteUser(ctx context.Context, user *domain.User) error {
	tag, err := w.q.Exec(ctx, `DELETE FROM registry_users WHERE owner = $1 AND email = $2`, user.Owner, user.Email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (w writer) NextIndex(ctx context.Context) (int64, error) {
	const query = `UPDATE registry_counters SET value = value + 1 WHERE name = $1 RETURNING value`
	var next int64
	if err := w.q.QueryRow(ctx, query, counterUsers).Scan(&next); err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}
	return next, nil
}

func getUserByOwner(ctx context.Context, q querier, owner string) (*domain.User, error) {
	const query = `SELECT owner, name, email, user_index, created_at, updated_at
		FROM registry_users WHERE owner = $1`
	return scanUser(q.QueryRow(ctx, query, owner))
}

func getUserByEmail(ctx context.Context, q querier, email string) (*domain.User, error) {
	const query = `SELECT owner, name, email, user_index, created_at, updated_at
		FROM registry_users WHERE email = $1`
	return scanUser(q.QueryRow(ctx, query, email))
}

func countInserted(ctx context.Context, q querier) (int64, error) {
	var value int64
	err := q.QueryRow(ctx, `SELECT value FROM registry_counters WHERE name = $1`, counterUsers).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.Owner, &u.Name, &u.Email, &u.Index, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrConflict
	}
	return err
}
