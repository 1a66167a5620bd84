// Package sqlite provides a SQLite-backed registry store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository"
)

const counterUsers = "users"

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists registry users in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ repository.UserRepository = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite database at path. Schema migrations are applied
// separately through the migrate runner.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serialises writers the way the registry requires.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// DB exposes the handle for migrations.
func (s *Store) DB() *sql.DB {
	return s.sqlDB
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetUserByOwner fetches the record created by owner.
func (s *Store) GetUserByOwner(ctx context.Context, owner string) (*domain.User, error) {
	return getUser(ctx, s.sqlDB, "owner", owner)
}

// GetUserByEmail fetches the record bound to email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return getUser(ctx, s.sqlDB, "email", email)
}

// CountInserted reports the historical insert count.
func (s *Store) CountInserted(ctx context.Context) (int64, error) {
	return countInserted(ctx, s.sqlDB)
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// WithinTx runs fn in a SQLite transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.UserWriter) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(writer{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type writer struct {
	q *sql.Tx
}

func (w writer) GetUserByOwner(ctx context.Context, owner string) (*domain.User, error) {
	return getUser(ctx, w.q, "owner", owner)
}

func (w writer) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return getUser(ctx, w.q, "email", email)
}

func (w writer) CountInserted(ctx context.Context) (int64, error) {
	return countInserted(ctx, w.q)
}

func (w writer) InsertUser(ctx context.Context, user *domain.User) error {
	_, err := w.q.ExecContext(ctx,
		`INSERT INTO registry_users (owner, name, email, user_index, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.Owner, user.Name, user.Email, user.Index, toMillis(user.CreatedAt), toMillis(user.UpdatedAt),
	)
	return mapError(err)
}

func (w writer) UpdateUser(ctx context.Context, previousEmail string, user *domain.User) error {
	res, err := w.q.ExecContext(ctx,
		`UPDATE registry_users SET name = ?, email = ?, updated_at = ?
		 WHERE owner = ? AND email = ?`,
		user.Name, user.Email, toMillis(user.UpdatedAt), user.Owner, previousEmail,
	)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func (w writer) DeleteUser(ctx context.Context, user *domain.User) error {
	res, err := w.q.ExecContext(ctx,
		`DELETE FROM registry_users WHERE owner = ? AND email = ?`, user.Owner, user.Email)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (w writer) NextIndex(ctx context.Context) (int64, error) {
	var next int64
	err := w.q.QueryRowContext(ctx,
		`UPDATE registry_counters SET value = value + 1 WHERE name = ? RETURNING value`, counterUsers,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}
	return next, nil
}

func getUser(ctx context.Context, q queryer, column, value string) (*domain.User, error) {
	// column is one of two constants chosen by this package.
	row := q.QueryRowContext(ctx,
		`SELECT owner, name, email, user_index, created_at, updated_at
		 FROM registry_users WHERE `+column+` = ?`, value)
	var (
		u                    domain.User
		createdAt, updatedAt int64
	)
	if err := row.Scan(&u.Owner, &u.Name, &u.Email, &u.Index, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func countInserted(ctx context.Context, q queryer) (int64, error) {
	var value int64
	err := q.QueryRowContext(ctx, `SELECT value FROM registry_counters WHERE name = ?`, counterUsers).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return repository.ErrConflict
		}
	}
	return err
}
