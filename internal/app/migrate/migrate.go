package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
)

// Goose dialect names for the durable stores.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// goose keeps dialect and base FS in package state.
var gooseMu sync.Mutex

// Runner wraps database migration capabilities.
type Runner struct {
	db         *sql.DB
	dialect    string
	migrations fs.FS
	log        *slog.Logger
}

// New returns a migration runner backed by goose. migrations holds the
// *.sql files at its root.
func New(db *sql.DB, dialect string, migrations fs.FS, log *slog.Logger) (Runner, error) {
	if db == nil {
		return Runner{}, errors.New("nil database provided")
	}
	if dialect == "" {
		return Runner{}, errors.New("empty migration dialect")
	}
	if migrations == nil {
		return Runner{}, errors.New("nil migrations filesystem")
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{db: db, dialect: dialect, migrations: migrations, log: log}, nil
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withGoose(func() error {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		r.log.Info("applying migrations", "dialect", r.dialect)
		if err := goose.UpContext(runCtx, r.db, "."); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		r.log.Info("migrations applied")
		return nil
	})
}

// Status reports applied and pending migrations.
func (r Runner) Status(ctx context.Context) error {
	return r.withGoose(func() error {
		r.log.Info("migration status", "dialect", r.dialect)
		if err := goose.StatusContext(ctx, r.db, "."); err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		return nil
	})
}

// Version returns the current schema version.
func (r Runner) Version(ctx context.Context) (int64, error) {
	var version int64
	err := r.withGoose(func() error {
		v, err := goose.GetDBVersionContext(ctx, r.db)
		if err != nil {
			return fmt.Errorf("migration version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

// Down rolls back migrations either to the previous version or a specific target version.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withGoose(func() error {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		if targetVersion > 0 {
			r.log.Info("rolling back migrations", "target", targetVersion)
			if err := goose.DownToContext(runCtx, r.db, ".", targetVersion); err != nil {
				return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
			}
		} else {
			r.log.Info("rolling back latest migration")
			if err := goose.DownContext(runCtx, r.db, "."); err != nil {
				return fmt.Errorf("rollback latest migration: %w", err)
			}
		}

		r.log.Info("rollback complete")
		return nil
	})
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (r Runner) withGoose(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(r.migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(r.dialect); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	return fn()
}
