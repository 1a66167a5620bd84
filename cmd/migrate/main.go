package main

import (
	"context"
	"database/sql"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/app/migrate"
	pgmigrations "github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/postgres/migrations"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/sqlite"
	sqlitemigrations "github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/sqlite/migrations"
	"github.com/rodrigorsdev/r2.blockchain.crud/pkg/config"
	"github.com/rodrigorsdev/r2.blockchain.crud/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|version|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	flag.Parse()

	log := logger.New("migrate", slog.LevelInfo)
	cfg, err := config.LoadRegistryConfig()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		db         *sql.DB
		dialect    string
		migrations fs.FS
	)
	switch cfg.Store {
	case config.StorePostgres:
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		dialect, migrations = migrate.DialectPostgres, pgmigrations.FS
	case config.StoreSQLite:
		var store *sqlite.Store
		store, err = sqlite.Open(cfg.SQLitePath)
		if err == nil {
			db = store.DB()
		}
		dialect, migrations = migrate.DialectSQLite, sqlitemigrations.FS
	default:
		log.Info("memory store has no migrations", "store", cfg.Store)
		return
	}
	if err != nil {
		log.Error("failed to connect to database", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	runner, err := migrate.New(db, dialect, migrations, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}

	switch *command {
	case "up":
		if err := runner.Ensure(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
	case "status":
		if err := runner.Status(ctx); err != nil {
			log.Error("failed to fetch migration status", "error", err)
			os.Exit(1)
		}
	case "version":
		version, err := runner.Version(ctx)
		if err != nil {
			log.Error("failed to read migration version", "error", err)
			os.Exit(1)
		}
		log.Info("current migration version", "version", version)
	case "down":
		if err := runner.Down(ctx, *target); err != nil {
			log.Error("failed to roll back migrations", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command)
}
