package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/app/migrate"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/events"
	httpx "github.com/rodrigorsdev/r2.blockchain.crud/internal/http"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/memory"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/postgres"
	pgmigrations "github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/postgres/migrations"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/sqlite"
	sqlitemigrations "github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/sqlite/migrations"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/service/auth"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/service/registry"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/ws"
	"github.com/rodrigorsdev/r2.blockchain.crud/pkg/config"
	"github.com/rodrigorsdev/r2.blockchain.crud/pkg/logger"
)

func main() {
	cfg, err := config.LoadRegistryConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New("registry-api", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	hub := ws.NewHub()
	defer hub.Close()

	for _, collector := range events.Collectors() {
		prometheus.MustRegister(collector)
	}
	sink, closeSinks := buildSinks(cfg, hub, log)
	defer closeSinks()

	registrySvc := registry.New(store, sink, log, registry.Options{NameMinLength: cfg.NameMinLength})
	authSvc := auth.New(log, auth.Options{Secret: cfg.JWTSecret, TokenTTL: cfg.TokenTTL})

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, registrySvc, authSvc, hub, limiter, store.Ping, httpx.Options{})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("registry api starting", "addr", cfg.Addr, "store", cfg.Store)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("registry api stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// openStore selects the configured store and applies migrations for durable ones.
func openStore(ctx context.Context, cfg config.RegistryConfig, log *slog.Logger) (repository.UserRepository, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		if err := migrateSQL(ctx, "pgx", cfg.DatabaseURL, migrate.DialectPostgres, pgmigrations.FS, log); err != nil {
			return nil, nil, err
		}
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		runner, err := migrate.New(store.DB(), migrate.DialectSQLite, sqlitemigrations.FS, log)
		if err == nil {
			err = runner.Ensure(ctx)
		}
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store, err := memory.New()
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func migrateSQL(ctx context.Context, driver, dsn, dialect string, migrations fs.FS, log *slog.Logger) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	runner, err := migrate.New(db, dialect, migrations, log)
	if err != nil {
		return err
	}
	if err := runner.Ping(ctx); err != nil {
		return err
	}
	return runner.Ensure(ctx)
}

// buildSinks fans events out to the stream hub plus any configured Redis
// channel or webhook, behind one bounded async queue.
func buildSinks(cfg config.RegistryConfig, hub *ws.Hub, log *slog.Logger) (events.Sink, func()) {
	sinks := events.Multi{events.NewHubSink(hub)}
	var closers []func()

	if addr := strings.TrimSpace(cfg.EventsRedisAddr); addr != "" {
		redisSink, err := events.NewRedisSink(addr, cfg.EventsRedisPass, cfg.EventsRedisDB, cfg.EventsRedisChannel)
		if err != nil {
			log.Warn("redis event sink unavailable", "error", err)
		} else {
			sinks = append(sinks, redisSink)
			closers = append(closers, func() { _ = redisSink.Close() })
			log.Info("publishing events to redis", "channel", redisSink.Channel())
		}
	}
	if url := strings.TrimSpace(cfg.EventsWebhookURL); url != "" {
		webhook, err := events.NewWebhookSink(url, cfg.EventsWebhookToken, nil)
		if err != nil {
			log.Warn("webhook event sink unavailable", "error", err)
		} else {
			sinks = append(sinks, webhook)
			log.Info("publishing events to webhook", "url", url)
		}
	}

	async := events.NewAsync(sinks, cfg.EventBuffer, log)
	return async, func() {
		async.Close()
		for _, closeFn := range closers {
			closeFn()
		}
	}
}
