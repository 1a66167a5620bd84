package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/app/migrate"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/repotest"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/sqlite/migrations"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runner, err := migrate.New(store.DB(), migrate.DialectSQLite, migrations.FS, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, runner.Ensure(context.Background()))
	return store
}

func TestStore_Contract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.UserRepository {
		return openStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestMigrationsDown(t *testing.T) {
	store := openStore(t)
	runner, err := migrate.New(store.DB(), migrate.DialectSQLite, migrations.FS, nil)
	require.NoError(t, err)

	ctx := context.Background()
	version, err := runner.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)

	require.NoError(t, runner.Down(ctx, 0))
	_, err = store.CountInserted(ctx)
	require.Error(t, err)
}
