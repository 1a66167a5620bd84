package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpx "github.com/rodrigorsdev/r2.blockchain.crud/internal/http"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/repository/memory"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/service/auth"
	"github.com/rodrigorsdev/r2.blockchain.crud/internal/service/registry"
)

const (
	testSecret   = "cli-secret"
	testIdentity = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
)

func newAPI(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := memory.New()
	require.NoError(t, err)
	authSvc := auth.New(logger, auth.Options{Secret: testSecret, TokenTTL: time.Hour})
	reg := prometheus.NewRegistry()
	router := httpx.NewRouter(logger, registry.New(store, nil, logger, registry.Options{}), authSvc, nil, nil, nil,
		httpx.Options{Registerer: reg, Gatherer: reg})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		router.Close()
	})
	return srv.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestTokenSaveAndRegistryCommands(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("REGISTRY_TOKEN", "")
	api := newAPI(t)

	token, err := run(t, "token", "--identity", testIdentity, "--secret", testSecret, "--save", "--api", api)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, api, cfg.APIBaseURL)
	assert.Equal(t, token, cfg.AccessToken)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", cfg.Identity)

	out, err := run(t, "add", "--name", "user1", "--email", "user1@domain.com")
	require.NoError(t, err)
	assert.Equal(t, "added user1@domain.com at index 1", out)

	out, err = run(t, "length")
	require.NoError(t, err)
	assert.Equal(t, "2", out)

	out, err = run(t, "update", "--name", "user2", "--email", "user1@domain.com")
	require.NoError(t, err)
	assert.Equal(t, "updated user1@domain.com", out)

	out, err = run(t, "get", "--email", "user1@domain.com")
	require.NoError(t, err)
	assert.Equal(t, "user2", out)

	out, err = run(t, "me")
	require.NoError(t, err)
	assert.Contains(t, out, `"index": 1`)

	out, err = run(t, "remove", "--email", "user1@domain.com")
	require.NoError(t, err)
	assert.Equal(t, "removed user1@domain.com", out)

	out, err = run(t, "exists", "--email", "user1@domain.com")
	require.NoError(t, err)
	assert.Equal(t, "false", out)
}

func TestCommandsSurfaceAPIErrors(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	api := newAPI(t)

	_, err := run(t, "get", "--api", api, "--email", "nobody@domain.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user not exists")
}

func TestTokenReadsSecretFromEnvironment(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("REGISTRY_JWT_SECRET", testSecret)

	token, err := run(t, "token", "--identity", testIdentity)
	require.NoError(t, err)

	svc := auth.New(nil, auth.Options{Secret: testSecret})
	caller, err := svc.Authorize(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", caller)
}

func TestTokenRejectsInvalidIdentity(t *testing.T) {
	_, err := run(t, "token", "--identity", "alice", "--secret", testSecret)
	require.Error(t, err)
}

func TestMutationsRequireToken(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("REGISTRY_TOKEN", "")

	_, err := run(t, "add", "--name", "user", "--email", "user@domain.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev", out)
}
