package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookswap/internal/config"
	"bookswap/internal/identity"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env", filepath.Join(t.TempDir(), "missing.env")))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRender(t *testing.T) {
	out, err := run(t, "render", "exchange_completed", "--set", "book_title=Dune")
	require.NoError(t, err)
	assert.Contains(t, out, "Dune")
	assert.NotContains(t, out, "{{")

	_, err = run(t, "render", "no_such_template")
	assert.Error(t, err)
}

func TestTokenVerifiesWithConfiguredSecret(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SECRET", "")
	user := uuid.New()

	out, err := run(t, "token", user.String(), "--ttl", "1h")
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	got, err := identity.NewJWT(config.DevJWTSecret, "").Verify(body["access_token"])
	require.NoError(t, err)
	assert.Equal(t, user, got)

	_, err = run(t, "token", "not-a-uuid")
	assert.Error(t, err)
}

func TestMigrateThenReconcile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookswap.db")
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", "file:"+path+"?_foreign_keys=1&_busy_timeout=5000")

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema at version")

	out, err = run(t, "reconcile", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "0 book(s) drifted")

	out, err = run(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "0 book(s) repaired")
}

func TestChaosGameDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookswap.db")
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", "file:"+path+"?_foreign_keys=1&_busy_timeout=10000&_journal_mode=WAL&_txlock=immediate")
	t.Setenv("SYNC_MAX_RETRIES", "2")
	t.Setenv("SYNC_RETRY_INTERVAL", "1ms")

	out, err := run(t, "chaos", "--window", "20ms", "--interval", "10ms", "--pause", "0s")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Game day: Exchange invariant game day")
	assert.Contains(t, out, "[3/3] stalled-subscriber-burst")
	assert.NotContains(t, out, "hypothesis violated")
}
