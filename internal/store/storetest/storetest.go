// Package storetest provides migrated databases for tests in other packages.
package storetest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"bookswap/internal/store"
)

// Backend opens a migrated database for a single test.
type Backend struct {
	Name string
	Open func(testing.TB) *store.DB
}

// Backends lists every dialect the store supports.
var Backends = []Backend{
	{Name: "sqlite", Open: New},
	{Name: "postgres", Open: Postgres},
}

// Run runs fn as one subtest per backend. Unreachable backends skip.
func Run(t *testing.T, fn func(t *testing.T, db *store.DB)) {
	t.Helper()
	for _, b := range Backends {
		t.Run(b.Name, func(t *testing.T) {
			fn(t, b.Open(t))
		})
	}
}

// New returns a migrated SQLite database in a per-test temp directory.
func New(t testing.TB) *store.DB {
	t.Helper()

	db, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "bookswap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

// Postgres connects using the PG* environment variables and skips the test
// when the server cannot be reached. Each test gets its own schema, dropped
// on cleanup, so whole-table scans only see that test's rows.
func Postgres(t testing.TB) *store.DB {
	t.Helper()
	ctx := context.Background()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		env("PGHOST", "localhost"), env("PGPORT", "5432"), env("PGUSER", "user"),
		env("PGPASSWORD", "password"), env("PGDATABASE", "testdb"))

	admin, err := store.Open(ctx, string(store.Postgres), connStr)
	if err != nil {
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}

	schema := "bookswap_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		admin.ExecContext(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	db, err := store.Open(ctx, string(store.Postgres), connStr+" search_path="+schema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
