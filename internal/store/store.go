// Package store owns the database handle shared by every repository: driver
// selection, per-dialect schema, migrations and transaction scoping.
//
// Repositories write queries with `?` placeholders and pass them through
// Rebind so the same SQL runs on Postgres and SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect names a supported database/sql driver.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// ErrNoRows is returned by single-row reads that match nothing.
var ErrNoRows = sql.ErrNoRows

// DB wraps the pooled connection with the dialect it was opened with.
type DB struct {
	*sqlx.DB
	dialect Dialect
}

// Open connects with the named driver and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	dialect := Dialect(driver)
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if dialect == Postgres {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return &DB{DB: db, dialect: dialect}, nil
}

// OpenSQLite opens a file-backed SQLite database. Transactions begin
// IMMEDIATE so concurrent writers queue on the busy timeout instead of
// failing on lock upgrade.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_foreign_keys=1&_journal_mode=WAL&_txlock=immediate", path)
	return Open(ctx, string(SQLite), dsn)
}

func (db *DB) Dialect() Dialect {
	return db.dialect
}

// InTx runs fn inside a transaction. fn's error aborts the transaction and
// is returned unchanged.
func (db *DB) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique or primary key
// violation from either driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Now is the timestamp written to every row. UTC at microsecond precision
// keeps Postgres and SQLite ordering identical.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
