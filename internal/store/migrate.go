package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	Version int
	Name    string
	SQL     string
}

// Column types that differ between dialects are written as {{uuid}},
// {{timestamp}}, {{json}} and {{serial}} and expanded per dialect.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create_books",
		SQL: `
CREATE TABLE IF NOT EXISTS books (
	id                  {{uuid}} PRIMARY KEY,
	owner_id            {{uuid}} NOT NULL,
	title               TEXT NOT NULL,
	author              TEXT NOT NULL,
	isbn                TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	genre               TEXT NOT NULL DEFAULT '',
	language            TEXT NOT NULL DEFAULT '',
	condition           TEXT NOT NULL CHECK (condition IN ('excellent', 'good', 'fair', 'poor')),
	exchange_type       TEXT NOT NULL CHECK (exchange_type IN ('borrow', 'swap', 'give_away')),
	availability_status TEXT NOT NULL DEFAULT 'available'
		CHECK (availability_status IN ('available', 'exchanging', 'unavailable')),
	max_borrow_days     INTEGER,
	created_at          {{timestamp}} NOT NULL,
	updated_at          {{timestamp}} NOT NULL,
	deleted_at          {{timestamp}}
);
CREATE INDEX IF NOT EXISTS books_owner_idx ON books (owner_id);
`,
	},
	{
		Version: 2,
		Name:    "create_exchanges",
		SQL: `
CREATE TABLE IF NOT EXISTS exchanges (
	id               {{uuid}} PRIMARY KEY,
	book_id          {{uuid}} NOT NULL REFERENCES books (id),
	owner_id         {{uuid}} NOT NULL,
	requester_id     {{uuid}} NOT NULL,
	status           TEXT NOT NULL
		CHECK (status IN ('pending', 'accepted', 'in_progress', 'completed', 'rejected', 'cancelled')),
	exchange_type    TEXT NOT NULL CHECK (exchange_type IN ('borrow', 'swap', 'give_away')),
	meeting_location TEXT,
	meeting_datetime {{timestamp}},
	notes            TEXT,
	return_date      {{timestamp}},
	owner_rating     INTEGER CHECK (owner_rating BETWEEN 1 AND 5),
	requester_rating INTEGER CHECK (requester_rating BETWEEN 1 AND 5),
	completed_at     {{timestamp}},
	version          INTEGER NOT NULL DEFAULT 1,
	created_at       {{timestamp}} NOT NULL,
	updated_at       {{timestamp}} NOT NULL,
	CHECK (owner_id <> requester_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS exchanges_one_open_per_book
	ON exchanges (book_id) WHERE status IN ('pending', 'accepted', 'in_progress');
CREATE INDEX IF NOT EXISTS exchanges_owner_idx ON exchanges (owner_id, updated_at);
CREATE INDEX IF NOT EXISTS exchanges_requester_idx ON exchanges (requester_id, updated_at);
`,
	},
	{
		Version: 3,
		Name:    "create_messages",
		SQL: `
CREATE TABLE IF NOT EXISTS messages (
	id            {{uuid}} PRIMARY KEY,
	exchange_id   {{uuid}} NOT NULL REFERENCES exchanges (id),
	sender_id     {{uuid}} NOT NULL,
	receiver_id   {{uuid}} NOT NULL,
	content       TEXT NOT NULL,
	message_type  TEXT NOT NULL DEFAULT 'text'
		CHECK (message_type IN ('text', 'template', 'system', 'location')),
	template_data {{json}},
	is_read       BOOLEAN NOT NULL DEFAULT FALSE,
	read_at       {{timestamp}},
	created_at    {{timestamp}} NOT NULL,
	deleted_at    {{timestamp}}
);
CREATE INDEX IF NOT EXISTS messages_thread_idx ON messages (exchange_id, created_at);
CREATE INDEX IF NOT EXISTS messages_unread_idx ON messages (receiver_id, is_read);
`,
	},
	{
		Version: 4,
		Name:    "create_events",
		SQL: `
CREATE TABLE IF NOT EXISTS events (
	id             {{serial}},
	aggregate_id   {{uuid}} NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	event_data     {{json}} NOT NULL,
	metadata       {{json}},
	version        INTEGER NOT NULL,
	created_at     {{timestamp}} NOT NULL,
	UNIQUE (aggregate_id, version)
);
`,
	},
}

var dialectTypes = map[Dialect]*strings.Replacer{
	Postgres: strings.NewReplacer(
		"{{uuid}}", "UUID",
		"{{timestamp}}", "TIMESTAMPTZ",
		"{{json}}", "JSONB",
		"{{serial}}", "BIGSERIAL PRIMARY KEY",
	),
	SQLite: strings.NewReplacer(
		"{{uuid}}", "TEXT",
		"{{timestamp}}", "TIMESTAMP",
		"{{json}}", "TEXT",
		"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
	),
}

// Migrate applies every migration newer than the recorded schema version.
// Each migration runs in its own transaction.
func (db *DB) Migrate(ctx context.Context) error {
	ts := dialectTypes[db.dialect].Replace("{{timestamp}}")
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at `+ts+` NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := db.InTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, dialectTypes[db.dialect].Replace(m.SQL)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
				m.Version, m.Name, Now())
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %03d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 on a fresh database.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.GetContext(ctx, &version, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
