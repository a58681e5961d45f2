// Package sqlitetest opens migrated in-memory SQLite databases for tests.
package sqlitetest

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/permitdesk/pkg/storage"
)

// DSN is a private in-memory database with foreign keys enforced
const DSN = "file::memory:?_foreign_keys=1"

// Open returns an in-memory database with the given migration sets applied.
// The pool is pinned to one connection since every new connection to
// :memory: is a fresh, empty database.
func Open(t *testing.T, sets ...storage.MigrationSet) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", DSN)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := storage.RunMigrations(context.Background(), db, nil, sets...); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return db
}
