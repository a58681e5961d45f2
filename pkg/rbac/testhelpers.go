package rbac

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// SkipIfNoDatabase skips the test if TEST_POSTGRES_PRIMARY environment variable is not set.
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}

	return dbURL
}

// RequireDatabase gets a PostgreSQL connection or skips the test if not available.
func RequireDatabase(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

// Fixture creates a user bound to roleName, which must already exist.
// An empty roleName leaves the user without a role.
func Fixture(t *testing.T, store *Store, username string, roleName RoleName) *User {
	t.Helper()
	ctx := context.Background()

	user := &User{Username: username, IsActive: true}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	if roleName == "" {
		if err := store.RemoveRole(ctx, user.ID, nil, ""); err != nil && !IsNotFound(err) {
			t.Fatalf("failed to clear role of %s: %v", username, err)
		}
		return user
	}
	if _, err := store.AssignRole(ctx, user.ID, roleName, nil, ""); err != nil {
		t.Fatalf("failed to assign %s to %s: %v", roleName, username, err)
	}
	return user
}
