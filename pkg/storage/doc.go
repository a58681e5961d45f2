// Package storage holds the SQL plumbing shared by every persistent component.
//
// # Migrations
//
// Each component (rbac, assignment, permits, chalans, history, auth) owns a
// MigrationSet. RunMigrations records applied versions per component in
// schema_migrations and applies each pending migration in its own
// transaction:
//
//	err := storage.RunMigrations(ctx, db, logger,
//		rbac.Migrations(),
//		permits.Migrations(),
//	)
//
// A Migration carries a PostgreSQL batch and, where the dialects differ, a
// SQLite batch used by the in-memory test databases of package sqlitetest.
//
// # Dialects
//
// Queries are written with PostgreSQL $N placeholders, which SQLite also
// accepts. DialectOf tells the two apart for the few statements that must
// differ. IsRetryable and IsUniqueViolation classify driver errors of both
// engines so callers can retry lost races or map duplicates to conflicts.
//
// # Connections
//
// Package postgres opens the production PostgreSQL pool and the optional
// Redis client from config.
package storage
