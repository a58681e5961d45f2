package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/platinummonkey/permitdesk/pkg/observability"
)

// Migration is one versioned schema change of a component
type Migration struct {
	Version     int
	Description string
	// SQL is the PostgreSQL statement batch
	SQL string
	// SQLite replaces SQL on SQLite databases when the dialects differ
	SQLite string
}

// For returns the statement batch for dialect
func (m Migration) For(dialect Dialect) string {
	if dialect == DialectSQLite && m.SQLite != "" {
		return m.SQLite
	}
	return m.SQL
}

// MigrationSet groups the migrations owned by one component
type MigrationSet struct {
	Component  string
	Migrations []Migration
}

const migrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		component VARCHAR(64) NOT NULL,
		version INT NOT NULL,
		description TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (component, version)
	)
`

// RunMigrations applies every pending migration of the given sets, in set
// order and ascending version within a set. Each migration runs in its own
// transaction together with its bookkeeping row.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger, sets ...MigrationSet) error {
	if logger == nil {
		logger = observability.NopLogger()
	}
	dialect := DialectOf(db)

	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, set := range sets {
		applied, err := appliedVersions(ctx, db, set.Component)
		if err != nil {
			return err
		}

		migrations := make([]Migration, len(set.Migrations))
		copy(migrations, set.Migrations)
		sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

		for _, migration := range migrations {
			if applied[migration.Version] {
				continue
			}
			log := logger.WithFields(map[string]interface{}{
				"component": set.Component,
				"version":   migration.Version,
			})
			log.Infof("Running migration: %s", migration.Description)

			if err := applyMigration(ctx, db, dialect, set.Component, migration); err != nil {
				return err
			}
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB, component string) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations WHERE component = $1", component)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, dialect Dialect, component string, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.For(dialect)); err != nil {
		return fmt.Errorf("failed to execute migration %s/%d: %w", component, migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (component, version, description) VALUES ($1, $2, $3)",
		component, migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %s/%d: %w", component, migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s/%d: %w", component, migration.Version, err)
	}
	return nil
}
