package assignment

import (
	"github.com/platinummonkey/permitdesk/pkg/storage"
)

// Component is the migration component name of this package
const Component = "assignment"

// Migrations returns the load balancer lock table. Each auto-assignment
// bumps the generation of its lock row first, which serializes concurrent
// balancers picking from the same role pool.
func Migrations() storage.MigrationSet {
	return storage.MigrationSet{
		Component: Component,
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create assignment_locks table",
				SQL: `
					CREATE TABLE IF NOT EXISTS assignment_locks (
						lock_key VARCHAR(128) PRIMARY KEY,
						generation BIGINT NOT NULL DEFAULT 0,
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);
				`,
				SQLite: `
					CREATE TABLE IF NOT EXISTS assignment_locks (
						lock_key TEXT PRIMARY KEY,
						generation INTEGER NOT NULL DEFAULT 0,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					);
				`,
			},
		},
	}
}
