package permits

import (
	"github.com/platinummonkey/permitdesk/pkg/history"
	"github.com/platinummonkey/permitdesk/pkg/storage"
)

// Component is the migration component name of this package
const Component = "permits"

// Migrations returns the permits table and its history ledger
func Migrations() storage.MigrationSet {
	return storage.MigrationSet{
		Component: Component,
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create permits table",
				SQL: `
					CREATE TABLE IF NOT EXISTS permits (
						id BIGSERIAL PRIMARY KEY,
						permit_number VARCHAR(64) NOT NULL UNIQUE,
						authority VARCHAR(8) NOT NULL,
						permit_type VARCHAR(64) NOT NULL DEFAULT '',
						vehicle_number VARCHAR(32) NOT NULL,
						vehicle_type VARCHAR(64) NOT NULL DEFAULT '',
						owner_name VARCHAR(255) NOT NULL,
						owner_phone VARCHAR(32) NOT NULL DEFAULT '',
						owner_cnic VARCHAR(32) NOT NULL DEFAULT '',
						status VARCHAR(16) NOT NULL,
						valid_from DATE NOT NULL,
						valid_to DATE NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						remarks TEXT NOT NULL DEFAULT '',
						created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
						assigned_to BIGINT REFERENCES users(id) ON DELETE SET NULL,
						assigned_at TIMESTAMPTZ,
						assigned_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
						previous_permit_id BIGINT REFERENCES permits(id) ON DELETE SET NULL,
						version BIGINT NOT NULL DEFAULT 1,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE INDEX IF NOT EXISTS idx_permits_vehicle ON permits(vehicle_number);
					CREATE INDEX IF NOT EXISTS idx_permits_assignee_status ON permits(assigned_to, status);
					CREATE INDEX IF NOT EXISTS idx_permits_status_valid_to ON permits(status, valid_to);
					CREATE INDEX IF NOT EXISTS idx_permits_created_by ON permits(created_by);
				`,
				SQLite: `
					CREATE TABLE IF NOT EXISTS permits (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						permit_number TEXT NOT NULL UNIQUE,
						authority TEXT NOT NULL,
						permit_type TEXT NOT NULL DEFAULT '',
						vehicle_number TEXT NOT NULL,
						vehicle_type TEXT NOT NULL DEFAULT '',
						owner_name TEXT NOT NULL,
						owner_phone TEXT NOT NULL DEFAULT '',
						owner_cnic TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL,
						valid_from DATE NOT NULL,
						valid_to DATE NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						remarks TEXT NOT NULL DEFAULT '',
						created_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
						assigned_to INTEGER REFERENCES users(id) ON DELETE SET NULL,
						assigned_at TIMESTAMP,
						assigned_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
						previous_permit_id INTEGER REFERENCES permits(id) ON DELETE SET NULL,
						version INTEGER NOT NULL DEFAULT 1,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					);

					CREATE INDEX IF NOT EXISTS idx_permits_vehicle ON permits(vehicle_number);
					CREATE INDEX IF NOT EXISTS idx_permits_assignee_status ON permits(assigned_to, status);
					CREATE INDEX IF NOT EXISTS idx_permits_status_valid_to ON permits(status, valid_to);
					CREATE INDEX IF NOT EXISTS idx_permits_created_by ON permits(created_by);
				`,
			},
			history.TableMigration(2, "permit_history", "permits"),
		},
	}
}
