package chalans

import (
	"github.com/platinummonkey/permitdesk/pkg/history"
	"github.com/platinummonkey/permitdesk/pkg/storage"
)

// Component is the migration component name of this package
const Component = "chalans"

// Migrations returns the chalans table, its history ledger and the vehicle
// fee structure. The permits migrations must run first.
func Migrations() storage.MigrationSet {
	return storage.MigrationSet{
		Component: Component,
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create chalans table",
				SQL: `
					CREATE TABLE IF NOT EXISTS chalans (
						id BIGSERIAL PRIMARY KEY,
						chalan_number VARCHAR(64) NOT NULL UNIQUE,
						user_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
						owner_name VARCHAR(255) NOT NULL,
						owner_cnic VARCHAR(32) NOT NULL DEFAULT '',
						owner_phone VARCHAR(32) NOT NULL DEFAULT '',
						permit_id BIGINT REFERENCES permits(id) ON DELETE CASCADE,
						car_number VARCHAR(32) NOT NULL,
						vehicle_type VARCHAR(64) NOT NULL DEFAULT '',
						violation_description TEXT NOT NULL,
						fees_amount BIGINT NOT NULL,
						paid_amount BIGINT NOT NULL DEFAULT 0,
						status VARCHAR(16) NOT NULL,
						payment_date TIMESTAMPTZ,
						payment_reference VARCHAR(128) NOT NULL DEFAULT '',
						issued_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
						issue_location VARCHAR(255) NOT NULL DEFAULT '',
						remarks TEXT NOT NULL DEFAULT '',
						created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
						assigned_to BIGINT REFERENCES users(id) ON DELETE SET NULL,
						assigned_at TIMESTAMPTZ,
						assigned_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
						version BIGINT NOT NULL DEFAULT 1,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE INDEX IF NOT EXISTS idx_chalans_car_status ON chalans(car_number, status);
					CREATE INDEX IF NOT EXISTS idx_chalans_owner_cnic ON chalans(owner_cnic);
					CREATE INDEX IF NOT EXISTS idx_chalans_permit_status ON chalans(permit_id, status);
					CREATE INDEX IF NOT EXISTS idx_chalans_assignee_status ON chalans(assigned_to, status);
					CREATE INDEX IF NOT EXISTS idx_chalans_created_by ON chalans(created_by);
				`,
				SQLite: `
					CREATE TABLE IF NOT EXISTS chalans (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						chalan_number TEXT NOT NULL UNIQUE,
						user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
						owner_name TEXT NOT NULL,
						owner_cnic TEXT NOT NULL DEFAULT '',
						owner_phone TEXT NOT NULL DEFAULT '',
						permit_id INTEGER REFERENCES permits(id) ON DELETE CASCADE,
						car_number TEXT NOT NULL,
						vehicle_type TEXT NOT NULL DEFAULT '',
						violation_description TEXT NOT NULL,
						fees_amount INTEGER NOT NULL,
						paid_amount INTEGER NOT NULL DEFAULT 0,
						status TEXT NOT NULL,
						payment_date TIMESTAMP,
						payment_reference TEXT NOT NULL DEFAULT '',
						issued_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
						issue_location TEXT NOT NULL DEFAULT '',
						remarks TEXT NOT NULL DEFAULT '',
						created_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
						assigned_to INTEGER REFERENCES users(id) ON DELETE SET NULL,
						assigned_at TIMESTAMP,
						assigned_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
						version INTEGER NOT NULL DEFAULT 1,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					);

					CREATE INDEX IF NOT EXISTS idx_chalans_car_status ON chalans(car_number, status);
					CREATE INDEX IF NOT EXISTS idx_chalans_owner_cnic ON chalans(owner_cnic);
					CREATE INDEX IF NOT EXISTS idx_chalans_permit_status ON chalans(permit_id, status);
					CREATE INDEX IF NOT EXISTS idx_chalans_assignee_status ON chalans(assigned_to, status);
					CREATE INDEX IF NOT EXISTS idx_chalans_created_by ON chalans(created_by);
				`,
			},
			history.TableMigration(2, "chalan_history", "chalans"),
			{
				Version:     3,
				Description: "Create vehicle fee structure",
				SQL: `
					CREATE TABLE IF NOT EXISTS vehicle_fees (
						vehicle_type VARCHAR(64) PRIMARY KEY,
						base_fee BIGINT NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						updated_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);
				`,
				SQLite: `
					CREATE TABLE IF NOT EXISTS vehicle_fees (
						vehicle_type TEXT PRIMARY KEY,
						base_fee INTEGER NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						updated_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					);
				`,
			},
		},
	}
}
