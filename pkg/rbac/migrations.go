package rbac

import (
	"github.com/platinummonkey/permitdesk/pkg/storage"
)

// Component is the migration component name of this package
const Component = "rbac"

// Migrations returns the identity and authorization schema
func Migrations() storage.MigrationSet {
	return storage.MigrationSet{
		Component: Component,
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create users table",
				SQL: `
					CREATE TABLE IF NOT EXISTS users (
						id BIGSERIAL PRIMARY KEY,
						username VARCHAR(150) NOT NULL UNIQUE,
						email VARCHAR(255) NOT NULL DEFAULT '',
						full_name VARCHAR(255) NOT NULL DEFAULT '',
						is_active BOOLEAN NOT NULL DEFAULT TRUE,
						is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);
				`,
				SQLite: `
					CREATE TABLE IF NOT EXISTS users (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						username TEXT NOT NULL UNIQUE,
						email TEXT NOT NULL DEFAULT '',
						full_name TEXT NOT NULL DEFAULT '',
						is_active BOOLEAN NOT NULL DEFAULT TRUE,
						is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					);
				`,
			},
			{
				Version:     2,
				Description: "Create features, roles and role_features tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS features (
						id BIGSERIAL PRIMARY KEY,
						code VARCHAR(64) NOT NULL UNIQUE,
						description TEXT NOT NULL DEFAULT ''
					);

					CREATE TABLE IF NOT EXISTS roles (
						id BIGSERIAL PRIMARY KEY,
						name VARCHAR(64) NOT NULL UNIQUE,
						description TEXT NOT NULL DEFAULT '',
						is_active BOOLEAN NOT NULL DEFAULT TRUE,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE TABLE IF NOT EXISTS role_features (
						role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
						feature_id BIGINT NOT NULL REFERENCES features(id) ON DELETE CASCADE,
						PRIMARY KEY (role_id, feature_id)
					);
				`,
				SQLite: `
					CREATE TABLE IF NOT EXISTS features (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						code TEXT NOT NULL UNIQUE,
						description TEXT NOT NULL DEFAULT ''
					);

					CREATE TABLE IF NOT EXISTS roles (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL UNIQUE,
						description TEXT NOT NULL DEFAULT '',
						is_active BOOLEAN NOT NULL DEFAULT TRUE,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					);

					CREATE TABLE IF NOT EXISTS role_features (
						role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
						feature_id INTEGER NOT NULL REFERENCES features(id) ON DELETE CASCADE,
						PRIMARY KEY (role_id, feature_id)
					);
				`,
			},
			{
				Version:     3,
				Description: "Create user_role_bindings table",
				SQL: `
					CREATE TABLE IF NOT EXISTS user_role_bindings (
						id BIGSERIAL PRIMARY KEY,
						user_id BIGINT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
						role_id BIGINT REFERENCES roles(id) ON DELETE SET NULL,
						is_active BOOLEAN NOT NULL DEFAULT TRUE,
						assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						assigned_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
						notes TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE INDEX IF NOT EXISTS idx_user_role_bindings_role ON user_role_bindings(role_id, is_active);
				`,
				SQLite: `
					CREATE TABLE IF NOT EXISTS user_role_bindings (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						user_id INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
						role_id INTEGER REFERENCES roles(id) ON DELETE SET NULL,
						is_active BOOLEAN NOT NULL DEFAULT TRUE,
						assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						assigned_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
						notes TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					);

					CREATE INDEX IF NOT EXISTS idx_user_role_bindings_role ON user_role_bindings(role_id, is_active);
				`,
			},
		},
	}
}
