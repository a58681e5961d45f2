package auth

import (
	"github.com/platinummonkey/permitdesk/pkg/storage"
)

// Component is the migration component name of this package
const Component = "auth"

// Migrations returns the API token schema. The rbac migrations must run
// first.
func Migrations() storage.MigrationSet {
	return storage.MigrationSet{
		Component: Component,
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create api_tokens table",
				SQL: `
					CREATE TABLE IF NOT EXISTS api_tokens (
						id BIGSERIAL PRIMARY KEY,
						user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
						token_hash CHAR(64) NOT NULL UNIQUE,
						token_prefix VARCHAR(32) NOT NULL,
						name VARCHAR(255) NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						expires_at TIMESTAMPTZ,
						last_used_at TIMESTAMPTZ,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						revoked_at TIMESTAMPTZ,
						revoked_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
						revoke_reason TEXT NOT NULL DEFAULT ''
					);

					CREATE INDEX IF NOT EXISTS idx_api_tokens_user ON api_tokens(user_id);
					CREATE INDEX IF NOT EXISTS idx_api_tokens_expires ON api_tokens(expires_at) WHERE revoked_at IS NULL;
				`,
				SQLite: `
					CREATE TABLE IF NOT EXISTS api_tokens (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
						token_hash TEXT NOT NULL UNIQUE,
						token_prefix TEXT NOT NULL,
						name TEXT NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						expires_at TIMESTAMP,
						last_used_at TIMESTAMP,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						revoked_at TIMESTAMP,
						revoked_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
						revoke_reason TEXT NOT NULL DEFAULT ''
					);

					CREATE INDEX IF NOT EXISTS idx_api_tokens_user ON api_tokens(user_id);
				`,
			},
		},
	}
}
