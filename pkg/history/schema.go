package history

import (
	"fmt"

	"github.com/platinummonkey/permitdesk/pkg/storage"
)

// TableMigration returns a migration creating the history table of one
// entity type. Rows reference parent(id) and are deleted with it; any other
// UPDATE or DELETE is rejected by a trigger.
func TableMigration(version int, table, parent string) storage.Migration {
	return storage.Migration{
		Version:     version,
		Description: fmt.Sprintf("Create %s ledger table", table),
		SQL: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				id BIGSERIAL PRIMARY KEY,
				entity_id BIGINT NOT NULL REFERENCES %[2]s(id) ON DELETE CASCADE,
				action VARCHAR(32) NOT NULL,
				performed_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				changes JSONB NOT NULL DEFAULT '{}',
				notes TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_%[1]s_entity ON %[1]s(entity_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_%[1]s_actor ON %[1]s(performed_by);
			CREATE INDEX IF NOT EXISTS idx_%[1]s_created ON %[1]s(created_at);

			CREATE OR REPLACE FUNCTION history_guard() RETURNS trigger AS $$
			DECLARE
				parent_exists BOOLEAN;
			BEGIN
				IF TG_OP = 'DELETE' THEN
					EXECUTE format('SELECT EXISTS (SELECT 1 FROM %%I WHERE id = $1)', TG_ARGV[0])
						INTO parent_exists USING OLD.entity_id;
					IF NOT parent_exists THEN
						RETURN OLD;
					END IF;
				END IF;
				RAISE EXCEPTION 'history records are append-only (%%)', TG_TABLE_NAME;
			END;
			$$ LANGUAGE plpgsql;

			DROP TRIGGER IF EXISTS %[1]s_append_only ON %[1]s;
			CREATE TRIGGER %[1]s_append_only
				BEFORE UPDATE OR DELETE ON %[1]s
				FOR EACH ROW EXECUTE FUNCTION history_guard('%[2]s');
		`, table, parent),
		SQLite: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				entity_id INTEGER NOT NULL REFERENCES %[2]s(id) ON DELETE CASCADE,
				action TEXT NOT NULL,
				performed_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				changes TEXT NOT NULL DEFAULT '{}',
				notes TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_%[1]s_entity ON %[1]s(entity_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_%[1]s_actor ON %[1]s(performed_by);

			CREATE TRIGGER IF NOT EXISTS %[1]s_no_update
			BEFORE UPDATE ON %[1]s
			BEGIN
				SELECT RAISE(ABORT, 'history records are append-only');
			END;

			CREATE TRIGGER IF NOT EXISTS %[1]s_no_delete
			BEFORE DELETE ON %[1]s
			WHEN EXISTS (SELECT 1 FROM %[2]s WHERE id = OLD.entity_id)
			BEGIN
				SELECT RAISE(ABORT, 'history records are append-only');
			END;
		`, table, parent),
	}
}
