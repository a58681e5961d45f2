// Package history keeps the append-only change ledger of permits and
// chalans.
//
// Every mutation of a permit or chalan appends one Record to the entity's
// history table in the same transaction as the mutation itself. A record
// names the action, the acting user and the fields that changed:
//
//	changes := history.Changes{}
//	history.Track(changes, "status", old.Status, updated.Status)
//	err := ledger.Append(ctx, tx, &history.Record{
//		Entity:      history.EntityRef{Type: history.EntityPermit, ID: permit.ID},
//		Action:      history.ActionUpdated,
//		PerformedBy: &actor.ID,
//		Changes:     changes,
//	})
//
// An update that changed nothing still gets a record with empty Changes.
//
// # Immutability
//
// Records are never updated or deleted. TableMigration installs triggers
// that reject both; the only way rows leave a history table is the cascade
// when the owning permit or chalan is deleted.
//
// # Reporting
//
// Ledger.Query searches one or all history tables; Ledger.Export renders
// the same result as JSON, NDJSON or CSV. Handlers exposes both under
// /history for callers with report access.
package history
