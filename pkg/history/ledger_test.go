package history

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
	"github.com/platinummonkey/permitdesk/pkg/storage"
	"github.com/platinummonkey/permitdesk/pkg/storage/sqlitetest"
)

func parentMigrations() storage.MigrationSet {
	return storage.MigrationSet{
		Component: "history_test",
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create parent tables",
				SQL: `
					CREATE TABLE permits (id INTEGER PRIMARY KEY AUTOINCREMENT, number TEXT NOT NULL);
					CREATE TABLE chalans (id INTEGER PRIMARY KEY AUTOINCREMENT, number TEXT NOT NULL);
				`,
			},
			TableMigration(2, "permit_history", "permits"),
			TableMigration(3, "chalan_history", "chalans"),
		},
	}
}

func setupLedger(t *testing.T) (*sql.DB, *Ledger) {
	t.Helper()
	db := sqlitetest.Open(t, rbac.Migrations(), parentMigrations())
	return db, NewLedger(db)
}

func insertParent(t *testing.T, db *sql.DB, table, number string) int64 {
	t.Helper()
	res, err := db.Exec("INSERT INTO "+table+" (number) VALUES ($1)", number)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func insertUser(t *testing.T, db *sql.DB, username string) int64 {
	t.Helper()
	store := rbac.NewStore(db)
	user := &rbac.User{Username: username, IsActive: true}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user.ID
}

func appendRecord(t *testing.T, l *Ledger, db *sql.DB, rec Record) Record {
	t.Helper()
	require.NoError(t, l.Append(context.Background(), db, &rec))
	return rec
}

func TestLedger_AppendAndForEntity(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := context.Background()

	permitID := insertParent(t, db, "permits", "P-1")
	actor := insertUser(t, db, "clerk")

	changes := Changes{}
	Track(changes, "status", "pending", "active")
	Track(changes, "vehicle_number", "KA01", "KA01")

	before := time.Now().UTC().Add(-time.Second)
	rec := Record{
		Entity:      EntityRef{Type: EntityPermit, ID: permitID},
		Action:      ActionUpdated,
		PerformedBy: &actor,
		Changes:     changes,
		Notes:       "approved at counter",
	}
	require.NoError(t, ledger.Append(ctx, db, &rec))
	assert.NotZero(t, rec.ID)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
	assert.True(t, rec.Timestamp.After(before))

	records, err := ledger.ForEntity(ctx, EntityRef{Type: EntityPermit, ID: permitID})
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, EntityRef{Type: EntityPermit, ID: permitID}, got.Entity)
	assert.Equal(t, ActionUpdated, got.Action)
	require.NotNil(t, got.PerformedBy)
	assert.Equal(t, actor, *got.PerformedBy)
	assert.Equal(t, "approved at counter", got.Notes)
	assert.WithinDuration(t, rec.Timestamp, got.Timestamp, time.Millisecond)

	require.Len(t, got.Changes, 1)
	assert.Equal(t, Change{Old: "pending", New: "active"}, got.Changes["status"])
}

func TestLedger_EmptyChanges(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := context.Background()
	permitID := insertParent(t, db, "permits", "P-1")

	rec := appendRecord(t, ledger, db, Record{
		Entity: EntityRef{Type: EntityPermit, ID: permitID},
		Action: ActionUpdated,
	})
	assert.NotNil(t, rec.Changes)

	var stored string
	require.NoError(t, db.QueryRow("SELECT changes FROM permit_history WHERE id = $1", rec.ID).Scan(&stored))
	assert.Equal(t, "{}", stored)

	records, err := ledger.ForEntity(ctx, rec.Entity)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotNil(t, records[0].Changes)
	assert.Empty(t, records[0].Changes)
	assert.Nil(t, records[0].PerformedBy)
}

func TestLedger_AppendRejects(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := context.Background()
	permitID := insertParent(t, db, "permits", "P-1")

	rec := appendRecord(t, ledger, db, Record{
		Entity: EntityRef{Type: EntityPermit, ID: permitID},
		Action: ActionCreated,
	})
	assert.Panics(t, func() { _ = ledger.Append(ctx, db, &rec) })

	err := ledger.Append(ctx, db, &Record{Entity: EntityRef{Type: "vehicle", ID: 1}, Action: ActionCreated})
	assert.ErrorContains(t, err, "unknown history entity type")

	err = ledger.Append(ctx, db, &Record{Entity: EntityRef{Type: EntityPermit, ID: permitID}})
	assert.ErrorContains(t, err, "no action")

	// foreign key to the parent
	err = ledger.Append(ctx, db, &Record{Entity: EntityRef{Type: EntityPermit, ID: 9999}, Action: ActionCreated})
	assert.Error(t, err)
}

func TestLedger_AppendInTransactionRollsBack(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := context.Background()
	permitID := insertParent(t, db, "permits", "P-1")

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	rec := Record{Entity: EntityRef{Type: EntityPermit, ID: permitID}, Action: ActionCreated}
	require.NoError(t, ledger.Append(ctx, tx, &rec))
	require.NoError(t, tx.Rollback())

	records, err := ledger.ForEntity(ctx, rec.Entity)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLedger_RecordsAreImmutable(t *testing.T) {
	db, ledger := setupLedger(t)
	permitID := insertParent(t, db, "permits", "P-1")
	rec := appendRecord(t, ledger, db, Record{
		Entity: EntityRef{Type: EntityPermit, ID: permitID},
		Action: ActionCreated,
	})

	_, err := db.Exec("UPDATE permit_history SET notes = 'rewritten' WHERE id = $1", rec.ID)
	assert.ErrorContains(t, err, "append-only")

	_, err = db.Exec("DELETE FROM permit_history WHERE id = $1", rec.ID)
	assert.ErrorContains(t, err, "append-only")

	records, err := ledger.ForEntity(context.Background(), rec.Entity)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Notes)
}

func TestLedger_CascadesWithParent(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := context.Background()

	doomed := insertParent(t, db, "permits", "P-1")
	kept := insertParent(t, db, "permits", "P-2")
	for _, id := range []int64{doomed, doomed, kept} {
		appendRecord(t, ledger, db, Record{Entity: EntityRef{Type: EntityPermit, ID: id}, Action: ActionUpdated})
	}

	_, err := db.Exec("DELETE FROM permits WHERE id = $1", doomed)
	require.NoError(t, err)

	records, err := ledger.ForEntity(ctx, EntityRef{Type: EntityPermit, ID: doomed})
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = ledger.ForEntity(ctx, EntityRef{Type: EntityPermit, ID: kept})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestLedger_Query(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := context.Background()

	permitID := insertParent(t, db, "permits", "P-1")
	chalanID := insertParent(t, db, "chalans", "C-1")
	alice := insertUser(t, db, "alice")
	bob := insertUser(t, db, "bob")

	appendRecord(t, ledger, db, Record{Entity: EntityRef{Type: EntityPermit, ID: permitID}, Action: ActionCreated, PerformedBy: &alice})
	appendRecord(t, ledger, db, Record{Entity: EntityRef{Type: EntityChalan, ID: chalanID}, Action: ActionCreated, PerformedBy: &bob})
	appendRecord(t, ledger, db, Record{Entity: EntityRef{Type: EntityPermit, ID: permitID}, Action: ActionAssigned, PerformedBy: &bob})
	appendRecord(t, ledger, db, Record{Entity: EntityRef{Type: EntityChalan, ID: chalanID}, Action: ActionPaid, PerformedBy: &alice})

	actions := func(records []Record) []Action {
		out := make([]Action, len(records))
		for i, r := range records {
			out[i] = r.Action
		}
		return out
	}

	t.Run("all tables in time order", func(t *testing.T) {
		records, err := ledger.Query(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, []Action{ActionCreated, ActionCreated, ActionAssigned, ActionPaid}, actions(records))
		assert.Equal(t, EntityPermit, records[0].Entity.Type)
		assert.Equal(t, EntityChalan, records[1].Entity.Type)
	})

	t.Run("by entity type", func(t *testing.T) {
		records, err := ledger.Query(ctx, Filter{EntityType: EntityChalan})
		require.NoError(t, err)
		assert.Equal(t, []Action{ActionCreated, ActionPaid}, actions(records))
	})

	t.Run("by actor across tables", func(t *testing.T) {
		records, err := ledger.Query(ctx, Filter{ActorID: &alice})
		require.NoError(t, err)
		assert.Equal(t, []Action{ActionCreated, ActionPaid}, actions(records))
	})

	t.Run("by actions and actor", func(t *testing.T) {
		records, err := ledger.Query(ctx, Filter{ActorID: &bob, Actions: []Action{ActionAssigned, ActionPaid}})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, ActionAssigned, records[0].Action)
	})

	t.Run("time window", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		future := time.Now().Add(time.Hour)

		records, err := ledger.Query(ctx, Filter{Since: &past, Until: &future})
		require.NoError(t, err)
		assert.Len(t, records, 4)

		records, err = ledger.Query(ctx, Filter{Since: &future})
		require.NoError(t, err)
		assert.Empty(t, records)

		records, err = ledger.Query(ctx, Filter{Until: &past})
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("pagination", func(t *testing.T) {
		records, err := ledger.Query(ctx, Filter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []Action{ActionCreated, ActionAssigned}, actions(records))
	})

	t.Run("unknown entity type", func(t *testing.T) {
		_, err := ledger.Query(ctx, Filter{EntityType: "vehicle"})
		assert.Error(t, err)
	})
}

func TestLedger_Metrics(t *testing.T) {
	db := sqlitetest.Open(t, rbac.Migrations(), parentMigrations())
	metrics := observability.NewTestMetrics()
	ledger := NewLedger(db, WithLedgerMetrics(metrics))

	permitID := insertParent(t, db, "permits", "P-1")
	appendRecord(t, ledger, db, Record{Entity: EntityRef{Type: EntityPermit, ID: permitID}, Action: ActionCreated})
	appendRecord(t, ledger, db, Record{Entity: EntityRef{Type: EntityPermit, ID: permitID}, Action: ActionUpdated})
	appendRecord(t, ledger, db, Record{Entity: EntityRef{Type: EntityPermit, ID: permitID}, Action: ActionUpdated})

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.HistoryRecordsTotal.WithLabelValues("permit", "updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HistoryRecordsTotal.WithLabelValues("permit", "created")))
}

func TestLedger_Export(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := context.Background()

	permitID := insertParent(t, db, "permits", "P-1")
	actor := insertUser(t, db, "clerk")
	changes := Changes{}
	Track(changes, "fees", 100, 250)
	appendRecord(t, ledger, db, Record{Entity: EntityRef{Type: EntityPermit, ID: permitID}, Action: ActionCreated, PerformedBy: &actor})
	appendRecord(t, ledger, db, Record{Entity: EntityRef{Type: EntityPermit, ID: permitID}, Action: ActionFeeUpdated, Changes: changes, Notes: "revised, late"})

	t.Run("json", func(t *testing.T) {
		data, err := ledger.Export(ctx, Filter{}, ExportFormatJSON)
		require.NoError(t, err)
		var records []Record
		require.NoError(t, json.Unmarshal(data, &records))
		require.Len(t, records, 2)
		assert.Equal(t, ActionFeeUpdated, records[1].Action)
	})

	t.Run("ndjson", func(t *testing.T) {
		data, err := ledger.Export(ctx, Filter{}, ExportFormatNDJSON)
		require.NoError(t, err)
		scanner := bufio.NewScanner(bytes.NewReader(data))
		lines := 0
		for scanner.Scan() {
			var rec Record
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
			lines++
		}
		assert.Equal(t, 2, lines)
	})

	t.Run("csv", func(t *testing.T) {
		data, err := ledger.Export(ctx, Filter{}, ExportFormatCSV)
		require.NoError(t, err)
		rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "Action", rows[0][4])
		assert.Equal(t, "created", rows[1][4])
		assert.Equal(t, "", rows[2][5])
		assert.JSONEq(t, `{"fees":{"old":100,"new":250}}`, rows[2][6])
		assert.Equal(t, "revised, late", rows[2][7])
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := ledger.Export(ctx, Filter{}, "xml")
		assert.ErrorContains(t, err, "unsupported export format")
	})
}
