package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/platinummonkey/permitdesk/pkg/storage"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
	// MaxExport bounds the rows a single export reads
	MaxExport = 50000
)

// Querier runs a single-row query; both *sql.DB and *sql.Tx satisfy it
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Ledger appends and reads the per-entity history tables
type Ledger struct {
	db      *sql.DB
	dialect storage.Dialect
	tables  map[EntityType]string
	metrics *observability.Metrics
}

// LedgerOption configures a Ledger
type LedgerOption func(*Ledger)

// WithTable maps an entity type to its history table
func WithTable(entity EntityType, table string) LedgerOption {
	return func(l *Ledger) {
		l.tables[entity] = table
	}
}

// WithLedgerMetrics counts appended records
func WithLedgerMetrics(metrics *observability.Metrics) LedgerOption {
	return func(l *Ledger) {
		l.metrics = metrics
	}
}

// NewLedger creates a ledger over permit_history and chalan_history
func NewLedger(db *sql.DB, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		db:      db,
		dialect: storage.DialectOf(db),
		tables: map[EntityType]string{
			EntityPermit: "permit_history",
			EntityChalan: "chalan_history",
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) table(entity EntityType) (string, error) {
	table, ok := l.tables[entity]
	if !ok {
		return "", fmt.Errorf("unknown history entity type %q", entity)
	}
	return table, nil
}

// Append writes rec through q, normally the transaction that made the
// change, and fills in its ID and Timestamp. Changes are stored as given;
// a nil map is stored as an empty one. Appending a record that already has
// an ID would rewrite history and panics.
func (l *Ledger) Append(ctx context.Context, q Querier, rec *Record) error {
	if rec.ID != 0 {
		panic(fmt.Sprintf("history: %s record %d is already written", rec.Entity.Type, rec.ID))
	}
	table, err := l.table(rec.Entity.Type)
	if err != nil {
		return err
	}
	if rec.Action == "" {
		return fmt.Errorf("history record for %s %d has no action", rec.Entity.Type, rec.Entity.ID)
	}

	changes, err := rec.marshalChanges()
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	ts := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO %s (entity_id, action, performed_by, created_at, changes, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, table)

	var id int64
	if err := q.QueryRowContext(ctx, query,
		rec.Entity.ID, string(rec.Action), rec.PerformedBy, ts, string(changes), rec.Notes,
	).Scan(&id); err != nil {
		return fmt.Errorf("failed to append %s history: %w", rec.Entity.Type, err)
	}

	rec.ID = id
	rec.Timestamp = ts
	if rec.Changes == nil {
		rec.Changes = Changes{}
	}
	if l.metrics != nil {
		l.metrics.HistoryRecordsTotal.WithLabelValues(string(rec.Entity.Type), string(rec.Action)).Inc()
	}
	return nil
}

// ForEntity returns the full history of one record, oldest first
func (l *Ledger) ForEntity(ctx context.Context, ref EntityRef) ([]Record, error) {
	id := ref.ID
	return l.Query(ctx, Filter{EntityType: ref.Type, EntityID: &id, Limit: MaxLimit})
}

// Query returns the records matching filter ordered by time then ID. With
// no entity type set, every history table is searched.
func (l *Ledger) Query(ctx context.Context, filter Filter) ([]Record, error) {
	return l.query(ctx, filter, clampLimit(filter.Limit, MaxLimit))
}

func (l *Ledger) query(ctx context.Context, filter Filter, limit int) ([]Record, error) {
	entities := []EntityType{filter.EntityType}
	if filter.EntityType == "" {
		entities = []EntityType{EntityPermit, EntityChalan}
	}

	var branches []string
	var args []interface{}
	for _, entity := range entities {
		table, err := l.table(entity)
		if err != nil {
			return nil, err
		}
		where, whereArgs := l.where(filter, len(args)+1)
		branches = append(branches, fmt.Sprintf(
			`SELECT '%s' AS entity_type, id, entity_id, action, performed_by, created_at, changes, notes FROM %s%s`,
			entity, table, where,
		))
		args = append(args, whereArgs...)
	}

	query := strings.Join(branches, " UNION ALL ")
	query += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var entityType, action string
		var changesJSON []byte
		var createdAt dbTime
		if err := rows.Scan(
			&entityType, &rec.ID, &rec.Entity.ID, &action, &rec.PerformedBy,
			&createdAt, &changesJSON, &rec.Notes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		rec.Entity.Type = EntityType(entityType)
		rec.Action = Action(action)
		rec.Timestamp = time.Time(createdAt).UTC()

		rec.Changes = Changes{}
		if len(changesJSON) > 0 {
			if err := json.Unmarshal(changesJSON, &rec.Changes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal changes of %s history %d: %w", entityType, rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return records, nil
}

// where builds the WHERE clause of one branch with placeholders numbered
// from start
func (l *Ledger) where(filter Filter, start int) (string, []interface{}) {
	var conds []string
	var args []interface{}
	argCount := start

	if filter.EntityID != nil {
		conds = append(conds, fmt.Sprintf("entity_id = $%d", argCount))
		args = append(args, *filter.EntityID)
		argCount++
	}

	if filter.ActorID != nil {
		conds = append(conds, fmt.Sprintf("performed_by = $%d", argCount))
		args = append(args, *filter.ActorID)
		argCount++
	}

	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		if l.dialect == storage.DialectSQLite {
			conds = append(conds, fmt.Sprintf("action IN (%s)", storage.Placeholders(argCount, len(actions))))
			for _, a := range actions {
				args = append(args, a)
			}
			argCount += len(actions)
		} else {
			conds = append(conds, fmt.Sprintf("action = ANY($%d)", argCount))
			args = append(args, pq.Array(actions))
			argCount++
		}
	}

	if filter.Since != nil {
		conds = append(conds, fmt.Sprintf("created_at >= $%d", argCount))
		args = append(args, filter.Since.UTC())
		argCount++
	}

	if filter.Until != nil {
		conds = append(conds, fmt.Sprintf("created_at < $%d", argCount))
		args = append(args, filter.Until.UTC())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Export renders the records matching filter in format. Filter.Limit is
// honored up to MaxExport; zero means MaxExport.
func (l *Ledger) Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = MaxExport
	}
	records, err := l.query(ctx, filter, clampLimit(limit, MaxExport))
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatJSON, "":
		return exportJSON(records)
	case ExportFormatCSV:
		return exportCSV(records)
	case ExportFormatNDJSON:
		return exportNDJSON(records)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func clampLimit(limit, max int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > max {
		return max
	}
	return limit
}

// dbTime scans a timestamp that SQLite may hand back as text when the
// column type is lost in a compound select
type dbTime time.Time

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func (t *dbTime) Scan(src interface{}) error {
	var text string
	switch v := src.(type) {
	case time.Time:
		*t = dbTime(v)
		return nil
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return fmt.Errorf("cannot scan %T into a timestamp", src)
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			*t = dbTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", text)
}
