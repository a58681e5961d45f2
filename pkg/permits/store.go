package permits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/permitdesk/pkg/rbac"
	"github.com/platinummonkey/permitdesk/pkg/storage"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// DBTX is satisfied by *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store provides database access for permits
type Store struct {
	db      *sql.DB
	dialect storage.Dialect
}

// NewStore creates a new permit store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, dialect: storage.DialectOf(db)}
}

const permitColumns = `id, permit_number, authority, permit_type, vehicle_number, vehicle_type,
	owner_name, owner_phone, owner_cnic, status, valid_from, valid_to, description, remarks,
	created_by, assigned_to, assigned_at, assigned_by, previous_permit_id, version, created_at, updated_at`

func scanPermit(row interface{ Scan(...interface{}) error }) (*Permit, error) {
	var (
		p                                         Permit
		createdBy, assignedTo, assignedBy, prevID sql.NullInt64
		assignedAt                                sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.PermitNumber, &p.Authority, &p.PermitType, &p.VehicleNumber, &p.VehicleType,
		&p.OwnerName, &p.OwnerPhone, &p.OwnerCNIC, &p.Status, &p.ValidFrom, &p.ValidTo,
		&p.Description, &p.Remarks,
		&createdBy, &assignedTo, &assignedAt, &assignedBy, &prevID, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.CreatedBy = nullInt64(createdBy)
	p.AssignedTo = nullInt64(assignedTo)
	p.AssignedBy = nullInt64(assignedBy)
	p.PreviousPermitID = nullInt64(prevID)
	if assignedAt.Valid {
		t := assignedAt.Time.UTC()
		p.AssignedAt = &t
	}
	p.ValidFrom = p.ValidFrom.UTC()
	p.ValidTo = p.ValidTo.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func insert(ctx context.Context, q DBTX, p *Permit) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO permits (
			permit_number, authority, permit_type, vehicle_number, vehicle_type,
			owner_name, owner_phone, owner_cnic, status, valid_from, valid_to,
			description, remarks, created_by, assigned_to, assigned_at, assigned_by,
			previous_permit_id, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id
	`,
		p.PermitNumber, p.Authority, p.PermitType, p.VehicleNumber, p.VehicleType,
		p.OwnerName, p.OwnerPhone, p.OwnerCNIC, p.Status, p.ValidFrom, p.ValidTo,
		p.Description, p.Remarks, p.CreatedBy, p.AssignedTo, p.AssignedAt, p.AssignedBy,
		p.PreviousPermitID, p.Version, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return fmt.Errorf("%w: permit number %s already exists", rbac.ErrConflictingState, p.PermitNumber)
		}
		return fmt.Errorf("failed to insert permit: %w", err)
	}
	return nil
}

// update writes every mutable column of p when the stored version still
// equals version, and bumps the version. A concurrent writer that got there
// first makes it fail with rbac.ErrConflictingState.
func update(ctx context.Context, q DBTX, p *Permit, version int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE permits
		SET permit_type = $1, vehicle_type = $2, owner_name = $3, owner_phone = $4, owner_cnic = $5,
			status = $6, valid_from = $7, valid_to = $8, description = $9, remarks = $10,
			assigned_to = $11, assigned_at = $12, assigned_by = $13,
			version = version + 1, updated_at = $14
		WHERE id = $15 AND version = $16
	`,
		p.PermitType, p.VehicleType, p.OwnerName, p.OwnerPhone, p.OwnerCNIC,
		p.Status, p.ValidFrom, p.ValidTo, p.Description, p.Remarks,
		p.AssignedTo, p.AssignedAt, p.AssignedBy,
		p.UpdatedAt, p.ID, version,
	)
	if err != nil {
		return fmt.Errorf("failed to update permit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: permit %d was modified concurrently", rbac.ErrConflictingState, p.ID)
	}
	p.Version = version + 1
	return nil
}

// Get retrieves a permit by ID
func (s *Store) Get(ctx context.Context, id int64) (*Permit, error) {
	p, err := scanPermit(s.db.QueryRowContext(ctx, "SELECT "+permitColumns+" FROM permits WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.NewNotFound("permit", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permit: %w", err)
	}
	return p, nil
}

// List returns permits matching filter, newest first
func (s *Store) List(ctx context.Context, filter Filter) ([]Permit, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.VehicleNumber != "" {
		add("vehicle_number = $%d", NormalizeVehicleNumber(filter.VehicleNumber))
	}
	if filter.CreatedBy != nil {
		add("created_by = $%d", *filter.CreatedBy)
	}
	if filter.Unassigned {
		conds = append(conds, "assigned_to IS NULL")
	} else if filter.AssignedTo != nil {
		add("assigned_to = $%d", *filter.AssignedTo)
	}

	query := "SELECT " + permitColumns + " FROM permits"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, clampLimit(filter.Limit), max(filter.Offset, 0))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return queryPermits(ctx, s.db, query, args...)
}

func queryPermits(ctx context.Context, q DBTX, query string, args ...interface{}) ([]Permit, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permits: %w", err)
	}
	defer rows.Close()

	permits := []Permit{}
	for rows.Next() {
		p, err := scanPermit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permit: %w", err)
		}
		permits = append(permits, *p)
	}
	return permits, rows.Err()
}

// ByVehicle returns every permit of a vehicle, newest first
func (s *Store) ByVehicle(ctx context.Context, vehicleNumber string) ([]Permit, error) {
	return queryPermits(ctx, s.db,
		"SELECT "+permitColumns+" FROM permits WHERE vehicle_number = $1 ORDER BY valid_to DESC, id DESC",
		NormalizeVehicleNumber(vehicleNumber))
}

// openForVehicle returns the number of an active or pending permit of the
// vehicle, or "" when there is none
func openForVehicle(ctx context.Context, q DBTX, vehicleNumber string) (string, error) {
	var number string
	err := q.QueryRowContext(ctx, `
		SELECT permit_number FROM permits
		WHERE vehicle_number = $1 AND status IN ($2, $3)
		ORDER BY id LIMIT 1
	`, vehicleNumber, StatusActive, StatusPending).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to check vehicle permits: %w", err)
	}
	return number, nil
}

// DueForExpiry returns active permits whose validity ended before day
func (s *Store) DueForExpiry(ctx context.Context, day time.Time) ([]Permit, error) {
	return queryPermits(ctx, s.db,
		"SELECT "+permitColumns+" FROM permits WHERE status = $1 AND valid_to < $2 ORDER BY id",
		StatusActive, day)
}

// Delete removes a permit; its history goes with it
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM permits WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete permit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return rbac.NewNotFound("permit", id)
	}
	return nil
}

// CountByStatus counts permits per status, optionally only those created by
// createdBy
func (s *Store) CountByStatus(ctx context.Context, createdBy *int64) (*Stats, error) {
	query := "SELECT status, COUNT(*) FROM permits"
	var args []interface{}
	if createdBy != nil {
		query += " WHERE created_by = $1"
		args = append(args, *createdBy)
	}
	query += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count permits: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByStatus: make(map[Status]int)}
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	return stats, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// NormalizeVehicleNumber upper-cases a registration number and drops
// spaces and dashes
func NormalizeVehicleNumber(v string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(v)))
}
