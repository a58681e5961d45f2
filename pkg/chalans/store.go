package chalans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/permitdesk/pkg/permits"
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

// Store provides database access for chalans and the fee structure
type Store struct {
	db *sql.DB
}

// NewStore creates a new chalan store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const chalanColumns = `id, chalan_number, user_id, owner_name, owner_cnic, owner_phone, permit_id,
	car_number, vehicle_type, violation_description, fees_amount, paid_amount, status,
	payment_date, payment_reference, issued_by, issue_location, remarks,
	created_by, assigned_to, assigned_at, assigned_by, version, created_at, updated_at`

func scanChalan(row interface{ Scan(...interface{}) error }) (*Chalan, error) {
	var (
		c                                                       Chalan
		userID, permitID, issuedBy, createdBy, assignee, byUser sql.NullInt64
		paymentDate, assignedAt                                 sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.ChalanNumber, &userID, &c.OwnerName, &c.OwnerCNIC, &c.OwnerPhone, &permitID,
		&c.CarNumber, &c.VehicleType, &c.ViolationDescription, &c.FeesAmount, &c.PaidAmount, &c.Status,
		&paymentDate, &c.PaymentReference, &issuedBy, &c.IssueLocation, &c.Remarks,
		&createdBy, &assignee, &assignedAt, &byUser, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.UserID = nullInt64(userID)
	c.PermitID = nullInt64(permitID)
	c.IssuedBy = nullInt64(issuedBy)
	c.CreatedBy = nullInt64(createdBy)
	c.AssignedTo = nullInt64(assignee)
	c.AssignedBy = nullInt64(byUser)
	c.PaymentDate = nullTime(paymentDate)
	c.AssignedAt = nullTime(assignedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func insert(ctx context.Context, q DBTX, c *Chalan) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO chalans (
			chalan_number, user_id, owner_name, owner_cnic, owner_phone, permit_id,
			car_number, vehicle_type, violation_description, fees_amount, paid_amount, status,
			payment_date, payment_reference, issued_by, issue_location, remarks,
			created_by, assigned_to, assigned_at, assigned_by, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		RETURNING id
	`,
		c.ChalanNumber, c.UserID, c.OwnerName, c.OwnerCNIC, c.OwnerPhone, c.PermitID,
		c.CarNumber, c.VehicleType, c.ViolationDescription, c.FeesAmount, c.PaidAmount, c.Status,
		c.PaymentDate, c.PaymentReference, c.IssuedBy, c.IssueLocation, c.Remarks,
		c.CreatedBy, c.AssignedTo, c.AssignedAt, c.AssignedBy, c.Version, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return fmt.Errorf("%w: chalan number %s already exists", rbac.ErrConflictingState, c.ChalanNumber)
		}
		return fmt.Errorf("failed to insert chalan: %w", err)
	}
	return nil
}

// update writes every mutable column of c when the stored version still
// equals version, and bumps the version
func update(ctx context.Context, q DBTX, c *Chalan, version int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE chalans
		SET owner_name = $1, owner_cnic = $2, owner_phone = $3, violation_description = $4,
			fees_amount = $5, paid_amount = $6, status = $7, payment_date = $8, payment_reference = $9,
			issue_location = $10, remarks = $11, assigned_to = $12, assigned_at = $13, assigned_by = $14,
			version = version + 1, updated_at = $15
		WHERE id = $16 AND version = $17
	`,
		c.OwnerName, c.OwnerCNIC, c.OwnerPhone, c.ViolationDescription,
		c.FeesAmount, c.PaidAmount, c.Status, c.PaymentDate, c.PaymentReference,
		c.IssueLocation, c.Remarks, c.AssignedTo, c.AssignedAt, c.AssignedBy,
		c.UpdatedAt, c.ID, version,
	)
	if err != nil {
		return fmt.Errorf("failed to update chalan: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: chalan %d was modified concurrently", rbac.ErrConflictingState, c.ID)
	}
	c.Version = version + 1
	return nil
}

// Get retrieves a chalan by ID
func (s *Store) Get(ctx context.Context, id int64) (*Chalan, error) {
	c, err := scanChalan(s.db.QueryRowContext(ctx, "SELECT "+chalanColumns+" FROM chalans WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.NewNotFound("chalan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chalan: %w", err)
	}
	return c, nil
}

// List returns chalans matching filter, newest first
func (s *Store) List(ctx context.Context, filter Filter) ([]Chalan, error) {
	where, args := filter.where()
	query := "SELECT " + chalanColumns + " FROM chalans" + where
	args = append(args, clampLimit(filter.Limit), max(filter.Offset, 0))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chalans: %w", err)
	}
	defer rows.Close()

	chalans := []Chalan{}
	for rows.Next() {
		c, err := scanChalan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chalan: %w", err)
		}
		chalans = append(chalans, *c)
	}
	return chalans, rows.Err()
}

// where renders the filter conditions; each placeholder index may appear
// more than once
func (f Filter) where() (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.CarNumber != "" {
		add("car_number = $%d", permits.NormalizeVehicleNumber(f.CarNumber))
	}
	if f.OwnerCNIC != "" {
		add("owner_cnic = $%d", strings.TrimSpace(f.OwnerCNIC))
	}
	if f.PermitID != nil {
		add("permit_id = $%d", *f.PermitID)
	}
	if f.Unassigned {
		conds = append(conds, "assigned_to IS NULL")
	} else if f.AssignedTo != nil {
		add("assigned_to = $%d", *f.AssignedTo)
	}
	if f.Participant != nil {
		add("(created_by = $%[1]d OR assigned_to = $%[1]d)", *f.Participant)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		add("(LOWER(chalan_number) LIKE $%[1]d OR LOWER(owner_name) LIKE $%[1]d OR owner_cnic LIKE $%[1]d OR LOWER(car_number) LIKE $%[1]d)",
			"%"+strings.ToLower(search)+"%")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Delete removes a chalan; its history goes with it
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM chalans WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete chalan: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return rbac.NewNotFound("chalan", id)
	}
	return nil
}

// Stats counts chalans per status and sums their fees, optionally only
// those participant created or is assigned
func (s *Store) Stats(ctx context.Context, participant *int64) (*Stats, error) {
	where, args := Filter{Participant: participant}.where()
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*), COALESCE(SUM(fees_amount), 0), COALESCE(SUM(paid_amount), 0) FROM chalans"+where+" GROUP BY status",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count chalans: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByStatus: make(map[Status]int)}
	for rows.Next() {
		var (
			status     Status
			n          int
			fees, paid int64
		)
		if err := rows.Scan(&status, &n, &fees, &paid); err != nil {
			return nil, fmt.Errorf("failed to scan chalan stats: %w", err)
		}
		stats.ByStatus[status] = n
		stats.Total += n
		stats.TotalFees += Money(fees)
		stats.TotalPaid += Money(paid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.PendingCollection = stats.TotalFees - stats.TotalPaid
	return stats, nil
}

// ListFees returns the fee structure ordered by vehicle type
func (s *Store) ListFees(ctx context.Context) ([]FeeStructure, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT vehicle_type, base_fee, description, updated_by, updated_at FROM vehicle_fees ORDER BY vehicle_type")
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicle fees: %w", err)
	}
	defer rows.Close()

	fees := []FeeStructure{}
	for rows.Next() {
		f, err := scanFee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle fee: %w", err)
		}
		fees = append(fees, *f)
	}
	return fees, rows.Err()
}

// GetFee returns the fee of one vehicle type
func (s *Store) GetFee(ctx context.Context, vehicleType string) (*FeeStructure, error) {
	f, err := scanFee(s.db.QueryRowContext(ctx,
		"SELECT vehicle_type, base_fee, description, updated_by, updated_at FROM vehicle_fees WHERE vehicle_type = $1",
		vehicleType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.NewNotFound("vehicle fee", vehicleType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle fee: %w", err)
	}
	return f, nil
}

func scanFee(row interface{ Scan(...interface{}) error }) (*FeeStructure, error) {
	var (
		f         FeeStructure
		updatedBy sql.NullInt64
	)
	if err := row.Scan(&f.VehicleType, &f.BaseFee, &f.Description, &updatedBy, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.UpdatedBy = nullInt64(updatedBy)
	f.UpdatedAt = f.UpdatedAt.UTC()
	return &f, nil
}

// PutFee creates or replaces the fee of a vehicle type
func (s *Store) PutFee(ctx context.Context, f *FeeStructure) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicle_fees (vehicle_type, base_fee, description, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (vehicle_type) DO UPDATE
		SET base_fee = excluded.base_fee, description = excluded.description,
			updated_by = excluded.updated_by, updated_at = excluded.updated_at
	`, f.VehicleType, f.BaseFee, f.Description, f.UpdatedBy, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save vehicle fee: %w", err)
	}
	return nil
}

// DeleteFee removes the fee of a vehicle type
func (s *Store) DeleteFee(ctx context.Context, vehicleType string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM vehicle_fees WHERE vehicle_type = $1", vehicleType)
	if err != nil {
		return fmt.Errorf("failed to delete vehicle fee: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return rbac.NewNotFound("vehicle fee", vehicleType)
	}
	return nil
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
