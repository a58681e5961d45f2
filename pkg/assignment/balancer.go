package assignment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
	"github.com/platinummonkey/permitdesk/pkg/storage"
)

// Workload describes where the open work items of one entity type live.
// The table must have assigned_to and status columns.
type Workload struct {
	Entity       string
	Table        string
	OpenStatuses []string
}

// WriteFunc persists an assignment inside the balancer transaction.
// assignee is nil when no eligible handler exists.
type WriteFunc func(ctx context.Context, tx *sql.Tx, assignee *rbac.User) error

// DefaultRetries is the number of extra attempts after a lost race
const DefaultRetries = 3

// Balancer picks the least loaded handler of a role and writes the
// assignment in the same transaction
type Balancer struct {
	db      *sql.DB
	retries int
	logger  *observability.Logger
	metrics *observability.Metrics
}

// BalancerOption configures a Balancer
type BalancerOption func(*Balancer)

// WithRetries sets how many times a transaction that lost a race is retried
func WithRetries(n int) BalancerOption {
	return func(b *Balancer) {
		if n >= 0 {
			b.retries = n
		}
	}
}

// WithBalancerLogger sets the logger
func WithBalancerLogger(logger *observability.Logger) BalancerOption {
	return func(b *Balancer) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBalancerMetrics records assignments and conflicts
func WithBalancerMetrics(metrics *observability.Metrics) BalancerOption {
	return func(b *Balancer) {
		b.metrics = metrics
	}
}

// NewBalancer creates a new load balancer
func NewBalancer(db *sql.DB, opts ...BalancerOption) *Balancer {
	b := &Balancer{db: db, retries: DefaultRetries, logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Assign runs one auto-assignment: it locks the role pool, selects the
// least loaded active user bound to role, and calls write with that user
// (or nil) before committing. A transaction that loses a race against a
// concurrent balancer is retried; when retries run out the error wraps
// rbac.ErrConflictingState.
func (b *Balancer) Assign(ctx context.Context, w Workload, role rbac.RoleName, write WriteFunc) (*rbac.User, error) {
	ctx, span := observability.StartSpan(ctx, "assignment.AutoAssign",
		attribute.String("assignment.entity", w.Entity),
		attribute.String("assignment.role", string(role)),
	)
	start := time.Now()

	var (
		picked *rbac.User
		err    error
	)
	for attempt := 0; attempt <= b.retries; attempt++ {
		picked, err = b.assignOnce(ctx, w, role, write)
		if err == nil || !storage.IsRetryable(err) {
			break
		}
		if b.metrics != nil {
			b.metrics.AssignmentConflictTotal.WithLabelValues(w.Entity).Inc()
		}
		b.logger.WithError(err).WithFields(map[string]interface{}{
			"entity":  w.Entity,
			"role":    role,
			"attempt": attempt + 1,
		}).Debug("auto-assignment conflict, retrying")
	}
	if storage.IsRetryable(err) {
		err = fmt.Errorf("%w: auto-assignment of %s gave up after %d attempts: %v",
			rbac.ErrConflictingState, w.Entity, b.retries+1, err)
	}

	result := "assigned"
	switch {
	case err != nil:
		result = "error"
		picked = nil
	case picked == nil:
		result = "unassigned"
	default:
		span.SetAttributes(attribute.Int64("assignment.user_id", picked.ID))
	}
	if b.metrics != nil {
		b.metrics.AssignmentsTotal.WithLabelValues(w.Entity, "auto", result).Inc()
		b.metrics.AssignmentDuration.WithLabelValues(w.Entity).Observe(time.Since(start).Seconds())
	}
	observability.EndSpan(span, err)
	return picked, err
}

func (b *Balancer) assignOnce(ctx context.Context, w Workload, role rbac.RoleName, write WriteFunc) (*rbac.User, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockPool(ctx, tx, w.Entity, role); err != nil {
		return nil, err
	}

	picked, err := SelectLeastLoaded(ctx, tx, w, role)
	if err != nil {
		return nil, err
	}

	if err := write(ctx, tx, picked); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}
	return picked, nil
}

// lockPool bumps the lock row of (entity, role). The row lock is held until
// the transaction ends, so a concurrent balancer on the same pool waits and
// then counts the committed assignment.
func lockPool(ctx context.Context, tx *sql.Tx, entity string, role rbac.RoleName) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO assignment_locks (lock_key, generation, updated_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (lock_key) DO UPDATE
		SET generation = assignment_locks.generation + 1, updated_at = excluded.updated_at
	`, entity+":"+string(role), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to lock %s pool of %s: %w", role, entity, err)
	}
	return nil
}

// SelectLeastLoaded returns the active user bound to role with the fewest
// open work items, reading through tx. Candidates are visited in binding
// order and only a strictly smaller count replaces the current pick, so the
// earliest bound user wins ties. It returns nil when the role has no
// eligible user.
func SelectLeastLoaded(ctx context.Context, tx *sql.Tx, w Workload, role rbac.RoleName) (*rbac.User, error) {
	if w.Table == "" || len(w.OpenStatuses) == 0 {
		return nil, errors.New("assignment: workload needs a table and open statuses")
	}

	candidates, err := rbac.ActiveUsersInRoles(ctx, tx, []rbac.RoleName{role})
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	loads, err := openLoads(ctx, tx, w, candidates)
	if err != nil {
		return nil, err
	}

	best := 0
	for i := 1; i < len(candidates); i++ {
		if loads[candidates[i].ID] < loads[candidates[best].ID] {
			best = i
		}
	}
	picked := candidates[best]
	return &picked, nil
}

func openLoads(ctx context.Context, tx *sql.Tx, w Workload, users []rbac.User) (map[int64]int, error) {
	args := make([]interface{}, 0, len(w.OpenStatuses)+len(users))
	for _, status := range w.OpenStatuses {
		args = append(args, status)
	}
	for _, u := range users {
		args = append(args, u.ID)
	}

	query := fmt.Sprintf(`
		SELECT assigned_to, COUNT(*)
		FROM %s
		WHERE status IN (%s) AND assigned_to IN (%s)
		GROUP BY assigned_to
	`, w.Table,
		storage.Placeholders(1, len(w.OpenStatuses)),
		storage.Placeholders(len(w.OpenStatuses)+1, len(users)),
	)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count open %s items: %w", w.Entity, err)
	}
	defer rows.Close()

	loads := make(map[int64]int, len(users))
	for rows.Next() {
		var userID int64
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan load: %w", err)
		}
		loads[userID] = count
	}
	return loads, rows.Err()
}
