package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/permitdesk/pkg/storage"
)

// Store handles users, roles, features and bindings persistence. Every
// mutation of a role or its feature set runs in one transaction and drops
// the cached snapshot after commit.
type Store struct {
	db          *sql.DB
	cache       *RoleCache
	defaultRole RoleName
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithRoleCache serves GetRole from cache
func WithRoleCache(cache *RoleCache) StoreOption {
	return func(s *Store) {
		s.cache = cache
	}
}

// WithDefaultRole binds newly created users to name
func WithDefaultRole(name RoleName) StoreOption {
	return func(s *Store) {
		s.defaultRole = name
	}
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, defaultRole: RoleEndUser}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Users

const userColumns = `id, username, email, full_name, is_active, is_superuser, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.IsActive, &u.IsSuperuser, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user and, when the default role exists, binds it
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user.Username == "" {
		return Invalid("username", "is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (username, email, full_name, is_active, is_superuser, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`, user.Username, user.Email, user.FullName, user.IsActive, user.IsSuperuser, now).Scan(&user.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return fmt.Errorf("username %q already exists: %w", user.Username, ErrConflictingState)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now

	if s.defaultRole != "" {
		var roleID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = $1`, s.defaultRole).Scan(&roleID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to look up default role: %w", err)
		default:
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_role_bindings (user_id, role_id, is_active, assigned_at, notes, created_at, updated_at)
				VALUES ($1, $2, TRUE, $3, $4, $3, $3)
			`, user.ID, roleID, now, "default role"); err != nil {
				return fmt.Errorf("failed to bind default role: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFound("user", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// SetUserActive activates or deactivates a user
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireAffected(result, "user", id)
}

// ListUsers lists all users ordered by id
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

// ListUsersWithoutRole lists active users that have no active role binding
func (s *Store) ListUsersWithoutRole(ctx context.Context) ([]User, error) {
	return s.queryUsers(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.is_active, u.is_superuser, u.created_at
		FROM users u
		LEFT JOIN user_role_bindings b ON b.user_id = u.id AND b.is_active = TRUE AND b.role_id IS NOT NULL
		WHERE u.is_active = TRUE AND b.id IS NULL
		ORDER BY u.id
	`)
}

// ListActiveUsersInRoles lists active users actively bound to one of names,
// ordered by binding id
func (s *Store) ListActiveUsersInRoles(ctx context.Context, names []RoleName) ([]User, error) {
	return ActiveUsersInRoles(ctx, s.db, names)
}

// Queryer is satisfied by *sql.DB and *sql.Tx
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// ActiveUsersInRoles is ListActiveUsersInRoles against q, so that callers
// can read candidates inside their own transaction. Users whose role is
// inactive are excluded.
func ActiveUsersInRoles(ctx context.Context, q Queryer, names []RoleName) ([]User, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(names))
	for i, n := range names {
		args[i] = string(n)
	}
	query := `
		SELECT u.id, u.username, u.email, u.full_name, u.is_active, u.is_superuser, u.created_at
		FROM user_role_bindings b
		JOIN users u ON u.id = b.user_id
		JOIN roles r ON r.id = b.role_id
		WHERE b.is_active = TRUE AND u.is_active = TRUE AND r.is_active = TRUE
		  AND r.name IN (` + storage.Placeholders(1, len(names)) + `)
		ORDER BY b.id
	`
	return queryUsers(ctx, q, query, args...)
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...interface{}) ([]User, error) {
	return queryUsers(ctx, s.db, query, args...)
}

func queryUsers(ctx context.Context, q Queryer, query string, args ...interface{}) ([]User, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Features

// SeedFeatures upserts the closed feature catalog
func (s *Store) SeedFeatures(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, f := range featureCatalog {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO features (code, description) VALUES ($1, $2)
			ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description
		`, string(f.Code), f.Description); err != nil {
			return fmt.Errorf("failed to seed feature %s: %w", f.Code, err)
		}
	}
	return tx.Commit()
}

// ListFeatures returns every seeded feature ordered by code
func (s *Store) ListFeatures(ctx context.Context) ([]Feature, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, description FROM features ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	defer rows.Close()

	features := make([]Feature, 0, len(featureCatalog))
	for rows.Next() {
		var f Feature
		if err := rows.Scan(&f.ID, &f.Code, &f.Description); err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

func featureID(ctx context.Context, tx *sql.Tx, code FeatureCode) (int64, error) {
	if !IsKnownFeature(code) {
		return 0, NewNotFound("feature", code)
	}
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM features WHERE code = $1`, string(code)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, NewNotFound("feature", code)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up feature: %w", err)
	}
	return id, nil
}

// Roles

const roleSnapshotQuery = `
	SELECT r.id, r.name, r.description, r.is_active, r.created_at, r.updated_at, f.code
	FROM roles r
	LEFT JOIN role_features rf ON rf.role_id = r.id
	LEFT JOIN features f ON f.id = rf.feature_id
`

// scanRoles folds the rows of roleSnapshotQuery into roles, preserving the
// row order of the first occurrence of each role
func scanRoles(rows *sql.Rows) ([]*Role, error) {
	var roles []*Role
	byID := make(map[int64]*Role)
	for rows.Next() {
		var (
			r    Role
			code sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.IsActive, &r.CreatedAt, &r.UpdatedAt, &code); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role, ok := byID[r.ID]
		if !ok {
			r.Features = []FeatureCode{}
			role = &r
			byID[r.ID] = role
			roles = append(roles, role)
		}
		if code.Valid {
			role.Features = append(role.Features, FeatureCode(code.String))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, role := range roles {
		role.Features = normalizeFeatures(role.Features)
	}
	return roles, nil
}

// loadRole reads a role and its features in a single statement so the
// feature set is one consistent snapshot
func (s *Store) loadRole(ctx context.Context, where string, arg interface{}) (*Role, error) {
	rows, err := s.db.QueryContext(ctx, roleSnapshotQuery+where, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	defer rows.Close()

	roles, err := scanRoles(rows)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, NewNotFound("role", arg)
	}
	return roles[0], nil
}

// CreateRole creates a role with its initial features
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if role.Name == "" {
		return Invalid("name", "is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO roles (name, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`, string(role.Name), role.Description, role.IsActive, now).Scan(&role.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return fmt.Errorf("role %q already exists: %w", role.Name, ErrConflictingState)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.Features = normalizeFeatures(role.Features)
	for _, code := range role.Features {
		fid, err := featureID(ctx, tx, code)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_features (role_id, feature_id) VALUES ($1, $2)`, role.ID, fid,
		); err != nil {
			return fmt.Errorf("failed to attach feature %s: %w", code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role snapshot by ID
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	if role, ok := s.cache.Get(id); ok {
		return role, nil
	}
	gen := s.cache.Generation()
	role, err := s.loadRole(ctx, `WHERE r.id = $1`, id)
	if err != nil {
		return nil, err
	}
	s.cache.Put(role, gen)
	return role, nil
}

// GetRoleByName retrieves a role snapshot by name
func (s *Store) GetRoleByName(ctx context.Context, name RoleName) (*Role, error) {
	return s.loadRole(ctx, `WHERE r.name = $1`, string(name))
}

// ListRoles lists all roles ordered by id
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, roleSnapshotQuery+`ORDER BY r.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles, err := scanRoles(rows)
	if err != nil {
		return nil, err
	}
	result := make([]Role, len(roles))
	for i, r := range roles {
		result[i] = *r
	}
	return result, nil
}

// UpdateRole changes the description of a role
func (s *Store) UpdateRole(ctx context.Context, id int64, description string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE roles SET description = $1, updated_at = $2 WHERE id = $3`,
		description, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	s.cache.Invalidate(id)
	return requireAffected(result, "role", id)
}

// SetRoleActive activates or deactivates a role. Deactivation takes effect
// for every user bound to the role on their next request.
func (s *Store) SetRoleActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE roles SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	s.cache.Invalidate(id)
	return requireAffected(result, "role", id)
}

// AddFeature grants code to a role. Adding a feature the role already has
// is a no-op.
func (s *Store) AddFeature(ctx context.Context, roleID int64, code FeatureCode) error {
	return s.mutateFeatures(ctx, roleID, func(tx *sql.Tx) error {
		fid, err := featureID(ctx, tx, code)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO role_features (role_id, feature_id) VALUES ($1, $2)
			ON CONFLICT (role_id, feature_id) DO NOTHING
		`, roleID, fid)
		if err != nil {
			return fmt.Errorf("failed to add feature: %w", err)
		}
		return nil
	})
}

// RemoveFeature revokes code from a role. Removing an absent feature is a
// no-op.
func (s *Store) RemoveFeature(ctx context.Context, roleID int64, code FeatureCode) error {
	return s.mutateFeatures(ctx, roleID, func(tx *sql.Tx) error {
		fid, err := featureID(ctx, tx, code)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM role_features WHERE role_id = $1 AND feature_id = $2`, roleID, fid,
		); err != nil {
			return fmt.Errorf("failed to remove feature: %w", err)
		}
		return nil
	})
}

// SetFeatures replaces the whole feature set of a role
func (s *Store) SetFeatures(ctx context.Context, roleID int64, codes []FeatureCode) error {
	return s.mutateFeatures(ctx, roleID, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_features WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("failed to clear features: %w", err)
		}
		for _, code := range normalizeFeatures(append([]FeatureCode(nil), codes...)) {
			fid, err := featureID(ctx, tx, code)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO role_features (role_id, feature_id) VALUES ($1, $2)`, roleID, fid,
			); err != nil {
				return fmt.Errorf("failed to attach feature %s: %w", code, err)
			}
		}
		return nil
	})
}

// mutateFeatures runs fn in a transaction that first touches the role row,
// which both proves the role exists and serializes concurrent writers of
// the same role
func (s *Store) mutateFeatures(ctx context.Context, roleID int64, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE roles SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), roleID)
	if err != nil {
		return fmt.Errorf("failed to lock role: %w", err)
	}
	if err := requireAffected(result, "role", roleID); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role features: %w", err)
	}
	s.cache.Invalidate(roleID)
	return nil
}

// Bindings

// GetBinding retrieves the binding of a user, active or not
func (s *Store) GetBinding(ctx context.Context, userID int64) (*UserRoleBinding, error) {
	var (
		b          UserRoleBinding
		roleID     sql.NullInt64
		roleName   sql.NullString
		assignedBy sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT b.id, b.user_id, b.role_id, r.name, b.is_active, b.assigned_at, b.assigned_by, b.notes, b.created_at, b.updated_at
		FROM user_role_bindings b
		LEFT JOIN roles r ON r.id = b.role_id
		WHERE b.user_id = $1
	`, userID).Scan(&b.ID, &b.UserID, &roleID, &roleName, &b.IsActive, &b.AssignedAt, &assignedBy, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFound("role binding", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role binding: %w", err)
	}
	if roleID.Valid {
		id := roleID.Int64
		b.RoleID = &id
	}
	if roleName.Valid {
		b.RoleName = RoleName(roleName.String)
	}
	if assignedBy.Valid {
		id := assignedBy.Int64
		b.AssignedBy = &id
	}
	return &b, nil
}

// AssignRole points the user's single binding at roleName and activates it.
// The binding is created on first assignment and reused afterwards.
func (s *Store) AssignRole(ctx context.Context, userID int64, roleName RoleName, assignedBy *int64, notes string) (*UserRoleBinding, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1`, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFound("user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	var roleID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = $1`, string(roleName)).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFound("role", roleName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up role: %w", err)
	}

	now := time.Now().UTC()
	b := &UserRoleBinding{
		UserID:     userID,
		RoleID:     &roleID,
		RoleName:   roleName,
		IsActive:   true,
		AssignedAt: now,
		AssignedBy: assignedBy,
		Notes:      notes,
		UpdatedAt:  now,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO user_role_bindings (user_id, role_id, is_active, assigned_at, assigned_by, notes, created_at, updated_at)
		VALUES ($1, $2, TRUE, $3, $4, $5, $3, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			role_id = EXCLUDED.role_id,
			is_active = TRUE,
			assigned_at = EXCLUDED.assigned_at,
			assigned_by = EXCLUDED.assigned_by,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, userID, roleID, now, assignedBy, notes).Scan(&b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign role: %w", err)
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT created_at FROM user_role_bindings WHERE id = $1`, b.ID,
	).Scan(&b.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to read role binding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role assignment: %w", err)
	}
	return b, nil
}

// RemoveRole deactivates the user's binding. The row is kept so the last
// assignment stays visible.
func (s *Store) RemoveRole(ctx context.Context, userID int64, removedBy *int64, notes string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_role_bindings
		SET is_active = FALSE, assigned_by = $1, notes = $2, updated_at = $3
		WHERE user_id = $4
	`, removedBy, notes, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return requireAffected(result, "role binding", userID)
}

// ResolveRole returns the role of the user's active binding, or nil when
// the user has none. The role itself may be inactive; callers decide.
func (s *Store) ResolveRole(ctx context.Context, userID int64) (*Role, error) {
	var roleID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT b.role_id
		FROM user_role_bindings b
		JOIN users u ON u.id = b.user_id
		WHERE b.user_id = $1 AND b.is_active = TRUE AND b.role_id IS NOT NULL AND u.is_active = TRUE
	`, userID).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role binding: %w", err)
	}

	role, err := s.GetRole(ctx, roleID)
	if IsNotFound(err) {
		return nil, nil
	}
	return role, err
}

// SeedDefaults seeds the feature catalog and creates any missing default
// role. Existing roles keep their current feature sets.
func (s *Store) SeedDefaults(ctx context.Context) error {
	if err := s.SeedFeatures(ctx); err != nil {
		return err
	}
	for _, role := range DefaultRoles() {
		_, err := s.GetRoleByName(ctx, role.Name)
		if err == nil {
			continue
		}
		if !IsNotFound(err) {
			return err
		}
		role := role
		if err := s.CreateRole(ctx, &role); err != nil {
			return fmt.Errorf("failed to create default role %s: %w", role.Name, err)
		}
	}
	return nil
}

func requireAffected(result sql.Result, kind string, key interface{}) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return NewNotFound(kind, key)
	}
	return nil
}
