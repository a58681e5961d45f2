package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/permitdesk/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	// RoleCacheSize and RoleCacheTTL size the role snapshot cache; either
	// one zero disables it
	RoleCacheSize int
	RoleCacheTTL  time.Duration

	// DefaultRole is bound to newly created users
	DefaultRole RoleName

	Policies PolicyTable
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		RoleCacheSize: 64,
		RoleCacheTTL:  30 * time.Second,
		DefaultRole:   RoleEndUser,
	}
}

// Manager wires the store, cache, engine, middleware and handlers
type Manager struct {
	store      *Store
	cache      *RoleCache
	engine     *Engine
	handlers   *Handlers
	middleware *PermissionMiddleware
}

// NewManager creates a new RBAC manager
func NewManager(db *sql.DB, config Config, logger *observability.Logger, metrics *observability.Metrics) (*Manager, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	policies := config.Policies
	if policies == nil {
		policies = DefaultPolicies()
	}
	if err := policies.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy table: %w", err)
	}

	cache := NewRoleCache(config.RoleCacheSize, config.RoleCacheTTL, metrics)
	store := NewStore(db, WithRoleCache(cache), WithDefaultRole(config.DefaultRole))
	engine := NewEngine(store,
		WithPolicies(policies),
		WithEngineLogger(logger.WithField("component", "rbac")),
		WithEngineMetrics(metrics),
	)

	return &Manager{
		store:      store,
		cache:      cache,
		engine:     engine,
		handlers:   NewHandlers(store, engine),
		middleware: NewPermissionMiddleware(engine),
	}, nil
}

// Initialize seeds the feature catalog and the default roles
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.store.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("failed to seed roles: %w", err)
	}
	return nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router, m.middleware)
}

// Store returns the RBAC store
func (m *Manager) Store() *Store {
	return m.store
}

// Engine returns the authorization engine
func (m *Manager) Engine() *Engine {
	return m.engine
}

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// PurgeCache drops every cached role snapshot
func (m *Manager) PurgeCache() {
	m.cache.Purge()
}

// BootstrapAdmin makes username a superuser bound to the admin role,
// creating the user when missing
func (m *Manager) BootstrapAdmin(ctx context.Context, username string) (*User, error) {
	user, err := m.store.GetUserByUsername(ctx, username)
	if IsNotFound(err) {
		user = &User{Username: username, FullName: "Administrator", IsActive: true, IsSuperuser: true}
		if err := m.store.CreateUser(ctx, user); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if _, err := m.store.AssignRole(ctx, user.ID, RoleAdmin, nil, "bootstrap administrator"); err != nil {
		return nil, fmt.Errorf("failed to bind admin role: %w", err)
	}
	return user, nil
}

// Stats returns counts about the RBAC system
type Stats struct {
	TotalUsers     int64 `json:"total_users"`
	ActiveBindings int64 `json:"active_bindings"`
	TotalRoles     int64 `json:"total_roles"`
	InactiveRoles  int64 `json:"inactive_roles"`
	CachedRoles    int   `json:"cached_roles"`
}

// GetStats returns RBAC statistics
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{CachedRoles: m.cache.Len()}
	db := m.store.db

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&stats.TotalUsers); err != nil {
		return nil, err
	}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_role_bindings WHERE is_active = TRUE").Scan(&stats.ActiveBindings); err != nil {
		return nil, err
	}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles").Scan(&stats.TotalRoles); err != nil {
		return nil, err
	}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles WHERE is_active = FALSE").Scan(&stats.InactiveRoles); err != nil {
		return nil, err
	}
	return stats, nil
}
