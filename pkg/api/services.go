package api

import (
	"database/sql"
	"fmt"

	"github.com/platinummonkey/permitdesk/pkg/assignment"
	"github.com/platinummonkey/permitdesk/pkg/auth"
	"github.com/platinummonkey/permitdesk/pkg/chalans"
	"github.com/platinummonkey/permitdesk/pkg/config"
	"github.com/platinummonkey/permitdesk/pkg/history"
	"github.com/platinummonkey/permitdesk/pkg/notify"
	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/platinummonkey/permitdesk/pkg/permits"
	"github.com/platinummonkey/permitdesk/pkg/rbac"
	"github.com/platinummonkey/permitdesk/pkg/storage"
)

// Migrations returns every migration set in dependency order
func Migrations() []storage.MigrationSet {
	return []storage.MigrationSet{
		rbac.Migrations(),
		assignment.Migrations(),
		permits.Migrations(),
		chalans.Migrations(),
		auth.Migrations(),
	}
}

// Options configures NewServices
type Options struct {
	Authz config.AuthzConfig

	// Graph is the initial canAssignTo graph; nil uses assignment.DefaultGraph
	Graph    *assignment.Graph
	Notifier notify.Notifier
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Services is the wired domain layer the HTTP server and the background
// jobs share
type Services struct {
	RBAC        *rbac.Manager
	Hierarchy   *assignment.Hierarchy
	Assignments *assignment.Service
	Balancer    *assignment.Balancer
	Ledger      *history.Ledger
	Permits     *permits.Service
	Chalans     *chalans.Service
	Tokens      *auth.TokenStore
}

// NewServices wires the domain services over db
func NewServices(db *sql.DB, opts Options) (*Services, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	metrics := opts.Metrics
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	rbacConfig := rbac.DefaultConfig()
	rbacConfig.RoleCacheSize = opts.Authz.RoleCacheSize
	rbacConfig.RoleCacheTTL = opts.Authz.RoleCacheTTL
	if opts.Authz.DefaultRole != "" {
		rbacConfig.DefaultRole = rbac.RoleName(opts.Authz.DefaultRole)
	}
	manager, err := rbac.NewManager(db, rbacConfig, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create rbac manager: %w", err)
	}

	graph := opts.Graph
	if graph == nil {
		graph = assignment.DefaultGraph()
	}
	hierarchy := assignment.NewHierarchy(graph)
	assignments := assignment.NewService(hierarchy, manager.Store(), manager.Engine())

	retries := opts.Authz.AssignRetries
	if retries < 1 {
		retries = 1
	}
	balancer := assignment.NewBalancer(db,
		assignment.WithRetries(retries),
		assignment.WithBalancerLogger(logger.WithField("component", "balancer")),
		assignment.WithBalancerMetrics(metrics),
	)
	ledger := history.NewLedger(db, history.WithLedgerMetrics(metrics))

	permitService := permits.NewService(db, ledger, manager.Engine(), assignments, balancer,
		permits.WithNotifier(notifier),
		permits.WithAutoAssignRole(rbac.RoleName(opts.Authz.AutoAssignRole)),
		permits.WithLogger(logger.WithField("component", "permits")),
		permits.WithMetrics(metrics),
	)
	chalanService := chalans.NewService(db, ledger, manager.Engine(), assignments, balancer,
		chalans.WithNotifier(notifier),
		chalans.WithAutoAssignRole(rbac.RoleName(opts.Authz.ChalanAutoAssignRole)),
		chalans.WithLogger(logger.WithField("component", "chalans")),
		chalans.WithMetrics(metrics),
	)

	return &Services{
		RBAC:        manager,
		Hierarchy:   hierarchy,
		Assignments: assignments,
		Balancer:    balancer,
		Ledger:      ledger,
		Permits:     permitService,
		Chalans:     chalanService,
		Tokens:      auth.NewTokenStore(db),
	}, nil
}
