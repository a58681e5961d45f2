package assignment

import (
	"fmt"
	"os"
	"slices"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

// GraphConfig is the on-disk form of the hierarchy
type GraphConfig struct {
	Version     string                            `yaml:"version"`
	AdminRole   rbac.RoleName                     `yaml:"admin_role"`
	CanAssignTo map[rbac.RoleName][]rbac.RoleName `yaml:"can_assign_to"`
}

// Graph is an immutable canAssignTo relation between roles. The admin role
// may assign to any role regardless of its edges.
type Graph struct {
	version   string
	adminRole rbac.RoleName
	edges     map[rbac.RoleName][]rbac.RoleName
}

// NewGraph builds a graph from cfg. Every role named as a target must also
// appear as a source, so that typos surface at load time.
func NewGraph(cfg GraphConfig) (*Graph, error) {
	if cfg.AdminRole == "" {
		cfg.AdminRole = rbac.RoleAdmin
	}
	edges := make(map[rbac.RoleName][]rbac.RoleName, len(cfg.CanAssignTo))
	for from, targets := range cfg.CanAssignTo {
		if from == "" {
			return nil, fmt.Errorf("hierarchy: empty role name")
		}
		cleaned := slices.Clone(targets)
		slices.Sort(cleaned)
		edges[from] = slices.Compact(cleaned)
	}
	for from, targets := range edges {
		for _, to := range targets {
			if _, ok := edges[to]; !ok {
				return nil, fmt.Errorf("hierarchy: role %q assigns to undeclared role %q", from, to)
			}
		}
	}
	return &Graph{version: cfg.Version, adminRole: cfg.AdminRole, edges: edges}, nil
}

// DefaultGraph returns the built-in hierarchy
func DefaultGraph() *Graph {
	g, err := NewGraph(GraphConfig{
		Version:   "builtin",
		AdminRole: rbac.RoleAdmin,
		CanAssignTo: map[rbac.RoleName][]rbac.RoleName{
			rbac.RoleAdmin:       {rbac.RoleAdmin, rbac.RoleSeniorClerk, rbac.RoleJuniorClerk, rbac.RoleAssistant},
			rbac.RoleSeniorClerk: {rbac.RoleSeniorClerk, rbac.RoleJuniorClerk, rbac.RoleAssistant},
			rbac.RoleAssistant:   {rbac.RoleAssistant, rbac.RoleSeniorClerk, rbac.RoleJuniorClerk},
			rbac.RoleJuniorClerk: {rbac.RoleSeniorClerk},
			rbac.RoleEndUser:     {},
			rbac.RoleOperator:    {},
			rbac.RoleSupervisor:  {},
		},
	})
	if err != nil {
		panic(err)
	}
	return g
}

// ParseGraph decodes a YAML hierarchy
func ParseGraph(data []byte) (*Graph, error) {
	var cfg GraphConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse hierarchy: %w", err)
	}
	if len(cfg.CanAssignTo) == 0 {
		return nil, fmt.Errorf("hierarchy: can_assign_to is empty")
	}
	return NewGraph(cfg)
}

// LoadGraph reads and parses a YAML hierarchy file
func LoadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hierarchy %s: %w", path, err)
	}
	return ParseGraph(data)
}

// Version returns the version label of the configuration
func (g *Graph) Version() string {
	return g.version
}

// AdminRole returns the role that overrides the graph
func (g *Graph) AdminRole() rbac.RoleName {
	return g.adminRole
}

// CanAssign reports whether actor may hand work to a user holding target
func (g *Graph) CanAssign(actor, target rbac.RoleName) bool {
	if actor == "" {
		return false
	}
	if actor == g.adminRole {
		return true
	}
	_, found := slices.BinarySearch(g.edges[actor], target)
	return found
}

// Validate is CanAssign returning an error that names both roles
func (g *Graph) Validate(actor, target rbac.RoleName) error {
	if g.CanAssign(actor, target) {
		return nil
	}
	return &rbac.InvalidAssignmentTargetError{ActorRole: actor, TargetRole: target}
}

// Targets lists the roles actor may assign to, sorted
func (g *Graph) Targets(actor rbac.RoleName) []rbac.RoleName {
	if actor == g.adminRole {
		all := make([]rbac.RoleName, 0, len(g.edges))
		for role := range g.edges {
			all = append(all, role)
		}
		slices.Sort(all)
		return all
	}
	return slices.Clone(g.edges[actor])
}

// Config returns the graph in its on-disk form
func (g *Graph) Config() GraphConfig {
	edges := make(map[rbac.RoleName][]rbac.RoleName, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = slices.Clone(targets)
	}
	return GraphConfig{Version: g.version, AdminRole: g.adminRole, CanAssignTo: edges}
}

// Hierarchy holds the current graph. Readers always see a whole graph;
// Replace swaps it atomically.
type Hierarchy struct {
	current atomic.Pointer[Graph]
}

// NewHierarchy creates a hierarchy serving g, or the default graph when g
// is nil
func NewHierarchy(g *Graph) *Hierarchy {
	if g == nil {
		g = DefaultGraph()
	}
	h := &Hierarchy{}
	h.current.Store(g)
	return h
}

// Graph returns the current graph
func (h *Hierarchy) Graph() *Graph {
	return h.current.Load()
}

// Replace installs g as the current graph
func (h *Hierarchy) Replace(g *Graph) {
	h.current.Store(g)
}

// Validate checks actor -> target against the current graph
func (h *Hierarchy) Validate(actor, target rbac.RoleName) error {
	return h.Graph().Validate(actor, target)
}
