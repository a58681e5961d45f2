package assignment

import (
	"context"

	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

// Service validates manual assignments against the hierarchy and lists the
// users an actor may hand work to
type Service struct {
	hierarchy *Hierarchy
	store     *rbac.Store
	engine    *rbac.Engine
}

// NewService creates a new assignment service
func NewService(hierarchy *Hierarchy, store *rbac.Store, engine *rbac.Engine) *Service {
	if hierarchy == nil {
		hierarchy = NewHierarchy(nil)
	}
	return &Service{hierarchy: hierarchy, store: store, engine: engine}
}

// Hierarchy returns the hierarchy the service validates against
func (s *Service) Hierarchy() *Hierarchy {
	return s.hierarchy
}

// SameAssignee reports whether current and next reference the same user,
// treating two nils as equal
func SameAssignee(current, next *int64) bool {
	if current == nil || next == nil {
		return current == nil && next == nil
	}
	return *current == *next
}

// CheckReassignment decides whether moving an item from current to next is
// a change and, if so, whether actor may make it. Reassigning to the
// current assignee is a no-op and skips the hierarchy entirely. Clearing
// the assignee needs no hierarchy check.
//
// The target must be an active user with an active role reachable from the
// actor's role; otherwise an *rbac.InvalidAssignmentTargetError naming both
// roles is returned.
func (s *Service) CheckReassignment(ctx context.Context, actor *rbac.User, current, next *int64) (bool, error) {
	if SameAssignee(current, next) {
		return false, nil
	}
	if next == nil {
		return true, nil
	}

	actorRole, err := s.actorRole(ctx, actor)
	if err != nil {
		return false, err
	}

	if _, err := s.store.GetUser(ctx, *next); err != nil {
		return false, err
	}
	targetRole, err := s.store.ResolveRole(ctx, *next)
	if err != nil {
		return false, err
	}

	if targetRole == nil || !targetRole.IsActive {
		return false, &rbac.InvalidAssignmentTargetError{ActorRole: actorRole}
	}

	if err := s.hierarchy.Validate(actorRole, targetRole.Name); err != nil {
		return false, err
	}
	return true, nil
}

// AssignableUsers lists active users whose role actor may assign to, in
// binding order
func (s *Service) AssignableUsers(ctx context.Context, actor *rbac.User) ([]rbac.User, error) {
	actorRole, err := s.actorRole(ctx, actor)
	if err != nil {
		return nil, err
	}
	if actorRole == "" {
		return []rbac.User{}, nil
	}
	users, err := s.store.ListActiveUsersInRoles(ctx, s.hierarchy.Graph().Targets(actorRole))
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []rbac.User{}
	}
	return users, nil
}

// actorRole is the role the hierarchy sees for actor. Superusers act as
// the admin role.
func (s *Service) actorRole(ctx context.Context, actor *rbac.User) (rbac.RoleName, error) {
	if !actor.IsAuthenticated() {
		return "", rbac.ErrNotAuthenticated
	}
	if actor.IsSuperuser {
		return s.hierarchy.Graph().AdminRole(), nil
	}
	role, err := s.engine.RoleOf(ctx, actor)
	if err != nil {
		return "", err
	}
	if role == nil {
		return "", nil
	}
	return role.Name, nil
}

// View is the hierarchy as one actor sees it
type View struct {
	Version                string                            `json:"version"`
	AdminRole              rbac.RoleName                     `json:"admin_role"`
	CanAssignTo            map[rbac.RoleName][]rbac.RoleName `json:"can_assign_to"`
	CurrentUserRole        rbac.RoleName                     `json:"current_user_role"`
	CurrentUserCanAssignTo []rbac.RoleName                   `json:"current_user_can_assign_to"`
}

// View returns the current graph together with actor's role and the roles
// that role may assign to. A user without a role sees no targets.
func (s *Service) View(ctx context.Context, actor *rbac.User) (*View, error) {
	role, err := s.actorRole(ctx, actor)
	if err != nil {
		return nil, err
	}
	graph := s.hierarchy.Graph()
	cfg := graph.Config()
	targets := []rbac.RoleName{}
	if role != "" {
		targets = append(targets, graph.Targets(role)...)
	}
	return &View{
		Version:                cfg.Version,
		AdminRole:              cfg.AdminRole,
		CanAssignTo:            cfg.CanAssignTo,
		CurrentUserRole:        role,
		CurrentUserCanAssignTo: targets,
	}, nil
}
