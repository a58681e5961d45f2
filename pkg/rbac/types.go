package rbac

import (
	"slices"
	"time"
)

// RoleName is the unique name of a role
type RoleName string

// Built-in roles, lowest privilege last
const (
	RoleAdmin       RoleName = "admin"
	RoleSeniorClerk RoleName = "senior_clerk"
	RoleJuniorClerk RoleName = "junior_clerk"
	RoleAssistant   RoleName = "assistant"
	RoleOperator    RoleName = "operator"
	RoleSupervisor  RoleName = "supervisor"
	RoleEndUser     RoleName = "end_user"
)

// Feature is a seeded, immutable capability
type Feature struct {
	ID          int64       `json:"id"`
	Code        FeatureCode `json:"code"`
	Description string      `json:"description"`
}

// Role is a named bundle of features. Features is kept sorted and
// deduplicated; a Role returned by the store is a snapshot and is never
// mutated in place by this package.
type Role struct {
	ID          int64         `json:"id"`
	Name        RoleName      `json:"name"`
	Description string        `json:"description"`
	IsActive    bool          `json:"is_active"`
	Features    []FeatureCode `json:"features"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// HasFeature reports whether the role grants code
func (r *Role) HasFeature(code FeatureCode) bool {
	return HasFeature(r, code)
}

// Clone returns a deep copy
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	c := *r
	c.Features = slices.Clone(r.Features)
	return &c
}

// normalizeFeatures sorts and deduplicates codes in place
func normalizeFeatures(codes []FeatureCode) []FeatureCode {
	slices.Sort(codes)
	return slices.Compact(codes)
}

// User is a caller identity as resolved by the transport layer
type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	FullName    string    `json:"full_name,omitempty"`
	IsActive    bool      `json:"is_active"`
	IsSuperuser bool      `json:"is_superuser"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsAuthenticated reports whether u is a persisted, active identity
func (u *User) IsAuthenticated() bool {
	return u != nil && u.ID > 0 && u.IsActive
}

// UserRoleBinding is the single role pointer a user owns. Bindings are never
// deleted; removal clears IsActive.
type UserRoleBinding struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	RoleID     *int64    `json:"role_id,omitempty"`
	RoleName   RoleName  `json:"role_name,omitempty"`
	IsActive   bool      `json:"is_active"`
	AssignedAt time.Time `json:"assigned_at"`
	AssignedBy *int64    `json:"assigned_by,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ResourceType names a class of protected records
type ResourceType string

const (
	ResourcePermit       ResourceType = "permit"
	ResourcePermitLookup ResourceType = "permit_lookup"
	ResourceChalan       ResourceType = "chalan"
	ResourceVehicleFee   ResourceType = "vehicle_fee"
	ResourceUser         ResourceType = "user"
	ResourceRole         ResourceType = "role"
	ResourceReport       ResourceType = "report"
	ResourceDashboard    ResourceType = "dashboard"
)

// Action is the verb of an authorization request
type Action string

const (
	ActionView         Action = "view"
	ActionList         Action = "list"
	ActionCreate       Action = "create"
	ActionEdit         Action = "edit"
	ActionDelete       Action = "delete"
	ActionAssign       Action = "assign"
	ActionChangeStatus Action = "change_status"
	ActionRenew        Action = "renew"
	ActionCancel       Action = "cancel"
	ActionMarkPaid     Action = "mark_paid"
	ActionManageFees   Action = "manage_fees"
	ActionDispute      Action = "dispute"
	ActionResolve      Action = "resolve"
)

// IsSafe reports whether the action only reads
func (a Action) IsSafe() bool {
	return a == ActionView || a == ActionList
}

// Object carries the ownership facts of a concrete record
type Object struct {
	ID         int64
	CreatedBy  *int64
	AssignedTo *int64
}

// Request is a single authorization question
type Request struct {
	Resource ResourceType
	Action   Action
	// Object is nil for class-level checks such as create or list
	Object *Object
}

// DecisionRule names the resolution step that produced a decision
type DecisionRule string

const (
	RuleUnauthenticated DecisionRule = "unauthenticated"
	RuleOpenRead        DecisionRule = "open_read"
	RuleBypass          DecisionRule = "bypass"
	RuleNoRole          DecisionRule = "no_role"
	RuleRoleInactive    DecisionRule = "role_inactive"
	RuleOwnership       DecisionRule = "ownership"
	RuleStatusRole      DecisionRule = "status_role"
	RuleFeature         DecisionRule = "feature"
	RuleUnknownAction   DecisionRule = "unknown_action"
	RuleLookupError     DecisionRule = "lookup_error"
)

// Decision is the outcome of Authorize
type Decision struct {
	Allowed bool         `json:"allowed"`
	Rule    DecisionRule `json:"rule"`
	Reason  string       `json:"reason,omitempty"`
	Feature FeatureCode  `json:"feature,omitempty"`
	Role    RoleName     `json:"role,omitempty"`
}

// Err converts a deny into the matching typed error; it is nil on allow
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Rule == RuleUnauthenticated {
		return ErrNotAuthenticated
	}
	return &PermissionDeniedError{Reason: d.Reason, Rule: d.Rule, Feature: d.Feature}
}

func allow(rule DecisionRule, role RoleName, feature FeatureCode) Decision {
	return Decision{Allowed: true, Rule: rule, Role: role, Feature: feature}
}

func deny(rule DecisionRule, role RoleName, feature FeatureCode, reason string) Decision {
	return Decision{Rule: rule, Role: role, Feature: feature, Reason: reason}
}
