package rbac

import (
	"fmt"
	"slices"
)

// OwnershipRule restricts mutation of concrete records
type OwnershipRule struct {
	// RestrictedRoles may only mutate records they created (or, with
	// AllowAssignee, records assigned to them)
	RestrictedRoles []RoleName
	AllowAssignee   bool

	// StatusRoles, when non-empty, are the only roles allowed ActionChangeStatus
	StatusRoles []RoleName
}

func (o *OwnershipRule) restricts(role RoleName) bool {
	return o != nil && slices.Contains(o.RestrictedRoles, role)
}

// owns reports whether userID may treat obj as its own
func (o *OwnershipRule) owns(userID int64, obj *Object) bool {
	if obj.CreatedBy != nil && *obj.CreatedBy == userID {
		return true
	}
	return o.AllowAssignee && obj.AssignedTo != nil && *obj.AssignedTo == userID
}

// ResourcePolicy maps the verbs of one resource type to features
type ResourcePolicy struct {
	// OpenRead allows safe actions without authentication
	OpenRead bool
	// Features maps an action to its required feature
	Features map[Action]FeatureCode
	// Fallback is required for actions absent from Features; empty means
	// unknown actions are denied
	Fallback  FeatureCode
	Ownership *OwnershipRule
}

// PolicyTable is the per-resource policy consulted by Engine
type PolicyTable map[ResourceType]ResourcePolicy

// RequiredFeature returns the feature needed for action on resource
func (t PolicyTable) RequiredFeature(resource ResourceType, action Action) (FeatureCode, bool) {
	policy, ok := t[resource]
	if !ok {
		return "", false
	}
	if code, ok := policy.Features[action]; ok {
		return code, true
	}
	if policy.Fallback != "" {
		return policy.Fallback, true
	}
	return "", false
}

// OpenRead reports whether action is a safe read on a resource whose reads
// are public. Handlers serving anonymous lookups consult it directly since
// Authorize denies unauthenticated callers first.
func (t PolicyTable) OpenRead(resource ResourceType, action Action) bool {
	policy, ok := t[resource]
	return ok && policy.OpenRead && action.IsSafe()
}

// Validate checks that every referenced feature is part of the catalog
func (t PolicyTable) Validate() error {
	for resource, policy := range t {
		for action, code := range policy.Features {
			if !IsKnownFeature(code) {
				return fmt.Errorf("policy %s/%s references unknown feature %q", resource, action, code)
			}
		}
		if policy.Fallback != "" && !IsKnownFeature(policy.Fallback) {
			return fmt.Errorf("policy %s fallback references unknown feature %q", resource, policy.Fallback)
		}
	}
	return nil
}

// DefaultPolicies returns the policy table for permits, chalans and the
// administrative resources.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		ResourcePermit: {
			Features: map[Action]FeatureCode{
				ActionView:         FeaturePermitView,
				ActionList:         FeaturePermitView,
				ActionCreate:       FeaturePermitCreate,
				ActionEdit:         FeaturePermitEdit,
				ActionDelete:       FeaturePermitDelete,
				ActionAssign:       FeaturePermitAssign,
				ActionChangeStatus: FeaturePermitEdit,
				ActionRenew:        FeaturePermitRenew,
				ActionCancel:       FeaturePermitCancel,
			},
			Ownership: &OwnershipRule{
				RestrictedRoles: []RoleName{RoleEndUser},
				StatusRoles:     []RoleName{RoleAdmin, RoleAssistant},
			},
		},
		ResourcePermitLookup: {
			OpenRead: true,
			Features: map[Action]FeatureCode{
				ActionView: FeaturePermitCheck,
				ActionList: FeaturePermitCheck,
			},
		},
		ResourceChalan: {
			Features: map[Action]FeatureCode{
				ActionView:       FeatureChalanView,
				ActionList:       FeatureChalanView,
				ActionCreate:     FeatureChalanCreate,
				ActionEdit:       FeatureChalanEdit,
				ActionAssign:     FeatureChalanEdit,
				ActionMarkPaid:   FeatureChalanMarkPaid,
				ActionManageFees: FeatureChalanManageFees,
				ActionCancel:     FeatureChalanCancel,
				ActionDispute:    FeatureChalanEdit,
				ActionResolve:    FeatureChalanEdit,
			},
			Ownership: &OwnershipRule{
				RestrictedRoles: []RoleName{RoleEndUser},
				AllowAssignee:   true,
			},
		},
		ResourceVehicleFee: {
			Features: map[Action]FeatureCode{
				ActionView: FeatureChalanVehicleFeeView,
				ActionList: FeatureChalanVehicleFeeView,
			},
			Fallback: FeatureChalanVehicleFeeManage,
		},
		ResourceUser:      {Fallback: FeatureUserManage},
		ResourceRole:      {Fallback: FeatureRoleManage},
		ResourceReport:    {Features: map[Action]FeatureCode{ActionView: FeatureReportView, ActionList: FeatureReportView}},
		ResourceDashboard: {Features: map[Action]FeatureCode{ActionView: FeatureDashboardView}},
	}
}
