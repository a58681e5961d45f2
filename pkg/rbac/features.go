package rbac

import "slices"

// FeatureCode identifies one capability from the closed feature set
type FeatureCode string

const (
	FeaturePermitView   FeatureCode = "permit_view"
	FeaturePermitCreate FeatureCode = "permit_create"
	FeaturePermitEdit   FeatureCode = "permit_edit"
	FeaturePermitDelete FeatureCode = "permit_delete"
	FeaturePermitCheck  FeatureCode = "permit_check"
	FeaturePermitSubmit FeatureCode = "permit_submit"
	FeaturePermitShare  FeatureCode = "permit_share"
	FeaturePermitRenew  FeatureCode = "permit_renew"
	FeaturePermitCancel FeatureCode = "permit_cancel"
	FeaturePermitAssign FeatureCode = "permit_assign"

	FeatureChalanView             FeatureCode = "chalan_view"
	FeatureChalanCreate           FeatureCode = "chalan_create"
	FeatureChalanEdit             FeatureCode = "chalan_edit"
	FeatureChalanManageFees       FeatureCode = "chalan_manage_fees"
	FeatureChalanMarkPaid         FeatureCode = "chalan_mark_paid"
	FeatureChalanCancel           FeatureCode = "chalan_cancel"
	FeatureChalanVehicleFeeView   FeatureCode = "chalan_vehicle_fee_view"
	FeatureChalanVehicleFeeManage FeatureCode = "chalan_vehicle_fee_manage"

	FeatureUserManage    FeatureCode = "user_manage"
	FeatureRoleManage    FeatureCode = "role_manage"
	FeatureReportView    FeatureCode = "report_view"
	FeatureDashboardView FeatureCode = "dashboard_view"
	FeatureEmployee      FeatureCode = "employee"
)

var featureCatalog = []Feature{
	{Code: FeaturePermitView, Description: "View Permits"},
	{Code: FeaturePermitCreate, Description: "Create Permits"},
	{Code: FeaturePermitEdit, Description: "Edit Permits"},
	{Code: FeaturePermitDelete, Description: "Delete Permits"},
	{Code: FeaturePermitCheck, Description: "Check Permits"},
	{Code: FeaturePermitSubmit, Description: "Submit Permits"},
	{Code: FeaturePermitShare, Description: "Share Permits"},
	{Code: FeaturePermitRenew, Description: "Renew Permits"},
	{Code: FeaturePermitCancel, Description: "Cancel Permits"},
	{Code: FeaturePermitAssign, Description: "Assign Permits"},
	{Code: FeatureChalanView, Description: "View Chalans"},
	{Code: FeatureChalanCreate, Description: "Create Chalans"},
	{Code: FeatureChalanEdit, Description: "Edit Chalans"},
	{Code: FeatureChalanManageFees, Description: "Manage Chalan Fees"},
	{Code: FeatureChalanMarkPaid, Description: "Mark Chalans Paid"},
	{Code: FeatureChalanCancel, Description: "Cancel Chalans"},
	{Code: FeatureChalanVehicleFeeView, Description: "View Vehicle Fee Structure"},
	{Code: FeatureChalanVehicleFeeManage, Description: "Manage Vehicle Fee Structure"},
	{Code: FeatureUserManage, Description: "Manage Users"},
	{Code: FeatureRoleManage, Description: "Manage Roles"},
	{Code: FeatureReportView, Description: "View Reports"},
	{Code: FeatureDashboardView, Description: "View Dashboard"},
	{Code: FeatureEmployee, Description: "Employee Access"},
}

// AllFeatureCodes returns every known feature code
func AllFeatureCodes() []FeatureCode {
	codes := make([]FeatureCode, len(featureCatalog))
	for i, f := range featureCatalog {
		codes[i] = f.Code
	}
	return codes
}

// IsKnownFeature reports whether code belongs to the closed feature set
func IsKnownFeature(code FeatureCode) bool {
	for _, f := range featureCatalog {
		if f.Code == code {
			return true
		}
	}
	return false
}

// HasFeature is the fail-closed feature lookup: a nil or inactive role has
// no features.
func HasFeature(role *Role, code FeatureCode) bool {
	if role == nil || !role.IsActive {
		return false
	}
	return slices.Contains(role.Features, code)
}

// HasAnyFeature reports whether the role grants at least one of codes
func HasAnyFeature(role *Role, codes ...FeatureCode) bool {
	for _, code := range codes {
		if HasFeature(role, code) {
			return true
		}
	}
	return false
}

// DefaultRoles returns the seeded roles and their feature bundles
func DefaultRoles() []Role {
	bundles := []struct {
		name        RoleName
		description string
		features    []FeatureCode
	}{
		{RoleAdmin, "Administrator with full access to all features", AllFeatureCodes()},
		{RoleSeniorClerk, "Senior clerk verifying documents and fees", []FeatureCode{
			FeaturePermitView, FeaturePermitEdit, FeaturePermitCheck, FeaturePermitAssign, FeaturePermitRenew,
			FeatureChalanView, FeatureChalanEdit, FeatureChalanVehicleFeeView,
			FeatureReportView, FeatureDashboardView, FeatureEmployee,
		}},
		{RoleJuniorClerk, "Junior clerk reviewing permit details", []FeatureCode{
			FeaturePermitView, FeaturePermitCheck, FeaturePermitAssign,
			FeatureChalanView, FeatureDashboardView, FeatureEmployee,
		}},
		{RoleAssistant, "Assistant approving and finalizing permits", []FeatureCode{
			FeaturePermitView, FeaturePermitEdit, FeaturePermitCheck, FeaturePermitAssign,
			FeaturePermitCancel, FeaturePermitRenew,
			FeatureChalanView, FeatureChalanCreate, FeatureChalanEdit, FeatureChalanManageFees,
			FeatureChalanMarkPaid, FeatureChalanCancel, FeatureChalanVehicleFeeView,
			FeatureReportView, FeatureDashboardView, FeatureEmployee,
		}},
		{RoleOperator, "Operator with permit management access", []FeatureCode{
			FeaturePermitView, FeaturePermitCreate, FeaturePermitEdit, FeaturePermitCheck,
			FeaturePermitSubmit, FeaturePermitShare, FeaturePermitRenew, FeatureDashboardView,
		}},
		{RoleSupervisor, "Supervisor with approval and reporting access", []FeatureCode{
			FeaturePermitView, FeaturePermitEdit, FeaturePermitCancel, FeaturePermitCheck,
			FeatureReportView, FeatureDashboardView,
		}},
		{RoleEndUser, "End user with basic permit access", []FeatureCode{
			FeaturePermitView, FeaturePermitCreate, FeaturePermitEdit, FeaturePermitCheck,
			FeaturePermitSubmit, FeaturePermitShare, FeatureChalanView, FeatureDashboardView,
		}},
	}

	roles := make([]Role, 0, len(bundles))
	for _, b := range bundles {
		roles = append(roles, Role{
			Name:        b.name,
			Description: b.description,
			IsActive:    true,
			Features:    normalizeFeatures(slices.Clone(b.features)),
		})
	}
	return roles
}
