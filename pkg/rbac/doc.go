// Package rbac provides feature-based role access control for the permit and
// chalan administration backend.
//
// # Overview
//
// Every user holds at most one active role. A role is a named, activatable
// bundle of feature codes; a feature code is the unit of permission
// ("permit_edit", "chalan_mark_paid", ...). Resources and actions are mapped
// to the feature they require by a PolicyTable, and the Engine decides a
// single Request for a single User.
//
// # Roles
//
// Seven roles are seeded by SeedDefaults:
//
//	admin          - every feature
//	senior_clerk   - verification of documents and fees
//	junior_clerk   - review of permit details
//	assistant      - approval and finalisation, chalan payments
//	operator       - permit data entry
//	supervisor     - approvals and reporting
//	end_user       - own permits and chalans only
//
// Roles can be created, deactivated and have features granted or revoked at
// runtime. Mutations invalidate the RoleCache so the next decision sees the
// new feature set. Readers always observe a whole snapshot: either the set
// before a mutation or the set after it.
//
// # Decisions
//
// Authorize evaluates rules in a fixed order and stops at the first that
// applies:
//
//  1. unauthenticated or inactive callers are denied
//  2. open-read resources allow the safe action
//  3. superusers are allowed
//  4. callers without an active role are denied
//  5. restricted roles may only act on objects they created (or, where the
//     resource allows it, objects assigned to them); status changes are
//     reserved to the status roles of the resource
//  6. the role must hold the feature the policy requires
//
// Unknown resources or actions are denied. A failed role lookup is denied
// and the error returned; it is never treated as an allow.
//
// Anonymous public lookups never reach Authorize: handlers serving them
// check PolicyTable.OpenRead directly.
//
// # Usage
//
//	manager, err := rbac.NewManager(db, rbac.DefaultConfig(), logger, metrics)
//	if err != nil {
//		return err
//	}
//	if err := manager.Initialize(ctx); err != nil {
//		return err
//	}
//
//	err = manager.Engine().Require(ctx, user, rbac.Request{
//		Resource: rbac.ResourcePermit,
//		Action:   rbac.ActionEdit,
//		Object:   &rbac.Object{ID: p.ID, CreatedBy: p.CreatedBy, AssignedTo: p.AssignedTo},
//	})
//
// Require returns a *PermissionDeniedError carrying the denying rule, or
// ErrNotAuthenticated for anonymous callers. Both report their HTTP status
// through StatusCode, which httputil.WriteDomainError uses.
//
// # HTTP
//
// PermissionMiddleware guards routes at the class level (resource and
// action, no object). Handlers registers the administration API under
// /rbac: roles, features, user bindings, /rbac/me and /rbac/check.
package rbac
