// Package permits manages vehicle permits, the main assignable entity.
//
// Every mutation goes through Service, which asks the rbac.Engine first
// (class-level, then against the loaded permit so ownership and status-role
// rules apply), validates reassignments against the assignment hierarchy,
// writes the row and its history record in one transaction and only then
// notifies.
//
// Lifecycle:
//
//	draft/pending --activate--> active --deactivate--> inactive
//	any open status --cancel--> cancelled
//	active --(valid_to passed, ExpireDue)--> expired --renew--> new pending permit
//
// New permits are balanced over the auto-assign role (junior_clerk by
// default). Concurrent writers are detected through the version column and
// surface as rbac.ErrConflictingState.
package permits
