// Package assignment routes work items (permits, chalans) to handlers.
//
// # Hierarchy
//
// A Graph is the canAssignTo relation between roles: which roles a role may
// hand work to. It is configuration, loaded from YAML:
//
//	version: "2024-06"
//	admin_role: admin
//	can_assign_to:
//	  admin:        [admin, senior_clerk, junior_clerk, assistant]
//	  senior_clerk: [senior_clerk, junior_clerk, assistant]
//	  assistant:    [assistant, senior_clerk, junior_clerk]
//	  junior_clerk: [senior_clerk]
//	  end_user:     []
//
// The admin role may assign to anyone. Hierarchy holds the current graph
// and Watch swaps in a new one when the file changes.
//
// # Manual reassignment
//
// Service.CheckReassignment validates a hand-off. Moving an item to the
// user it is already assigned to is a no-op that never consults the graph.
// A rejected hand-off yields *rbac.InvalidAssignmentTargetError naming both
// roles.
//
// GET /assignment/hierarchy returns the current graph together with the
// caller's role and the roles it may assign to.
//
// # Auto-assignment
//
// Balancer.Assign picks the active user of a role with the fewest open
// items and writes the assignment in the same transaction. Candidates are
// ordered by binding, and the earliest wins a tie. Each run first bumps a
// row in assignment_locks, so two concurrent runs for the same pool cannot
// both pick the same user without seeing each other's write. Lost races
// are retried and finally reported as rbac.ErrConflictingState. A role
// without eligible users leaves the item unassigned.
package assignment
