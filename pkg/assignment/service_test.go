package assignment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permitdesk/pkg/rbac"
)

func setupService(t *testing.T) (*Service, *rbac.Store) {
	t.Helper()
	_, store := setupBalancerDB(t)
	return NewService(NewHierarchy(nil), store, rbac.NewEngine(store)), store
}

func id(u *rbac.User) *int64 {
	v := u.ID
	return &v
}

func TestSameAssignee(t *testing.T) {
	one, two := int64(1), int64(2)
	otherOne := int64(1)

	assert.True(t, SameAssignee(nil, nil))
	assert.True(t, SameAssignee(&one, &otherOne))
	assert.False(t, SameAssignee(&one, &two))
	assert.False(t, SameAssignee(nil, &one))
	assert.False(t, SameAssignee(&one, nil))
}

func TestCheckReassignment(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	junior := rbac.Fixture(t, store, "junior", rbac.RoleJuniorClerk)
	otherJunior := rbac.Fixture(t, store, "junior-2", rbac.RoleJuniorClerk)
	senior := rbac.Fixture(t, store, "senior", rbac.RoleSeniorClerk)
	admin := rbac.Fixture(t, store, "admin", rbac.RoleAdmin)
	citizen := rbac.Fixture(t, store, "citizen", rbac.RoleEndUser)

	t.Run("same assignee is a no-op even when the graph forbids it", func(t *testing.T) {
		changed, err := svc.CheckReassignment(ctx, junior, id(admin), id(admin))
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("junior to admin rejected naming both roles", func(t *testing.T) {
		_, err := svc.CheckReassignment(ctx, junior, id(senior), id(admin))
		var target *rbac.InvalidAssignmentTargetError
		require.True(t, errors.As(err, &target))
		assert.Equal(t, rbac.RoleJuniorClerk, target.ActorRole)
		assert.Equal(t, rbac.RoleAdmin, target.TargetRole)
	})

	t.Run("junior to senior allowed", func(t *testing.T) {
		changed, err := svc.CheckReassignment(ctx, junior, nil, id(senior))
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("junior to junior rejected", func(t *testing.T) {
		_, err := svc.CheckReassignment(ctx, junior, nil, id(otherJunior))
		assert.ErrorIs(t, err, rbac.ErrInvalidAssignmentTarget)
	})

	t.Run("admin overrides the graph", func(t *testing.T) {
		changed, err := svc.CheckReassignment(ctx, admin, id(senior), id(citizen))
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("superuser acts as admin", func(t *testing.T) {
		root := &rbac.User{ID: citizen.ID, Username: "root", IsActive: true, IsSuperuser: true}
		changed, err := svc.CheckReassignment(ctx, root, nil, id(junior))
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("clearing the assignee", func(t *testing.T) {
		changed, err := svc.CheckReassignment(ctx, junior, id(senior), nil)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("unknown target", func(t *testing.T) {
		missing := int64(9999)
		_, err := svc.CheckReassignment(ctx, admin, nil, &missing)
		assert.True(t, rbac.IsNotFound(err))
	})

	t.Run("inactive target", func(t *testing.T) {
		gone := rbac.Fixture(t, store, "gone", rbac.RoleSeniorClerk)
		require.NoError(t, store.SetUserActive(ctx, gone.ID, false))
		_, err := svc.CheckReassignment(ctx, admin, nil, id(gone))
		assert.ErrorIs(t, err, rbac.ErrInvalidAssignmentTarget)
	})

	t.Run("anonymous actor", func(t *testing.T) {
		_, err := svc.CheckReassignment(ctx, nil, nil, id(senior))
		assert.ErrorIs(t, err, rbac.ErrNotAuthenticated)
	})
}

func TestCheckReassignment_HierarchyReplaced(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	junior := rbac.Fixture(t, store, "junior", rbac.RoleJuniorClerk)
	other := rbac.Fixture(t, store, "junior-2", rbac.RoleJuniorClerk)

	_, err := svc.CheckReassignment(ctx, junior, nil, id(other))
	require.Error(t, err)

	g, err := ParseGraph([]byte("can_assign_to:\n  junior_clerk: [junior_clerk]\n"))
	require.NoError(t, err)
	svc.Hierarchy().Replace(g)

	changed, err := svc.CheckReassignment(ctx, junior, nil, id(other))
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestAssignableUsers(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	junior := rbac.Fixture(t, store, "junior", rbac.RoleJuniorClerk)
	senior := rbac.Fixture(t, store, "senior", rbac.RoleSeniorClerk)
	assistant := rbac.Fixture(t, store, "assistant", rbac.RoleAssistant)
	citizen := rbac.Fixture(t, store, "citizen", rbac.RoleEndUser)

	users, err := svc.AssignableUsers(ctx, junior)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, senior.ID, users[0].ID)

	users, err = svc.AssignableUsers(ctx, senior)
	require.NoError(t, err)
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	assert.Equal(t, []int64{junior.ID, senior.ID, assistant.ID}, ids)

	users, err = svc.AssignableUsers(ctx, citizen)
	require.NoError(t, err)
	assert.Empty(t, users)

	nobody := rbac.Fixture(t, store, "nobody", "")
	users, err = svc.AssignableUsers(ctx, nobody)
	require.NoError(t, err)
	assert.Empty(t, users)
}
