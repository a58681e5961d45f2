package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/platinummonkey/permitdesk/pkg/storage"
	"github.com/platinummonkey/permitdesk/pkg/storage/sqlitetest"
)

// setupTestDB returns a migrated in-memory database with features and
// default roles seeded
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := sqlitetest.Open(t, Migrations())
	require.NoError(t, NewStore(db).SeedDefaults(context.Background()))
	return db
}

func TestStore_SeedDefaults(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	features, err := store.ListFeatures(ctx)
	require.NoError(t, err)
	assert.Len(t, features, len(AllFeatureCodes()))

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, len(DefaultRoles()))

	admin, err := store.GetRoleByName(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, admin.Features, len(AllFeatureCodes()))
	assert.True(t, admin.IsActive)

	// seeding again leaves edited roles alone
	require.NoError(t, store.RemoveFeature(ctx, admin.ID, FeatureEmployee))
	require.NoError(t, store.SeedDefaults(ctx))
	admin, err = store.GetRoleByName(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.False(t, admin.HasFeature(FeatureEmployee))
}

func TestStore_CreateRole(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	role := &Role{
		Name:     "auditor",
		IsActive: true,
		Features: []FeatureCode{FeatureReportView, FeaturePermitView, FeatureReportView},
	}
	require.NoError(t, store.CreateRole(ctx, role))
	assert.NotZero(t, role.ID)

	got, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleName("auditor"), got.Name)
	assert.Equal(t, []FeatureCode{FeaturePermitView, FeatureReportView}, got.Features)

	t.Run("duplicate name conflicts", func(t *testing.T) {
		err := store.CreateRole(ctx, &Role{Name: "auditor", IsActive: true})
		assert.ErrorIs(t, err, ErrConflictingState)
	})

	t.Run("unknown feature", func(t *testing.T) {
		err := store.CreateRole(ctx, &Role{Name: "broken", Features: []FeatureCode{"fly"}})
		assert.True(t, IsNotFound(err))
	})

	t.Run("missing name", func(t *testing.T) {
		err := store.CreateRole(ctx, &Role{})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestStore_GetRoleNotFound(t *testing.T) {
	store := NewStore(setupTestDB(t))

	_, err := store.GetRole(context.Background(), 9999)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "role", nf.Kind)
}

func TestStore_AddFeatureIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	role := &Role{Name: "tester", IsActive: true}
	require.NoError(t, store.CreateRole(ctx, role))

	require.NoError(t, store.AddFeature(ctx, role.ID, FeaturePermitEdit))
	require.NoError(t, store.AddFeature(ctx, role.ID, FeaturePermitEdit))

	got, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []FeatureCode{FeaturePermitEdit}, got.Features)

	require.NoError(t, store.RemoveFeature(ctx, role.ID, FeaturePermitEdit))
	require.NoError(t, store.RemoveFeature(ctx, role.ID, FeaturePermitEdit))

	got, err = store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Features)
}

func TestStore_FeatureMutationErrors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	assert.True(t, IsNotFound(store.AddFeature(ctx, 9999, FeaturePermitEdit)))

	role, err := store.GetRoleByName(ctx, RoleJuniorClerk)
	require.NoError(t, err)
	assert.True(t, IsNotFound(store.AddFeature(ctx, role.ID, "teleport")))
}

func TestStore_SetFeatures(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	role, err := store.GetRoleByName(ctx, RoleSupervisor)
	require.NoError(t, err)

	require.NoError(t, store.SetFeatures(ctx, role.ID, []FeatureCode{FeatureDashboardView, FeatureReportView}))
	got, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []FeatureCode{FeatureDashboardView, FeatureReportView}, got.Features)

	// a failed replacement leaves the previous set untouched
	err = store.SetFeatures(ctx, role.ID, []FeatureCode{FeaturePermitView, "bogus"})
	require.Error(t, err)
	got, err = store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []FeatureCode{FeatureDashboardView, FeatureReportView}, got.Features)
}

func TestStore_CacheInvalidatedOnMutation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	cache := NewRoleCache(16, time.Minute, nil)
	store := NewStore(db, WithRoleCache(cache))

	role, err := store.GetRoleByName(ctx, RoleJuniorClerk)
	require.NoError(t, err)

	first, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.False(t, first.HasFeature(FeaturePermitEdit))
	assert.Equal(t, 1, cache.Len())

	require.NoError(t, store.AddFeature(ctx, role.ID, FeaturePermitEdit))
	assert.Equal(t, 0, cache.Len())

	second, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.True(t, second.HasFeature(FeaturePermitEdit))
	// the earlier snapshot is unaffected
	assert.False(t, first.HasFeature(FeaturePermitEdit))

	require.NoError(t, store.SetRoleActive(ctx, role.ID, false))
	third, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.False(t, third.IsActive)
}

func TestStore_UsersAndBindings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	user := &User{Username: "alice", Email: "alice@example.com", IsActive: true}
	require.NoError(t, store.CreateUser(ctx, user))

	t.Run("default role bound on creation", func(t *testing.T) {
		binding, err := store.GetBinding(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, binding.IsActive)
		assert.Equal(t, RoleEndUser, binding.RoleName)

		role, err := store.ResolveRole(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, role)
		assert.Equal(t, RoleEndUser, role.Name)
	})

	t.Run("assign replaces the single binding", func(t *testing.T) {
		first, err := store.GetBinding(ctx, user.ID)
		require.NoError(t, err)

		binding, err := store.AssignRole(ctx, user.ID, RoleAssistant, nil, "promoted")
		require.NoError(t, err)
		assert.Equal(t, first.ID, binding.ID)
		assert.Equal(t, RoleAssistant, binding.RoleName)

		role, err := store.ResolveRole(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, RoleAssistant, role.Name)
	})

	t.Run("remove deactivates without deleting", func(t *testing.T) {
		require.NoError(t, store.RemoveRole(ctx, user.ID, nil, "left team"))

		role, err := store.ResolveRole(ctx, user.ID)
		require.NoError(t, err)
		assert.Nil(t, role)

		binding, err := store.GetBinding(ctx, user.ID)
		require.NoError(t, err)
		assert.False(t, binding.IsActive)
		assert.Equal(t, "left team", binding.Notes)

		unassigned, err := store.ListUsersWithoutRole(ctx)
		require.NoError(t, err)
		require.Len(t, unassigned, 1)
		assert.Equal(t, "alice", unassigned[0].Username)
	})

	t.Run("assign unknown role", func(t *testing.T) {
		_, err := store.AssignRole(ctx, user.ID, "wizard", nil, "")
		assert.True(t, IsNotFound(err))
	})

	t.Run("assign unknown user", func(t *testing.T) {
		_, err := store.AssignRole(ctx, 9999, RoleAdmin, nil, "")
		assert.True(t, IsNotFound(err))
	})

	t.Run("duplicate username", func(t *testing.T) {
		err := store.CreateUser(ctx, &User{Username: "alice", IsActive: true})
		assert.ErrorIs(t, err, ErrConflictingState)
	})
}

func TestStore_InactiveUserResolvesNoRole(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	user := Fixture(t, store, "bob", RoleAssistant)
	require.NoError(t, store.SetUserActive(ctx, user.ID, false))

	role, err := store.ResolveRole(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, role)
}

func TestStore_ListActiveUsersInRoles(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	a := Fixture(t, store, "clerk-a", RoleJuniorClerk)
	Fixture(t, store, "assistant-a", RoleAssistant)
	c := Fixture(t, store, "senior-a", RoleSeniorClerk)
	d := Fixture(t, store, "clerk-b", RoleJuniorClerk)
	require.NoError(t, store.SetUserActive(ctx, d.ID, false))

	users, err := store.ListActiveUsersInRoles(ctx, []RoleName{RoleJuniorClerk, RoleSeniorClerk})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, a.ID, users[0].ID)
	assert.Equal(t, c.ID, users[1].ID)

	none, err := store.ListActiveUsersInRoles(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// Readers running alongside feature toggles must only ever observe the
// feature set before or after a mutation.
func TestStore_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(db, WithRoleCache(NewRoleCache(8, time.Minute, nil)))

	role := &Role{Name: "flip", IsActive: true, Features: []FeatureCode{FeaturePermitView}}
	require.NoError(t, store.CreateRole(ctx, role))

	before := []FeatureCode{FeaturePermitView}
	after := []FeatureCode{FeaturePermitEdit, FeaturePermitView}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := store.GetRole(ctx, role.ID)
				if err != nil {
					errs <- err
					return
				}
				if !assert.ObjectsAreEqual(before, got.Features) && !assert.ObjectsAreEqual(after, got.Features) {
					errs <- errors.New("observed partial feature set")
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, store.AddFeature(ctx, role.ID, FeaturePermitEdit))
		require.NoError(t, store.RemoveFeature(ctx, role.ID, FeaturePermitEdit))
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestStore_Postgres(t *testing.T) {
	db := RequireDatabase(t)
	ctx := context.Background()
	require.NoError(t, storage.RunMigrations(ctx, db, observability.NopLogger(), Migrations()))

	store := NewStore(db)
	require.NoError(t, store.SeedDefaults(ctx))

	username := fmt.Sprintf("pg-clerk-%d", time.Now().UnixNano())
	user := Fixture(t, store, username, RoleJuniorClerk)

	role, err := store.ResolveRole(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleJuniorClerk, role.Name)
	assert.True(t, role.HasFeature(FeaturePermitView))
	assert.False(t, role.HasFeature(FeaturePermitEdit))
}
