package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasFeature_FailsClosed(t *testing.T) {
	role := &Role{Name: RoleAssistant, IsActive: true, Features: []FeatureCode{FeaturePermitView}}

	assert.True(t, HasFeature(role, FeaturePermitView))
	assert.False(t, HasFeature(role, FeaturePermitEdit))
	assert.False(t, HasFeature(nil, FeaturePermitView))

	role.IsActive = false
	assert.False(t, HasFeature(role, FeaturePermitView))
	assert.False(t, role.HasFeature(FeaturePermitView))
}

func TestHasAnyFeature(t *testing.T) {
	role := &Role{IsActive: true, Features: []FeatureCode{FeatureReportView}}

	assert.True(t, HasAnyFeature(role, FeaturePermitView, FeatureReportView))
	assert.False(t, HasAnyFeature(role))
	assert.False(t, HasAnyFeature(nil, FeatureReportView))
}

func TestDefaultRoles(t *testing.T) {
	roles := DefaultRoles()
	byName := make(map[RoleName]Role, len(roles))
	for _, r := range roles {
		for _, code := range r.Features {
			assert.True(t, IsKnownFeature(code), "%s grants unknown feature %s", r.Name, code)
		}
		byName[r.Name] = r
	}

	require.Contains(t, byName, RoleAdmin)
	assert.ElementsMatch(t, AllFeatureCodes(), byName[RoleAdmin].Features)

	junior := byName[RoleJuniorClerk]
	assert.True(t, junior.HasFeature(FeaturePermitView))
	assert.False(t, junior.HasFeature(FeaturePermitEdit))

	endUser := byName[RoleEndUser]
	assert.True(t, endUser.HasFeature(FeaturePermitCreate))
	assert.False(t, endUser.HasFeature(FeatureUserManage))
}

func TestRole_CloneIsDeep(t *testing.T) {
	role := &Role{Name: RoleOperator, Features: []FeatureCode{FeaturePermitView}}
	clone := role.Clone()
	clone.Features[0] = FeatureRoleManage

	assert.Equal(t, FeaturePermitView, role.Features[0])
	assert.Nil(t, (*Role)(nil).Clone())
}

func TestPolicyTable(t *testing.T) {
	policies := DefaultPolicies()
	require.NoError(t, policies.Validate())

	code, ok := policies.RequiredFeature(ResourcePermit, ActionChangeStatus)
	assert.True(t, ok)
	assert.Equal(t, FeaturePermitEdit, code)

	code, ok = policies.RequiredFeature(ResourceUser, ActionDelete)
	assert.True(t, ok)
	assert.Equal(t, FeatureUserManage, code)

	_, ok = policies.RequiredFeature(ResourceReport, ActionDelete)
	assert.False(t, ok)

	assert.True(t, policies.OpenRead(ResourcePermitLookup, ActionView))
	assert.False(t, policies.OpenRead(ResourcePermitLookup, ActionCreate))
	assert.False(t, policies.OpenRead(ResourcePermit, ActionView))

	broken := PolicyTable{ResourcePermit: {Features: map[Action]FeatureCode{ActionView: "nope"}}}
	assert.Error(t, broken.Validate())
}

func TestRoleCache(t *testing.T) {
	assert.Nil(t, NewRoleCache(0, time.Minute, nil))
	assert.Nil(t, NewRoleCache(8, 0, nil))

	var disabled *RoleCache
	_, ok := disabled.Get(1)
	assert.False(t, ok)
	assert.False(t, disabled.Put(&Role{ID: 1}, disabled.Generation()))
	assert.Equal(t, 0, disabled.Len())

	cache := NewRoleCache(8, time.Minute, nil)
	assert.True(t, cache.Put(&Role{ID: 1, Name: RoleAdmin, Features: []FeatureCode{FeaturePermitView}}, cache.Generation()))

	got, ok := cache.Get(1)
	require.True(t, ok)
	got.Features[0] = FeatureRoleManage

	again, ok := cache.Get(1)
	require.True(t, ok)
	assert.Equal(t, FeaturePermitView, again.Features[0])

	cache.Invalidate(1)
	_, ok = cache.Get(1)
	assert.False(t, ok)

	cache.Put(&Role{ID: 2}, cache.Generation())
	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}

func TestRoleCache_DropsSnapshotLoadedBeforeInvalidate(t *testing.T) {
	cache := NewRoleCache(8, time.Minute, nil)

	// A reader captures the generation and loads the active role, then a
	// writer deactivates it and invalidates before the reader stores it.
	gen := cache.Generation()
	loaded := &Role{ID: 1, Name: RoleAssistant, IsActive: true}
	cache.Invalidate(1)

	assert.False(t, cache.Put(loaded, gen))
	_, ok := cache.Get(1)
	assert.False(t, ok)

	gen = cache.Generation()
	cache.Purge()
	assert.False(t, cache.Put(loaded, gen))
	assert.Equal(t, 0, cache.Len())

	assert.True(t, cache.Put(&Role{ID: 1, Name: RoleAssistant}, cache.Generation()))
	_, ok = cache.Get(1)
	assert.True(t, ok)
}

func TestRoleCache_Expires(t *testing.T) {
	cache := NewRoleCache(8, 20*time.Millisecond, nil)
	cache.Put(&Role{ID: 1}, cache.Generation())

	assert.Eventually(t, func() bool {
		_, ok := cache.Get(1)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestErrors(t *testing.T) {
	err := &InvalidAssignmentTargetError{ActorRole: RoleJuniorClerk, TargetRole: RoleAssistant}
	assert.Equal(t, `role "junior_clerk" may not assign work to role "assistant"`, err.Error())
	assert.ErrorIs(t, err, ErrInvalidAssignmentTarget)
	assert.Equal(t, 403, err.StatusCode())

	assert.Contains(t, (&InvalidAssignmentTargetError{ActorRole: RoleAdmin}).Error(), "(no role)")

	nf := NewNotFound("permit", 7)
	assert.Equal(t, "permit not found: 7", nf.Error())
	assert.True(t, IsNotFound(nf))

	v := Invalid("fees", "must not be negative")
	assert.Equal(t, "fees: must not be negative", v.Error())
	assert.ErrorIs(t, v, ErrInvalidInput)
}
