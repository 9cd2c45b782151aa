package authorization

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdeck/flowdeck/pkg/ability"
	"github.com/flowdeck/flowdeck/pkg/folders"
	"github.com/flowdeck/flowdeck/pkg/iam"
	"github.com/flowdeck/flowdeck/pkg/permissions"
	"github.com/flowdeck/flowdeck/pkg/storage"
)

type fixture struct {
	stores  *iam.Stores
	folders *folders.Store
	service *Service
	cache   *RuleCache
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	backend := storage.NewMemoryStore()
	stores := iam.NewStores(backend)
	require.NoError(t, stores.Load())
	folderStore := folders.NewStore(backend)
	require.NoError(t, folderStore.Load())
	cache, err := NewRuleCache(DefaultCacheSize, nil)
	require.NoError(t, err)
	return &fixture{
		stores:  stores,
		folders: folderStore,
		service: NewService(stores, folderStore, cache, opts),
		cache:   cache,
	}
}

func (f *fixture) addUser(t *testing.T, id string, guest bool) {
	t.Helper()
	_, err := f.stores.Users.AddUser(iam.User{ID: id, Username: id, IsGuest: guest})
	require.NoError(t, err)
}

func (f *fixture) addOrg(t *testing.T, owner string) *iam.Environment {
	t.Helper()
	env, err := f.stores.Environments.AddEnvironment(iam.EnvironmentInput{
		IsOrganization: true,
		IsActive:       true,
		OwnerID:        owner,
		Name:           "Org",
	})
	require.NoError(t, err)
	return env
}

func (f *fixture) addRole(t *testing.T, envID, name string, perms map[ability.ResourceType]permissions.Mask) *iam.Role {
	t.Helper()
	role, err := f.stores.Roles.CreateRole(iam.RoleInput{EnvironmentID: envID, Name: name, Permissions: perms}, nil)
	require.NoError(t, err)
	return role
}

func (f *fixture) mapRole(t *testing.T, userID, roleID, envID string) {
	t.Helper()
	_, err := f.stores.RoleMappings.AddMapping(iam.RoleMappingInput{UserID: userID, RoleID: roleID, EnvironmentID: envID}, nil)
	require.NoError(t, err)
}

func (f *fixture) join(t *testing.T, envID, userID string) {
	t.Helper()
	require.NoError(t, f.stores.Memberships.AddMember(envID, userID, nil))
}

func TestPersonalEnvironmentRules(t *testing.T) {
	f := newFixture(t, Options{})
	f.addUser(t, "u1", false)
	env, err := f.stores.Environments.AddEnvironment(iam.EnvironmentInput{OwnerID: "u1"})
	require.NoError(t, err)

	t.Run("owner administers everything", func(t *testing.T) {
		rs, err := f.service.ComputeRulesForUser("u1", env)
		require.NoError(t, err)
		ab := ability.New(rs.Rules, env.ID, nil)
		resource := ability.Resource{Type: ability.ResourceProcess, ID: "p1", EnvironmentID: env.ID}
		assert.True(t, ab.Can(permissions.ActionDelete, resource))
		assert.True(t, ab.Can(permissions.ActionManageRoles, resource))
	})

	t.Run("owner is confined to their own space", func(t *testing.T) {
		rs, err := f.service.ComputeRulesForUser("u1", env)
		require.NoError(t, err)
		ab := ability.New(rs.Rules, env.ID, nil)
		foreign := ability.Resource{Type: ability.ResourceProcess, ID: "p2", EnvironmentID: "elsewhere"}
		assert.False(t, ab.Can(permissions.ActionView, foreign))

		// Global resources carry no environment and stay reachable.
		self := ability.Resource{Type: ability.ResourceUser, ID: "u1"}
		assert.True(t, ab.Can(permissions.ActionUpdate, self))
	})

	t.Run("everyone else gets nothing", func(t *testing.T) {
		rs, err := f.service.ComputeRulesForUser("intruder", env)
		require.NoError(t, err)
		assert.Empty(t, rs.Rules)
	})
}

func TestSuspendedOrganizationGrantsNothing(t *testing.T) {
	f := newFixture(t, Options{})
	f.addUser(t, "owner", false)
	env := f.addOrg(t, "owner")
	require.NoError(t, f.stores.Environments.SetActive(env.ID, false, nil))

	env, err := f.stores.Environments.GetEnvironment(env.ID)
	require.NoError(t, err)
	rs, err := f.service.ComputeRulesForUser("owner", env)
	require.NoError(t, err)
	assert.Empty(t, rs.Rules)
}

func TestOrganizationRuleOrdering(t *testing.T) {
	f := newFixture(t, Options{})
	f.addUser(t, "owner", false)
	f.addUser(t, "u1", false)
	env := f.addOrg(t, "owner")
	f.join(t, env.ID, "u1")

	// Broad grant from @everyone, narrowed back by a later mapped role:
	// under last-match-wins the mapped role must come after @everyone, so
	// the resulting decision proves the ordering.
	everyone, err := f.stores.Roles.GetRoleByName(env.ID, iam.RoleNameEveryone)
	require.NoError(t, err)
	_, err = f.stores.Roles.UpdateRole(everyone.ID, iam.RoleUpdate{
		Permissions: map[ability.ResourceType]permissions.Mask{
			ability.ResourceProcess: permissions.View | permissions.Update | permissions.Delete,
		},
	}, nil)
	require.NoError(t, err)

	viewer := f.addRole(t, env.ID, "Viewer", map[ability.ResourceType]permissions.Mask{
		ability.ResourceProcess: permissions.View,
	})
	f.mapRole(t, "u1", viewer.ID, env.ID)

	rs, err := f.service.ComputeRulesForUser("u1", mustEnv(t, f, env.ID))
	require.NoError(t, err)
	ab := ability.New(rs.Rules, env.ID, nil)
	process := ability.Resource{Type: ability.ResourceProcess, ID: "p1", EnvironmentID: env.ID}
	assert.True(t, ab.Can(permissions.ActionView, process))
	assert.True(t, ab.Can(permissions.ActionUpdate, process), "everyone grant survives unrelated mapped roles")

	// Everyone rules precede mapped-role rules in the slice.
	var everyoneIdx, viewerIdx = -1, -1
	for i, rule := range rs.Rules {
		switch rule.Reason {
		case "role " + iam.RoleNameEveryone:
			everyoneIdx = i
		case "role Viewer":
			viewerIdx = i
		}
	}
	require.GreaterOrEqual(t, everyoneIdx, 0)
	require.GreaterOrEqual(t, viewerIdx, 0)
	assert.Less(t, everyoneIdx, viewerIdx)
}

func TestNonMembersGetGuestRulesOnly(t *testing.T) {
	f := newFixture(t, Options{})
	f.addUser(t, "owner", false)
	f.addUser(t, "outsider", false)
	env := f.addOrg(t, "owner")

	guest, err := f.stores.Roles.GetRoleByName(env.ID, iam.RoleNameGuest)
	require.NoError(t, err)
	_, err = f.stores.Roles.UpdateRole(guest.ID, iam.RoleUpdate{
		Permissions: map[ability.ResourceType]permissions.Mask{
			ability.ResourceProcess: permissions.View,
		},
	}, nil)
	require.NoError(t, err)

	rs, err := f.service.ComputeRulesForUser("outsider", mustEnv(t, f, env.ID))
	require.NoError(t, err)
	ab := ability.New(rs.Rules, env.ID, nil)
	process := ability.Resource{Type: ability.ResourceProcess, ID: "p1", EnvironmentID: env.ID}
	assert.True(t, ab.Can(permissions.ActionView, process))
	assert.False(t, ab.Can(permissions.ActionUpdate, process))

	// No self-service rules for non-members either.
	self := ability.Resource{Type: ability.ResourceUser, ID: "outsider"}
	assert.False(t, ab.Can(permissions.ActionUpdate, self))
}

func TestGuestAccountsNeverGetMemberRules(t *testing.T) {
	f := newFixture(t, Options{})
	f.addUser(t, "owner", false)
	f.addUser(t, "anon", true)
	env := f.addOrg(t, "owner")

	rs, err := f.service.ComputeRulesForUser("anon", mustEnv(t, f, env.ID))
	require.NoError(t, err)
	for _, rule := range rs.Rules {
		assert.NotEqual(t, "role "+iam.RoleNameEveryone, rule.Reason)
		assert.NotEqual(t, "own profile", rule.Reason)
	}
}

func TestDefaultRoleProtection(t *testing.T) {
	f := newFixture(t, Options{})
	f.addUser(t, "owner", false)
	env := f.addOrg(t, "owner")

	rs, err := f.service.ComputeRulesForUser("owner", mustEnv(t, f, env.ID))
	require.NoError(t, err)
	ab := ability.New(rs.Rules, env.ID, nil)

	adminRole, err := f.stores.Roles.GetRoleByName(env.ID, iam.RoleNameAdmin)
	require.NoError(t, err)
	resource := adminRole.Resource()

	// The owner holds @admin yet cannot delete or rename default roles.
	assert.False(t, ab.Can(permissions.ActionDelete, resource))
	assert.False(t, ab.CheckInputFields(resource, permissions.ActionUpdate, map[string]any{"name": "x"}))
	assert.True(t, ab.CheckInputFields(resource, permissions.ActionUpdate, map[string]any{"description": "x"}))
}

func TestExpiredGrantsAreSkipped(t *testing.T) {
	f := newFixture(t, Options{})
	f.addUser(t, "owner", false)
	f.addUser(t, "u1", false)
	env := f.addOrg(t, "owner")
	f.join(t, env.ID, "u1")

	past := time.Now().Add(-time.Hour)
	expired, err := f.stores.Roles.CreateRole(iam.RoleInput{
		EnvironmentID: env.ID,
		Name:          "Expired",
		Expiration:    &past,
		Permissions: map[ability.ResourceType]permissions.Mask{
			ability.ResourceProcess: permissions.Update,
		},
	}, nil)
	require.NoError(t, err)
	f.mapRole(t, "u1", expired.ID, env.ID)

	rs, err := f.service.ComputeRulesForUser("u1", mustEnv(t, f, env.ID))
	require.NoError(t, err)
	ab := ability.New(rs.Rules, env.ID, nil)
	process := ability.Resource{Type: ability.ResourceProcess, ID: "p1", EnvironmentID: env.ID}
	assert.False(t, ab.Can(permissions.ActionUpdate, process))
}

func TestExpiringGrantBoundsTheRuleSet(t *testing.T) {
	f := newFixture(t, Options{})
	f.addUser(t, "owner", false)
	f.addUser(t, "u1", false)
	env := f.addOrg(t, "owner")
	f.join(t, env.ID, "u1")

	soon := time.Now().Add(10 * time.Minute)
	later := time.Now().Add(2 * time.Hour)

	first, err := f.stores.Roles.CreateRole(iam.RoleInput{
		EnvironmentID: env.ID, Name: "Soon", Expiration: &soon,
		Permissions: map[ability.ResourceType]permissions.Mask{ability.ResourceProcess: permissions.View},
	}, nil)
	require.NoError(t, err)
	second, err := f.stores.Roles.CreateRole(iam.RoleInput{
		EnvironmentID: env.ID, Name: "Later", Expiration: &later,
		Permissions: map[ability.ResourceType]permissions.Mask{ability.ResourceProject: permissions.View},
	}, nil)
	require.NoError(t, err)
	f.mapRole(t, "u1", first.ID, env.ID)
	f.mapRole(t, "u1", second.ID, env.ID)

	rs, err := f.service.ComputeRulesForUser("u1", mustEnv(t, f, env.ID))
	require.NoError(t, err)
	require.NotNil(t, rs.ExpiresAt)
	assert.True(t, rs.ExpiresAt.Equal(soon))
}

func TestFolderScopedRole(t *testing.T) {
	f := newFixture(t, Options{})
	f.addUser(t, "owner", false)
	f.addUser(t, "u1", false)
	env := f.addOrg(t, "owner")
	f.join(t, env.ID, "u1")

	root, err := f.folders.Create(env.ID, "root", "", "owner", nil)
	require.NoError(t, err)
	sub, err := f.folders.Create(env.ID, "sub", root.ID, "owner", nil)
	require.NoError(t, err)
	other, err := f.folders.Create(env.ID, "other", root.ID, "owner", nil)
	require.NoError(t, err)

	scoped, err := f.stores.Roles.CreateRole(iam.RoleInput{
		EnvironmentID: env.ID,
		Name:          "SubEditor",
		ParentID:      sub.ID,
		Permissions: map[ability.ResourceType]permissions.Mask{
			ability.ResourceProcess: permissions.View | permissions.Update,
		},
	}, nil)
	require.NoError(t, err)
	f.mapRole(t, "u1", scoped.ID, env.ID)

	ab, err := f.service.GetAbilityForUser("u1", env.ID)
	require.NoError(t, err)

	inScope := ability.Resource{Type: ability.ResourceProcess, ID: "p1", EnvironmentID: env.ID, FolderID: sub.ID}
	outOfScope := ability.Resource{Type: ability.ResourceProcess, ID: "p2", EnvironmentID: env.ID, FolderID: other.ID}
	assert.True(t, ab.Can(permissions.ActionUpdate, inScope))
	assert.False(t, ab.Can(permissions.ActionUpdate, outOfScope))

	// Ancestors of the scope stay navigable, siblings do not.
	rootFolder := ability.Resource{Type: ability.ResourceFolder, ID: root.ID, EnvironmentID: env.ID, FolderID: root.ID}
	otherFolder := ability.Resource{Type: ability.ResourceFolder, ID: other.ID, EnvironmentID: env.ID, FolderID: other.ID}
	assert.True(t, ab.Can(permissions.ActionView, rootFolder))
	assert.False(t, ab.Can(permissions.ActionView, otherFolder))
}

type staticLicense struct {
	types []ability.ResourceType
	err   error
}

func (l *staticLicense) EnabledResourceTypes(string) ([]ability.ResourceType, error) {
	return l.types, l.err
}

func TestLicenseFiltering(t *testing.T) {
	f := newFixture(t, Options{License: &staticLicense{types: []ability.ResourceType{ability.ResourceProcess}}})
	f.addUser(t, "owner", false)
	f.addUser(t, "u1", false)
	env := f.addOrg(t, "owner")
	f.join(t, env.ID, "u1")

	role := f.addRole(t, env.ID, "Wide", map[ability.ResourceType]permissions.Mask{
		ability.ResourceProcess: permissions.View,
		ability.ResourceProject: permissions.View,
	})
	f.mapRole(t, "u1", role.ID, env.ID)

	rs, err := f.service.ComputeRulesForUser("u1", mustEnv(t, f, env.ID))
	require.NoError(t, err)
	ab := ability.New(rs.Rules, env.ID, nil)
	assert.True(t, ab.Can(permissions.ActionView, ability.Resource{Type: ability.ResourceProcess, ID: "p", EnvironmentID: env.ID}))
	assert.False(t, ab.Can(permissions.ActionView, ability.Resource{Type: ability.ResourceProject, ID: "pr", EnvironmentID: env.ID}))
}

func TestLicenseErrorPropagates(t *testing.T) {
	boom := errors.New("license service down")
	f := newFixture(t, Options{License: &staticLicense{err: boom}})
	f.addUser(t, "owner", false)
	env := f.addOrg(t, "owner")

	_, err := f.service.ComputeRulesForUser("owner", mustEnv(t, f, env.ID))
	assert.ErrorIs(t, err, boom)
}

func TestEscalationGuards(t *testing.T) {
	f := newFixture(t, Options{})
	f.addUser(t, "owner", false)
	f.addUser(t, "mgr", false)
	f.addUser(t, "peer", false)
	env := f.addOrg(t, "owner")
	f.join(t, env.ID, "mgr")
	f.join(t, env.ID, "peer")

	manager := f.addRole(t, env.ID, "Role Manager", map[ability.ResourceType]permissions.Mask{
		ability.ResourceRole:        permissions.View | permissions.Update | permissions.Create | permissions.Delete,
		ability.ResourceRoleMapping: permissions.View | permissions.Create | permissions.ManageRoles,
	})
	f.mapRole(t, "mgr", manager.ID, env.ID)

	abilityFor := func(t *testing.T, userID string) *ability.Ability {
		t.Helper()
		rs, err := f.service.ComputeRulesForUser(userID, mustEnv(t, f, env.ID))
		require.NoError(t, err)
		return ability.New(rs.Rules, env.ID, nil)
	}
	mgr := abilityFor(t, "mgr")

	t.Run("cannot create a role stronger than oneself", func(t *testing.T) {
		_, err := f.stores.Roles.CreateRole(iam.RoleInput{
			EnvironmentID: env.ID,
			Name:          "Shadow Admin",
			Permissions: map[ability.ResourceType]permissions.Mask{
				ability.ResourceProcess: permissions.Admin,
			},
		}, mgr)
		var unauth *ability.UnauthorizedError
		assert.ErrorAs(t, err, &unauth)
	})

	t.Run("can still create roles within own strength", func(t *testing.T) {
		_, err := f.stores.Roles.CreateRole(iam.RoleInput{
			EnvironmentID: env.ID,
			Name:          "Reviewers",
			Permissions: map[ability.ResourceType]permissions.Mask{
				ability.ResourceProcess: permissions.View | permissions.Update,
			},
		}, mgr)
		assert.NoError(t, err)
	})

	t.Run("cannot raise an existing role to admin strength", func(t *testing.T) {
		benign := f.addRole(t, env.ID, "Benign", map[ability.ResourceType]permissions.Mask{
			ability.ResourceProcess: permissions.View,
		})
		_, err := f.stores.Roles.UpdateRole(benign.ID, iam.RoleUpdate{
			Permissions: map[ability.ResourceType]permissions.Mask{
				ability.ResourceProcess: permissions.Admin,
			},
		}, mgr)
		var unauth *ability.UnauthorizedError
		assert.ErrorAs(t, err, &unauth)
	})

	t.Run("cannot assign an administrative role", func(t *testing.T) {
		adminRole, err := f.stores.Roles.GetRoleByName(env.ID, iam.RoleNameAdmin)
		require.NoError(t, err)
		_, err = f.stores.RoleMappings.AddMapping(iam.RoleMappingInput{
			UserID:        "mgr",
			RoleID:        adminRole.ID,
			EnvironmentID: env.ID,
		}, mgr)
		var unauth *ability.UnauthorizedError
		assert.ErrorAs(t, err, &unauth)
	})

	t.Run("can still assign non-administrative roles", func(t *testing.T) {
		_, err := f.stores.RoleMappings.AddMapping(iam.RoleMappingInput{
			UserID:        "peer",
			RoleID:        manager.ID,
			EnvironmentID: env.ID,
		}, mgr)
		assert.NoError(t, err)
	})

	t.Run("cannot touch default roles", func(t *testing.T) {
		everyone, err := f.stores.Roles.GetRoleByName(env.ID, iam.RoleNameEveryone)
		require.NoError(t, err)
		assert.False(t, mgr.CheckInputFields(everyone.Resource(), permissions.ActionUpdate, map[string]any{"description": "x"}))
	})

	t.Run("full administrators stay unrestricted", func(t *testing.T) {
		ownerAb := abilityFor(t, "owner")
		_, err := f.stores.Roles.CreateRole(iam.RoleInput{
			EnvironmentID: env.ID,
			Name:          "Ops Admin",
			Permissions: map[ability.ResourceType]permissions.Mask{
				ability.ResourceProcess: permissions.Admin,
			},
		}, ownerAb)
		assert.NoError(t, err)
	})
}

func TestSelfServiceRules(t *testing.T) {
	f := newFixture(t, Options{})
	f.addUser(t, "owner", false)
	f.addUser(t, "u1", false)
	f.addUser(t, "u2", false)
	env := f.addOrg(t, "owner")
	f.join(t, env.ID, "u1")
	f.join(t, env.ID, "u2")

	rs, err := f.service.ComputeRulesForUser("u1", mustEnv(t, f, env.ID))
	require.NoError(t, err)
	ab := ability.New(rs.Rules, env.ID, nil)

	self := ability.Resource{Type: ability.ResourceUser, ID: "u1"}
	other := ability.Resource{Type: ability.ResourceUser, ID: "u2"}

	t.Run("the user directory is readable", func(t *testing.T) {
		assert.True(t, ab.Can(permissions.ActionView, other))
		assert.False(t, ab.Can(permissions.ActionUpdate, other))
	})

	t.Run("the own account is fully manageable", func(t *testing.T) {
		assert.True(t, ab.Can(permissions.ActionUpdate, self))
		assert.True(t, ab.Can(permissions.ActionDelete, self))
		assert.False(t, ab.Can(permissions.ActionDelete, other))
	})

	t.Run("only own role mappings are visible", func(t *testing.T) {
		mine := (&iam.RoleMapping{ID: "m1", UserID: "u1", RoleID: "r1", EnvironmentID: env.ID}).Resource()
		theirs := (&iam.RoleMapping{ID: "m2", UserID: "u2", RoleID: "r1", EnvironmentID: env.ID}).Resource()
		assert.True(t, ab.Can(permissions.ActionView, mine))
		assert.False(t, ab.Can(permissions.ActionView, theirs))
	})

	t.Run("members see their environment", func(t *testing.T) {
		assert.True(t, ab.Can(permissions.ActionView, mustEnv(t, f, env.ID).Resource()))
	})
}

func TestInvertedRulesSortLast(t *testing.T) {
	rules := sortInvertedLast([]ability.Rule{
		{Subject: ability.ResourceAll, Inverted: true, Reason: "a"},
		{Subject: ability.ResourceProcess, Reason: "b"},
		{Subject: ability.ResourceRole, Inverted: true, Reason: "c"},
		{Subject: ability.ResourceProject, Reason: "d"},
	})
	reasons := make([]string, len(rules))
	for i, r := range rules {
		reasons[i] = r.Reason
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, reasons)
}

func mustEnv(t *testing.T, f *fixture, id string) *iam.Environment {
	t.Helper()
	env, err := f.stores.Environments.GetEnvironment(id)
	require.NoError(t, err)
	return env
}
