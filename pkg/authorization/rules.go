// Package authorization composes permission rules for a user in an
// environment, caches the computed rule sets, and hands out ability
// evaluators to request handlers.
package authorization

import (
	"fmt"
	"sort"
	"time"

	"github.com/flowdeck/flowdeck/pkg/ability"
	"github.com/flowdeck/flowdeck/pkg/iam"
	"github.com/flowdeck/flowdeck/pkg/permissions"
)

// LicenseProvider reports which resource types an environment has enabled.
// Rules targeting types outside the returned set are dropped during
// computation.
type LicenseProvider interface {
	EnabledResourceTypes(environmentID string) ([]ability.ResourceType, error)
}

// RuleSet is the outcome of rule computation for one (user, environment)
// pair. ExpiresAt is the earliest expiration among the contributing roles
// and mappings, nil if nothing expires.
type RuleSet struct {
	Rules     []ability.Rule
	ExpiresAt *time.Time
}

// ComputeRulesForUser assembles the ordered rule list for a user in an
// environment.
//
// Ordering is the correctness-critical part: guest rules come first, then
// the everyone rules, then explicitly mapped roles in mapping-creation
// order, so that under last-match-wins evaluation the specific grants
// override the broad defaults. Inverted rules are moved to the end so
// exclusions always win over grants of equal specificity.
func (s *Service) ComputeRulesForUser(userID string, env *iam.Environment) (*RuleSet, error) {
	if env == nil {
		return nil, fmt.Errorf("environment is required: %w", iam.ErrValidation)
	}
	if !env.IsOrganization {
		return s.personalRules(userID, env)
	}
	if !env.IsActive {
		// Suspended organizations grant nothing. Guest-level read access for
		// e.g. shared links is a decision for the resource-gating layer, not
		// the rule engine.
		return &RuleSet{}, nil
	}
	return s.organizationRules(userID, env)
}

// personalRules grants the owner full control of everything in their own
// space and nothing to anyone else.
func (s *Service) personalRules(userID string, env *iam.Environment) (*RuleSet, error) {
	if userID != env.ID {
		return &RuleSet{}, nil
	}
	rules := []ability.Rule{
		{
			Actions: []permissions.Action{permissions.ActionAdmin},
			Subject: ability.ResourceAll,
			Reason:  "owner of personal space",
		},
	}
	rules = append(rules, selfServiceRules(userID)...)
	rules = append(rules, environmentConfinementRule(env.ID))
	return &RuleSet{Rules: sortInvertedLast(rules)}, nil
}

func (s *Service) organizationRules(userID string, env *iam.Environment) (*RuleSet, error) {
	licensed, err := s.licensedTypes(env.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	var rules []ability.Rule
	var expiresAt *time.Time
	granted := make(map[ability.ResourceType]permissions.Mask)

	appendRole := func(role *iam.Role, mappingExpiration *time.Time) {
		deadline := earliestDeadline(role.Expiration, mappingExpiration)
		if deadline != nil && !now.Before(*deadline) {
			return
		}
		if deadline != nil {
			expiresAt = earliestDeadline(expiresAt, deadline)
		}
		for resourceType, mask := range role.Permissions {
			if resourceType == ability.ResourceAll {
				for _, concrete := range ability.ResourceTypes {
					granted[concrete] |= mask
				}
				continue
			}
			granted[resourceType] |= mask
		}
		rules = append(rules, roleRules(role, licensed, deadline)...)
	}

	if guest, err := s.stores.Roles.GetRoleByName(env.ID, iam.RoleNameGuest); err == nil {
		appendRole(guest, nil)
	}

	member := s.stores.Memberships.IsMember(env.ID, userID)
	authenticated := userID != "" && !s.stores.Users.IsGuest(userID)

	if member && authenticated {
		if everyone, err := s.stores.Roles.GetRoleByName(env.ID, iam.RoleNameEveryone); err == nil {
			appendRole(everyone, nil)
		}
		rules = append(rules, selfServiceRules(userID)...)
		rules = append(rules, ability.Rule{
			Actions:    []permissions.Action{permissions.ActionView},
			Subject:    ability.ResourceEnvironment,
			Conditions: []ability.Condition{{Field: "id", Op: ability.OpEq, Value: env.ID}},
			Reason:     "member of environment",
		})

		for _, mapping := range s.stores.RoleMappings.GetMappingsForUser(userID, env.ID) {
			role, err := s.stores.Roles.GetRole(mapping.RoleID)
			if err != nil {
				// A mapping can briefly outlive its role between a cascade's
				// steps; treat it as already gone.
				continue
			}
			appendRole(role, mapping.Expiration)
		}
	}

	rules = append(rules, defaultRoleProtectionRules()...)
	rules = append(rules, s.escalationGuardRules(env.ID, granted)...)
	rules = append(rules, environmentConfinementRule(env.ID))
	return &RuleSet{Rules: sortInvertedLast(rules), ExpiresAt: expiresAt}, nil
}

func (s *Service) licensedTypes(environmentID string) (map[ability.ResourceType]bool, error) {
	if s.license == nil {
		return nil, nil
	}
	enabled, err := s.license.EnabledResourceTypes(environmentID)
	if err != nil {
		return nil, fmt.Errorf("resolving licensed resource types: %w", err)
	}
	licensed := make(map[ability.ResourceType]bool, len(enabled))
	for _, resourceType := range enabled {
		licensed[resourceType] = true
	}
	return licensed, nil
}

// roleRules expands a role's permission map into rules, one per resource
// type. A nil licensed set means everything is licensed. Roles confined to a
// folder subtree additionally emit an ancestor-view rule so holders can
// navigate from the root down to their subtree.
func roleRules(role *iam.Role, licensed map[ability.ResourceType]bool, deadline *time.Time) []ability.Rule {
	types := make([]ability.ResourceType, 0, len(role.Permissions))
	for resourceType := range role.Permissions {
		types = append(types, resourceType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var rules []ability.Rule
	scoped := role.ParentID != ""
	for _, resourceType := range types {
		if licensed != nil && !licensed[resourceType] {
			continue
		}
		actions := permissions.Actions(role.Permissions[resourceType])
		if len(actions) == 0 {
			continue
		}
		rule := ability.Rule{
			Actions:   actions,
			Subject:   resourceType,
			ExpiresAt: deadline,
			Reason:    "role " + role.Name,
		}
		if scoped && ability.IsFolderScoped(resourceType) {
			rule.FolderScope = ability.ScopeSubtree
			rule.ScopeFolderID = role.ParentID
		}
		rules = append(rules, rule)
	}

	if scoped && len(rules) > 0 {
		// Without view access to the ancestor folders the scoped grants are
		// unreachable in a folder-by-folder navigation.
		rules = append(rules, ability.Rule{
			Actions:       []permissions.Action{permissions.ActionView},
			Subject:       ability.ResourceFolder,
			FolderScope:   ability.ScopeAncestors,
			ScopeFolderID: role.ParentID,
			ExpiresAt:     deadline,
			Reason:        "navigation to scope of role " + role.Name,
		})
	}
	return rules
}

// selfServiceRules cover what an authenticated user may always do
// regardless of organizational roles: browse the user directory, manage
// their own account, and see which roles they hold.
func selfServiceRules(userID string) []ability.Rule {
	return []ability.Rule{
		{
			Actions: []permissions.Action{permissions.ActionView},
			Subject: ability.ResourceUser,
			Reason:  "signed-in user",
		},
		{
			Actions:    []permissions.Action{permissions.ActionView, permissions.ActionUpdate, permissions.ActionDelete},
			Subject:    ability.ResourceUser,
			Conditions: []ability.Condition{{Field: "id", Op: ability.OpEq, Value: userID}},
			Reason:     "own profile",
		},
		{
			Actions:    []permissions.Action{permissions.ActionView},
			Subject:    ability.ResourceRoleMapping,
			Conditions: []ability.Condition{{Field: "userId", Op: ability.OpEq, Value: userID}},
			Reason:     "own role mappings",
		},
	}
}

// escalationGuardRules keep role managers from granting more than they
// hold. For every resource type the user is not an administrator of, role
// writes carrying an Admin-strength mask on that type are denied, default
// roles stay out of reach, and mappings onto existing administrative roles
// are blocked. A full administrator gets none of these and falls back to
// the default-role protections alone.
func (s *Service) escalationGuardRules(environmentID string, granted map[ability.ResourceType]permissions.Mask) []ability.Rule {
	var rules []ability.Rule
	lacking := make(map[ability.ResourceType]bool)
	for _, resourceType := range ability.ResourceTypes {
		if granted[resourceType]&permissions.Admin == permissions.Admin {
			continue
		}
		lacking[resourceType] = true
		rules = append(rules, ability.Rule{
			Actions:  []permissions.Action{permissions.ActionManage},
			Subject:  ability.ResourceRole,
			Inverted: true,
			Conditions: []ability.Condition{{
				Field: "permissions." + string(resourceType),
				Op:    ability.OpMaskGTE,
				Value: permissions.Admin,
			}},
			Reason: "cannot grant " + string(resourceType) + " administration",
		})
	}
	if len(lacking) == 0 {
		return nil
	}

	rules = append(rules, ability.Rule{
		Actions:    []permissions.Action{permissions.ActionManage},
		Subject:    ability.ResourceRole,
		Inverted:   true,
		Conditions: []ability.Condition{{Field: "default", Op: ability.OpEq, Value: true}},
		Reason:     "default roles are managed by administrators",
	})

	var restricted []string
	for _, role := range s.stores.Roles.GetRoles(environmentID) {
		for resourceType, mask := range role.Permissions {
			if mask&permissions.Admin != permissions.Admin {
				continue
			}
			if resourceType == ability.ResourceAll || lacking[resourceType] {
				restricted = append(restricted, role.ID)
				break
			}
		}
	}
	if len(restricted) > 0 {
		sort.Strings(restricted)
		rules = append(rules, ability.Rule{
			Actions:  []permissions.Action{permissions.ActionManageRoles},
			Subject:  ability.ResourceRoleMapping,
			Inverted: true,
			Conditions: []ability.Condition{{
				Field:  "roleId",
				Op:     ability.OpIn,
				Values: restricted,
			}},
			Reason: "cannot assign administrative roles",
		})
	}
	return rules
}

// defaultRoleProtectionRules guard the seeded roles: nobody edits the name
// or deletes a default role through the regular role surface, whatever their
// mask says.
func defaultRoleProtectionRules() []ability.Rule {
	return []ability.Rule{
		{
			Actions:    []permissions.Action{permissions.ActionDelete},
			Subject:    ability.ResourceRole,
			Inverted:   true,
			Conditions: []ability.Condition{{Field: "default", Op: ability.OpEq, Value: true}},
			Reason:     "default roles are permanent",
		},
		{
			Actions:    []permissions.Action{permissions.ActionUpdate},
			Subject:    ability.ResourceRole,
			Inverted:   true,
			Fields:     []string{"name", "default"},
			Conditions: []ability.Condition{{Field: "default", Op: ability.OpEq, Value: true}},
			Reason:     "default roles keep their identity",
		},
	}
}

// environmentConfinementRule denies everything on resources that belong to a
// different environment. Resources without an environment attribute (global
// records such as users) are unaffected since a condition on an absent
// attribute never matches.
func environmentConfinementRule(environmentID string) ability.Rule {
	return ability.Rule{
		Actions:    []permissions.Action{permissions.ActionAdmin},
		Subject:    ability.ResourceAll,
		Inverted:   true,
		Conditions: []ability.Condition{{Field: "environmentId", Op: ability.OpNeq, Value: environmentID}},
		Reason:     "confined to environment",
	}
}

// sortInvertedLast stably moves exclusions behind grants so they win under
// last-match-wins evaluation.
func sortInvertedLast(rules []ability.Rule) []ability.Rule {
	sort.SliceStable(rules, func(i, j int) bool {
		return !rules[i].Inverted && rules[j].Inverted
	})
	return rules
}

func earliestDeadline(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.Before(*b) {
		return a
	}
	return b
}
