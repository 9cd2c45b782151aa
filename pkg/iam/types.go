package iam

import (
	"time"

	"github.com/flowdeck/flowdeck/pkg/ability"
	"github.com/flowdeck/flowdeck/pkg/permissions"
)

// Reserved role names seeded into every organization. They are applied
// implicitly by the rule engine and protected from normal deletion paths.
const (
	RoleNameAdmin    = "@admin"
	RoleNameGuest    = "@guest"
	RoleNameEveryone = "@everyone"
)

// Environment is a tenancy boundary: either a personal space (one per user,
// id equals the owner's user id) or an organization with members and roles.
type Environment struct {
	ID             string    `json:"id"`
	IsOrganization bool      `json:"isOrganization"`
	IsActive       bool      `json:"isActive"`
	OwnerID        string    `json:"ownerId,omitempty"`
	Name           string    `json:"name,omitempty"`
	Description    string    `json:"description,omitempty"`
	Logo           string    `json:"logo,omitempty"`
	CreatedOn      time.Time `json:"createdOn"`
}

// Resource converts the environment for ability queries.
func (e *Environment) Resource() ability.Resource {
	return ability.Resource{
		Type:          ability.ResourceEnvironment,
		ID:            e.ID,
		EnvironmentID: e.ID,
		OwnerID:       e.OwnerID,
	}
}

// EnvironmentInput describes a new environment.
type EnvironmentInput struct {
	IsOrganization bool   `json:"isOrganization"`
	IsActive       bool   `json:"isActive"`
	OwnerID        string `json:"ownerId"`
	Name           string `json:"name,omitempty"`
	Description    string `json:"description,omitempty"`
	Logo           string `json:"logo,omitempty"`
}

// User is the minimal user record the authorization core needs. Guest
// accounts can browse through guest-level rules but can never hold
// memberships or role mappings.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Email     string    `json:"email,omitempty"`
	IsGuest   bool      `json:"isGuest"`
	CreatedOn time.Time `json:"createdOn"`
}

// Resource converts the user for ability queries.
func (u *User) Resource() ability.Resource {
	return ability.Resource{Type: ability.ResourceUser, ID: u.ID}
}

// Role is a named, reusable bundle of permission masks scoped to one
// environment.
type Role struct {
	ID            string                                    `json:"id"`
	EnvironmentID string                                    `json:"environmentId"`
	Name          string                                    `json:"name"`
	Description   string                                    `json:"description,omitempty"`
	Note          string                                    `json:"note,omitempty"`
	Permissions   map[ability.ResourceType]permissions.Mask `json:"permissions"`
	Expiration    *time.Time                                `json:"expiration,omitempty"`
	Default       bool                                      `json:"default"`
	// ParentID confines the role's folder-scoped grants to a subtree.
	ParentID     string    `json:"parentId,omitempty"`
	CreatedOn    time.Time `json:"createdOn"`
	LastEditedOn time.Time `json:"lastEditedOn"`
}

// Resource converts the role for ability queries, exposing the attributes
// rule conditions refer to (default flag, name, per-resource masks).
func (r *Role) Resource() ability.Resource {
	attrs := map[string]any{
		"default": r.Default,
		"name":    r.Name,
	}
	for resourceType, mask := range r.Permissions {
		attrs["permissions."+string(resourceType)] = mask
	}
	return ability.Resource{
		Type:          ability.ResourceRole,
		ID:            r.ID,
		EnvironmentID: r.EnvironmentID,
		Attrs:         attrs,
	}
}

// RoleMember is the read-model summary of one user holding a role. It is
// derived from the role-mapping store on demand; roles do not carry a second
// copy of the membership fact.
type RoleMember struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// RoleWithMembers is a role plus its derived member summaries.
type RoleWithMembers struct {
	Role
	Members []RoleMember `json:"members"`
}

// RoleInput describes a new role.
type RoleInput struct {
	EnvironmentID string                                    `json:"environmentId"`
	Name          string                                    `json:"name"`
	Description   string                                    `json:"description,omitempty"`
	Note          string                                    `json:"note,omitempty"`
	Permissions   map[ability.ResourceType]permissions.Mask `json:"permissions,omitempty"`
	Expiration    *time.Time                                `json:"expiration,omitempty"`
	Default       bool                                      `json:"default,omitempty"`
	ParentID      string                                    `json:"parentId,omitempty"`
}

// RoleUpdate is the typed partial update for a role. Nil pointers leave the
// field untouched; a nil Permissions map leaves permissions untouched.
// Entries whose mask resolves to zero are stripped on apply, since "no
// permission" is represented by absence.
type RoleUpdate struct {
	Name            *string                                   `json:"name,omitempty"`
	Description     *string                                   `json:"description,omitempty"`
	Note            *string                                   `json:"note,omitempty"`
	Permissions     map[ability.ResourceType]permissions.Mask `json:"permissions,omitempty"`
	Expiration      *time.Time                                `json:"expiration,omitempty"`
	ClearExpiration bool                                      `json:"clearExpiration,omitempty"`
	ParentID        *string                                   `json:"parentId,omitempty"`
}

// changedFields lists the field names the update touches, for field-level
// ability checks.
func (u *RoleUpdate) changedFields() map[string]any {
	changes := make(map[string]any)
	if u.Name != nil {
		changes["name"] = *u.Name
	}
	if u.Description != nil {
		changes["description"] = *u.Description
	}
	if u.Note != nil {
		changes["note"] = *u.Note
	}
	if u.Permissions != nil {
		for resourceType, mask := range u.Permissions {
			changes["permissions."+string(resourceType)] = mask
		}
	}
	if u.Expiration != nil || u.ClearExpiration {
		changes["expiration"] = u.Expiration
	}
	if u.ParentID != nil {
		changes["parentId"] = *u.ParentID
	}
	return changes
}

// RoleMapping assigns a role to a user within one environment.
type RoleMapping struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	RoleID        string     `json:"roleId"`
	EnvironmentID string     `json:"environmentId"`
	RoleName      string     `json:"roleName"`
	Expiration    *time.Time `json:"expiration,omitempty"`
	CreatedOn     time.Time  `json:"createdOn"`
}

// Resource converts the mapping for ability queries.
func (m *RoleMapping) Resource() ability.Resource {
	return ability.Resource{
		Type:          ability.ResourceRoleMapping,
		ID:            m.ID,
		EnvironmentID: m.EnvironmentID,
		Attrs: map[string]any{
			"userId": m.UserID,
			"roleId": m.RoleID,
		},
	}
}

// RoleMappingInput describes a new role mapping.
type RoleMappingInput struct {
	UserID        string     `json:"userId"`
	RoleID        string     `json:"roleId"`
	EnvironmentID string     `json:"environmentId"`
	Expiration    *time.Time `json:"expiration,omitempty"`
}

// Membership records that a user belongs to an organization environment.
// Personal environments have no membership records; their sole member is the
// owner by definition.
type Membership struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	EnvironmentID string    `json:"environmentId"`
	CreatedOn     time.Time `json:"createdOn"`
}

// CacheInvalidator is the hook the stores call after a mutation is durably
// applied, so cached rule sets never outlive the change. Invalidation runs
// strictly after the store write.
type CacheInvalidator interface {
	// InvalidateUserRules drops the cached rules for one (user, environment)
	// pair.
	InvalidateUserRules(userID, environmentID string)

	// InvalidateAllRules flushes the whole rule cache; used when the blast
	// radius of a change is not cheaply computable.
	InvalidateAllRules()
}
