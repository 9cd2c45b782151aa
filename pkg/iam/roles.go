package iam

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowdeck/flowdeck/pkg/ability"
	"github.com/flowdeck/flowdeck/pkg/permissions"
	"github.com/flowdeck/flowdeck/pkg/storage"
)

// RoleStore holds role definitions per environment. Role names are unique
// within an environment; the reserved roles cannot be renamed or deleted.
type RoleStore struct {
	mu      sync.RWMutex
	roles   map[string]*Role
	backend storage.Store
	stores  *Stores
}

// NewRoleStore returns an empty store persisting through backend.
func NewRoleStore(backend storage.Store) *RoleStore {
	return &RoleStore{
		roles:   make(map[string]*Role),
		backend: backend,
	}
}

// Load reads all persisted roles into memory.
func (s *RoleStore) Load() error {
	docs, err := s.backend.List(storage.CollectionRoles)
	if err != nil {
		return fmt.Errorf("loading roles: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		var role Role
		if err := storage.Decode(doc, &role); err != nil {
			return fmt.Errorf("decoding role: %w", err)
		}
		s.roles[role.ID] = &role
	}
	return nil
}

// CreateRole adds a role to an organization environment. The role name must
// be unique within the environment. The @ name prefix and the default flag
// are reserved for the seeded roles.
func (s *RoleStore) CreateRole(input RoleInput, authz *ability.Ability) (*Role, error) {
	if strings.HasPrefix(input.Name, "@") {
		return nil, fmt.Errorf("role names starting with @ are reserved: %w", ErrValidation)
	}
	if input.Default {
		return nil, fmt.Errorf("default roles are created by organization seeding: %w", ErrValidation)
	}
	return s.createRole(input, authz)
}

// seedRole is the organization-seeding entry point for the reserved roles.
func (s *RoleStore) seedRole(input RoleInput) (*Role, error) {
	return s.createRole(input, nil)
}

func (s *RoleStore) createRole(input RoleInput, authz *ability.Ability) (*Role, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("role name is required: %w", ErrValidation)
	}
	if input.EnvironmentID == "" {
		return nil, fmt.Errorf("role environment is required: %w", ErrValidation)
	}
	env, err := s.stores.Environments.GetEnvironment(input.EnvironmentID)
	if err != nil {
		return nil, err
	}
	if !env.IsOrganization {
		return nil, fmt.Errorf("environment %s is personal, roles require an organization: %w", env.ID, ErrInvalidState)
	}

	role := &Role{
		ID:            uuid.NewString(),
		EnvironmentID: input.EnvironmentID,
		Name:          input.Name,
		Description:   input.Description,
		Note:          input.Note,
		Permissions:   stripZeroMasks(input.Permissions),
		Expiration:    input.Expiration,
		Default:       input.Default,
		ParentID:      input.ParentID,
		CreatedOn:     time.Now().UTC(),
	}
	role.LastEditedOn = role.CreatedOn

	if authz != nil && !authz.Can(permissions.ActionCreate, role.Resource()) {
		return nil, ability.NewUnauthorizedError(permissions.ActionCreate, ability.ResourceRole)
	}

	s.mu.Lock()
	for _, existing := range s.roles {
		if existing.EnvironmentID == role.EnvironmentID && existing.Name == role.Name {
			s.mu.Unlock()
			return nil, fmt.Errorf("role %q in environment %s: %w", role.Name, role.EnvironmentID, ErrAlreadyExists)
		}
	}
	if err := s.backend.Add(storage.CollectionRoles, role.ID, role); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("persisting role %s: %w", role.ID, err)
	}
	s.roles[role.ID] = role
	s.mu.Unlock()

	return copyRole(role), nil
}

// GetRole returns the role by id.
func (s *RoleStore) GetRole(id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	return copyRole(role), nil
}

// GetRoleByName returns the role with the given name in an environment.
func (s *RoleStore) GetRoleByName(environmentID, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, role := range s.roles {
		if role.EnvironmentID == environmentID && role.Name == name {
			return copyRole(role), nil
		}
	}
	return nil, fmt.Errorf("role %q in environment %s: %w", name, environmentID, ErrNotFound)
}

// GetRoles lists roles, optionally restricted to one environment. Results
// are ordered by creation time for stable listings.
func (s *RoleStore) GetRoles(environmentID string) []*Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles := make([]*Role, 0, len(s.roles))
	for _, role := range s.roles {
		if environmentID != "" && role.EnvironmentID != environmentID {
			continue
		}
		roles = append(roles, copyRole(role))
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].CreatedOn.Equal(roles[j].CreatedOn) {
			return roles[i].ID < roles[j].ID
		}
		return roles[i].CreatedOn.Before(roles[j].CreatedOn)
	})
	return roles
}

// GetRoleWithMembers returns the role plus a member summary derived from the
// role-mapping store. The role record itself never carries member state.
func (s *RoleStore) GetRoleWithMembers(id string) (*RoleWithMembers, error) {
	role, err := s.GetRole(id)
	if err != nil {
		return nil, err
	}
	mappings := s.stores.RoleMappings.GetMappingsForRole(id)
	members := make([]RoleMember, 0, len(mappings))
	for _, mapping := range mappings {
		member := RoleMember{UserID: mapping.UserID}
		if user, err := s.stores.Users.GetUser(mapping.UserID); err == nil {
			member.Username = user.Username
			member.FirstName = user.FirstName
			member.LastName = user.LastName
			member.Email = user.Email
		}
		members = append(members, member)
	}
	return &RoleWithMembers{Role: *role, Members: members}, nil
}

// UpdateRole applies a typed partial update. Reserved roles keep their name,
// and the @admin role keeps its full permission set. Permission entries that
// resolve to a zero mask are removed rather than stored.
func (s *RoleStore) UpdateRole(id string, update RoleUpdate, authz *ability.Ability) (*Role, error) {
	s.mu.Lock()
	role, ok := s.roles[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}

	if authz != nil && !authz.CheckInputFields(role.Resource(), permissions.ActionUpdate, update.changedFields()) {
		s.mu.Unlock()
		return nil, ability.NewUnauthorizedError(permissions.ActionUpdate, ability.ResourceRole)
	}

	reserved := isReservedRoleName(role.Name)
	if update.Name != nil && *update.Name != role.Name {
		if reserved {
			s.mu.Unlock()
			return nil, fmt.Errorf("role %q cannot be renamed: %w", role.Name, ErrInvalidState)
		}
		if *update.Name == "" {
			s.mu.Unlock()
			return nil, fmt.Errorf("role name cannot be empty: %w", ErrValidation)
		}
		if strings.HasPrefix(*update.Name, "@") {
			s.mu.Unlock()
			return nil, fmt.Errorf("role names starting with @ are reserved: %w", ErrValidation)
		}
		for _, existing := range s.roles {
			if existing.ID != id && existing.EnvironmentID == role.EnvironmentID && existing.Name == *update.Name {
				s.mu.Unlock()
				return nil, fmt.Errorf("role %q in environment %s: %w", *update.Name, role.EnvironmentID, ErrAlreadyExists)
			}
		}
	}
	if update.Permissions != nil && role.Name == RoleNameAdmin {
		s.mu.Unlock()
		return nil, fmt.Errorf("permissions of %s cannot be changed: %w", RoleNameAdmin, ErrInvalidState)
	}

	updated := *role
	if update.Name != nil {
		updated.Name = *update.Name
	}
	if update.Description != nil {
		updated.Description = *update.Description
	}
	if update.Note != nil {
		updated.Note = *update.Note
	}
	if update.Permissions != nil {
		updated.Permissions = stripZeroMasks(update.Permissions)
	} else {
		updated.Permissions = stripZeroMasks(role.Permissions)
	}
	if update.ClearExpiration {
		updated.Expiration = nil
	} else if update.Expiration != nil {
		updated.Expiration = update.Expiration
	}
	if update.ParentID != nil {
		updated.ParentID = *update.ParentID
	}
	updated.LastEditedOn = time.Now().UTC()

	if err := s.backend.Update(storage.CollectionRoles, id, &updated); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("persisting role %s: %w", id, err)
	}
	s.roles[id] = &updated

	if update.Name != nil && *update.Name != role.Name {
		s.stores.RoleMappings.renameRole(id, *update.Name)
	}
	s.mu.Unlock()

	s.stores.invalidateAll()
	return copyRole(&updated), nil
}

// DeleteRole removes a role and every mapping that references it. Reserved
// roles cannot be deleted. The mapping cascade runs before the role record
// is removed so a failure never leaves mappings pointing at a deleted role.
func (s *RoleStore) DeleteRole(id string, authz *ability.Ability) error {
	s.mu.Lock()
	role, ok := s.roles[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	if isReservedRoleName(role.Name) {
		s.mu.Unlock()
		return fmt.Errorf("role %q cannot be deleted: %w", role.Name, ErrInvalidState)
	}
	if authz != nil && !authz.Can(permissions.ActionDelete, role.Resource()) {
		s.mu.Unlock()
		return ability.NewUnauthorizedError(permissions.ActionDelete, ability.ResourceRole)
	}
	s.mu.Unlock()

	if err := s.stores.RoleMappings.removeMappingsForRole(id); err != nil {
		return fmt.Errorf("cascading mappings for role %s: %w", id, err)
	}

	s.mu.Lock()
	if err := s.backend.Remove(storage.CollectionRoles, id); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("removing role %s: %w", id, err)
	}
	delete(s.roles, id)
	s.mu.Unlock()

	s.stores.invalidateAll()
	return nil
}

func isReservedRoleName(name string) bool {
	switch name {
	case RoleNameAdmin, RoleNameGuest, RoleNameEveryone:
		return true
	}
	return false
}

// stripZeroMasks copies the map, dropping entries with no permission bits.
// Absence and a zero mask mean the same thing, so only absence is stored.
func stripZeroMasks(perms map[ability.ResourceType]permissions.Mask) map[ability.ResourceType]permissions.Mask {
	out := make(map[ability.ResourceType]permissions.Mask, len(perms))
	for resourceType, mask := range perms {
		if mask == permissions.None {
			continue
		}
		out[resourceType] = mask
	}
	return out
}

func copyRole(role *Role) *Role {
	clone := *role
	clone.Permissions = make(map[ability.ResourceType]permissions.Mask, len(role.Permissions))
	for resourceType, mask := range role.Permissions {
		clone.Permissions[resourceType] = mask
	}
	if role.Expiration != nil {
		expiration := *role.Expiration
		clone.Expiration = &expiration
	}
	return &clone
}
