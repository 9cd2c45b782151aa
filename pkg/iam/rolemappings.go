package iam

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/flowdeck/flowdeck/pkg/ability"
	"github.com/flowdeck/flowdeck/pkg/permissions"
	"github.com/flowdeck/flowdeck/pkg/storage"
)

// RoleMappingStore assigns roles to users. Mappings are kept per environment
// and per user in creation order; the rule engine depends on that order when
// composing rule lists.
type RoleMappingStore struct {
	mu sync.RWMutex
	// environmentID -> userID -> mappings in creation order
	mappings map[string]map[string][]*RoleMapping
	backend  storage.Store
	stores   *Stores
}

// NewRoleMappingStore returns an empty store persisting through backend.
func NewRoleMappingStore(backend storage.Store) *RoleMappingStore {
	return &RoleMappingStore{
		mappings: make(map[string]map[string][]*RoleMapping),
		backend:  backend,
	}
}

// Load reads all persisted mappings into memory, restoring creation order.
func (s *RoleMappingStore) Load() error {
	docs, err := s.backend.List(storage.CollectionRoleMappings)
	if err != nil {
		return fmt.Errorf("loading role mappings: %w", err)
	}
	loaded := make([]*RoleMapping, 0, len(docs))
	for _, doc := range docs {
		var mapping RoleMapping
		if err := storage.Decode(doc, &mapping); err != nil {
			return fmt.Errorf("decoding role mapping: %w", err)
		}
		loaded = append(loaded, &mapping)
	}
	sort.Slice(loaded, func(i, j int) bool {
		if loaded[i].CreatedOn.Equal(loaded[j].CreatedOn) {
			return loaded[i].ID < loaded[j].ID
		}
		return loaded[i].CreatedOn.Before(loaded[j].CreatedOn)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mapping := range loaded {
		s.insertLocked(mapping)
	}
	return nil
}

func (s *RoleMappingStore) insertLocked(mapping *RoleMapping) {
	byUser, ok := s.mappings[mapping.EnvironmentID]
	if !ok {
		byUser = make(map[string][]*RoleMapping)
		s.mappings[mapping.EnvironmentID] = byUser
	}
	byUser[mapping.UserID] = append(byUser[mapping.UserID], mapping)
}

// AddMapping assigns a role to a user. The environment must exist and be an
// organization, the role must exist in that environment, the user must not
// be a guest, and no mapping for the same (userId, roleId) may exist yet.
// The implicit roles @guest and @everyone cannot be mapped explicitly.
func (s *RoleMappingStore) AddMapping(input RoleMappingInput, authz *ability.Ability) (*RoleMapping, error) {
	if input.UserID == "" || input.RoleID == "" || input.EnvironmentID == "" {
		return nil, fmt.Errorf("mapping requires userId, roleId and environmentId: %w", ErrValidation)
	}
	env, err := s.stores.Environments.GetEnvironment(input.EnvironmentID)
	if err != nil {
		return nil, err
	}
	if !env.IsOrganization {
		return nil, fmt.Errorf("environment %s is personal, role mappings require an organization: %w", env.ID, ErrInvalidState)
	}
	role, err := s.stores.Roles.GetRole(input.RoleID)
	if err != nil {
		return nil, err
	}
	if role.EnvironmentID != input.EnvironmentID {
		return nil, fmt.Errorf("role %s belongs to environment %s: %w", role.ID, role.EnvironmentID, ErrInvalidState)
	}
	if role.Name == RoleNameGuest || role.Name == RoleNameEveryone {
		return nil, fmt.Errorf("role %q is applied implicitly and cannot be mapped: %w", role.Name, ErrInvalidState)
	}
	if s.stores.Users.IsGuest(input.UserID) {
		return nil, fmt.Errorf("guest accounts cannot hold roles: %w", ErrInvalidState)
	}

	mapping := &RoleMapping{
		ID:            uuid.NewString(),
		UserID:        input.UserID,
		RoleID:        input.RoleID,
		EnvironmentID: input.EnvironmentID,
		RoleName:      role.Name,
		Expiration:    input.Expiration,
		CreatedOn:     time.Now().UTC(),
	}

	if authz != nil && !authz.Can(permissions.ActionManageRoles, mapping.Resource()) {
		return nil, ability.NewUnauthorizedError(permissions.ActionManageRoles, ability.ResourceRoleMapping)
	}

	s.mu.Lock()
	for _, existing := range s.mappings[input.EnvironmentID][input.UserID] {
		if existing.RoleID == input.RoleID {
			s.mu.Unlock()
			return nil, fmt.Errorf("user %s already holds role %s: %w", input.UserID, input.RoleID, ErrAlreadyExists)
		}
	}
	if err := s.backend.Add(storage.CollectionRoleMappings, mapping.ID, mapping); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("persisting role mapping %s: %w", mapping.ID, err)
	}
	s.insertLocked(mapping)
	s.mu.Unlock()

	s.stores.invalidateUser(input.UserID, input.EnvironmentID)
	return copyMapping(mapping), nil
}

// RemoveMapping removes the mapping for (userId, roleId) in an environment.
// The last @admin mapping of an organization cannot be removed.
func (s *RoleMappingStore) RemoveMapping(userID, roleID, environmentID string, authz *ability.Ability) error {
	s.mu.Lock()
	userMappings := s.mappings[environmentID][userID]
	idx := -1
	for i, mapping := range userMappings {
		if mapping.RoleID == roleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("mapping of role %s to user %s: %w", roleID, userID, ErrNotFound)
	}
	mapping := userMappings[idx]

	if authz != nil && !authz.Can(permissions.ActionManageRoles, mapping.Resource()) {
		s.mu.Unlock()
		return ability.NewUnauthorizedError(permissions.ActionManageRoles, ability.ResourceRoleMapping)
	}
	if mapping.RoleName == RoleNameAdmin && s.countRoleHoldersLocked(environmentID, roleID) == 1 {
		s.mu.Unlock()
		return fmt.Errorf("cannot remove the last %s of an organization: %w", RoleNameAdmin, ErrInvalidState)
	}

	if err := s.backend.Remove(storage.CollectionRoleMappings, mapping.ID); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("removing role mapping %s: %w", mapping.ID, err)
	}
	s.mappings[environmentID][userID] = append(userMappings[:idx:idx], userMappings[idx+1:]...)
	s.mu.Unlock()

	s.stores.invalidateUser(userID, environmentID)
	return nil
}

// GetMappingsForUser returns the user's mappings in one environment, in
// creation order.
func (s *RoleMappingStore) GetMappingsForUser(userID, environmentID string) []*RoleMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userMappings := s.mappings[environmentID][userID]
	out := make([]*RoleMapping, 0, len(userMappings))
	for _, mapping := range userMappings {
		out = append(out, copyMapping(mapping))
	}
	return out
}

// GetAllMappings lists mappings, optionally restricted to one environment.
func (s *RoleMappingStore) GetAllMappings(environmentID string) []*RoleMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RoleMapping
	for envID, byUser := range s.mappings {
		if environmentID != "" && envID != environmentID {
			continue
		}
		for _, userMappings := range byUser {
			for _, mapping := range userMappings {
				out = append(out, copyMapping(mapping))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedOn.Equal(out[j].CreatedOn) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedOn.Before(out[j].CreatedOn)
	})
	return out
}

// GetMappingsForRole returns every mapping referencing the role, in creation
// order.
func (s *RoleMappingStore) GetMappingsForRole(roleID string) []*RoleMapping {
	var out []*RoleMapping
	for _, mapping := range s.GetAllMappings("") {
		if mapping.RoleID == roleID {
			out = append(out, mapping)
		}
	}
	return out
}

func (s *RoleMappingStore) countRoleHoldersLocked(environmentID, roleID string) int {
	count := 0
	for _, userMappings := range s.mappings[environmentID] {
		for _, mapping := range userMappings {
			if mapping.RoleID == roleID {
				count++
			}
		}
	}
	return count
}

// removeMappingsForRole deletes every mapping referencing the role. Called
// by the role store before the role record itself is removed.
func (s *RoleMappingStore) removeMappingsForRole(roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, byUser := range s.mappings {
		for userID, userMappings := range byUser {
			kept := userMappings[:0:0]
			for i, mapping := range userMappings {
				if mapping.RoleID != roleID {
					kept = append(kept, mapping)
					continue
				}
				if err := s.backend.Remove(storage.CollectionRoleMappings, mapping.ID); err != nil {
					byUser[userID] = append(kept, userMappings[i:]...)
					return fmt.Errorf("removing role mapping %s: %w", mapping.ID, err)
				}
			}
			byUser[userID] = kept
		}
	}
	return nil
}

// removeMappingsForUser deletes every mapping the user holds in the
// environment. Called by the membership store before the membership record
// itself is removed.
func (s *RoleMappingStore) removeMappingsForUser(userID, environmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	userMappings := s.mappings[environmentID][userID]
	for i, mapping := range userMappings {
		if err := s.backend.Remove(storage.CollectionRoleMappings, mapping.ID); err != nil {
			s.mappings[environmentID][userID] = userMappings[i:]
			return fmt.Errorf("removing role mapping %s: %w", mapping.ID, err)
		}
	}
	delete(s.mappings[environmentID], userID)
	return nil
}

// renameRole refreshes the denormalized role name on every mapping that
// references the role. Persistence failures here leave a stale name behind;
// the authoritative name always lives on the role record.
func (s *RoleMappingStore) renameRole(roleID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, byUser := range s.mappings {
		for _, userMappings := range byUser {
			for _, mapping := range userMappings {
				if mapping.RoleID != roleID {
					continue
				}
				mapping.RoleName = name
				if err := s.backend.Update(storage.CollectionRoleMappings, mapping.ID, mapping); err != nil {
					logrus.WithError(err).WithField("mapping", mapping.ID).Warn("Failed to persist renamed role mapping")
				}
			}
		}
	}
}

func copyMapping(mapping *RoleMapping) *RoleMapping {
	clone := *mapping
	if mapping.Expiration != nil {
		expiration := *mapping.Expiration
		clone.Expiration = &expiration
	}
	return &clone
}
