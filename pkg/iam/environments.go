package iam

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowdeck/flowdeck/pkg/ability"
	"github.com/flowdeck/flowdeck/pkg/permissions"
	"github.com/flowdeck/flowdeck/pkg/storage"
)

// EnvironmentStore holds environments. Creating an organization seeds the
// three reserved roles (@admin, @guest, @everyone) and maps the creator to
// @admin, so a fresh organization is never ownerless.
type EnvironmentStore struct {
	mu           sync.RWMutex
	environments map[string]*Environment
	backend      storage.Store
	stores       *Stores
}

// NewEnvironmentStore returns an empty store persisting through backend.
func NewEnvironmentStore(backend storage.Store) *EnvironmentStore {
	return &EnvironmentStore{
		environments: make(map[string]*Environment),
		backend:      backend,
	}
}

// Load reads all persisted environments into memory.
func (s *EnvironmentStore) Load() error {
	docs, err := s.backend.List(storage.CollectionEnvironments)
	if err != nil {
		return fmt.Errorf("loading environments: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		var env Environment
		if err := storage.Decode(doc, &env); err != nil {
			return fmt.Errorf("decoding environment: %w", err)
		}
		s.environments[env.ID] = &env
	}
	return nil
}

// AddEnvironment creates an environment. Personal environments take the
// owner's user id as their own id. Organizations get a generated id, the
// reserved roles, a membership for the owner, and an @admin mapping for the
// owner.
func (s *EnvironmentStore) AddEnvironment(input EnvironmentInput) (*Environment, error) {
	if input.OwnerID == "" {
		return nil, fmt.Errorf("environment owner is required: %w", ErrValidation)
	}
	if input.IsOrganization && input.Name == "" {
		return nil, fmt.Errorf("organization name is required: %w", ErrValidation)
	}

	env := &Environment{
		IsOrganization: input.IsOrganization,
		IsActive:       input.IsActive,
		OwnerID:        input.OwnerID,
		Name:           input.Name,
		Description:    input.Description,
		Logo:           input.Logo,
		CreatedOn:      time.Now().UTC(),
	}
	if env.IsOrganization {
		env.ID = uuid.NewString()
	} else {
		// A personal space is identified by its owner.
		env.ID = input.OwnerID
		env.IsActive = true
	}

	s.mu.Lock()
	if _, ok := s.environments[env.ID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("environment %s: %w", env.ID, ErrAlreadyExists)
	}
	if err := s.backend.Add(storage.CollectionEnvironments, env.ID, env); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("persisting environment %s: %w", env.ID, err)
	}
	s.environments[env.ID] = env
	s.mu.Unlock()

	if env.IsOrganization {
		if err := s.seedOrganization(env); err != nil {
			return nil, err
		}
	}
	return copyEnvironment(env), nil
}

// seedOrganization creates the reserved roles, the owner membership and the
// owner's @admin mapping. Runs outside the store lock since it calls into
// the sibling stores.
func (s *EnvironmentStore) seedOrganization(env *Environment) error {
	adminPerms := make(map[ability.ResourceType]permissions.Mask, len(ability.ResourceTypes))
	for _, resourceType := range ability.ResourceTypes {
		adminPerms[resourceType] = permissions.Admin
	}

	adminRole, err := s.stores.Roles.seedRole(RoleInput{
		EnvironmentID: env.ID,
		Name:          RoleNameAdmin,
		Description:   "Full administrative access",
		Permissions:   adminPerms,
		Default:       true,
	})
	if err != nil {
		return fmt.Errorf("seeding %s role: %w", RoleNameAdmin, err)
	}
	if _, err := s.stores.Roles.seedRole(RoleInput{
		EnvironmentID: env.ID,
		Name:          RoleNameGuest,
		Description:   "Permissions for unauthenticated visitors",
		Default:       true,
	}); err != nil {
		return fmt.Errorf("seeding %s role: %w", RoleNameGuest, err)
	}
	if _, err := s.stores.Roles.seedRole(RoleInput{
		EnvironmentID: env.ID,
		Name:          RoleNameEveryone,
		Description:   "Permissions for all signed-in members",
		Default:       true,
	}); err != nil {
		return fmt.Errorf("seeding %s role: %w", RoleNameEveryone, err)
	}

	if err := s.stores.Memberships.AddMember(env.ID, env.OwnerID, nil); err != nil {
		return fmt.Errorf("seeding owner membership: %w", err)
	}
	if _, err := s.stores.RoleMappings.AddMapping(RoleMappingInput{
		UserID:        env.OwnerID,
		RoleID:        adminRole.ID,
		EnvironmentID: env.ID,
	}, nil); err != nil {
		return fmt.Errorf("seeding owner admin mapping: %w", err)
	}
	return nil
}

// GetEnvironment returns the environment by id.
func (s *EnvironmentStore) GetEnvironment(id string) (*Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.environments[id]
	if !ok {
		return nil, fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}
	return copyEnvironment(env), nil
}

// GetEnvironments returns all environments.
func (s *EnvironmentStore) GetEnvironments() []*Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	envs := make([]*Environment, 0, len(s.environments))
	for _, env := range s.environments {
		envs = append(envs, copyEnvironment(env))
	}
	return envs
}

// SetActive toggles an organization's active flag. Deactivating an
// organization immediately cuts off member access, so the whole rule cache
// is flushed.
func (s *EnvironmentStore) SetActive(id string, active bool, authz *ability.Ability) error {
	s.mu.Lock()
	env, ok := s.environments[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}
	if !env.IsOrganization {
		s.mu.Unlock()
		return fmt.Errorf("environment %s is personal: %w", id, ErrInvalidState)
	}
	if authz != nil && !authz.Can(permissions.ActionAdmin, env.Resource()) {
		s.mu.Unlock()
		return ability.NewUnauthorizedError(permissions.ActionAdmin, ability.ResourceEnvironment)
	}

	updated := *env
	updated.IsActive = active
	if err := s.backend.Update(storage.CollectionEnvironments, id, &updated); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persisting environment %s: %w", id, err)
	}
	s.environments[id] = &updated
	s.mu.Unlock()

	s.stores.invalidateAll()
	return nil
}

// UpdateEnvironment applies a partial update to an organization's profile
// fields.
func (s *EnvironmentStore) UpdateEnvironment(id string, update EnvironmentUpdate, authz *ability.Ability) (*Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.environments[id]
	if !ok {
		return nil, fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}
	if !env.IsOrganization {
		return nil, fmt.Errorf("environment %s is personal: %w", id, ErrInvalidState)
	}
	if authz != nil && !authz.Can(permissions.ActionUpdate, env.Resource()) {
		return nil, ability.NewUnauthorizedError(permissions.ActionUpdate, ability.ResourceEnvironment)
	}

	updated := *env
	if update.Name != nil {
		if *update.Name == "" {
			return nil, fmt.Errorf("organization name cannot be empty: %w", ErrValidation)
		}
		updated.Name = *update.Name
	}
	if update.Description != nil {
		updated.Description = *update.Description
	}
	if update.Logo != nil {
		updated.Logo = *update.Logo
	}
	if err := s.backend.Update(storage.CollectionEnvironments, id, &updated); err != nil {
		return nil, fmt.Errorf("persisting environment %s: %w", id, err)
	}
	s.environments[id] = &updated
	return copyEnvironment(&updated), nil
}

// EnvironmentUpdate is the typed partial update for an organization's
// profile.
type EnvironmentUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Logo        *string `json:"logo,omitempty"`
}

func copyEnvironment(env *Environment) *Environment {
	clone := *env
	return &clone
}
