package iam

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowdeck/flowdeck/pkg/ability"
	"github.com/flowdeck/flowdeck/pkg/permissions"
	"github.com/flowdeck/flowdeck/pkg/storage"
)

// MembershipStore tracks which users belong to which organization. Personal
// environments never have membership records; their sole member is the owner
// by construction.
type MembershipStore struct {
	mu sync.RWMutex
	// environmentID -> userID -> membership
	memberships map[string]map[string]*Membership
	backend     storage.Store
	stores      *Stores
}

// NewMembershipStore returns an empty store persisting through backend.
func NewMembershipStore(backend storage.Store) *MembershipStore {
	return &MembershipStore{
		memberships: make(map[string]map[string]*Membership),
		backend:     backend,
	}
}

// Load reads all persisted memberships into memory.
func (s *MembershipStore) Load() error {
	docs, err := s.backend.List(storage.CollectionMemberships)
	if err != nil {
		return fmt.Errorf("loading memberships: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		var membership Membership
		if err := storage.Decode(doc, &membership); err != nil {
			return fmt.Errorf("decoding membership: %w", err)
		}
		byUser, ok := s.memberships[membership.EnvironmentID]
		if !ok {
			byUser = make(map[string]*Membership)
			s.memberships[membership.EnvironmentID] = byUser
		}
		byUser[membership.UserID] = &membership
	}
	return nil
}

// IsMember reports whether the user belongs to the environment. For a
// personal environment the owner is the only member.
func (s *MembershipStore) IsMember(environmentID, userID string) bool {
	env, err := s.stores.Environments.GetEnvironment(environmentID)
	if err != nil {
		return false
	}
	if !env.IsOrganization {
		return userID == environmentID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.memberships[environmentID][userID]
	return ok
}

// AddMember adds a user to an organization.
func (s *MembershipStore) AddMember(environmentID, userID string, authz *ability.Ability) error {
	if userID == "" {
		return fmt.Errorf("membership requires a userId: %w", ErrValidation)
	}
	env, err := s.stores.Environments.GetEnvironment(environmentID)
	if err != nil {
		return err
	}
	if !env.IsOrganization {
		return fmt.Errorf("environment %s is personal, memberships require an organization: %w", env.ID, ErrInvalidState)
	}
	if s.stores.Users.IsGuest(userID) {
		return fmt.Errorf("guest accounts cannot join organizations: %w", ErrInvalidState)
	}
	if authz != nil && !authz.Can(permissions.ActionManageRoles, ability.Resource{
		Type:          ability.ResourceUser,
		ID:            userID,
		EnvironmentID: environmentID,
	}) {
		return ability.NewUnauthorizedError(permissions.ActionManageRoles, ability.ResourceUser)
	}

	membership := &Membership{
		ID:            uuid.NewString(),
		UserID:        userID,
		EnvironmentID: environmentID,
		CreatedOn:     time.Now().UTC(),
	}

	s.mu.Lock()
	if _, ok := s.memberships[environmentID][userID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("user %s in environment %s: %w", userID, environmentID, ErrAlreadyExists)
	}
	if err := s.backend.Add(storage.CollectionMemberships, membership.ID, membership); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persisting membership %s: %w", membership.ID, err)
	}
	byUser, ok := s.memberships[environmentID]
	if !ok {
		byUser = make(map[string]*Membership)
		s.memberships[environmentID] = byUser
	}
	byUser[userID] = membership
	s.mu.Unlock()

	s.stores.invalidateUser(userID, environmentID)
	return nil
}

// RemoveMember removes a user from an organization. Every role mapping the
// user holds there is removed first so no mapping can outlive the
// membership. The last remaining administrator cannot be removed.
func (s *MembershipStore) RemoveMember(environmentID, userID string, authz *ability.Ability) error {
	s.mu.RLock()
	membership, ok := s.memberships[environmentID][userID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("user %s is not a member of environment %s: %w", userID, environmentID, ErrNotFound)
	}
	if authz != nil && !authz.Can(permissions.ActionManageRoles, ability.Resource{
		Type:          ability.ResourceUser,
		ID:            userID,
		EnvironmentID: environmentID,
	}) {
		return ability.NewUnauthorizedError(permissions.ActionManageRoles, ability.ResourceUser)
	}
	if s.isLastAdmin(environmentID, userID) {
		return fmt.Errorf("cannot remove the last %s of an organization: %w", RoleNameAdmin, ErrInvalidState)
	}

	if err := s.stores.RoleMappings.removeMappingsForUser(userID, environmentID); err != nil {
		return fmt.Errorf("cascading mappings for user %s: %w", userID, err)
	}

	s.mu.Lock()
	if err := s.backend.Remove(storage.CollectionMemberships, membership.ID); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("removing membership %s: %w", membership.ID, err)
	}
	delete(s.memberships[environmentID], userID)
	s.mu.Unlock()

	s.stores.invalidateUser(userID, environmentID)
	return nil
}

// GetMembers returns the memberships of an organization ordered by join
// time.
func (s *MembershipStore) GetMembers(environmentID string) []*Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]*Membership, 0, len(s.memberships[environmentID]))
	for _, membership := range s.memberships[environmentID] {
		clone := *membership
		members = append(members, &clone)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].CreatedOn.Equal(members[j].CreatedOn) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].CreatedOn.Before(members[j].CreatedOn)
	})
	return members
}

// GetEnvironmentsForUser returns the ids of every organization the user is
// a member of.
func (s *MembershipStore) GetEnvironmentsForUser(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var envIDs []string
	for envID, byUser := range s.memberships {
		if _, ok := byUser[userID]; ok {
			envIDs = append(envIDs, envID)
		}
	}
	sort.Strings(envIDs)
	return envIDs
}

// isLastAdmin reports whether the user holds the organization's only @admin
// mapping.
func (s *MembershipStore) isLastAdmin(environmentID, userID string) bool {
	holdsAdmin := false
	admins := 0
	for _, mapping := range s.stores.RoleMappings.GetAllMappings(environmentID) {
		if mapping.RoleName != RoleNameAdmin {
			continue
		}
		admins++
		if mapping.UserID == userID {
			holdsAdmin = true
		}
	}
	return holdsAdmin && admins == 1
}
