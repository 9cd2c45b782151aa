package iam

import (
	"sync"

	"github.com/flowdeck/flowdeck/pkg/storage"
)

// Stores is the composition root for the identity stores. The individual
// stores reference each other for validation and cascades (a mapping needs
// the role and environment, a membership removal cascades into mappings), so
// they are built together and wired here rather than holding ambient
// globals.
type Stores struct {
	Environments *EnvironmentStore
	Users        *UserStore
	Roles        *RoleStore
	RoleMappings *RoleMappingStore
	Memberships  *MembershipStore

	mu          sync.RWMutex
	invalidator CacheInvalidator
}

// NewStores builds the store graph on a shared backend.
func NewStores(backend storage.Store) *Stores {
	s := &Stores{
		Environments: NewEnvironmentStore(backend),
		Users:        NewUserStore(backend),
		Roles:        NewRoleStore(backend),
		RoleMappings: NewRoleMappingStore(backend),
		Memberships:  NewMembershipStore(backend),
	}
	s.Environments.stores = s
	s.Users.stores = s
	s.Roles.stores = s
	s.RoleMappings.stores = s
	s.Memberships.stores = s
	return s
}

// Load hydrates every store from the backend. Call once at startup before
// serving requests.
func (s *Stores) Load() error {
	if err := s.Environments.Load(); err != nil {
		return err
	}
	if err := s.Users.Load(); err != nil {
		return err
	}
	if err := s.Roles.Load(); err != nil {
		return err
	}
	if err := s.RoleMappings.Load(); err != nil {
		return err
	}
	return s.Memberships.Load()
}

// SetCacheInvalidator registers the rule-cache hook. The authorization
// service calls this after construction; until then mutations simply have no
// cache to invalidate.
func (s *Stores) SetCacheInvalidator(invalidator CacheInvalidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidator = invalidator
}

func (s *Stores) invalidateUser(userID, environmentID string) {
	s.mu.RLock()
	invalidator := s.invalidator
	s.mu.RUnlock()
	if invalidator != nil {
		invalidator.InvalidateUserRules(userID, environmentID)
	}
}

func (s *Stores) invalidateAll() {
	s.mu.RLock()
	invalidator := s.invalidator
	s.mu.RUnlock()
	if invalidator != nil {
		invalidator.InvalidateAllRules()
	}
}
