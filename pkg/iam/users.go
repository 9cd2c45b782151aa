package iam

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowdeck/flowdeck/pkg/storage"
)

// UserStore holds user records. It is the smallest store in the package: the
// dashboard's profile features live elsewhere, but authorization needs to
// know who exists and who is a guest.
type UserStore struct {
	mu      sync.RWMutex
	users   map[string]*User
	backend storage.Store
	stores  *Stores
}

// NewUserStore returns an empty store persisting through backend.
func NewUserStore(backend storage.Store) *UserStore {
	return &UserStore{
		users:   make(map[string]*User),
		backend: backend,
	}
}

// Load reads all persisted users into memory.
func (s *UserStore) Load() error {
	docs, err := s.backend.List(storage.CollectionUsers)
	if err != nil {
		return fmt.Errorf("loading users: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		var user User
		if err := storage.Decode(doc, &user); err != nil {
			return fmt.Errorf("decoding user: %w", err)
		}
		s.users[user.ID] = &user
	}
	return nil
}

// AddUser registers a user. An empty ID is assigned a fresh UUID.
func (s *UserStore) AddUser(user User) (*User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedOn.IsZero() {
		user.CreatedOn = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return nil, fmt.Errorf("user %s: %w", user.ID, ErrAlreadyExists)
	}
	if err := s.backend.Add(storage.CollectionUsers, user.ID, &user); err != nil {
		return nil, fmt.Errorf("persisting user %s: %w", user.ID, err)
	}
	s.users[user.ID] = &user
	return copyUser(&user), nil
}

// GetUser returns the user by id.
func (s *UserStore) GetUser(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return copyUser(user), nil
}

// GetUsers returns all known users.
func (s *UserStore) GetUsers() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]*User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, copyUser(user))
	}
	return users
}

// IsGuest reports whether the id belongs to a guest account. Unknown users
// are not guests; they simply have no rules.
func (s *UserStore) IsGuest(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	return ok && user.IsGuest
}

func copyUser(user *User) *User {
	clone := *user
	return &clone
}
