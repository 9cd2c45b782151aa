package storage

import (
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and ephemeral deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string][]byte),
	}
}

// Get implements Store.Get.
func (s *MemoryStore) Get(collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	copied := make([]byte, len(doc))
	copy(copied, doc)
	return copied, nil
}

// List implements Store.List.
func (s *MemoryStore) List(collection string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([][]byte, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		copied := make([]byte, len(doc))
		copy(copied, doc)
		docs = append(docs, copied)
	}
	return docs, nil
}

// Add implements Store.Add.
func (s *MemoryStore) Add(collection, id string, value any) error {
	data, err := Encode(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string][]byte)
		s.collections[collection] = docs
	}
	if _, exists := docs[id]; exists {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrAlreadyExists)
	}
	docs[id] = data
	return nil
}

// Update implements Store.Update.
func (s *MemoryStore) Update(collection, id string, value any) error {
	data, err := Encode(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	if _, exists := docs[id]; !exists {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	docs[id] = data
	return nil
}

// Remove implements Store.Remove.
func (s *MemoryStore) Remove(collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	if _, exists := docs[id]; !exists {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	delete(docs, id)
	return nil
}

// Close implements Store.Close.
func (s *MemoryStore) Close() error {
	return nil
}

// Ping implements observability health checks; the in-memory store is
// always available.
func (s *MemoryStore) Ping() error {
	return nil
}
