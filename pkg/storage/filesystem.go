package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSystemStore implements Store on the local filesystem: one directory per
// collection, one JSON file per document.
type FileSystemStore struct {
	rootDir string
	// serializes writers within the process; cross-process coordination is
	// left to the deployment (single writer).
	mu sync.RWMutex
}

// NewFileSystemStore creates a filesystem-backed store rooted at rootDir.
func NewFileSystemStore(rootDir string) (*FileSystemStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemStore{rootDir: rootDir}, nil
}

func (s *FileSystemStore) docPath(collection, id string) string {
	return filepath.Join(s.rootDir, collection, id+".json")
}

// Get implements Store.Get.
func (s *FileSystemStore) Get(collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.docPath(collection, id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// List implements Store.List.
func (s *FileSystemStore) List(collection string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.rootDir, collection))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection directory: %w", err)
	}

	var docs [][]byte
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.rootDir, collection, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read document %s: %w", entry.Name(), err)
		}
		docs = append(docs, data)
	}
	return docs, nil
}

// Add implements Store.Add.
func (s *FileSystemStore) Add(collection, id string, value any) error {
	data, err := Encode(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.docPath(collection, id)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}
	return writeAtomic(path, data)
}

// Update implements Store.Update.
func (s *FileSystemStore) Update(collection, id string, value any) error {
	data, err := Encode(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.docPath(collection, id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return writeAtomic(path, data)
}

// Remove implements Store.Remove.
func (s *FileSystemStore) Remove(collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.docPath(collection, id))
	if os.IsNotExist(err) {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to remove document: %w", err)
	}
	return nil
}

// Close implements Store.Close.
func (s *FileSystemStore) Close() error {
	return nil
}

// writeAtomic writes via a temp file and rename so readers never observe a
// partially written document.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}

// Ping verifies the document root is still reachable.
func (s *FileSystemStore) Ping() error {
	_, err := os.Stat(s.rootDir)
	return err
}
