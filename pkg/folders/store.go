package folders

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

// Folder is a node in an environment's resource hierarchy.
type Folder struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environmentId"`
	Name          string    `json:"name"`
	ParentID      string    `json:"parentId,omitempty"`
	CreatedBy     string    `json:"createdBy,omitempty"`
	CreatedOn     time.Time `json:"createdOn"`
	LastEditedOn  time.Time `json:"lastEditedOn"`
}

const collection = "folders"

// Resource describes the folder for ability checks. The folder locates at
// its own ID in the hierarchy, so subtree-scoped rules cover it directly.
func (f *Folder) Resource() ability.Resource {
	return ability.Resource{
		Type:          ability.ResourceFolder,
		ID:            f.ID,
		EnvironmentID: f.EnvironmentID,
		FolderID:      f.ID,
	}
}

// Store holds folder records and serves the per-environment parent-pointer
// tree consumed by the ability evaluator. The evaluator only ever reads the
// tree; mutation happens through explicit administrative operations here.
type Store struct {
	mu      sync.RWMutex
	folders map[string]*Folder
	backend storage.Store
}

// NewStore creates a folder store backed by the given persistence collaborator.
func NewStore(backend storage.Store) *Store {
	return &Store{
		folders: make(map[string]*Folder),
		backend: backend,
	}
}

// Load populates the in-memory index from the persistence backend.
func (s *Store) Load() error {
	docs, err := s.backend.List(collection)
	if err != nil {
		return fmt.Errorf("failed to load folders: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		var folder Folder
		if err := storage.Decode(doc, &folder); err != nil {
			return fmt.Errorf("failed to decode folder: %w", err)
		}
		s.folders[folder.ID] = &folder
	}
	return nil
}

// Create adds a folder. A non-empty parent must already exist in the same
// environment, which keeps every tree acyclic. A non-nil authz must grant
// folder creation at the parent's position in the hierarchy.
func (s *Store) Create(environmentID, name, parentID, createdBy string, authz *ability.Ability) (*Folder, error) {
	if authz != nil {
		target := ability.Resource{
			Type:          ability.ResourceFolder,
			EnvironmentID: environmentID,
			FolderID:      parentID,
		}
		if !authz.Can(permissions.ActionCreate, target) {
			return nil, ability.NewUnauthorizedError(permissions.ActionCreate, ability.ResourceFolder)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if parentID != "" {
		parent, ok := s.folders[parentID]
		if !ok {
			return nil, fmt.Errorf("parent folder %s: %w", parentID, storage.ErrNotFound)
		}
		if parent.EnvironmentID != environmentID {
			return nil, fmt.Errorf("parent folder %s belongs to another environment", parentID)
		}
	}

	now := time.Now()
	folder := &Folder{
		ID:            uuid.NewString(),
		EnvironmentID: environmentID,
		Name:          name,
		ParentID:      parentID,
		CreatedBy:     createdBy,
		CreatedOn:     now,
		LastEditedOn:  now,
	}

	if err := s.backend.Add(collection, folder.ID, folder); err != nil {
		return nil, fmt.Errorf("failed to persist folder: %w", err)
	}
	s.folders[folder.ID] = folder
	return folder, nil
}

// Get returns a folder by id, or nil if unknown.
func (s *Store) Get(folderID string) *Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if folder, ok := s.folders[folderID]; ok {
		copied := *folder
		return &copied
	}
	return nil
}

// ListForEnvironment returns the environment's folders in creation order.
func (s *Store) ListForEnvironment(environmentID string) []*Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Folder
	for _, folder := range s.folders {
		if folder.EnvironmentID != environmentID {
			continue
		}
		copied := *folder
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedOn.Equal(out[j].CreatedOn) {
			return out[i].CreatedOn.Before(out[j].CreatedOn)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TreeForEnvironment builds the child-to-parent index for one environment.
// The returned tree is a snapshot; concurrent folder mutations do not affect
// abilities already constructed from it.
func (s *Store) TreeForEnvironment(environmentID string) Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree := make(Tree)
	for _, folder := range s.folders {
		if folder.EnvironmentID != environmentID || folder.ParentID == "" {
			continue
		}
		tree[folder.ID] = folder.ParentID
	}
	return tree
}
