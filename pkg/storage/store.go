// Package storage provides the persistence collaborator for the authorization
// core: a durable document store with keyed operations per named collection.
// The core never interprets the on-disk format; every backend stores JSON
// documents addressed by (collection, id).
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names used by the IAM stores.
const (
	CollectionEnvironments = "environments"
	CollectionUsers        = "users"
	CollectionRoles        = "roles"
	CollectionRoleMappings = "roleMappings"
	CollectionMemberships  = "environmentMemberships"
	CollectionFolders      = "folders"
)

// ErrNotFound is returned when a document id is unknown in a collection.
var ErrNotFound = errors.New("document not found")

// ErrAlreadyExists is returned when adding a document under an id that is
// already taken within the collection.
var ErrAlreadyExists = errors.New("document already exists")

// Store is the durable key-value/document interface consumed by the IAM
// stores. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the raw document for (collection, id), or ErrNotFound.
	Get(collection, id string) ([]byte, error)

	// List returns every document in the collection, in unspecified order.
	List(collection string) ([][]byte, error)

	// Add stores a new document; fails with ErrAlreadyExists on id collision.
	Add(collection, id string, value any) error

	// Update replaces an existing document; fails with ErrNotFound.
	Update(collection, id string, value any) error

	// Remove deletes a document; fails with ErrNotFound.
	Remove(collection, id string) error

	// Ping reports backend availability for health probes.
	Ping() error

	// Close releases backend resources.
	Close() error
}

// Encode marshals a document for storage.
func Encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

// Decode unmarshals a stored document.
func Decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}
