package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// storeContract exercises the behavior every backend must share.
func storeContract(t *testing.T, store Store) {
	t.Helper()

	t.Run("get missing document", func(t *testing.T) {
		_, err := store.Get(CollectionRoles, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("add and get", func(t *testing.T) {
		require.NoError(t, store.Add(CollectionRoles, "r1", &note{ID: "r1", Text: "first"}))

		raw, err := store.Get(CollectionRoles, "r1")
		require.NoError(t, err)

		var got note
		require.NoError(t, Decode(raw, &got))
		assert.Equal(t, "first", got.Text)
	})

	t.Run("duplicate add fails", func(t *testing.T) {
		err := store.Add(CollectionRoles, "r1", &note{ID: "r1"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("update", func(t *testing.T) {
		require.NoError(t, store.Update(CollectionRoles, "r1", &note{ID: "r1", Text: "second"}))

		raw, err := store.Get(CollectionRoles, "r1")
		require.NoError(t, err)
		var got note
		require.NoError(t, Decode(raw, &got))
		assert.Equal(t, "second", got.Text)
	})

	t.Run("update missing document fails", func(t *testing.T) {
		assert.ErrorIs(t, store.Update(CollectionRoles, "missing", &note{}), ErrNotFound)
	})

	t.Run("list is scoped per collection", func(t *testing.T) {
		require.NoError(t, store.Add(CollectionUsers, "u1", &note{ID: "u1"}))

		roles, err := store.List(CollectionRoles)
		require.NoError(t, err)
		assert.Len(t, roles, 1)

		users, err := store.List(CollectionUsers)
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})

	t.Run("list unknown collection is empty", func(t *testing.T) {
		docs, err := store.List("nothing")
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, store.Remove(CollectionRoles, "r1"))
		_, err := store.Get(CollectionRoles, "r1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.Remove(CollectionRoles, "r1"), ErrNotFound)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping())
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	storeContract(t, store)
}

func TestFileSystemStore(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	storeContract(t, store)
}

func TestFileSystemStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileSystemStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Add(CollectionRoles, "r1", &note{ID: "r1", Text: "persisted"}))
	require.NoError(t, first.Close())

	second, err := NewFileSystemStore(dir)
	require.NoError(t, err)
	raw, err := second.Get(CollectionRoles, "r1")
	require.NoError(t, err)

	var got note
	require.NoError(t, Decode(raw, &got))
	assert.Equal(t, "persisted", got.Text)
}
