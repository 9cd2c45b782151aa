package folders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdeck/flowdeck/pkg/ability"
	"github.com/flowdeck/flowdeck/pkg/permissions"
	"github.com/flowdeck/flowdeck/pkg/storage"
)

func TestStore_CreateAndTree(t *testing.T) {
	store := NewStore(storage.NewMemoryStore())

	root, err := store.Create("env1", "root", "", "u1", nil)
	require.NoError(t, err)
	a, err := store.Create("env1", "a", root.ID, "u1", nil)
	require.NoError(t, err)
	b, err := store.Create("env1", "b", a.ID, "u1", nil)
	require.NoError(t, err)

	t.Run("unknown parent is rejected", func(t *testing.T) {
		_, err := store.Create("env1", "orphan", "nope", "u1", nil)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("cross environment parent is rejected", func(t *testing.T) {
		_, err := store.Create("env2", "other", root.ID, "u1", nil)
		assert.Error(t, err)
	})

	t.Run("tree reflects the hierarchy", func(t *testing.T) {
		tree := store.TreeForEnvironment("env1")
		assert.Equal(t, root.ID, tree.Parent(a.ID))
		assert.Equal(t, a.ID, tree.Parent(b.ID))
		assert.Equal(t, "", tree.Parent(root.ID))
	})

	t.Run("tree is scoped per environment", func(t *testing.T) {
		assert.Empty(t, store.TreeForEnvironment("env2"))
	})

	t.Run("tree is a snapshot", func(t *testing.T) {
		tree := store.TreeForEnvironment("env1")
		_, err := store.Create("env1", "c", b.ID, "u1", nil)
		require.NoError(t, err)
		assert.Equal(t, "", tree.Parent("c"))
	})
}

func TestStore_CreateAuthorization(t *testing.T) {
	store := NewStore(storage.NewMemoryStore())
	root, err := store.Create("env1", "root", "", "u1", nil)
	require.NoError(t, err)

	t.Run("caller without folder creation is refused", func(t *testing.T) {
		denied := ability.New(nil, "env1", nil)
		_, err := store.Create("env1", "blocked", root.ID, "u2", denied)
		var unauth *ability.UnauthorizedError
		require.ErrorAs(t, err, &unauth)
		assert.Equal(t, permissions.ActionCreate, unauth.Action)
		assert.Nil(t, store.Get("blocked"))
	})

	t.Run("subtree grant covers creation under the scoped folder", func(t *testing.T) {
		granted := ability.New([]ability.Rule{
			{
				Actions:       []permissions.Action{permissions.ActionCreate},
				Subject:       ability.ResourceFolder,
				FolderScope:   ability.ScopeSubtree,
				ScopeFolderID: root.ID,
			},
		}, "env1", store.TreeForEnvironment("env1"))
		folder, err := store.Create("env1", "allowed", root.ID, "u2", granted)
		require.NoError(t, err)
		assert.Equal(t, root.ID, folder.ParentID)
	})
}

func TestStore_ListForEnvironment(t *testing.T) {
	store := NewStore(storage.NewMemoryStore())
	root, err := store.Create("env1", "root", "", "u1", nil)
	require.NoError(t, err)
	child, err := store.Create("env1", "child", root.ID, "u1", nil)
	require.NoError(t, err)
	_, err = store.Create("env2", "elsewhere", "", "u1", nil)
	require.NoError(t, err)

	listed := store.ListForEnvironment("env1")
	require.Len(t, listed, 2)
	assert.Equal(t, root.ID, listed[0].ID)
	assert.Equal(t, child.ID, listed[1].ID)
}

func TestStore_Load(t *testing.T) {
	backend := storage.NewMemoryStore()
	first := NewStore(backend)
	root, err := first.Create("env1", "root", "", "u1", nil)
	require.NoError(t, err)
	child, err := first.Create("env1", "child", root.ID, "u1", nil)
	require.NoError(t, err)

	second := NewStore(backend)
	require.NoError(t, second.Load())

	got := second.Get(child.ID)
	require.NotNil(t, got)
	assert.Equal(t, root.ID, got.ParentID)
	assert.Equal(t, root.ID, second.TreeForEnvironment("env1").Parent(child.ID))
}
