package folders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTree(t *testing.T) {
	// root -> A -> B, root -> C
	tree := Tree{"A": "root", "B": "A", "C": "root"}

	t.Run("parent lookup", func(t *testing.T) {
		assert.Equal(t, "A", tree.Parent("B"))
		assert.Equal(t, "", tree.Parent("root"))
		assert.Equal(t, "", tree.Parent("unknown"))
	})

	t.Run("self or descendant", func(t *testing.T) {
		assert.True(t, tree.IsSelfOrDescendant("B", "B"))
		assert.True(t, tree.IsSelfOrDescendant("B", "A"))
		assert.True(t, tree.IsSelfOrDescendant("B", "root"))
		assert.False(t, tree.IsSelfOrDescendant("C", "A"))
		assert.False(t, tree.IsSelfOrDescendant("root", "A"))
		assert.False(t, tree.IsSelfOrDescendant("", "A"))
		assert.False(t, tree.IsSelfOrDescendant("B", ""))
	})

	t.Run("self or ancestor", func(t *testing.T) {
		assert.True(t, tree.IsSelfOrAncestor("root", "B"))
		assert.True(t, tree.IsSelfOrAncestor("A", "B"))
		assert.False(t, tree.IsSelfOrAncestor("C", "B"))
	})

	t.Run("ancestor chain", func(t *testing.T) {
		assert.Equal(t, []string{"B", "A", "root"}, tree.AncestorChain("B"))
		assert.Equal(t, []string{"root"}, tree.AncestorChain("root"))
		assert.Nil(t, tree.AncestorChain(""))
	})

	t.Run("corrupted cycle terminates", func(t *testing.T) {
		cyclic := Tree{"a": "b", "b": "a"}
		assert.False(t, cyclic.IsSelfOrDescendant("a", "c"))
	})
}
