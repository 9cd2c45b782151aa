// Package folders maintains the folder hierarchy index used to resolve
// inherited permissions on nested resources.
package folders

// Tree is the parent-pointer index for one environment: child folder id to
// parent folder id. Root folders have no entry. Trees are acyclic by
// construction since folders are only created under an existing parent.
type Tree map[string]string

// maxDepth bounds upward walks so a corrupted index cannot loop forever.
const maxDepth = 1024

// Parent returns the parent folder id, or "" for roots and unknown folders.
func (t Tree) Parent(folderID string) string {
	return t[folderID]
}

// IsSelfOrDescendant reports whether folderID equals ancestorID or lies in the
// subtree below it.
func (t Tree) IsSelfOrDescendant(folderID, ancestorID string) bool {
	if folderID == "" || ancestorID == "" {
		return false
	}
	current := folderID
	for depth := 0; depth < maxDepth; depth++ {
		if current == ancestorID {
			return true
		}
		parent, ok := t[current]
		if !ok {
			return false
		}
		current = parent
	}
	return false
}

// IsSelfOrAncestor reports whether folderID equals descendantID or lies on the
// path from descendantID up to its root.
func (t Tree) IsSelfOrAncestor(folderID, descendantID string) bool {
	return t.IsSelfOrDescendant(descendantID, folderID)
}

// AncestorChain returns the folder ids from folderID up to its root, starting
// with folderID itself.
func (t Tree) AncestorChain(folderID string) []string {
	if folderID == "" {
		return nil
	}
	chain := []string{folderID}
	current := folderID
	for depth := 0; depth < maxDepth; depth++ {
		parent, ok := t[current]
		if !ok {
			break
		}
		chain = append(chain, parent)
		current = parent
	}
	return chain
}
