// Package ability implements the permission rule model and the evaluator that
// answers point queries ("can user U perform action A on resource R") over a
// precomputed, ordered rule set.
package ability

import (
	"time"

	"github.com/flowdeck/flowdeck/pkg/permissions"
)

// ResourceType names a kind of resource permission rules can target.
type ResourceType string

const (
	// ResourceAll is the wildcard subject: a rule on it matches every type.
	ResourceAll ResourceType = "All"

	ResourceProcess     ResourceType = "Process"
	ResourceProject     ResourceType = "Project"
	ResourceTemplate    ResourceType = "Template"
	ResourceFolder      ResourceType = "Folder"
	ResourceUser        ResourceType = "User"
	ResourceRole        ResourceType = "Role"
	ResourceRoleMapping ResourceType = "RoleMapping"
	ResourceEnvironment ResourceType = "Environment"
	ResourceSetting     ResourceType = "Setting"
)

// ResourceTypes lists every concrete resource type (excluding the wildcard).
var ResourceTypes = []ResourceType{
	ResourceProcess,
	ResourceProject,
	ResourceTemplate,
	ResourceFolder,
	ResourceUser,
	ResourceRole,
	ResourceRoleMapping,
	ResourceEnvironment,
	ResourceSetting,
}

// FolderScopedTypes are the resource types that live inside the folder
// hierarchy and therefore inherit folder-level grants.
var FolderScopedTypes = []ResourceType{
	ResourceProcess,
	ResourceProject,
	ResourceTemplate,
	ResourceFolder,
}

// IsFolderScoped reports whether resources of this type sit in the folder tree.
func IsFolderScoped(t ResourceType) bool {
	for _, ft := range FolderScopedTypes {
		if ft == t {
			return true
		}
	}
	return false
}

// Op is a condition comparison operator. The set is deliberately small and
// explicit; there is no generic expression language.
type Op int

const (
	// OpEq matches when the attribute equals the condition value.
	OpEq Op = iota
	// OpNeq matches when the attribute is present and differs from the value.
	OpNeq
	// OpIn matches when the attribute equals one of the condition values.
	OpIn
	// OpMaskGTE matches when the attribute is a permission mask containing
	// at least the bits of the condition mask.
	OpMaskGTE
)

// Condition restricts a rule to resource instances whose attribute satisfies
// the comparison. A condition on an absent attribute never matches.
type Condition struct {
	Field  string
	Op     Op
	Value  any
	Values []string
}

// FolderScopeKind selects how a rule is confined within the folder tree.
type FolderScopeKind int

const (
	// ScopeNone applies the rule regardless of folder placement.
	ScopeNone FolderScopeKind = iota
	// ScopeSubtree applies the rule only to resources located at or below
	// the rule's scope folder.
	ScopeSubtree
	// ScopeAncestors applies the rule only to folders on the path from the
	// scope folder up to its root; used to let scoped users navigate to
	// their subtree.
	ScopeAncestors
)

// Rule is one atomic permission statement. Rules are ordered; evaluation
// walks the list from the end and the last matching rule decides, so later
// rules override earlier ones and inverted rules act as exclusions.
type Rule struct {
	Actions    []permissions.Action `json:"actions"`
	Subject    ResourceType         `json:"subject"`
	Inverted   bool                 `json:"inverted,omitempty"`
	Conditions []Condition          `json:"conditions,omitempty"`

	// Fields restricts the rule to specific input fields; empty means the
	// rule covers the resource as a whole.
	Fields []string `json:"fields,omitempty"`

	// FolderScope confines the rule within the folder hierarchy.
	FolderScope   FolderScopeKind `json:"folderScope,omitempty"`
	ScopeFolderID string          `json:"scopeFolderId,omitempty"`

	// ExpiresAt invalidates the rule at an absolute deadline; expired rules
	// never match, granted or inverted.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	// Reason documents why the rule exists; surfaced in audit output only.
	Reason string `json:"reason,omitempty"`
}

// grantsAction reports whether the rule's action list covers the requested
// action, resolving the manage alias and the admin wildcard.
func (r *Rule) grantsAction(requested permissions.Action) bool {
	for _, granted := range r.Actions {
		if permissions.Covers(granted, requested) {
			return true
		}
	}
	return false
}

// coversField reports whether the rule applies to the given input field.
func (r *Rule) coversField(field string) bool {
	if len(r.Fields) == 0 {
		return true
	}
	for _, f := range r.Fields {
		if f == field {
			return true
		}
	}
	return false
}
