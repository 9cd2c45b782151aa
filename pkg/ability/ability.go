package ability

import (
	"time"

	"github.com/flowdeck/flowdeck/pkg/permissions"
)

// FolderTree answers the hierarchy queries folder-scoped rules need.
// folders.Tree implements it; the evaluator only ever reads the tree.
type FolderTree interface {
	IsSelfOrDescendant(folderID, ancestorID string) bool
	IsSelfOrAncestor(folderID, descendantID string) bool
}

// UnauthorizedError marks a denied mutating operation; callers use errors.As
// to distinguish "not allowed" from "not found" or "invalid input".
type UnauthorizedError struct {
	Action  permissions.Action
	Subject ResourceType
}

func (e *UnauthorizedError) Error() string {
	if e.Action == "" {
		return "not allowed"
	}
	return "not allowed to " + string(e.Action) + " " + string(e.Subject)
}

// NewUnauthorizedError builds an UnauthorizedError for the denied query.
func NewUnauthorizedError(action permissions.Action, subject ResourceType) *UnauthorizedError {
	return &UnauthorizedError{Action: action, Subject: subject}
}

// Ability answers authorization queries for one user in one environment. It
// wraps an ordered rule set and a snapshot of the environment's folder tree;
// every query is a pure in-memory computation and performs no I/O.
type Ability struct {
	rules         []Rule
	environmentID string
	tree          FolderTree
	now           func() time.Time
}

// New constructs an Ability from computed rules and the folder hierarchy of
// the environment the rules were computed for. A nil tree makes every
// folder-scoped rule a non-match.
func New(rules []Rule, environmentID string, tree FolderTree) *Ability {
	return &Ability{
		rules:         rules,
		environmentID: environmentID,
		tree:          tree,
		now:           time.Now,
	}
}

// EnvironmentID returns the environment this ability is scoped to.
func (a *Ability) EnvironmentID() string {
	return a.environmentID
}

// Rules returns the underlying rule list. Callers must not mutate it.
func (a *Ability) Rules() []Rule {
	return a.rules
}

// Can reports whether the requested action on the resource is allowed. The
// rule list is walked from the end; the last matching rule decides, granted
// or inverted, and no matching rule means denial.
func (a *Ability) Can(action permissions.Action, resource Resource) bool {
	return a.decide(action, resource, "")
}

// CanAll reports whether the action is allowed on the resource type as a
// whole, without instance conditions (e.g. to gate a list view).
func (a *Ability) CanAll(action permissions.Action, subject ResourceType) bool {
	return a.decide(action, Resource{Type: subject}, "")
}

// Filter returns the subset of resources that individually satisfy Can for
// the action. The result never contains more items than the input.
func (a *Ability) Filter(action permissions.Action, resources []Resource) []Resource {
	filtered := make([]Resource, 0, len(resources))
	for _, resource := range resources {
		if a.Can(action, resource) {
			filtered = append(filtered, resource)
		}
	}
	return filtered
}

// FilterIndex returns the indexes of resources satisfying Can, letting
// callers redact typed collections without converting them twice.
func (a *Ability) FilterIndex(action permissions.Action, resources []Resource) []int {
	var kept []int
	for i, resource := range resources {
		if a.Can(action, resource) {
			kept = append(kept, i)
		}
	}
	return kept
}

// CheckInputFields gates a partial update field by field: the action must be
// allowed for every changed field, honoring rules restricted via Fields.
// Proposed values are attached to the resource so value-conditioned inverted
// rules (e.g. "cannot raise permissions to admin") see the incoming state.
func (a *Ability) CheckInputFields(resource Resource, action permissions.Action, changes map[string]any) bool {
	proposed := resource
	for name, value := range changes {
		proposed = proposed.WithAttr(name, value)
	}
	for field := range changes {
		if !a.decide(action, proposed, field) {
			return false
		}
	}
	return true
}

// decide runs last-match-wins evaluation for one (action, resource, field)
// triple.
func (a *Ability) decide(action permissions.Action, resource Resource, field string) bool {
	now := a.now()
	for i := len(a.rules) - 1; i >= 0; i-- {
		rule := &a.rules[i]
		if !a.ruleMatches(rule, action, resource, field, now) {
			continue
		}
		return !rule.Inverted
	}
	return false
}

func (a *Ability) ruleMatches(rule *Rule, action permissions.Action, resource Resource, field string, now time.Time) bool {
	if rule.ExpiresAt != nil && !now.Before(*rule.ExpiresAt) {
		return false
	}
	if rule.Subject != ResourceAll && rule.Subject != resource.Type {
		return false
	}
	if !rule.grantsAction(action) {
		return false
	}

	if field == "" {
		// A field-restricted exclusion only denies those fields; it must not
		// veto the action as a whole.
		if rule.Inverted && len(rule.Fields) > 0 {
			return false
		}
	} else if !rule.coversField(field) {
		return false
	}

	for _, condition := range rule.Conditions {
		if !resource.matchesCondition(condition) {
			return false
		}
	}

	switch rule.FolderScope {
	case ScopeSubtree:
		if a.tree == nil || !a.tree.IsSelfOrDescendant(resource.position(), rule.ScopeFolderID) {
			return false
		}
	case ScopeAncestors:
		if a.tree == nil || !a.tree.IsSelfOrAncestor(resource.position(), rule.ScopeFolderID) {
			return false
		}
	}

	return true
}
