// Package permissions defines the permission bitmasks stored on roles and the
// action identifiers the rule engine evaluates against.
package permissions

// Mask is a bitwise combination of permission bits for one resource type.
type Mask uint64

const (
	None   Mask = 0
	View   Mask = 1 << 0
	Update Mask = 1 << 1
	Create Mask = 1 << 2
	Delete Mask = 1 << 3
	Share  Mask = 1 << 4
	// ManageRoles allows assigning and revoking roles for other users.
	ManageRoles Mask = 1 << 5

	// Admin is the full-access mask. Any role holding Admin on a resource
	// holds every current and future permission bit for it.
	Admin Mask = 1<<53 - 1
)

// Action identifies an operation in permission rules.
type Action string

const (
	ActionView        Action = "view"
	ActionUpdate      Action = "update"
	ActionCreate      Action = "create"
	ActionDelete      Action = "delete"
	ActionShare       Action = "share"
	ActionManageRoles Action = "manage-roles"

	// ActionManage is an alias action that expands to create, update and
	// delete during rule matching.
	ActionManage Action = "manage"

	// ActionAdmin matches every action during rule matching.
	ActionAdmin Action = "admin"
)

// maskBits maps single permission bits to their action identifiers, in
// ascending bit order so Actions output is deterministic.
var maskBits = []struct {
	bit    Mask
	action Action
}{
	{View, ActionView},
	{Update, ActionUpdate},
	{Create, ActionCreate},
	{Delete, ActionDelete},
	{Share, ActionShare},
	{ManageRoles, ActionManageRoles},
}

// Actions translates a permission mask into the list of action identifiers it
// grants. A full Admin mask collapses to the single admin wildcard.
func Actions(m Mask) []Action {
	if m == None {
		return nil
	}
	if m&Admin == Admin {
		return []Action{ActionAdmin}
	}

	var actions []Action
	for _, b := range maskBits {
		if m&b.bit != 0 {
			actions = append(actions, b.action)
		}
	}
	return actions
}

// FromActions builds a permission mask from action identifiers. The manage
// alias contributes its expansion; admin yields the full mask.
func FromActions(actions []Action) Mask {
	var m Mask
	for _, a := range actions {
		switch a {
		case ActionView:
			m |= View
		case ActionUpdate:
			m |= Update
		case ActionCreate:
			m |= Create
		case ActionDelete:
			m |= Delete
		case ActionShare:
			m |= Share
		case ActionManageRoles:
			m |= ManageRoles
		case ActionManage:
			m |= Create | Update | Delete
		case ActionAdmin:
			return Admin
		}
	}
	return m
}

// aliasExpansion resolves alias actions to the concrete actions they cover.
// Matching consults this table instead of expanding masks at rule-build time
// so a rule granting manage stays a single rule.
var aliasExpansion = map[Action][]Action{
	ActionManage: {ActionCreate, ActionUpdate, ActionDelete},
}

// Covers reports whether a granted action satisfies a requested one, resolving
// the manage alias and the admin wildcard.
func Covers(granted, requested Action) bool {
	if granted == requested || granted == ActionAdmin {
		return true
	}
	for _, a := range aliasExpansion[granted] {
		if a == requested {
			return true
		}
	}
	return false
}

// Grants reports whether the mask grants the requested action.
func Grants(m Mask, requested Action) bool {
	for _, a := range Actions(m) {
		if Covers(a, requested) {
			return true
		}
	}
	// manage is not a stored bit; a mask holding its full expansion grants it.
	if requested == ActionManage {
		return m&(Create|Update|Delete) == Create|Update|Delete
	}
	return false
}
