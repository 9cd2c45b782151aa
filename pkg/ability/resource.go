package ability

import "github.com/flowdeck/flowdeck/pkg/permissions"

// Resource is the evaluator's view of one resource instance: its type, the
// well-known identity attributes, and any extra attributes rule conditions
// may refer to. Callers convert their domain entities into this shape before
// querying an Ability; the evaluator never loads anything itself.
type Resource struct {
	Type          ResourceType
	ID            string
	EnvironmentID string
	FolderID      string
	OwnerID       string
	Attrs         map[string]any
}

// NewResource builds a bare resource reference of the given type.
func NewResource(t ResourceType, id string) Resource {
	return Resource{Type: t, ID: id}
}

// WithAttr returns a copy of the resource with one extra attribute set.
func (r Resource) WithAttr(name string, value any) Resource {
	attrs := make(map[string]any, len(r.Attrs)+1)
	for k, v := range r.Attrs {
		attrs[k] = v
	}
	attrs[name] = value
	r.Attrs = attrs
	return r
}

// attr resolves an attribute by name. Well-known identity fields resolve from
// the typed struct fields; everything else from Attrs. Empty identity fields
// count as absent so conditions on them do not fire spuriously.
func (r Resource) attr(name string) (any, bool) {
	switch name {
	case "id":
		if r.ID == "" {
			return nil, false
		}
		return r.ID, true
	case "environmentId":
		if r.EnvironmentID == "" {
			return nil, false
		}
		return r.EnvironmentID, true
	case "folderId":
		if r.FolderID == "" {
			return nil, false
		}
		return r.FolderID, true
	case "ownerId":
		if r.OwnerID == "" {
			return nil, false
		}
		return r.OwnerID, true
	}
	value, ok := r.Attrs[name]
	return value, ok
}

// position returns the folder the resource occupies in the hierarchy: a
// folder is located at itself, everything else at its containing folder.
func (r Resource) position() string {
	if r.Type == ResourceFolder && r.ID != "" {
		return r.ID
	}
	return r.FolderID
}

// matchesCondition evaluates a single condition against the resource.
func (r Resource) matchesCondition(c Condition) bool {
	value, ok := r.attr(c.Field)
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return attrEqual(value, c.Value)
	case OpNeq:
		return !attrEqual(value, c.Value)
	case OpIn:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, candidate := range c.Values {
			if candidate == s {
				return true
			}
		}
		return false
	case OpMaskGTE:
		have, ok := toMask(value)
		if !ok {
			return false
		}
		want, ok := toMask(c.Value)
		if !ok {
			return false
		}
		return have&want == want
	}
	return false
}

func attrEqual(a, b any) bool {
	// normalize numeric attribute values so untyped JSON round-trips compare
	if am, ok := toMask(a); ok {
		if bm, ok := toMask(b); ok {
			return am == bm
		}
	}
	return a == b
}

func toMask(v any) (permissions.Mask, bool) {
	switch n := v.(type) {
	case permissions.Mask:
		return n, true
	case uint64:
		return permissions.Mask(n), true
	case int64:
		return permissions.Mask(n), true
	case int:
		return permissions.Mask(n), true
	case float64:
		return permissions.Mask(n), true
	}
	return 0, false
}
