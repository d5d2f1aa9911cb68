package patch

import (
	"fmt"

	"github.com/conduit-lang/deltapatch/internal/delta"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

// ChildGroup is one child collection found in a delta
type ChildGroup struct {
	Field   *schema.Field
	Context schema.Context
	Deltas  []*delta.Delta
}

// DiscoverChildren returns the child collections present in a delta, in the
// field order of the parent model. Only collection fields holding an array
// are considered; array entries that are not objects are skipped.
func DiscoverChildren(reg *schema.Registry, parent schema.Context, d *delta.Delta, report func(Diagnostic)) ([]ChildGroup, error) {
	r := reporter(report)
	m := parent.Model

	var groups []ChildGroup
	for _, f := range m.Collections() {
		raw, ok := d.Lookup(f.DeltaKeys()...)
		if !ok || raw == nil {
			continue
		}
		items, ok := raw.([]interface{})
		if !ok {
			r.report(Diagnostic{Kind: ChildSkipped, Model: m.Name, Field: f.Name, Value: raw, Err: delta.ErrNotObject})
			continue
		}

		elem, ok := reg.Get(f.Elem)
		if !ok {
			return nil, fmt.Errorf("%w: %s (collection %s.%s)", ErrUnknownType, f.Elem, m.Name, f.Name)
		}

		link := ResolveLink(m, f, elem)
		if link.ChildField == "" {
			r.report(Diagnostic{
				Kind:  LinkUnresolved,
				Model: elem.Name,
				Field: f.Name,
				Err:   fmt.Errorf("no foreign key to %s", m.Name),
			})
		}

		group := ChildGroup{
			Field:   f,
			Context: schema.Context{Model: elem, Link: link},
			Deltas:  make([]*delta.Delta, 0, len(items)),
		}
		for i, item := range items {
			switch v := item.(type) {
			case *delta.Delta:
				group.Deltas = append(group.Deltas, v)
			case map[string]interface{}:
				group.Deltas = append(group.Deltas, delta.FromMap(v))
			default:
				r.report(Diagnostic{
					Kind:  ChildSkipped,
					Model: elem.Name,
					Field: fmt.Sprintf("%s[%d]", f.Name, i),
					Value: item,
					Err:   delta.ErrNotObject,
				})
			}
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// ResolveLink finds the foreign key on the element model of a collection.
// An inverse declaration on the collection wins; otherwise a scalar field
// named <Parent>Id or <Parent>Key is used. The parent side is the parent's
// first key set.
func ResolveLink(parent *schema.Model, collection *schema.Field, elem *schema.Model) *schema.Link {
	link := &schema.Link{}
	if len(parent.KeySets) > 0 {
		link.ParentFields = append([]string(nil), parent.KeySets[0].Fields...)
	}

	if collection.Inverse != "" {
		if f, ok := elem.Field(collection.Inverse); ok && f.IsScalar() {
			link.ChildField = f.Name
			return link
		}
	}

	for _, name := range []string{parent.Name + "Id", parent.Name + "Key"} {
		if f, ok := elem.Field(name); ok && f.IsScalar() {
			link.ChildField = f.Name
			return link
		}
	}

	return link
}
