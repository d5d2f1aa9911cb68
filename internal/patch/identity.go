package patch

import (
	"fmt"

	"github.com/conduit-lang/deltapatch/internal/delta"
	"github.com/conduit-lang/deltapatch/internal/orm/query"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

// ResolveIdentity builds the predicate that locates the stored record a
// delta describes. Each key set becomes one AND group of equality
// conditions; missing or unconvertible values default to the field's zero
// value. Groups whose values are all zero are dropped unless every group is,
// in which case only the primary group is kept. Groups are OR-ed in key set
// order, primary first.
func ResolveIdentity(m *schema.Model, d *delta.Delta, report func(Diagnostic)) (*query.Predicate, error) {
	if m == nil || !m.Valid() {
		name := "<nil>"
		if m != nil {
			name = m.Name
		}
		return nil, fmt.Errorf("%w: %s", ErrNoKeyProperty, name)
	}

	pred := query.NewPredicate()
	var first *query.PredicateGroup

	for _, ks := range m.KeySets {
		group := query.NewPredicateGroup(ks.Name)
		allZero := true

		for _, name := range ks.Fields {
			f, _ := m.Field(name)
			v := keyValue(m, f, d, reporter(report))
			if !f.IsZero(v) {
				allZero = false
			}
			group.Equal(f.Name, f.Column, v)
		}

		if first == nil {
			first = group
		}
		if !allZero {
			pred.AddGroup(group)
		}
	}

	if len(pred.Groups) == 0 {
		pred.AddGroup(first)
	}

	return pred, nil
}

// keyValue returns the coerced delta value of a key field or its zero value
func keyValue(m *schema.Model, f *schema.Field, d *delta.Delta, r reporter) interface{} {
	raw, ok := d.Lookup(f.DeltaKeys()...)
	if !ok {
		return f.Zero()
	}
	v, err := schema.Coerce(f, raw)
	if err != nil {
		r.report(Diagnostic{Kind: CoercionSkipped, Model: m.Name, Field: f.Name, Value: raw, Err: err})
		return f.Zero()
	}
	return v
}
