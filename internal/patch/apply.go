package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/deltapatch/internal/delta"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

// Applied is the result of applying one delta to one record
type Applied struct {
	Key     schema.NamedKey
	Record  schema.Record
	Changed []string
}

// Core applies deltas to records. It holds the pluggable parts of patching:
// key generation, change comparison and per-model ignored fields.
type Core struct {
	keys      KeyGenerator
	comparers *schema.Comparers
	ignore    map[string]map[string]bool
	report    reporter
	sequence  func(m *schema.Model, f *schema.Field) (interface{}, error)
}

// NewCore creates a patch core. ignore maps a model name to the fields that
// are never written from a delta.
func NewCore(keys KeyGenerator, comparers *schema.Comparers, ignore map[string][]string) *Core {
	if keys == nil {
		keys = UUIDv7Generator{}
	}
	if comparers == nil {
		comparers = schema.NewComparers()
	}

	c := &Core{
		keys:      keys,
		comparers: comparers,
		ignore:    make(map[string]map[string]bool, len(ignore)),
	}
	for model, fields := range ignore {
		set := make(map[string]bool, len(fields))
		for _, f := range fields {
			set[strings.ToLower(f)] = true
		}
		c.ignore[strings.ToLower(model)] = set
	}
	return c
}

// WithReporter returns a copy of the core sending diagnostics to fn
func (c *Core) WithReporter(fn func(Diagnostic)) *Core {
	cp := *c
	cp.report = fn
	return &cp
}

// WithSequence returns a copy of the core numbering integer primary keys
// with fn when the key generator cannot produce them
func (c *Core) WithSequence(fn func(m *schema.Model, f *schema.Field) (interface{}, error)) *Core {
	cp := *c
	cp.sequence = fn
	return &cp
}

func (c *Core) ignored(m *schema.Model, f *schema.Field) bool {
	return c.ignore[strings.ToLower(m.Name)][strings.ToLower(f.Name)]
}

// Apply writes the delta onto a copy of rec. rec is the stored record, or
// the model's zero record when isNew is set. parent holds the key values of
// the parent record for children reached through a collection.
//
// Non-key fields present in the delta are assigned when their comparer
// reports a difference. The link field is then overwritten with the
// parent's key. Key fields of new records, or ones still holding their zero
// value, take the propagated parent key, else the delta value, else a
// generated key for primary key fields. Existing unique index values are
// reassigned when the delta holds a different value; primary keys never
// are.
func (c *Core) Apply(sc schema.Context, rec schema.Record, d *delta.Delta, parent schema.NamedKey, isNew bool) (*Applied, error) {
	m := sc.Model
	out := rec.Clone()
	if out == nil {
		out = m.NewRecord()
	}

	for _, f := range m.Scalars() {
		if m.IsKeyField(f.Name) || c.ignored(m, f) {
			continue
		}
		if v, ok := c.deltaValue(m, f, d); ok {
			c.assign(out, f, v)
		}
	}

	propagated := c.propagate(sc, parent)
	for name, v := range propagated {
		out[name] = v
	}

	key := make(schema.NamedKey)
	for _, f := range m.KeyFields() {
		current := out[f.Name]

		if isNew || f.IsZero(current) {
			if v, ok := propagated[f.Name]; ok {
				out[f.Name] = v
			} else if v, ok := c.deltaValue(m, f, d); ok && !f.IsZero(v) {
				out[f.Name] = v
			} else if m.IsPrimaryField(f.Name) {
				generated, err := c.generate(m, f)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", m.Name, f.Name, err)
				}
				out[f.Name] = generated
			}
		} else if !m.IsPrimaryField(f.Name) && !c.ignored(m, f) {
			if v, ok := c.deltaValue(m, f, d); ok {
				c.assign(out, f, v)
			}
		}

		key[f.Name] = out[f.Name]
	}

	original := rec
	if original == nil {
		original = m.NewRecord()
	}
	return &Applied{Key: key, Record: out, Changed: changedFields(m, original, out)}, nil
}

// generate creates a primary key value. Integer fields the generator cannot
// fill are numbered by the sequence, when one is set.
func (c *Core) generate(m *schema.Model, f *schema.Field) (interface{}, error) {
	v, err := c.keys.Create(f)
	if errors.Is(err, ErrUnsupportedKey) && c.sequence != nil &&
		(f.Type == schema.TypeInt || f.Type == schema.TypeBigInt) {
		return c.sequence(m, f)
	}
	return v, err
}

// deltaValue returns the coerced delta value of a field. Values that cannot
// be converted are reported and treated as absent.
func (c *Core) deltaValue(m *schema.Model, f *schema.Field, d *delta.Delta) (interface{}, bool) {
	raw, ok := d.Lookup(f.DeltaKeys()...)
	if !ok {
		return nil, false
	}
	v, err := schema.Coerce(f, raw)
	if err != nil {
		c.report.report(Diagnostic{Kind: CoercionSkipped, Model: m.Name, Field: f.Name, Value: raw, Err: err})
		return nil, false
	}
	return v, true
}

// assign sets the field unless its comparer reports the values as equal.
// Types without a comparer are always assigned.
func (c *Core) assign(rec schema.Record, f *schema.Field, v interface{}) {
	if cmp, ok := c.comparers.Get(f.Type); ok && cmp(v, rec[f.Name]) {
		return
	}
	rec[f.Name] = v
}

// propagate returns the link field value taken from the parent key
func (c *Core) propagate(sc schema.Context, parent schema.NamedKey) map[string]interface{} {
	link := sc.Link
	if link == nil || link.ChildField == "" || len(parent) == 0 {
		return nil
	}
	f, ok := sc.Model.Field(link.ChildField)
	if !ok {
		return nil
	}

	for _, name := range link.ParentFields {
		raw, ok := parent[name]
		if !ok {
			continue
		}
		v, err := schema.Coerce(f, raw)
		if err != nil {
			c.report.report(Diagnostic{Kind: CoercionSkipped, Model: sc.Model.Name, Field: f.Name, Value: raw, Err: err})
			return nil
		}
		return map[string]interface{}{f.Name: v}
	}
	return nil
}
