package patch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conduit-lang/deltapatch/internal/delta"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

// CrudKind classifies what a patch did to one record
type CrudKind int

const (
	// Created means the record was new and is inserted
	Created CrudKind = iota
	// Read means the record matched a stored or already patched record
	// and nothing changed
	Read
	// Updated means the record existed and at least one field changed
	Updated
	// Deleted is defined for completeness; patching never deletes
	Deleted
)

// String returns the kind name
func (k CrudKind) String() string {
	switch k {
	case Created:
		return "created"
	case Read:
		return "read"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("CrudKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler
func (k CrudKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseCrudKind parses a kind name, case-insensitively
func ParseCrudKind(s string) (CrudKind, error) {
	for _, k := range []CrudKind{Created, Read, Updated, Deleted} {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown crud kind %q", s)
}

// Outcome is the result of patching one record
type Outcome struct {
	Model   string
	Kind    CrudKind
	Record  schema.Record
	Changed []string // fields that differ from the stored record

	model *schema.Model
}

// Key returns the primary key values of the record
func (o *Outcome) Key() schema.NamedKey {
	key := make(schema.NamedKey)
	if o.model == nil || len(o.model.KeySets) == 0 {
		return key
	}
	for _, name := range o.model.KeySets[0].Fields {
		key[name] = o.Record[name]
	}
	return key
}

// Delta renders the record as a delta keyed by delta name in field order
func (o *Outcome) Delta() *delta.Delta {
	d := delta.New()
	if o.model == nil {
		for k, v := range o.Record {
			d.Set(k, v)
		}
		return d
	}
	for _, f := range o.model.Scalars() {
		name := f.DeltaName
		if name == "" {
			name = f.Name
		}
		d.Set(name, o.Record[f.Name])
	}
	return d
}

// MarshalJSON implements json.Marshaler
func (o *Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Model   string       `json:"model"`
		Kind    CrudKind     `json:"kind"`
		Record  *delta.Delta `json:"record"`
		Changed []string     `json:"changed,omitempty"`
	}{
		Model:   o.Model,
		Kind:    o.Kind,
		Record:  o.Delta(),
		Changed: o.Changed,
	})
}

// OutcomeList holds outcomes in the order records were reached: each parent
// before its children.
type OutcomeList []*Outcome

// Count returns the number of outcomes of the given kind
func (l OutcomeList) Count(kind CrudKind) int {
	n := 0
	for _, o := range l {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// ByKind returns the outcomes of the given kind
func (l OutcomeList) ByKind(kind CrudKind) OutcomeList {
	var out OutcomeList
	for _, o := range l {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

// ForModel returns the outcomes of the named model
func (l OutcomeList) ForModel(model string) OutcomeList {
	var out OutcomeList
	for _, o := range l {
		if strings.EqualFold(o.Model, model) {
			out = append(out, o)
		}
	}
	return out
}

// Records returns the records of the named model
func (l OutcomeList) Records(model string) []schema.Record {
	var out []schema.Record
	for _, o := range l.ForModel(model) {
		out = append(out, o.Record)
	}
	return out
}

// Result is returned by a committed patch
type Result struct {
	Outcomes    OutcomeList  `json:"outcomes"`
	Rows        int          `json:"rows"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}
