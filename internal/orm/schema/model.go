package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// DefinitionError represents a model definition error with context
type DefinitionError struct {
	Model   string
	Field   string
	Message string
	Hint    string
}

// Error implements the error interface
func (e *DefinitionError) Error() string {
	var b strings.Builder

	if e.Model != "" {
		b.WriteString(e.Model)
		if e.Field != "" {
			b.WriteString(".")
			b.WriteString(e.Field)
		}
		b.WriteString(": ")
	}

	b.WriteString(e.Message)

	if e.Hint != "" {
		b.WriteString(" (hint: ")
		b.WriteString(e.Hint)
		b.WriteString(")")
	}

	return b.String()
}

type uniqueIndex struct {
	name   string
	fields []string
}

// Model describes a record type. Build it with NewModel and the Add methods,
// then hand it to Registry.Register; it must not be changed afterwards.
type Model struct {
	Name    string
	Table   string
	Fields  []*Field
	KeySets []KeySet

	byName  map[string]*Field
	primary []string
	uniques []uniqueIndex
	goType  reflect.Type
	errs    []error
}

// NewModel creates an empty model with a conventional table name
func NewModel(name string) *Model {
	return &Model{
		Name:   name,
		Table:  toTableName(name),
		byName: make(map[string]*Field),
	}
}

// WithTable overrides the table name
func (m *Model) WithTable(table string) *Model {
	if table != "" {
		m.Table = table
	}
	return m
}

// AddField appends a field. DeltaName and Column default from Name.
func (m *Model) AddField(f *Field) *Model {
	if f.Name == "" {
		m.errs = append(m.errs, &DefinitionError{Model: m.Name, Message: "field without a name"})
		return m
	}
	if f.DeltaName == "" {
		f.DeltaName = f.Name
	}
	if f.Column == "" && !f.Collection {
		f.Column = toSnakeCase(f.Name)
	}
	if f.Collection && f.Elem == "" {
		m.errs = append(m.errs, &DefinitionError{
			Model:   m.Name,
			Field:   f.Name,
			Message: "collection field without an element model",
		})
		return m
	}
	if f.Type == TypeEnum && len(f.EnumValues) == 0 && !f.Collection {
		m.errs = append(m.errs, &DefinitionError{
			Model:   m.Name,
			Field:   f.Name,
			Message: "enum field without values",
		})
		return m
	}

	for _, key := range []string{f.Name, f.DeltaName} {
		k := strings.ToLower(key)
		if existing, ok := m.byName[k]; ok && existing != f {
			m.errs = append(m.errs, &DefinitionError{
				Model:   m.Name,
				Field:   f.Name,
				Message: "duplicate field name",
				Hint:    "field names are compared case-insensitively",
			})
			return m
		}
	}

	m.Fields = append(m.Fields, f)
	m.byName[strings.ToLower(f.Name)] = f
	m.byName[strings.ToLower(f.DeltaName)] = f
	return m
}

// SetPrimary declares the primary key fields, in order
func (m *Model) SetPrimary(fields ...string) *Model {
	m.primary = append([]string(nil), fields...)
	return m
}

// AddUnique declares a unique index. Repeated calls with the same index name
// append to that index.
func (m *Model) AddUnique(index string, fields ...string) *Model {
	for i := range m.uniques {
		if m.uniques[i].name == index {
			m.uniques[i].fields = append(m.uniques[i].fields, fields...)
			return m
		}
	}
	m.uniques = append(m.uniques, uniqueIndex{name: index, fields: append([]string(nil), fields...)})
	return m
}

// Field looks up a field by canonical or delta name, case-insensitively
func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.byName[strings.ToLower(name)]
	return f, ok
}

// Valid reports whether the model has at least one key set
func (m *Model) Valid() bool {
	return len(m.KeySets) > 0
}

// GoType returns the struct type the model was reflected from, if any
func (m *Model) GoType() reflect.Type {
	return m.goType
}

// PrimaryKey returns the primary key set
func (m *Model) PrimaryKey() (KeySet, bool) {
	if len(m.KeySets) > 0 && m.KeySets[0].Primary {
		return m.KeySets[0], true
	}
	return KeySet{}, false
}

// IsKeyField reports whether the field belongs to any key set
func (m *Model) IsKeyField(name string) bool {
	for _, ks := range m.KeySets {
		for _, f := range ks.Fields {
			if strings.EqualFold(f, name) {
				return true
			}
		}
	}
	return false
}

// IsPrimaryField reports whether the field belongs to the primary key
func (m *Model) IsPrimaryField(name string) bool {
	pk, ok := m.PrimaryKey()
	if !ok {
		return false
	}
	for _, f := range pk.Fields {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

// KeyFields returns the distinct fields of all key sets in key set order
func (m *Model) KeyFields() []*Field {
	seen := make(map[string]bool)
	var fields []*Field
	for _, ks := range m.KeySets {
		for _, name := range ks.Fields {
			if seen[name] {
				continue
			}
			seen[name] = true
			if f, ok := m.Field(name); ok {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

// Scalars returns the scalar fields in declaration order
func (m *Model) Scalars() []*Field {
	fields := make([]*Field, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.IsScalar() {
			fields = append(fields, f)
		}
	}
	return fields
}

// Collections returns the collection fields in declaration order
func (m *Model) Collections() []*Field {
	var fields []*Field
	for _, f := range m.Fields {
		if f.Collection {
			fields = append(fields, f)
		}
	}
	return fields
}

// NewRecord returns a record holding the zero value of every scalar field
func (m *Model) NewRecord() Record {
	rec := make(Record, len(m.Fields))
	for _, f := range m.Scalars() {
		rec[f.Name] = f.Zero()
	}
	return rec
}

// finalize resolves key sets. Models without any key set are kept but are
// not Valid.
func (m *Model) finalize() error {
	if len(m.errs) > 0 {
		return errors.Join(m.errs...)
	}
	if m.Name == "" {
		return &DefinitionError{Message: "model without a name"}
	}

	m.KeySets = m.KeySets[:0]

	primary := m.primary
	if len(primary) == 0 {
		primary = m.conventionalKey()
	}
	if len(primary) > 0 {
		fields, err := m.keyFieldNames(primary)
		if err != nil {
			return err
		}
		m.KeySets = append(m.KeySets, KeySet{Name: "primary", Primary: true, Fields: fields})
	}

	for _, ix := range m.uniques {
		fields, err := m.keyFieldNames(ix.fields)
		if err != nil {
			return err
		}
		m.KeySets = append(m.KeySets, KeySet{Name: ix.name, Fields: fields})
	}

	return nil
}

// conventionalKey collects, in field order, every scalar field named Id,
// Key, <Model>Id or <Model>Key
func (m *Model) conventionalKey() []string {
	candidates := []string{"Id", "Key", m.Name + "Id", m.Name + "Key"}

	var keys []string
	for _, f := range m.Fields {
		if !f.IsScalar() {
			continue
		}
		for _, c := range candidates {
			if strings.EqualFold(f.Name, c) {
				keys = append(keys, f.Name)
				break
			}
		}
	}
	return keys
}

func (m *Model) keyFieldNames(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		f, ok := m.Field(name)
		if !ok {
			return nil, &DefinitionError{Model: m.Name, Field: name, Message: "key references an unknown field"}
		}
		if !f.IsScalar() {
			return nil, &DefinitionError{Model: m.Name, Field: name, Message: "key field must be scalar"}
		}
		out = append(out, f.Name)
	}
	return out, nil
}

// String returns a short description of the model
func (m *Model) String() string {
	return fmt.Sprintf("%s(%s)", m.Name, m.Table)
}
