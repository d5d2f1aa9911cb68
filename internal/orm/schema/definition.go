package schema

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Definitions is the YAML document form of a set of models
type Definitions struct {
	Models []ModelDefinition `yaml:"models"`
}

// ModelDefinition declares one model
type ModelDefinition struct {
	Name   string              `yaml:"name"`
	Table  string              `yaml:"table,omitempty"`
	Key    []string            `yaml:"key,omitempty"`
	Unique map[string][]string `yaml:"unique,omitempty"`
	Fields []FieldDefinition   `yaml:"fields"`
}

// FieldDefinition declares one field. A field with Collection set is a
// child collection of the named model.
type FieldDefinition struct {
	Name       string   `yaml:"name"`
	JSON       string   `yaml:"json,omitempty"`
	Column     string   `yaml:"column,omitempty"`
	Type       string   `yaml:"type,omitempty"`
	Nullable   bool     `yaml:"nullable,omitempty"`
	Values     []string `yaml:"values,omitempty"`
	Validate   string   `yaml:"validate,omitempty"`
	Key        bool     `yaml:"key,omitempty"`
	Unique     string   `yaml:"unique,omitempty"`
	Collection string   `yaml:"collection,omitempty"`
	Inverse    string   `yaml:"inverse,omitempty"`
}

// LoadDefinitions decodes YAML model definitions and builds their models.
// The models are not registered.
func LoadDefinitions(r io.Reader) ([]*Model, error) {
	var defs Definitions
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil {
		return nil, fmt.Errorf("failed to parse model definitions: %w", err)
	}

	models := make([]*Model, 0, len(defs.Models))
	for _, md := range defs.Models {
		m, err := md.Build()
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

// Build converts the definition into a model
func (md ModelDefinition) Build() (*Model, error) {
	if md.Name == "" {
		return nil, &DefinitionError{Message: "model without a name"}
	}
	m := NewModel(md.Name).WithTable(md.Table)

	primary := append([]string(nil), md.Key...)
	for _, fd := range md.Fields {
		f := &Field{
			Name:       fd.Name,
			DeltaName:  fd.JSON,
			Column:     fd.Column,
			Nullable:   fd.Nullable,
			EnumValues: fd.Values,
			Rules:      fd.Validate,
			Inverse:    fd.Inverse,
		}
		if fd.Collection != "" {
			f.Collection = true
			f.Elem = fd.Collection
		} else {
			typ := fd.Type
			if typ == "" {
				typ = "string"
			}
			ft, err := ParseFieldType(typ)
			if err != nil {
				return nil, &DefinitionError{Model: md.Name, Field: fd.Name, Message: err.Error()}
			}
			f.Type = ft
		}
		m.AddField(f)

		if fd.Key {
			primary = append(primary, fd.Name)
		}
		if fd.Unique != "" {
			m.AddUnique(fd.Unique, fd.Name)
		}
	}

	if len(primary) > 0 {
		m.SetPrimary(primary...)
	}
	for _, name := range sortedKeys(md.Unique) {
		m.AddUnique(name, md.Unique[name]...)
	}
	return m, nil
}

// LoadFile reads a YAML definitions file and registers every model in it
func (r *Registry) LoadFile(path string) ([]*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()

	models, err := LoadDefinitions(f)
	if err != nil {
		return nil, err
	}
	for _, m := range models {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	if err := r.Check(); err != nil {
		return nil, err
	}
	return models, nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
