package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotStruct is returned when a non-struct value is reflected
var ErrNotStruct = errors.New("value is not a struct")

// Enum is implemented by Go types whose values are a closed set of names.
// Fields of such types are registered as TypeEnum.
type Enum interface {
	EnumValues() []string
}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
	enumType = reflect.TypeOf((*Enum)(nil)).Elem()
)

// RegisterStruct reflects a struct type into a model and registers it along
// with the element types of its collections. Each type is reflected once;
// later calls, including concurrent ones, return the same model.
//
// Supported tags:
//
//	json:"name"                 delta name
//	db:"column"                 storage column
//	patch:"key"                 primary key member
//	patch:"unique=ix_name"      unique index member, repeatable
//	patch:"inverse=FieldName"   FK field on the element model of a collection
//	patch:"type=text"           override the inferred field type
//	patch:"-"                   ignored
//	validate:"rules"            validation rules
func (r *Registry) RegisterStruct(v interface{}) (*Model, error) {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T", ErrNotStruct, v)
	}
	return r.registerType(t)
}

func (r *Registry) registerType(t reflect.Type) (*Model, error) {
	if m, ok := r.types.Load(t); ok {
		return m.(*Model), nil
	}

	b := &structBuilder{registry: r, pending: make(map[reflect.Type]bool)}
	if err := b.build(t); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range b.models {
		if _, loaded := r.types.Load(m.goType); loaded {
			continue
		}
		if err := r.registerLocked(m); err != nil {
			return nil, err
		}
		r.types.LoadOrStore(m.goType, m)
	}

	m, _ := r.types.Load(t)
	return m.(*Model), nil
}

// structBuilder reflects a struct and the element types it reaches. Models
// are collected with element types ahead of their parents.
type structBuilder struct {
	registry *Registry
	pending  map[reflect.Type]bool
	models   []*Model
}

func (b *structBuilder) build(t reflect.Type) error {
	if b.pending[t] {
		return nil
	}
	if _, ok := b.registry.types.Load(t); ok {
		return nil
	}
	b.pending[t] = true

	m := NewModel(t.Name())
	m.goType = t

	var primary []string
	if err := b.addFields(m, t, &primary); err != nil {
		return err
	}
	if len(primary) > 0 {
		m.SetPrimary(primary...)
	}

	b.models = append(b.models, m)
	return nil
}

func (b *structBuilder) addFields(m *Model, t reflect.Type, primary *[]string) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("patch")
		if tag == "-" {
			continue
		}

		if sf.Anonymous {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && ft != timeType {
				if err := b.addFields(m, ft, primary); err != nil {
					return err
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}

		jsonName := strings.Split(sf.Tag.Get("json"), ",")[0]
		if jsonName == "-" {
			continue
		}

		f := &Field{
			Name:      sf.Name,
			DeltaName: jsonName,
			Column:    sf.Tag.Get("db"),
			Rules:     sf.Tag.Get("validate"),
		}

		elem, ok := b.describe(f, sf.Type)
		if !ok {
			continue
		}
		if elem != nil {
			if err := b.build(elem); err != nil {
				return err
			}
		}

		for _, opt := range strings.Split(tag, ",") {
			opt = strings.TrimSpace(opt)
			name, value, _ := strings.Cut(opt, "=")
			switch name {
			case "":
			case "key":
				*primary = append(*primary, f.Name)
			case "unique":
				if value == "" {
					value = "ux_" + toSnakeCase(f.Name)
				}
				m.AddUnique(value, f.Name)
			case "inverse":
				f.Inverse = value
			case "type":
				ft, err := ParseFieldType(value)
				if err != nil {
					return &DefinitionError{Model: m.Name, Field: f.Name, Message: err.Error()}
				}
				f.Type = ft
			case "nullable":
				f.Nullable = true
			default:
				return &DefinitionError{
					Model:   m.Name,
					Field:   f.Name,
					Message: fmt.Sprintf("unknown patch tag option %q", name),
				}
			}
		}

		m.AddField(f)
	}
	return nil
}

// describe fills the type information of f from a Go type. It returns the
// element struct type for collections and false for unsupported types.
func (b *structBuilder) describe(f *Field, t reflect.Type) (reflect.Type, bool) {
	if t.Kind() == reflect.Pointer {
		f.Nullable = true
		t = t.Elem()
	}

	switch {
	case t == timeType:
		f.Type = TypeTimestamp
		return nil, true
	case t == uuidType:
		f.Type = TypeUUID
		return nil, true
	case t.Implements(enumType) || reflect.PointerTo(t).Implements(enumType):
		f.Type = TypeEnum
		f.EnumValues = reflect.New(t).Interface().(Enum).EnumValues()
		return nil, true
	}

	switch t.Kind() {
	case reflect.String:
		f.Type = TypeString
	case reflect.Bool:
		f.Type = TypeBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		f.Type = TypeInt
	case reflect.Int64, reflect.Uint64:
		f.Type = TypeBigInt
	case reflect.Float32, reflect.Float64:
		f.Type = TypeFloat
	case reflect.Slice:
		elem := t.Elem()
		if elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		if elem.Kind() != reflect.Struct || elem == timeType {
			return nil, false
		}
		f.Nullable = false
		f.Collection = true
		f.Elem = elem.Name()
		return elem, true
	default:
		return nil, false
	}
	return nil, true
}
