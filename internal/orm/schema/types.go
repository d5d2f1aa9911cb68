// Package schema provides the record descriptors used by the patch engine.
// A Model describes one record type: its ordered fields, its candidate key
// sets and the child collections it owns.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType represents the primitive type of a scalar field
type FieldType int

const (
	// Text types
	TypeString FieldType = iota
	TypeText

	// Numeric types
	TypeInt
	TypeBigInt
	TypeFloat

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate

	// Unique identifiers
	TypeUUID

	// Enum
	TypeEnum
)

// String returns the string representation of the field type
func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// ParseFieldType converts a string to a FieldType
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(s) {
	case "string":
		return TypeString, nil
	case "text":
		return TypeText, nil
	case "int", "integer":
		return TypeInt, nil
	case "bigint":
		return TypeBigInt, nil
	case "float", "double":
		return TypeFloat, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "timestamp", "datetime":
		return TypeTimestamp, nil
	case "date":
		return TypeDate, nil
	case "uuid":
		return TypeUUID, nil
	case "enum":
		return TypeEnum, nil
	default:
		return 0, fmt.Errorf("unknown field type: %s", s)
	}
}

// IsNumeric returns true if the type is a numeric type
func (t FieldType) IsNumeric() bool {
	return t == TypeInt || t == TypeBigInt || t == TypeFloat
}

// IsText returns true if the type is a text type
func (t FieldType) IsText() bool {
	return t == TypeString || t == TypeText
}

// IsTime returns true if the type holds a time.Time
func (t FieldType) IsTime() bool {
	return t == TypeTimestamp || t == TypeDate
}

// Field describes one field of a model. Scalar fields carry a Type; collection
// fields name the element model in Elem.
type Field struct {
	Name       string // canonical name, key of Record
	DeltaName  string // name looked up first in a delta
	Column     string // storage column
	Type       FieldType
	Nullable   bool
	EnumValues []string // declared enum values, first is the zero value
	Rules      string   // validation rules, go-playground/validator syntax

	Collection bool
	Elem       string // element model name for collections
	Inverse    string // FK field on the element model
}

// IsScalar reports whether the field holds a primitive or enum value
func (f *Field) IsScalar() bool {
	return !f.Collection
}

// DeltaKeys returns the keys under which the field may appear in a delta
func (f *Field) DeltaKeys() []string {
	if f.DeltaName == "" || strings.EqualFold(f.DeltaName, f.Name) {
		return []string{f.Name}
	}
	return []string{f.DeltaName, f.Name}
}

// Zero returns the zero value of the field in its normalized form
func (f *Field) Zero() interface{} {
	if f.Nullable {
		return nil
	}
	switch f.Type {
	case TypeString, TypeText:
		return ""
	case TypeInt, TypeBigInt:
		return int64(0)
	case TypeFloat:
		return float64(0)
	case TypeBool:
		return false
	case TypeTimestamp, TypeDate:
		return time.Time{}
	case TypeUUID:
		return uuid.Nil
	case TypeEnum:
		if len(f.EnumValues) > 0 {
			return f.EnumValues[0]
		}
		return ""
	default:
		return nil
	}
}

// IsZero reports whether v is the zero value of the field
func (f *Field) IsZero(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		if f.Type == TypeEnum && len(f.EnumValues) > 0 {
			return val == "" || strings.EqualFold(val, f.EnumValues[0])
		}
		return val == ""
	case int64:
		return val == 0
	case int:
		return val == 0
	case float64:
		return val == 0
	case bool:
		return !val
	case time.Time:
		return val.IsZero()
	case uuid.UUID:
		return val == uuid.Nil
	default:
		return false
	}
}

// KeySet is an ordered list of field names that together identify a record
type KeySet struct {
	Name    string
	Primary bool
	Fields  []string
}

// Link connects a child model to the parent that owns it. ParentFields are
// the parent's key fields; ChildField is the child's foreign key, empty when
// none could be resolved.
type Link struct {
	ParentFields []string
	ChildField   string
}

// Context is a model viewed from one place in a delta graph. Link is set for
// children discovered under a parent.
type Context struct {
	Model *Model
	Link  *Link
}

// Record is a record instance keyed by canonical field name
type Record map[string]interface{}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// NamedKey holds the resolved key values of one record
type NamedKey map[string]interface{}
