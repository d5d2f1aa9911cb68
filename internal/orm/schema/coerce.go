package schema

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

var (
	// ErrCoercion is returned when a value cannot be converted to a field type
	ErrCoercion = errors.New("cannot coerce value")

	// ErrNilValue is returned when nil is assigned to a non-nullable field
	ErrNilValue = errors.New("nil value for non-nullable field")
)

// Coerce converts v to the normalized Go representation of the field type:
// string, int64, float64, bool, time.Time, uuid.UUID, or the canonical enum
// name. nil is accepted for nullable fields only.
func Coerce(f *Field, v interface{}) (interface{}, error) {
	if s, ok := v.(fmt.Stringer); ok && f.Type == TypeEnum && !isNilPointer(v) {
		v = s.String()
	}
	v = indirect(v)
	if v == nil {
		if f.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNilValue, f.Name)
	}

	out, err := coerce(f, v)
	if err != nil {
		return nil, fmt.Errorf("%w %v (%T) to %s for %s: %v", ErrCoercion, v, v, f.Type, f.Name, err)
	}
	return out, nil
}

func coerce(f *Field, v interface{}) (interface{}, error) {
	if !isPlain(v) {
		return nil, fmt.Errorf("unsupported value kind")
	}

	switch f.Type {
	case TypeString, TypeText:
		return cast.ToStringE(v)

	case TypeInt, TypeBigInt:
		if fv, ok := v.(float64); ok && fv != math.Trunc(fv) {
			return nil, fmt.Errorf("fractional value")
		}
		if _, ok := v.(bool); ok {
			return nil, fmt.Errorf("boolean is not an integer")
		}
		return cast.ToInt64E(v)

	case TypeFloat:
		if _, ok := v.(bool); ok {
			return nil, fmt.Errorf("boolean is not a number")
		}
		return cast.ToFloat64E(v)

	case TypeBool:
		return cast.ToBoolE(v)

	case TypeTimestamp:
		t, err := cast.ToTimeE(v)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil

	case TypeDate:
		t, err := cast.ToTimeE(v)
		if err != nil {
			return nil, err
		}
		y, mo, d := t.Date()
		return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC), nil

	case TypeUUID:
		return toUUID(v)

	case TypeEnum:
		return toEnum(f, v)
	}

	return nil, fmt.Errorf("unknown field type %d", f.Type)
}

func toUUID(v interface{}) (uuid.UUID, error) {
	switch val := v.(type) {
	case uuid.UUID:
		return val, nil
	case [16]byte:
		return uuid.UUID(val), nil
	case []byte:
		if len(val) == 16 {
			return uuid.FromBytes(val)
		}
		return uuid.ParseBytes(val)
	case string:
		return uuid.Parse(val)
	case fmt.Stringer:
		return uuid.Parse(val.String())
	}
	return uuid.Nil, fmt.Errorf("not a uuid")
}

func toEnum(f *Field, v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		for _, ev := range f.EnumValues {
			if strings.EqualFold(ev, val) {
				return ev, nil
			}
		}
		return "", fmt.Errorf("%q is not one of %v", val, f.EnumValues)
	case bool:
		return "", fmt.Errorf("boolean is not an enum value")
	}

	ordinal, err := cast.ToIntE(v)
	if err != nil {
		return "", err
	}
	if ordinal < 0 || ordinal >= len(f.EnumValues) {
		return "", fmt.Errorf("ordinal %d out of range", ordinal)
	}
	return f.EnumValues[ordinal], nil
}

// indirect dereferences pointers and unwraps named basic types so that cast
// sees plain Go values
func indirect(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Interface().(type) {
	case time.Time, uuid.UUID:
		return rv.Interface()
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return rv.Interface()
}

func isNilPointer(v interface{}) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// isPlain reports whether v is a scalar rather than a nested structure
func isPlain(v interface{}) bool {
	switch v.(type) {
	case time.Time, uuid.UUID, []byte, [16]byte:
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Func, reflect.Chan:
		return false
	}
	return true
}
