package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/conduit-lang/deltapatch/internal/delta"
)

// Patch registers T if needed and patches the given values in one
// transaction. Only the fields present in each value's JSON form are
// applied; fields tagged omitempty that hold zero values are left alone.
func Patch[T any](ctx context.Context, e *Engine, items ...T) (*Result, error) {
	var zero T
	m, err := e.registry.RegisterStruct(zero)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, err)
	}
	if err := e.check(m); err != nil {
		return nil, err
	}

	units := make([]unit, 0, len(items))
	for i, item := range items {
		d, err := delta.FromValue(item)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidInput, i, err)
		}
		units = append(units, unit{model: m, delta: d})
	}
	return e.execute(ctx, "typed", units)
}

// Decode converts the records of T's model in outcomes into values of T.
// Records are mapped through their JSON form keyed by delta name.
func Decode[T any](outcomes OutcomeList) ([]T, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	var out []T
	for _, o := range outcomes {
		if o.model == nil || o.model.GoType() != t {
			continue
		}
		data, err := json.Marshal(o.Delta())
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", o.Model, err)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", o.Model, err)
		}
		out = append(out, v)
	}
	return out, nil
}
