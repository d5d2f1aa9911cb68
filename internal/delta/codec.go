package delta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"gopkg.in/yaml.v3"
)

// ErrNotObject is returned when a document does not hold an object where a
// delta is expected
var ErrNotObject = errors.New("delta: value is not an object")

// MarshalJSON encodes the delta as a JSON object in key order
func (d *Delta) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(e.value)
		if err != nil {
			return nil, fmt.Errorf("delta: encode %q: %w", e.key, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping document key order
func (d *Delta) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		return err
	}
	parsed, ok := v.(*Delta)
	if !ok {
		return ErrNotObject
	}
	*d = *parsed
	return nil
}

// DecodeJSON reads a single JSON document that is either an object or an
// array of objects. Non-object array entries are returned as-is.
func DecodeJSON(r io.Reader) ([]interface{}, bool, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		return nil, false, err
	}
	switch val := v.(type) {
	case *Delta:
		return []interface{}{val}, false, nil
	case []interface{}:
		return val, true, nil
	default:
		return nil, false, ErrNotObject
	}
}

func decodeJSONValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			d := New()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("delta: unexpected key token %v", keyTok)
				}
				value, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				d.Set(key, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return d, nil
		case '[':
			items := make([]interface{}, 0)
			for dec.More() {
				value, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return items, nil
		}
		return nil, fmt.Errorf("delta: unexpected delimiter %v", t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	default:
		return tok, nil
	}
}

// UnmarshalYAML decodes a YAML mapping, keeping document key order
func (d *Delta) UnmarshalYAML(node *yaml.Node) error {
	v, err := decodeYAMLNode(node)
	if err != nil {
		return err
	}
	parsed, ok := v.(*Delta)
	if !ok {
		return ErrNotObject
	}
	*d = *parsed
	return nil
}

// DecodeYAML reads a YAML document holding a mapping or a sequence of mappings
func DecodeYAML(r io.Reader) ([]interface{}, bool, error) {
	var node yaml.Node
	if err := yaml.NewDecoder(r).Decode(&node); err != nil {
		return nil, false, err
	}
	v, err := decodeYAMLNode(&node)
	if err != nil {
		return nil, false, err
	}
	switch val := v.(type) {
	case *Delta:
		return []interface{}{val}, false, nil
	case []interface{}:
		return val, true, nil
	default:
		return nil, false, ErrNotObject
	}
}

func decodeYAMLNode(node *yaml.Node) (interface{}, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return decodeYAMLNode(node.Content[0])
	case yaml.MappingNode:
		d := New()
		for i := 0; i+1 < len(node.Content); i += 2 {
			value, err := decodeYAMLNode(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			d.Set(node.Content[i].Value, value)
		}
		return d, nil
	case yaml.SequenceNode:
		items := make([]interface{}, 0, len(node.Content))
		for _, child := range node.Content {
			value, err := decodeYAMLNode(child)
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		return items, nil
	case yaml.AliasNode:
		return decodeYAMLNode(node.Alias)
	default:
		var v interface{}
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		if i, ok := v.(int); ok {
			return int64(i), nil
		}
		return v, nil
	}
}

// FromValue normalizes an arbitrary value into a delta. Deltas are cloned,
// maps are copied and everything else goes through its JSON form, so struct
// fields appear under their JSON names in declaration order.
func FromValue(v interface{}) (*Delta, error) {
	switch val := v.(type) {
	case nil:
		return nil, ErrNotObject
	case *Delta:
		return val.Clone(), nil
	case Delta:
		return val.Clone(), nil
	case map[string]interface{}:
		return FromMap(val), nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, ErrNotObject
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct && rv.Kind() != reflect.Map {
		return nil, fmt.Errorf("%w: %s", ErrNotObject, rv.Type())
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("delta: encode %s: %w", rv.Type(), err)
	}
	d := New()
	if err := d.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseTyped reads a {"model": "...", "delta": {...}} envelope
func ParseTyped(envelope *Delta) (Typed, error) {
	rawModel, _ := envelope.Get("model")
	model, ok := rawModel.(string)
	if !ok || model == "" {
		return Typed{}, errors.New(`delta: "model" must be a non-empty string`)
	}
	rawDelta, _ := envelope.Get("delta")
	d, ok := rawDelta.(*Delta)
	if !ok {
		return Typed{}, fmt.Errorf(`delta: "delta" of %s must be an object`, model)
	}
	return Typed{Model: model, Delta: d}, nil
}

// ParseTypedList reads decoded envelopes, as returned by DecodeJSON or
// DecodeYAML, into typed deltas
func ParseTypedList(items []interface{}) ([]interface{}, error) {
	out := make([]interface{}, 0, len(items))
	for i, item := range items {
		envelope, ok := item.(*Delta)
		if !ok {
			return nil, fmt.Errorf("item %d: %w", i, ErrNotObject)
		}
		t, err := ParseTyped(envelope)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}
