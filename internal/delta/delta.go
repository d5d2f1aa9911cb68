// Package delta implements the sparse record representation accepted by the
// patch engine. A Delta is an ordered map whose keys compare case-insensitively;
// only the fields present in a delta are applied to a record.
package delta

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

type entry struct {
	key   string
	value interface{}
}

// Delta is an order-preserving, case-insensitive string-keyed map of loosely
// typed values. The zero value is not usable; use New.
type Delta struct {
	entries []entry
	index   map[string]int
}

// Typed pairs a delta with the name of the model it describes. It is the
// untyped input accepted by PatchUntyped.
type Typed struct {
	Model string
	Delta *Delta
}

// New creates an empty delta
func New() *Delta {
	return &Delta{index: make(map[string]int)}
}

// FromMap builds a delta from a plain map. Nested maps become deltas. Go maps
// carry no order, so the resulting key order is unspecified.
func FromMap(m map[string]interface{}) *Delta {
	d := New()
	for k, v := range m {
		d.Set(k, v)
	}
	return d
}

// fold returns the comparison form of a key
func fold(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] >= utf8.RuneSelf {
			return cases.Fold().String(key)
		}
	}
	return strings.ToLower(key)
}

// Set assigns value to key. When the key already exists under any casing the
// value is replaced in place and the original spelling and position are kept.
func (d *Delta) Set(key string, value interface{}) *Delta {
	value = normalize(value)
	k := fold(key)
	if i, ok := d.index[k]; ok {
		d.entries[i].value = value
		return d
	}
	d.index[k] = len(d.entries)
	d.entries = append(d.entries, entry{key: key, value: value})
	return d
}

// Get returns the value stored under key
func (d *Delta) Get(key string) (interface{}, bool) {
	if d == nil {
		return nil, false
	}
	i, ok := d.index[fold(key)]
	if !ok {
		return nil, false
	}
	return d.entries[i].value, true
}

// Lookup returns the value of the first key present in the delta
func (d *Delta) Lookup(keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if v, ok := d.Get(key); ok {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether key is present
func (d *Delta) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Delete removes key from the delta
func (d *Delta) Delete(key string) {
	if d == nil {
		return
	}
	k := fold(key)
	i, ok := d.index[k]
	if !ok {
		return
	}
	d.entries = append(d.entries[:i], d.entries[i+1:]...)
	delete(d.index, k)
	for j := i; j < len(d.entries); j++ {
		d.index[fold(d.entries[j].key)] = j
	}
}

// Len returns the number of keys
func (d *Delta) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Keys returns the keys in insertion order
func (d *Delta) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.entries))
	for i, e := range d.entries {
		keys[i] = e.key
	}
	return keys
}

// Range calls fn for every entry in order until fn returns false
func (d *Delta) Range(fn func(key string, value interface{}) bool) {
	if d == nil {
		return
	}
	for _, e := range d.entries {
		if !fn(e.key, e.value) {
			return
		}
	}
}

// Clone returns a deep copy of the delta
func (d *Delta) Clone() *Delta {
	if d == nil {
		return nil
	}
	c := &Delta{
		entries: make([]entry, len(d.entries)),
		index:   make(map[string]int, len(d.index)),
	}
	for i, e := range d.entries {
		c.entries[i] = entry{key: e.key, value: cloneValue(e.value)}
		c.index[fold(e.key)] = i
	}
	return c
}

// Map converts the delta to a plain map, recursively
func (d *Delta) Map() map[string]interface{} {
	if d == nil {
		return nil
	}
	m := make(map[string]interface{}, len(d.entries))
	for _, e := range d.entries {
		m[e.key] = plain(e.value)
	}
	return m
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case *Delta:
		return val.Clone()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func plain(v interface{}) interface{} {
	switch val := v.(type) {
	case *Delta:
		return val.Map()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	default:
		return v
	}
}

// normalize turns nested maps into deltas so that nested content is always
// addressed case-insensitively
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return FromMap(val)
	case []map[string]interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = FromMap(item)
		}
		return out
	case []*Delta:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}
