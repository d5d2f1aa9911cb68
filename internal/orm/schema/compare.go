package schema

import (
	"reflect"
	"strings"
	"sync"
	"time"
)

// Comparer reports whether two normalized values of one field type are equal
type Comparer func(a, b interface{}) bool

// Comparers maps field types to the comparer used for change detection.
// A type without a comparer is always treated as changed.
type Comparers struct {
	comparers map[FieldType]Comparer
	mu        sync.RWMutex
}

// NewComparers creates a comparer set with the default comparers: text and
// enums compare case-insensitively, times with time.Equal and every other
// type with ==.
func NewComparers() *Comparers {
	c := &Comparers{comparers: make(map[FieldType]Comparer)}
	c.Register(TypeString, EqualFoldComparer)
	c.Register(TypeText, EqualFoldComparer)
	c.Register(TypeEnum, EqualFoldComparer)
	c.Register(TypeTimestamp, TimeComparer)
	c.Register(TypeDate, TimeComparer)
	for _, t := range []FieldType{TypeInt, TypeBigInt, TypeFloat, TypeBool, TypeUUID} {
		c.Register(t, DefaultComparer)
	}
	return c
}

// Register sets the comparer for a field type
func (c *Comparers) Register(t FieldType, cmp Comparer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.comparers[t] = cmp
}

// Remove deletes the comparer for a field type
func (c *Comparers) Remove(t FieldType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.comparers, t)
}

// Get returns the comparer for a field type
func (c *Comparers) Get(t FieldType) (Comparer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cmp, ok := c.comparers[t]
	return cmp, ok
}

// DefaultComparer compares with ==
func DefaultComparer(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

// EqualFoldComparer compares strings ignoring case
func EqualFoldComparer(a, b interface{}) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.EqualFold(as, bs)
	}
	return DefaultComparer(a, b)
}

// TimeComparer compares time values by instant
func TimeComparer(a, b interface{}) bool {
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		return at.Equal(bt)
	}
	return DefaultComparer(a, b)
}

// ValuesEqual reports whether two normalized values are identical. Unlike the
// comparers it is case-sensitive; times compare by instant.
func ValuesEqual(a, b interface{}) bool {
	return TimeComparer(a, b)
}
