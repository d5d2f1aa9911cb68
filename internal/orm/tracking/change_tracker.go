// Package tracking provides change tracking for patched records.
// It classifies an existing record as read or updated and yields the changed
// columns for efficient UPDATE statements.
package tracking

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

// FieldChange represents a change to a single field
type FieldChange struct {
	Field    string
	OldValue interface{}
	NewValue interface{}
}

// ChangeTracker tracks field changes between a stored record and its
// patched form
type ChangeTracker struct {
	mu       sync.RWMutex
	original schema.Record
	current  schema.Record
	changes  map[string]*FieldChange
}

// NewChangeTracker creates a new change tracker for a record
// original: the state loaded from the store
// current: the state after patching
func NewChangeTracker(original, current schema.Record) *ChangeTracker {
	ct := &ChangeTracker{
		original: copyRecord(original),
		current:  copyRecord(current),
		changes:  make(map[string]*FieldChange),
	}
	ct.computeChanges()
	return ct
}

func copyRecord(r schema.Record) schema.Record {
	if r == nil {
		return make(schema.Record)
	}
	return r.Clone()
}

// computeChanges calculates which fields have changed
func (ct *ChangeTracker) computeChanges() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	for field, newValue := range ct.current {
		oldValue, hadOldValue := ct.original[field]

		if !hadOldValue || !Equal(oldValue, newValue) {
			ct.changes[field] = &FieldChange{
				Field:    field,
				OldValue: oldValue,
				NewValue: newValue,
			}
		}
	}

	for field, oldValue := range ct.original {
		if _, exists := ct.current[field]; !exists {
			ct.changes[field] = &FieldChange{
				Field:    field,
				OldValue: oldValue,
				NewValue: nil,
			}
		}
	}
}

// Equal compares two normalized values. Times compare by instant, everything
// else with reflect.DeepEqual.
func Equal(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}

	return reflect.DeepEqual(a, b)
}

// Changed returns true if the specified field has changed
func (ct *ChangeTracker) Changed(field string) bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	_, ok := ct.changes[field]
	return ok
}

// ChangedFields returns the changed fields in sorted order
func (ct *ChangeTracker) ChangedFields() []string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	fields := make([]string, 0, len(ct.changes))
	for field := range ct.changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// ChangedIn returns the changed fields following the given field order.
// Changed fields missing from order are appended in sorted order.
func (ct *ChangeTracker) ChangedIn(order []string) []string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	fields := make([]string, 0, len(ct.changes))
	seen := make(map[string]bool, len(order))
	for _, field := range order {
		seen[field] = true
		if _, ok := ct.changes[field]; ok {
			fields = append(fields, field)
		}
	}

	var rest []string
	for field := range ct.changes {
		if !seen[field] {
			rest = append(rest, field)
		}
	}
	sort.Strings(rest)
	return append(fields, rest...)
}

// PreviousValue returns the previous value of a field
// Returns nil if the field didn't exist in the original state
func (ct *ChangeTracker) PreviousValue(field string) interface{} {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.original[field]
}

// CurrentValue returns the current value of a field
func (ct *ChangeTracker) CurrentValue(field string) interface{} {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.current[field]
}

// GetChange returns the FieldChange for a specific field, or nil if unchanged
func (ct *ChangeTracker) GetChange(field string) *FieldChange {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.changes[field]
}

// HasChanges returns true if any fields have changed
func (ct *ChangeTracker) HasChanges() bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.changes) > 0
}

// Reset clears all tracked changes and updates the original state
// This should be called after a successful save operation
func (ct *ChangeTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.original = copyRecord(ct.current)
	ct.changes = make(map[string]*FieldChange)
}

// SetFieldValue updates a field value and recomputes its change status
func (ct *ChangeTracker) SetFieldValue(field string, value interface{}) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.current[field] = value

	oldValue, hadOldValue := ct.original[field]
	if !hadOldValue || !Equal(oldValue, value) {
		ct.changes[field] = &FieldChange{
			Field:    field,
			OldValue: oldValue,
			NewValue: value,
		}
	} else {
		// Value reverted to original, remove from changes
		delete(ct.changes, field)
	}
}

// GetChangedData returns a map of only the changed fields with their new values
// This is useful for generating efficient UPDATE queries
func (ct *ChangeTracker) GetChangedData() schema.Record {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	result := make(schema.Record, len(ct.changes))
	for field, change := range ct.changes {
		result[field] = change.NewValue
	}
	return result
}
