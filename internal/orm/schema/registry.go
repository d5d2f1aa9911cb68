package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrModelExists is returned when a model name is registered twice
	ErrModelExists = errors.New("model already registered")

	// ErrUnknownModel is returned when a model name is not registered
	ErrUnknownModel = errors.New("unknown model")
)

// Registry holds every model known to the engine. It is safe for concurrent
// use; models are read-only once registered.
type Registry struct {
	models map[string]*Model
	order  []string
	types  sync.Map // reflect.Type -> *Model
	mu     sync.RWMutex
}

// NewRegistry creates a new model registry
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]*Model),
	}
}

// Register finalizes and registers a model
func (r *Registry) Register(m *Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.registerLocked(m)
}

func (r *Registry) registerLocked(m *Model) error {
	key := strings.ToLower(m.Name)
	if _, exists := r.models[key]; exists {
		return fmt.Errorf("%w: %s", ErrModelExists, m.Name)
	}

	if err := m.finalize(); err != nil {
		return fmt.Errorf("model definition failed for %s: %w", m.Name, err)
	}

	r.models[key] = m
	r.order = append(r.order, m.Name)
	return nil
}

// Get retrieves a model by name, case-insensitively
func (r *Registry) Get(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.models[strings.ToLower(name)]
	return m, exists
}

// Lookup retrieves a model by name and fails with ErrUnknownModel
func (r *Registry) Lookup(name string) (*Model, error) {
	m, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m, nil
}

// ForType returns the model reflected from the given struct type
func (r *Registry) ForType(t reflect.Type) (*Model, bool) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return nil, false
	}
	v, ok := r.types.Load(t)
	if !ok {
		return nil, false
	}
	return v.(*Model), true
}

// Models returns all registered models in registration order
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Model, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.models[strings.ToLower(name)])
	}
	return result
}

// List returns the sorted list of model names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Count returns the number of registered models
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.models)
}

// Exists checks if a model is registered
func (r *Registry) Exists(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Clear removes all registered models (useful for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models = make(map[string]*Model)
	r.order = nil
	r.types.Range(func(k, _ interface{}) bool {
		r.types.Delete(k)
		return true
	})
}

// Check verifies that every collection refers to a registered element model
// and that inverse fields exist on it
func (r *Registry) Check() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, name := range r.order {
		m := r.models[strings.ToLower(name)]
		for _, f := range m.Collections() {
			elem, ok := r.models[strings.ToLower(f.Elem)]
			if !ok {
				errs = append(errs, &DefinitionError{
					Model:   m.Name,
					Field:   f.Name,
					Message: fmt.Sprintf("element model %s is not registered", f.Elem),
				})
				continue
			}
			if f.Inverse != "" {
				if _, ok := elem.Field(f.Inverse); !ok {
					errs = append(errs, &DefinitionError{
						Model:   m.Name,
						Field:   f.Name,
						Message: fmt.Sprintf("inverse field %s not found on %s", f.Inverse, elem.Name),
					})
				}
			}
		}
	}
	return errors.Join(errs...)
}
