// Package hooks runs user callbacks at points of the patch lifecycle.
// BeforeStage hooks run inside the transaction and may change or reject a
// record; AfterCommit hooks observe committed records.
package hooks

import (
	"strings"
	"sync"

	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

// HookType identifies a point in the patch lifecycle
type HookType int

const (
	// BeforeStage runs after a record is patched and before it is
	// validated and staged. An error aborts the patch.
	BeforeStage HookType = iota
	// AfterCommit runs for every created or updated record once the
	// transaction is committed. Errors are logged only.
	AfterCommit
)

// String returns the hook type name
func (h HookType) String() string {
	switch h {
	case BeforeStage:
		return "before_stage"
	case AfterCommit:
		return "after_commit"
	default:
		return "unknown"
	}
}

// HookFunc represents a hook function that can be executed
// It receives the hook context and the record being patched
type HookFunc func(ctx *Context, record schema.Record) error

// Hook represents a registered lifecycle hook
type Hook struct {
	Type  HookType
	Model string // empty matches every model
	Fn    HookFunc
	Async bool // Execute on the async queue
}

// Registry manages all registered hooks
type Registry struct {
	hooks map[HookType][]*Hook
	mu    sync.RWMutex
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		hooks: make(map[HookType][]*Hook),
	}
}

// Register adds a hook to the registry
func (r *Registry) Register(hookType HookType, hook *Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hook.Type = hookType
	r.hooks[hookType] = append(r.hooks[hookType], hook)
}

// GetHooks returns the hooks of a type that apply to the model, in
// registration order
func (r *Registry) GetHooks(hookType HookType, model string) []*Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var hooks []*Hook
	for _, h := range r.hooks[hookType] {
		if h.Model == "" || strings.EqualFold(h.Model, model) {
			hooks = append(hooks, h)
		}
	}
	return hooks
}

// HasHooks returns true if there are any hooks registered for the given type
func (r *Registry) HasHooks(hookType HookType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.hooks[hookType]) > 0
}
