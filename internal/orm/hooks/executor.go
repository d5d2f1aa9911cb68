package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/conduit-lang/deltapatch/internal/store"
)

// Executor executes lifecycle hooks for patched records
type Executor struct {
	registry   *Registry
	asyncQueue *AsyncQueue
	logger     *zap.Logger
}

// NewExecutor creates a new hook executor. A nil logger discards output.
func NewExecutor(asyncQueue *AsyncQueue, logger *zap.Logger) *Executor {
	return NewExecutorWithRegistry(NewRegistry(), asyncQueue, logger)
}

// NewExecutorWithRegistry creates a new hook executor with an existing registry
func NewExecutorWithRegistry(registry *Registry, asyncQueue *AsyncQueue, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		registry:   registry,
		asyncQueue: asyncQueue,
		logger:     logger,
	}
}

// Register registers a hook
func (e *Executor) Register(hookType HookType, hook *Hook) {
	e.registry.Register(hookType, hook)
}

// On registers a synchronous hook for one model, or every model when model
// is empty
func (e *Executor) On(hookType HookType, model string, fn HookFunc) {
	e.registry.Register(hookType, &Hook{Model: model, Fn: fn})
}

// ExecuteHooks runs the hooks of a type for one record. Synchronous hooks
// run in order and may modify the record; the first error stops execution.
// Async hooks receive a copy of the record and never fail the call.
func (e *Executor) ExecuteHooks(
	ctx context.Context,
	m *schema.Model,
	hookType HookType,
	kind string,
	tx store.Tx,
	record schema.Record,
) error {
	if e == nil {
		return nil
	}
	hooks := e.registry.GetHooks(hookType, m.Name)
	if len(hooks) == 0 {
		return nil
	}

	hookCtx := NewContext(ctx, m, kind)
	if tx != nil {
		hookCtx = hookCtx.WithTransaction(tx)
	}

	for _, hook := range hooks {
		if hook.Async {
			if err := e.enqueueAsyncHook(hookCtx, hook, record); err != nil {
				e.logger.Warn("failed to enqueue async hook",
					zap.String("hook", hookType.String()),
					zap.String("model", m.Name),
					zap.Error(err))
			}
			continue
		}
		if err := hook.Fn(hookCtx, record); err != nil {
			return fmt.Errorf("hook %s on %s failed: %w", hookType.String(), m.Name, err)
		}
	}

	return nil
}

// deepCopyRecord copies a record so async hooks never observe later changes
func deepCopyRecord(record schema.Record) schema.Record {
	cp := make(schema.Record, len(record))
	for k, v := range record {
		cp[k] = deepCopyValue(v)
	}
	return cp
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case schema.Record:
		return deepCopyRecord(val)
	case map[string]interface{}:
		return map[string]interface{}(deepCopyRecord(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []byte:
		return append([]byte(nil), val...)
	case time.Time, uuid.UUID:
		return val
	default:
		return v
	}
}

// enqueueAsyncHook queues an async hook for later execution
func (e *Executor) enqueueAsyncHook(hookCtx *Context, hook *Hook, record schema.Record) error {
	if e.asyncQueue == nil {
		return fmt.Errorf("async queue not configured")
	}

	recordCopy := deepCopyRecord(record)
	model := hookCtx.model
	kind := hookCtx.kind

	task := AsyncTask{
		Name: fmt.Sprintf("%s_%s_hook", model.Name, hook.Type.String()),
		Fn: func(ctx context.Context) error {
			return hook.Fn(NewContext(ctx, model, kind), recordCopy)
		},
	}

	return e.asyncQueue.Enqueue(task)
}

// HasHooks returns true if there are any hooks registered for the given type
func (e *Executor) HasHooks(hookType HookType) bool {
	return e != nil && e.registry.HasHooks(hookType)
}

// GetRegistry returns the hook registry
func (e *Executor) GetRegistry() *Registry {
	return e.registry
}
