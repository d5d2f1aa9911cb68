// Package patch reconciles deltas against stored records. A patch resolves
// which stored record a delta describes, applies the fields present, assigns
// missing keys, propagates parent keys into nested child collections and
// commits the whole graph in one transaction.
package patch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/deltapatch/internal/delta"
	"github.com/conduit-lang/deltapatch/internal/metrics"
	"github.com/conduit-lang/deltapatch/internal/orm/hooks"
	"github.com/conduit-lang/deltapatch/internal/orm/query"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/conduit-lang/deltapatch/internal/orm/tracking"
	"github.com/conduit-lang/deltapatch/internal/store"
)

// Store and Tx are the storage contract of the engine
type (
	Store = store.Store
	Tx    = store.Tx
)

// Validator checks a patched record before it is staged
type Validator interface {
	Validate(ctx context.Context, m *schema.Model, rec schema.Record) error
}

// ValidatorFunc adapts a function to Validator
type ValidatorFunc func(ctx context.Context, m *schema.Model, rec schema.Record) error

// Validate calls f
func (f ValidatorFunc) Validate(ctx context.Context, m *schema.Model, rec schema.Record) error {
	return f(ctx, m, rec)
}

// Options configures an Engine. Registry and Store are required.
type Options struct {
	Registry     *schema.Registry
	Store        Store
	Validator    Validator
	KeyGenerator KeyGenerator
	Comparers    *schema.Comparers
	IgnoreFields map[string][]string // model name -> fields never written
	Hooks        *hooks.Executor
	Logger       *zap.Logger
	Metrics      *metrics.Collector
	OnDiagnostic func(Diagnostic)
}

// Engine runs patch operations. It is safe for concurrent use; each
// operation owns its own transaction.
type Engine struct {
	registry  *schema.Registry
	store     Store
	validator Validator
	core      *Core
	hooks     *hooks.Executor
	logger    *zap.Logger
	metrics   *metrics.Collector
	onDiag    func(Diagnostic)
}

// New creates an engine
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.New("patch: registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("patch: store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		registry:  opts.Registry,
		store:     opts.Store,
		validator: opts.Validator,
		core:      NewCore(opts.KeyGenerator, opts.Comparers, opts.IgnoreFields),
		hooks:     opts.Hooks,
		logger:    logger,
		metrics:   opts.Metrics,
		onDiag:    opts.OnDiagnostic,
	}, nil
}

// Registry returns the model registry of the engine
func (e *Engine) Registry() *schema.Registry {
	return e.registry
}

// unit is one root delta of an operation
type unit struct {
	model *schema.Model
	delta *delta.Delta
}

// PatchOne patches a single root record and its children
func (e *Engine) PatchOne(ctx context.Context, model string, d *delta.Delta) (*Result, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil delta", ErrInvalidInput)
	}
	m, err := e.model(model)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, "one", []unit{{model: m, delta: d}})
}

// PatchMany patches several root records of one model in one transaction
func (e *Engine) PatchMany(ctx context.Context, model string, deltas []*delta.Delta) (*Result, error) {
	m, err := e.model(model)
	if err != nil {
		return nil, err
	}

	units := make([]unit, 0, len(deltas))
	for i, d := range deltas {
		if d == nil {
			return nil, fmt.Errorf("%w: nil delta at %d", ErrInvalidInput, i)
		}
		units = append(units, unit{model: m, delta: d})
	}
	return e.execute(ctx, "many", units)
}

// PatchUntyped patches a heterogeneous list in one transaction. Items are
// delta.Typed values, or values and pointers of registered struct types.
// nil items are skipped.
func (e *Engine) PatchUntyped(ctx context.Context, items []interface{}) (*Result, error) {
	units := make([]unit, 0, len(items))
	for i, item := range items {
		u, ok, err := e.normalize(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if ok {
			units = append(units, u)
		}
	}
	return e.execute(ctx, "untyped", units)
}

func (e *Engine) normalize(item interface{}) (unit, bool, error) {
	switch v := item.(type) {
	case nil:
		return unit{}, false, nil
	case delta.Typed:
		return e.typedUnit(v)
	case *delta.Typed:
		if v == nil {
			return unit{}, false, nil
		}
		return e.typedUnit(*v)
	case *delta.Delta, delta.Delta, map[string]interface{}:
		return unit{}, false, fmt.Errorf("%w: %T carries no model, use delta.Typed", ErrInvalidInput, item)
	}

	rv := reflect.ValueOf(item)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return unit{}, false, nil
	}
	t := reflect.TypeOf(item)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	m, ok := e.registry.ForType(t)
	if !ok {
		return unit{}, false, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	if err := e.check(m); err != nil {
		return unit{}, false, err
	}
	d, err := delta.FromValue(item)
	if err != nil {
		return unit{}, false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return unit{model: m, delta: d}, true, nil
}

func (e *Engine) typedUnit(t delta.Typed) (unit, bool, error) {
	if t.Delta == nil {
		return unit{}, false, fmt.Errorf("%w: nil delta for %s", ErrInvalidInput, t.Model)
	}
	m, err := e.model(t.Model)
	if err != nil {
		return unit{}, false, err
	}
	return unit{model: m, delta: t.Delta}, true, nil
}

// model looks up a patchable model
func (e *Engine) model(name string) (*schema.Model, error) {
	m, ok := e.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return m, e.check(m)
}

func (e *Engine) check(m *schema.Model) error {
	if !e.store.Supports(m.Name) {
		return fmt.Errorf("%w: %s has no backing storage", ErrUnknownType, m.Name)
	}
	if !m.Valid() {
		return fmt.Errorf("%w: %s", ErrNoKeyProperty, m.Name)
	}
	return nil
}

// execute runs the units in one transaction
func (e *Engine) execute(ctx context.Context, operation string, units []unit) (*Result, error) {
	start := time.Now()
	result, err := e.run(ctx, units)

	status := "ok"
	if err != nil {
		status = errorReason(err)
	}
	e.metrics.ObserveOperation(operation, status, time.Since(start).Seconds())

	return result, err
}

func (e *Engine) run(ctx context.Context, units []unit) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, storeError(err, "begin transaction")
	}

	op := &operation{
		engine: e,
		tx:     tx,
		staged: make(map[string][]schema.Record),
		result: &Result{Outcomes: make(OutcomeList, 0, len(units))},
	}
	op.core = e.core.WithReporter(op.report)
	if seq, ok := tx.(store.Sequencer); ok {
		op.core = op.core.WithSequence(func(m *schema.Model, f *schema.Field) (interface{}, error) {
			n, err := seq.NextKey(ctx, m, f.Name)
			if err != nil {
				return nil, storeError(err, "next key %s.%s", m.Name, f.Name)
			}
			return n, nil
		})
	}

	for _, u := range units {
		if err := op.patch(ctx, schema.Context{Model: u.model}, u.delta, nil); err != nil {
			e.rollback(ctx, tx, err)
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("%w: %v", ErrCancelled, err)
		e.rollback(ctx, tx, err)
		return nil, err
	}

	rows, err := tx.Commit(ctx)
	if err != nil {
		err = storeError(err, "commit")
		e.logger.Error("patch commit failed", zap.Error(err))
		e.rollback(ctx, tx, err)
		return nil, err
	}
	op.result.Rows = rows

	e.metrics.AddRows(rows)
	for _, o := range op.result.Outcomes {
		e.metrics.ObserveOutcome(o.Model, o.Kind.String())
	}
	e.afterCommit(ctx, op.result.Outcomes)

	e.logger.Debug("patch committed",
		zap.Int("outcomes", len(op.result.Outcomes)),
		zap.Int("created", op.result.Outcomes.Count(Created)),
		zap.Int("updated", op.result.Outcomes.Count(Updated)),
		zap.Int("rows", rows))

	return op.result, nil
}

func (e *Engine) rollback(ctx context.Context, tx Tx, cause error) {
	e.metrics.ObserveRollback(errorReason(cause))
	e.logger.Warn("patch rolled back", zap.Error(cause))

	// the operation context may be cancelled already
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("rollback failed", zap.Error(err))
	}
}

func (e *Engine) afterCommit(ctx context.Context, outcomes OutcomeList) {
	if !e.hooks.HasHooks(hooks.AfterCommit) {
		return
	}
	for _, o := range outcomes {
		if o.Kind == Read {
			continue
		}
		if err := e.hooks.ExecuteHooks(ctx, o.model, hooks.AfterCommit, o.Kind.String(), nil, o.Record); err != nil {
			e.logger.Warn("after commit hook failed", zap.String("model", o.Model), zap.Error(err))
		}
	}
}

// errorReason maps an error to a short metric label
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrValidationFailed):
		return "validation"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrStore):
		return "store"
	case errors.Is(err, ErrUnknownType), errors.Is(err, ErrNoKeyProperty):
		return "schema"
	case errors.Is(err, ErrHookFailed):
		return "hook"
	default:
		return "error"
	}
}

// operation is the state of one top-level patch call
type operation struct {
	engine *Engine
	core   *Core
	tx     Tx
	staged map[string][]schema.Record // lowercase model name -> touched records
	result *Result
}

func (op *operation) report(d Diagnostic) {
	e := op.engine
	op.result.Diagnostics = append(op.result.Diagnostics, d)
	e.metrics.ObserveDiagnostic(d.Kind.String())
	e.logger.Debug("patch input skipped",
		zap.String("kind", d.Kind.String()),
		zap.String("model", d.Model),
		zap.String("field", d.Field),
		zap.Error(d.Err))
	if e.onDiag != nil {
		e.onDiag(d)
	}
}

// patch resolves, applies, validates and stages one record, then recurses
// into its children depth-first
func (op *operation) patch(ctx context.Context, sc schema.Context, d *delta.Delta, parent schema.NamedKey) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	e := op.engine
	m := sc.Model
	if err := e.check(m); err != nil {
		return err
	}

	d = withParentKey(sc, d, parent)

	pred, err := ResolveIdentity(m, d, op.report)
	if err != nil {
		return err
	}

	if rec := op.stagedMatch(m, pred); rec != nil {
		op.add(&Outcome{Model: m.Name, Kind: Read, Record: rec, model: m})
		return nil
	}

	existing, err := op.tx.FindOne(ctx, m, pred)
	if err != nil {
		return storeError(err, "find %s where %s", m.Name, pred)
	}

	isNew := existing == nil
	base := existing
	if isNew {
		base = m.NewRecord()
	}

	applied, err := op.core.Apply(sc, base, d, parent, isNew)
	if err != nil {
		return err
	}

	kind := Updated
	switch {
	case isNew:
		kind = Created
	case len(applied.Changed) == 0:
		kind = Read
	}

	if kind != Read {
		if kind, err = op.stage(ctx, m, kind, base, applied); err != nil {
			return err
		}
	}

	op.staged[strings.ToLower(m.Name)] = append(op.staged[strings.ToLower(m.Name)], applied.Record)
	op.add(&Outcome{Model: m.Name, Kind: kind, Record: applied.Record, Changed: applied.Changed, model: m})

	groups, err := DiscoverChildren(e.registry, sc, d, op.report)
	if err != nil {
		return err
	}
	for _, group := range groups {
		for _, child := range group.Deltas {
			if err := op.patch(ctx, group.Context, child, applied.Key); err != nil {
				return err
			}
		}
	}

	return nil
}

// stage runs before-stage hooks and the validator, then stages the write.
// base is the stored record, or the zero record for inserts. An update whose
// changes the hooks reverted is not staged and is reported as Read.
func (op *operation) stage(ctx context.Context, m *schema.Model, kind CrudKind, base schema.Record, applied *Applied) (CrudKind, error) {
	e := op.engine

	if e.hooks.HasHooks(hooks.BeforeStage) {
		if err := e.hooks.ExecuteHooks(ctx, m, hooks.BeforeStage, kind.String(), op.tx, applied.Record); err != nil {
			return kind, fmt.Errorf("%w: %w", ErrHookFailed, err)
		}
		applied.Changed = changedFields(m, base, applied.Record)
		if kind == Updated && len(applied.Changed) == 0 {
			return Read, nil
		}
	}

	if e.validator != nil {
		if err := e.validator.Validate(ctx, m, applied.Record); err != nil {
			return kind, fmt.Errorf("%w: %w", ErrValidationFailed, err)
		}
	}

	if kind == Created {
		if err := op.tx.StageInsert(ctx, m, applied.Record); err != nil {
			return kind, storeError(err, "insert %s", m.Name)
		}
		return kind, nil
	}

	if err := op.tx.StageUpdate(ctx, m, base, applied.Record, applied.Changed); err != nil {
		return kind, storeError(err, "update %s", m.Name)
	}
	return kind, nil
}

func (op *operation) add(o *Outcome) {
	op.result.Outcomes = append(op.result.Outcomes, o)
	op.engine.logger.Debug("record patched",
		zap.String("model", o.Model),
		zap.String("kind", o.Kind.String()),
		zap.Strings("changed", o.Changed))
}

// stagedMatch returns a record already touched by this operation that the
// predicate selects
func (op *operation) stagedMatch(m *schema.Model, pred *query.Predicate) schema.Record {
	for _, rec := range op.staged[strings.ToLower(m.Name)] {
		if pred.Match(rec, tracking.Equal) {
			return rec
		}
	}
	return nil
}

// withParentKey returns the delta with the link field set from the parent
// key, so identity resolution sees the propagated value
func withParentKey(sc schema.Context, d *delta.Delta, parent schema.NamedKey) *delta.Delta {
	if sc.Link == nil || sc.Link.ChildField == "" || len(parent) == 0 {
		return d
	}
	f, ok := sc.Model.Field(sc.Link.ChildField)
	if !ok {
		return d
	}

	for _, name := range sc.Link.ParentFields {
		v, ok := parent[name]
		if !ok {
			continue
		}
		linked := d.Clone()
		for _, k := range f.DeltaKeys() {
			linked.Delete(k)
		}
		linked.Set(f.DeltaKeys()[0], v)
		return linked
	}
	return d
}

func changedFields(m *schema.Model, original, updated schema.Record) []string {
	order := make([]string, 0, len(m.Fields))
	for _, f := range m.Scalars() {
		order = append(order, f.Name)
	}
	return tracking.NewChangeTracker(original, updated).ChangedIn(order)
}
