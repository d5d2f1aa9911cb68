// Package memory is an in-process store. Writes staged in a transaction are
// applied atomically on Commit under one lock.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"github.com/conduit-lang/deltapatch/internal/orm/query"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/conduit-lang/deltapatch/internal/orm/tracking"
	"github.com/conduit-lang/deltapatch/internal/store"
)

// Store keeps records in memory, per model, in insertion order
type Store struct {
	registry *schema.Registry
	allowed  map[string]bool // nil allows every registered model
	tables   map[string][]schema.Record
	mu       sync.RWMutex
}

// New creates a store for the models of reg. When models are given only
// those are supported.
func New(reg *schema.Registry, models ...string) *Store {
	s := &Store{
		registry: reg,
		tables:   make(map[string][]schema.Record),
	}
	if len(models) > 0 {
		s.allowed = make(map[string]bool, len(models))
		for _, name := range models {
			s.allowed[strings.ToLower(name)] = true
		}
	}
	return s
}

// Supports reports whether the model is registered and allowed
func (s *Store) Supports(model string) bool {
	if !s.registry.Exists(model) {
		return false
	}
	return s.allowed == nil || s.allowed[strings.ToLower(model)]
}

// Begin starts a transaction
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{store: s}, nil
}

// Records returns copies of the committed records of a model
func (s *Store) Records(model string) []schema.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.tables[strings.ToLower(model)]
	out := make([]schema.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// Len returns the number of committed records of a model
func (s *Store) Len(model string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.tables[strings.ToLower(model)])
}

type write struct {
	model    *schema.Model
	original schema.Record // nil for inserts
	record   schema.Record
	changed  []string
}

// Tx buffers writes until Commit
type Tx struct {
	store  *Store
	writes []write
	done   bool
	mu     sync.Mutex
}

// FindOne returns the first committed record matching the predicate. Groups
// are tried in order so the most specific key set wins.
func (tx *Tx) FindOne(ctx context.Context, m *schema.Model, pred *query.Predicate) (schema.Record, error) {
	if err := tx.usable(ctx, m); err != nil {
		return nil, err
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	rows := tx.store.tables[strings.ToLower(m.Name)]
	for _, group := range pred.Groups {
		for _, row := range rows {
			if group.Match(row, tracking.Equal) {
				return row.Clone(), nil
			}
		}
	}
	return nil, nil
}

// NextKey returns one more than the highest committed or staged value of
// the field
func (tx *Tx) NextKey(ctx context.Context, m *schema.Model, field string) (int64, error) {
	if err := tx.usable(ctx, m); err != nil {
		return 0, err
	}

	tx.store.mu.RLock()
	high := maxKey(tx.store.tables[strings.ToLower(m.Name)], field)
	tx.store.mu.RUnlock()

	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, w := range tx.writes {
		if !strings.EqualFold(w.model.Name, m.Name) {
			continue
		}
		if n := maxKey([]schema.Record{w.record}, field); n > high {
			high = n
		}
	}
	return high + 1, nil
}

func maxKey(rows []schema.Record, field string) int64 {
	var high int64
	for _, row := range rows {
		if n, err := cast.ToInt64E(row[field]); err == nil && n > high {
			high = n
		}
	}
	return high
}

// StageInsert buffers a new record
func (tx *Tx) StageInsert(ctx context.Context, m *schema.Model, rec schema.Record) error {
	if err := tx.usable(ctx, m); err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.writes = append(tx.writes, write{model: m, record: rec.Clone()})
	return nil
}

// StageUpdate buffers the changed fields of a stored record
func (tx *Tx) StageUpdate(ctx context.Context, m *schema.Model, original, updated schema.Record, changed []string) error {
	if err := tx.usable(ctx, m); err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.writes = append(tx.writes, write{
		model:    m,
		original: original.Clone(),
		record:   updated.Clone(),
		changed:  append([]string(nil), changed...),
	})
	return nil
}

// Commit applies every staged write or none of them
func (tx *Tx) Commit(ctx context.Context) (int, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return 0, store.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// work on copies of the touched tables; swap them in once all writes apply
	next := make(map[string][]schema.Record)
	table := func(m *schema.Model) []schema.Record {
		name := strings.ToLower(m.Name)
		if rows, ok := next[name]; ok {
			return rows
		}
		rows := append([]schema.Record(nil), s.tables[name]...)
		next[name] = rows
		return rows
	}

	rows := 0
	for _, w := range tx.writes {
		name := strings.ToLower(w.model.Name)
		current := table(w.model)

		if w.original == nil {
			if err := checkUnique(w.model, current, w.record, -1); err != nil {
				return 0, err
			}
			next[name] = append(current, w.record)
			rows++
			continue
		}

		idx := locate(w.model, current, w.original)
		if idx < 0 {
			return 0, fmt.Errorf("%w: %s", store.ErrNotFound, w.model.Name)
		}
		updated := current[idx].Clone()
		for _, field := range w.changed {
			updated[field] = w.record[field]
		}
		if err := checkUnique(w.model, current, updated, idx); err != nil {
			return 0, err
		}
		current[idx] = updated
		rows++
	}

	for name, t := range next {
		s.tables[name] = t
	}
	tx.done = true
	return rows, nil
}

// Rollback discards the staged writes
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.writes = nil
	tx.done = true
	return nil
}

func (tx *Tx) usable(ctx context.Context, m *schema.Model) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.mu.Lock()
	done := tx.done
	tx.mu.Unlock()
	if done {
		return store.ErrTxDone
	}
	if !tx.store.Supports(m.Name) {
		return fmt.Errorf("%w: %s", store.ErrUnsupportedModel, m.Name)
	}
	return nil
}

// locate finds the row holding the first key set values of rec
func locate(m *schema.Model, rows []schema.Record, rec schema.Record) int {
	if len(m.KeySets) == 0 {
		return -1
	}
	for i, row := range rows {
		if sameKey(m.KeySets[0], row, rec) {
			return i
		}
	}
	return -1
}

// checkUnique rejects rec when another row holds the same values for any
// key set. Key sets with a nil value are not enforced, as in SQL.
func checkUnique(m *schema.Model, rows []schema.Record, rec schema.Record, skip int) error {
	for _, ks := range m.KeySets {
		if hasNil(ks, rec) {
			continue
		}
		for i, row := range rows {
			if i != skip && sameKey(ks, row, rec) {
				return fmt.Errorf("%w: %s %s", store.ErrUniqueViolation, m.Name, ks.Name)
			}
		}
	}
	return nil
}

func sameKey(ks schema.KeySet, a, b schema.Record) bool {
	for _, f := range ks.Fields {
		if !tracking.Equal(a[f], b[f]) {
			return false
		}
	}
	return true
}

func hasNil(ks schema.KeySet, rec schema.Record) bool {
	for _, f := range ks.Fields {
		if rec[f] == nil {
			return true
		}
	}
	return false
}
