// Package store defines the storage contract used by the patch engine. An
// adapter locates single rows by key predicate, buffers inserts and updates
// inside a transaction and makes them durable on Commit.
package store

import (
	"context"
	"errors"

	"github.com/conduit-lang/deltapatch/internal/orm/query"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

var (
	// ErrTxDone is returned when a finished transaction is used again
	ErrTxDone = errors.New("transaction already finished")

	// ErrUnsupportedModel is returned when a model has no backing table
	ErrUnsupportedModel = errors.New("model not supported by store")

	// ErrNotFound is returned when an update targets a missing record
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation is returned when a write duplicates a key set
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")
)

// Store opens transactions over the records of the models it supports
type Store interface {
	// Supports reports whether the store holds records of the named model
	Supports(model string) bool

	// Begin starts a transaction
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a unit of work. Staged writes are not visible to other transactions
// before Commit and are discarded by Rollback.
type Tx interface {
	// FindOne returns the first record matching the predicate, in group
	// order, or nil when none does
	FindOne(ctx context.Context, m *schema.Model, pred *query.Predicate) (schema.Record, error)

	// StageInsert buffers a new record
	StageInsert(ctx context.Context, m *schema.Model, rec schema.Record) error

	// StageUpdate buffers the changed fields of an existing record. original
	// is the record as it was read and locates the stored row.
	StageUpdate(ctx context.Context, m *schema.Model, original, updated schema.Record, changed []string) error

	// Commit applies the staged writes and returns the number of rows
	// affected
	Commit(ctx context.Context) (int, error)

	// Rollback discards the staged writes. Calling it after Commit or a
	// previous Rollback is a no-op.
	Rollback(ctx context.Context) error
}

// Sequencer is implemented by transactions that can number new records of
// integer keyed models. NextKey returns a value above every stored and
// staged value of the field.
type Sequencer interface {
	NextKey(ctx context.Context, m *schema.Model, field string) (int64, error)
}
