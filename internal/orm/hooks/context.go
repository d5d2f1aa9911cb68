package hooks

import (
	"context"

	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/conduit-lang/deltapatch/internal/store"
)

// Context wraps the standard context with the record being patched
type Context struct {
	context.Context
	tx    store.Tx
	model *schema.Model
	kind  string
}

// NewContext creates a new hook context
func NewContext(ctx context.Context, model *schema.Model, kind string) *Context {
	return &Context{
		Context: ctx,
		model:   model,
		kind:    kind,
	}
}

// WithTransaction creates a new context with a transaction
func (c *Context) WithTransaction(tx store.Tx) *Context {
	return &Context{
		Context: c.Context,
		tx:      tx,
		model:   c.model,
		kind:    c.kind,
	}
}

// Tx returns the transaction the record is staged in (may be nil)
func (c *Context) Tx() store.Tx {
	return c.tx
}

// Model returns the model of the record
func (c *Context) Model() *schema.Model {
	return c.model
}

// Kind returns the outcome kind of the record, "created" or "updated"
func (c *Context) Kind() string {
	return c.kind
}

// HasTransaction returns true if a transaction is active
func (c *Context) HasTransaction() bool {
	return c.tx != nil
}
