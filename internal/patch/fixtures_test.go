package patch

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/deltapatch/internal/delta"
	"github.com/conduit-lang/deltapatch/internal/orm/query"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/conduit-lang/deltapatch/internal/orm/validation"
	"github.com/conduit-lang/deltapatch/internal/store"
	"github.com/conduit-lang/deltapatch/internal/store/memory"
)

type Blog struct {
	BlogId uuid.UUID `json:"blogId" patch:"key"`
	Name   string    `json:"name" validate:"required,max=10"`
	Url    *string   `json:"url,omitempty" validate:"max=20"`
	Posts  []Post    `json:"posts,omitempty" patch:"inverse=MyBlogId"`
	Tags   []Tag     `json:"tags,omitempty"`
}

type Post struct {
	PostId   uuid.UUID `json:"postId" patch:"key"`
	Title    *string   `json:"title,omitempty" validate:"max=50"`
	Content  *string   `json:"content,omitempty"`
	MyBlogId uuid.UUID `json:"myBlogId"`
}

type Tag struct {
	Id     uuid.UUID  `json:"id" patch:"key"`
	Name   string     `json:"name_one" patch:"unique=ix_tag_name"`
	BlogId *uuid.UUID `json:"blogId,omitempty"`
}

type userStatus string

func (userStatus) EnumValues() []string { return []string{"New", "Approved"} }

type User struct {
	Id       uuid.UUID  `json:"id"`
	Email    *string    `json:"email,omitempty"`
	IsLocked bool       `json:"isLocked"`
	Status   userStatus `json:"status"`
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	reg := schema.NewRegistry()
	_, err := reg.RegisterStruct(Blog{})
	require.NoError(t, err)
	_, err = reg.RegisterStruct(User{})
	require.NoError(t, err)
	return reg
}

func newTestEngine(t *testing.T, configure ...func(*Options)) (*Engine, *memory.Store) {
	t.Helper()

	reg := testRegistry(t)
	st := memory.New(reg)
	opts := Options{
		Registry:  reg,
		Store:     st,
		Validator: validation.NewEngine(),
	}
	for _, fn := range configure {
		fn(&opts)
	}

	engine, err := New(opts)
	require.NoError(t, err)
	return engine, st
}

func model(t *testing.T, e *Engine, name string) *schema.Model {
	t.Helper()

	m, ok := e.Registry().Get(name)
	require.True(t, ok, "model %s", name)
	return m
}

// deltaOf builds a delta from alternating keys and values, keeping their order
func deltaOf(kv ...interface{}) *delta.Delta {
	out := delta.New()
	for i := 0; i+1 < len(kv); i += 2 {
		out.Set(kv[i].(string), kv[i+1])
	}
	return out
}

func list(items ...*delta.Delta) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}

// fixedKeys hands out the given keys in order
type fixedKeys struct {
	keys []uuid.UUID
}

func (f *fixedKeys) Create(*schema.Field) (interface{}, error) {
	k := f.keys[0]
	f.keys = f.keys[1:]
	return k, nil
}

// failingStore wraps a store and fails chosen transaction steps
type failingStore struct {
	*memory.Store
	beginErr  error
	findErr   error
	commitErr error
	txs       []*failingTx
}

func (s *failingStore) Begin(ctx context.Context) (store.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	ft := &failingTx{Tx: tx, store: s}
	s.txs = append(s.txs, ft)
	return ft, nil
}

type failingTx struct {
	store.Tx
	store      *failingStore
	rolledBack bool
}

func (tx *failingTx) FindOne(ctx context.Context, m *schema.Model, pred *query.Predicate) (schema.Record, error) {
	if tx.store.findErr != nil {
		return nil, tx.store.findErr
	}
	return tx.Tx.FindOne(ctx, m, pred)
}

func (tx *failingTx) Commit(ctx context.Context) (int, error) {
	if tx.store.commitErr != nil {
		return 0, tx.store.commitErr
	}
	return tx.Tx.Commit(ctx)
}

func (tx *failingTx) Rollback(ctx context.Context) error {
	tx.rolledBack = true
	return tx.Tx.Rollback(ctx)
}
