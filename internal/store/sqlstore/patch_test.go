package sqlstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/deltapatch/internal/delta"
	"github.com/conduit-lang/deltapatch/internal/orm/validation"
	"github.com/conduit-lang/deltapatch/internal/patch"
)

func newEngine(t *testing.T) (*patch.Engine, *Store) {
	t.Helper()

	st := newSQLiteStore(t)
	engine, err := patch.New(patch.Options{
		Registry:  st.registry,
		Store:     st,
		Validator: validation.NewEngine(),
	})
	require.NoError(t, err)
	return engine, st
}

func TestPatchEngine_SQLite(t *testing.T) {
	engine, st := newEngine(t)
	ctx := context.Background()
	bookID := uuid.MustParse("0190f7a4-3c1e-7b2a-9f00-0000000000b1")

	in := delta.New().
		Set("email", "ann@example.com").
		Set("books", []interface{}{
			delta.New().Set("id", bookID.String()).Set("title", "Go").Set("pages", 300).Set("genre", "science"),
		})

	res, err := engine.PatchOne(ctx, "Author", in)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 2, res.Outcomes.Count(patch.Created))
	assert.Equal(t, 1, countRows(t, st, "authors"))
	assert.Equal(t, 1, countRows(t, st, "books"))

	authorKey := res.Outcomes[0].Record["Id"]
	var storedAuthor, genre string
	var pages int
	require.NoError(t, st.DB().QueryRow(`SELECT author_id, pages, genre FROM books`).Scan(&storedAuthor, &pages, &genre))
	assert.Equal(t, authorKey.(uuid.UUID).String(), storedAuthor)
	assert.Equal(t, 300, pages)
	assert.Equal(t, "Science", genre)

	// same input again touches nothing
	again, err := engine.PatchOne(ctx, "Author", in)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Rows)
	assert.Equal(t, 2, again.Outcomes.Count(patch.Read))

	update := delta.New().
		Set("email", "ann@example.com").
		Set("name", "Ann").
		Set("books", []interface{}{
			map[string]interface{}{"id": bookID.String(), "pages": 320},
		})
	res, err = engine.PatchOne(ctx, "Author", update)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, []string{"Name"}, res.Outcomes[0].Changed)
	assert.Equal(t, []string{"Pages"}, res.Outcomes[1].Changed)

	var name string
	require.NoError(t, st.DB().QueryRow(`SELECT name FROM authors`).Scan(&name))
	assert.Equal(t, "Ann", name)
}

func TestPatchEngine_SQLiteRollsBackOnValidation(t *testing.T) {
	engine, st := newEngine(t)

	_, err := engine.PatchOne(context.Background(), "Author", delta.New().
		Set("email", "bob@example.com").
		Set("name", "a name much longer than twenty characters"))
	require.Error(t, err)
	assert.True(t, patch.IsValidationFailed(err))
	assert.Equal(t, 0, countRows(t, st, "authors"))
}

type Invoice struct {
	Id     int           `json:"id"`
	Number string        `json:"number" patch:"unique=ix_number"`
	Lines  []InvoiceLine `json:"lines,omitempty"`
}

type InvoiceLine struct {
	Id        int64  `json:"id"`
	InvoiceId int    `json:"invoiceId"`
	Text      string `json:"text"`
}

func TestPatchEngine_SQLiteIntegerKeys(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()
	_, err := st.registry.RegisterStruct(Invoice{})
	require.NoError(t, err)
	_, err = st.Migrate(ctx, "Invoice", "InvoiceLine")
	require.NoError(t, err)

	newEngine := func() *patch.Engine {
		engine, err := patch.New(patch.Options{Registry: st.registry, Store: st})
		require.NoError(t, err)
		return engine
	}

	in := delta.New().
		Set("number", "A-1").
		Set("lines", []interface{}{
			delta.New().Set("text", "first"),
			delta.New().Set("text", "second"),
		})

	res, err := newEngine().PatchOne(ctx, "Invoice", in)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, int64(1), res.Outcomes[0].Record["Id"])
	assert.Equal(t, int64(1), res.Outcomes[1].Record["Id"])
	assert.Equal(t, int64(2), res.Outcomes[2].Record["Id"])

	var invoiceID, lineCount int
	require.NoError(t, st.DB().QueryRow(`SELECT MIN(invoice_id), COUNT(*) FROM invoice_lines`).Scan(&invoiceID, &lineCount))
	assert.Equal(t, 1, invoiceID)
	assert.Equal(t, 2, lineCount)

	// a fresh engine continues after the stored keys
	_, err = st.DB().Exec(`INSERT INTO invoices (id, number) VALUES (10, 'manual')`)
	require.NoError(t, err)

	res, err = newEngine().PatchOne(ctx, "Invoice", delta.New().Set("number", "A-2").Set("lines", []interface{}{
		delta.New().Set("text", "third"),
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(11), res.Outcomes[0].Record["Id"])
	assert.Equal(t, int64(3), res.Outcomes[1].Record["Id"])
	assert.Equal(t, int64(11), res.Outcomes[1].Record["InvoiceId"])
	assert.Equal(t, 3, countRows(t, st, "invoices"))

	// the unique number finds the stored invoice again
	again, err := newEngine().PatchOne(ctx, "Invoice", delta.New().Set("number", "A-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, again.Rows)
	assert.Equal(t, patch.Read, again.Outcomes[0].Kind)
	assert.Equal(t, int64(1), again.Outcomes[0].Record["Id"])
}
