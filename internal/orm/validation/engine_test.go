package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

func blogModel(t *testing.T) *schema.Model {
	t.Helper()

	m := schema.NewModel("Blog").
		AddField(&schema.Field{Name: "BlogId", Type: schema.TypeUUID, Rules: "required"}).
		AddField(&schema.Field{Name: "Url", Type: schema.TypeString, Rules: "required,url"}).
		AddField(&schema.Field{Name: "Name", Type: schema.TypeString, Rules: "max=10"}).
		AddField(&schema.Field{Name: "Rating", Type: schema.TypeInt, Nullable: true, Rules: "gte=1,lte=5"}).
		AddField(&schema.Field{Name: "Owner", Type: schema.TypeString, Nullable: true, Rules: "email"})
	require.NoError(t, schema.NewRegistry().Register(m))
	return m
}

func TestEngine_Validate(t *testing.T) {
	engine := NewEngine()
	m := blogModel(t)
	ctx := context.Background()

	t.Run("valid record", func(t *testing.T) {
		rec := schema.Record{
			"BlogId": uuid.New(),
			"Url":    "https://site.com",
			"Name":   "short",
			"Rating": int64(3),
			"Owner":  nil,
		}
		assert.NoError(t, engine.Validate(ctx, m, rec))
	})

	t.Run("rule failures", func(t *testing.T) {
		rec := schema.Record{
			"BlogId": uuid.Nil,
			"Url":    "",
			"Name":   "this name is far too long",
			"Rating": int64(9),
			"Owner":  "not-an-email",
		}
		err := engine.Validate(ctx, m, rec)
		require.Error(t, err)

		var verrs *ValidationErrors
		require.True(t, errors.As(err, &verrs))
		assert.Equal(t, "Blog", verrs.Model)
		assert.Equal(t, []string{"is required"}, verrs.Fields["BlogId"])
		assert.Equal(t, []string{"is required"}, verrs.Fields["Url"])
		assert.Equal(t, []string{"must be at most 10 characters"}, verrs.Fields["Name"])
		assert.Equal(t, []string{"must be lte 5"}, verrs.Fields["Rating"])
		assert.Equal(t, []string{"must be a valid email address"}, verrs.Fields["Owner"])
	})

	t.Run("nil for non-nullable field", func(t *testing.T) {
		rec := schema.Record{
			"BlogId": uuid.New(),
			"Url":    nil,
			"Name":   "ok",
		}
		err := engine.Validate(ctx, m, rec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Url: is required")
	})
}

func TestEngine_CustomRules(t *testing.T) {
	engine := NewEngine()
	ctx := context.Background()

	field := &schema.Field{Name: "Title", Type: schema.TypeString, Rules: "notblank"}
	assert.Error(t, engine.ValidateField(ctx, field, "   "))
	assert.NoError(t, engine.ValidateField(ctx, field, "hello"))

	require.NoError(t, engine.RegisterValidation("lowercase_only", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		for _, r := range s {
			if r >= 'A' && r <= 'Z' {
				return false
			}
		}
		return true
	}))

	slug := &schema.Field{Name: "Slug", Type: schema.TypeString, Rules: "lowercase_only"}
	err := engine.ValidateField(ctx, slug, "Hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed lowercase_only validation")
}

func TestEngine_InvalidRules(t *testing.T) {
	engine := NewEngine()

	field := &schema.Field{Name: "Title", Type: schema.TypeString, Rules: "no_such_rule"}
	err := engine.ValidateField(context.Background(), field, "x")
	assert.ErrorIs(t, err, ErrInvalidRules)

	m := schema.NewModel("Doc").
		AddField(&schema.Field{Name: "Id", Type: schema.TypeInt}).
		AddField(field)
	require.NoError(t, schema.NewRegistry().Register(m))

	err = engine.Validate(context.Background(), m, schema.Record{"Id": int64(1), "Title": "x"})
	assert.ErrorIs(t, err, ErrInvalidRules)
}
