package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type level int

func (l level) String() string {
	return [...]string{"Low", "High"}[l]
}

func TestCoerce(t *testing.T) {
	id := uuid.MustParse("0191f3a6-7c1e-7d35-a3a4-6f1c2f0b9e11")
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	rating := 4

	tests := []struct {
		name  string
		field *Field
		in    interface{}
		want  interface{}
	}{
		{"string", &Field{Name: "f", Type: TypeString}, "abc", "abc"},
		{"number to string", &Field{Name: "f", Type: TypeString}, int64(12), "12"},
		{"named string", &Field{Name: "f", Type: TypeString}, postStatus("Draft"), "Draft"},
		{"int from float", &Field{Name: "f", Type: TypeInt}, 3.0, int64(3)},
		{"int from string", &Field{Name: "f", Type: TypeBigInt}, "42", int64(42)},
		{"int from pointer", &Field{Name: "f", Type: TypeInt}, &rating, int64(4)},
		{"float", &Field{Name: "f", Type: TypeFloat}, int64(2), float64(2)},
		{"bool", &Field{Name: "f", Type: TypeBool}, "true", true},
		{"timestamp", &Field{Name: "f", Type: TypeTimestamp}, "2024-03-01T10:30:00Z", ts},
		{"date truncates", &Field{Name: "f", Type: TypeDate}, ts, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"uuid from string", &Field{Name: "f", Type: TypeUUID}, id.String(), id},
		{"uuid passthrough", &Field{Name: "f", Type: TypeUUID}, id, id},
		{"enum by name", &Field{Name: "f", Type: TypeEnum, EnumValues: []string{"Draft", "Published"}}, "published", "Published"},
		{"enum by ordinal", &Field{Name: "f", Type: TypeEnum, EnumValues: []string{"Draft", "Published"}}, int64(1), "Published"},
		{"enum from stringer", &Field{Name: "f", Type: TypeEnum, EnumValues: []string{"Low", "High"}}, level(1), "High"},
		{"nullable nil", &Field{Name: "f", Type: TypeInt, Nullable: true}, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.field, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerce_Failures(t *testing.T) {
	tests := []struct {
		name  string
		field *Field
		in    interface{}
	}{
		{"nil for required", &Field{Name: "f", Type: TypeString}, nil},
		{"fractional int", &Field{Name: "f", Type: TypeInt}, 1.5},
		{"text int", &Field{Name: "f", Type: TypeInt}, "abc"},
		{"bool as int", &Field{Name: "f", Type: TypeInt}, true},
		{"bad uuid", &Field{Name: "f", Type: TypeUUID}, "not-a-uuid"},
		{"unknown enum", &Field{Name: "f", Type: TypeEnum, EnumValues: []string{"A"}}, "B"},
		{"enum ordinal out of range", &Field{Name: "f", Type: TypeEnum, EnumValues: []string{"A"}}, int64(3)},
		{"nested object", &Field{Name: "f", Type: TypeString}, map[string]interface{}{"a": 1}},
		{"array", &Field{Name: "f", Type: TypeString}, []interface{}{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Coerce(tt.field, tt.in)
			assert.Error(t, err)
		})
	}
}

func TestField_ZeroAndIsZero(t *testing.T) {
	enum := &Field{Name: "e", Type: TypeEnum, EnumValues: []string{"Draft", "Published"}}
	assert.Equal(t, "Draft", enum.Zero())
	assert.True(t, enum.IsZero("draft"))
	assert.False(t, enum.IsZero("Published"))

	id := &Field{Name: "id", Type: TypeUUID}
	assert.Equal(t, uuid.Nil, id.Zero())
	assert.True(t, id.IsZero(uuid.Nil))
	assert.False(t, id.IsZero(uuid.New()))

	n := &Field{Name: "n", Type: TypeInt}
	assert.Equal(t, int64(0), n.Zero())
	assert.True(t, n.IsZero(int64(0)))

	nullable := &Field{Name: "n", Type: TypeInt, Nullable: true}
	assert.Nil(t, nullable.Zero())
	assert.True(t, nullable.IsZero(nil))
}

func TestComparers(t *testing.T) {
	c := NewComparers()

	cmp, ok := c.Get(TypeString)
	require.True(t, ok)
	assert.True(t, cmp("Hello", "HELLO"))
	assert.False(t, cmp("Hello", "World"))
	assert.False(t, cmp("Hello", nil))

	cmp, _ = c.Get(TypeTimestamp)
	utc := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, cmp(utc, utc.In(time.FixedZone("x", 3600))))

	cmp, _ = c.Get(TypeInt)
	assert.True(t, cmp(int64(3), int64(3)))
	assert.False(t, cmp(int64(3), int64(4)))
	assert.True(t, cmp(nil, nil))

	c.Remove(TypeBool)
	_, ok = c.Get(TypeBool)
	assert.False(t, ok)

	assert.False(t, ValuesEqual("a", "A"))
	assert.True(t, ValuesEqual(utc, utc.Local()))
}
