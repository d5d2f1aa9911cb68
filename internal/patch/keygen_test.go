package patch

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

func TestUUIDGenerators(t *testing.T) {
	uuidField := &schema.Field{Name: "Id", Type: schema.TypeUUID}
	textField := &schema.Field{Name: "Code", Type: schema.TypeString}
	intField := &schema.Field{Name: "Seq", Type: schema.TypeInt}

	v7, err := UUIDv7Generator{}.Create(uuidField)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), v7.(uuid.UUID).Version())

	v4, err := UUIDv4Generator{}.Create(uuidField)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), v4.(uuid.UUID).Version())

	text, err := UUIDv7Generator{}.Create(textField)
	require.NoError(t, err)
	_, err = uuid.Parse(text.(string))
	assert.NoError(t, err)

	_, err = UUIDv4Generator{}.Create(intField)
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}

func TestUUIDv7Generator_Ordered(t *testing.T) {
	f := &schema.Field{Name: "Id", Type: schema.TypeString}

	prev := ""
	for i := 0; i < 50; i++ {
		v, err := UUIDv7Generator{}.Create(f)
		require.NoError(t, err)
		assert.Greater(t, v.(string), prev)
		prev = v.(string)
	}
}

func TestSequentialGenerator(t *testing.T) {
	g := NewSequentialGenerator("tag-")

	v, err := g.Create(&schema.Field{Name: "Id", Type: schema.TypeBigInt})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = g.Create(&schema.Field{Name: "Code", Type: schema.TypeText})
	require.NoError(t, err)
	assert.Equal(t, "tag-2", v)

	u1, err := g.Create(&schema.Field{Name: "Ref", Type: schema.TypeUUID})
	require.NoError(t, err)
	g.Reset()
	g.Create(&schema.Field{Name: "Id", Type: schema.TypeInt})
	g.Create(&schema.Field{Name: "Id", Type: schema.TypeInt})
	u2, err := g.Create(&schema.Field{Name: "Ref", Type: schema.TypeUUID})
	require.NoError(t, err)
	assert.Equal(t, u1, u2, "uuids derive from the sequence number")

	_, err = g.Create(&schema.Field{Name: "On", Type: schema.TypeBool})
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}

func TestNewKeyGenerator(t *testing.T) {
	tests := []struct {
		name string
		want KeyGenerator
	}{
		{"", UUIDv7Generator{}},
		{"UUID7", UUIDv7Generator{}},
		{"uuid4", UUIDv4Generator{}},
		{"uuid", UUIDv4Generator{}},
	}
	for _, tt := range tests {
		got, err := NewKeyGenerator(tt.name)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	seq, err := NewKeyGenerator("sequential")
	require.NoError(t, err)
	assert.IsType(t, &SequentialGenerator{}, seq)

	_, err = NewKeyGenerator("snowflake")
	assert.Error(t, err)
}
