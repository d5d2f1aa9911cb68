package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blogDefinitions = `
models:
  - name: Blog
    fields:
      - name: BlogId
        json: blogId
        type: uuid
        key: true
      - name: Url
        type: string
        unique: ix_url
        validate: required
      - name: Posts
        collection: Post
  - name: Post
    table: blog_posts
    unique:
      ix_title: [BlogId, Title]
    fields:
      - name: PostId
        type: uuid
      - name: BlogId
        type: uuid
      - name: Title
        json: title_here
      - name: Status
        type: enum
        values: [Draft, Published]
`

func TestLoadDefinitions(t *testing.T) {
	models, err := LoadDefinitions(strings.NewReader(blogDefinitions))
	require.NoError(t, err)
	require.Len(t, models, 2)

	registry := NewRegistry()
	for _, m := range models {
		require.NoError(t, registry.Register(m))
	}
	require.NoError(t, registry.Check())

	blog, _ := registry.Get("Blog")
	assert.Equal(t, []string{"BlogId"}, blog.KeySets[0].Fields)
	assert.Equal(t, "ix_url", blog.KeySets[1].Name)
	posts, _ := blog.Field("Posts")
	assert.True(t, posts.Collection)
	assert.Equal(t, "Post", posts.Elem)

	post, _ := registry.Get("Post")
	assert.Equal(t, "blog_posts", post.Table)
	assert.Equal(t, []string{"PostId"}, post.KeySets[0].Fields)
	assert.Equal(t, []string{"BlogId", "Title"}, post.KeySets[1].Fields)
	title, _ := post.Field("title_here")
	assert.Equal(t, TypeString, title.Type)
}

func TestLoadDefinitions_Errors(t *testing.T) {
	t.Run("unknown key", func(t *testing.T) {
		_, err := LoadDefinitions(strings.NewReader("models:\n  - name: A\n    colour: red\n"))
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := LoadDefinitions(strings.NewReader("models:\n  - name: A\n    fields:\n      - name: X\n        type: blob\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown field type")
	})
}

func TestRegistry_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(blogDefinitions), 0o644))

	registry := NewRegistry()
	models, err := registry.LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, models, 2)
	assert.Equal(t, 2, registry.Count())

	_, err = NewRegistry().LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
