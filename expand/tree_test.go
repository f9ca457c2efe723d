package expand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_SimplePaths(t *testing.T) {
	tree := Parse("instructor,parent.instructor")

	assert.Equal(t, []string{"instructor", "parent"}, tree.Keys())
	assert.True(t, tree.Enabled("instructor"))
	assert.Nil(t, tree.Sub("instructor"))

	parent := tree.Sub("parent")
	require.NotNil(t, parent)
	assert.True(t, parent.Enabled("instructor"))
}

func TestParse_NegationAndWildcard(t *testing.T) {
	tree := Parse("*,-description,instructor.*,-instructor.bio")

	assert.True(t, tree.HasWildcard())
	assert.True(t, tree.Excluded("description"))
	assert.False(t, tree.Enabled("description"))

	instructor := tree.Sub("instructor")
	require.NotNil(t, instructor)
	assert.True(t, instructor.HasWildcard())
	assert.True(t, instructor.Excluded("bio"))
}

func TestParse_LastWriteWins(t *testing.T) {
	tree := Parse("field,-field")
	assert.False(t, tree.Enabled("field"))

	tree = Parse("-field,field")
	assert.True(t, tree.Enabled("field"))
}

func TestParse_EdgeCases(t *testing.T) {
	t.Run("Empty spec", func(t *testing.T) {
		assert.True(t, Parse("").IsEmpty())
	})

	t.Run("Whitespace and empty tokens", func(t *testing.T) {
		tree := Parse(" a , , b ")
		assert.Equal(t, []string{"a", "b"}, tree.Keys())
	})

	t.Run("Bare minus is dropped", func(t *testing.T) {
		assert.True(t, Parse("-").IsEmpty())
	})

	t.Run("Leaf upgraded to subtree", func(t *testing.T) {
		tree := Parse("a,a.b")
		sub := tree.Sub("a")
		require.NotNil(t, sub)
		assert.True(t, sub.Enabled("b"))
		assert.True(t, tree.Enabled("a"))
	})

	t.Run("Deep nesting", func(t *testing.T) {
		tree := Parse("a.b.c.d")
		assert.True(t, tree.Sub("a").Sub("b").Sub("c").Enabled("d"))
	})

	t.Run("Nil tree accessors", func(t *testing.T) {
		var tree *Tree
		assert.True(t, tree.IsEmpty())
		assert.False(t, tree.HasWildcard())
	})
}

func TestParse_InsertionOrderPreserved(t *testing.T) {
	tree := Parse("c,a,b")
	assert.Equal(t, []string{"c", "a", "b"}, tree.Keys())
}
