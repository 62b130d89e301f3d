package entitypath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNormalizesSlashes(t *testing.T) {
	assert.Equal(t, New("a", "b"), Parse("/a/b/"))
	assert.Equal(t, New("a", "b"), Parse("a/b"))
	assert.True(t, Parse("/").IsRoot())
	assert.True(t, Parse("").IsRoot())
}

func TestParent(t *testing.T) {
	p := Parse("/a/b/c")
	assert.Equal(t, Parse("/a/b"), p.Parent())
	assert.Equal(t, Parse("/a"), p.Parent().Parent())
	assert.True(t, p.Parent().Parent().Parent().IsRoot())
	assert.True(t, Root.Parent().IsRoot())
}

func TestChild(t *testing.T) {
	assert.Equal(t, Parse("/a/b"), Parse("/a").Child("b"))
}

func TestIsDescendantOf(t *testing.T) {
	p := Parse("/p/c")
	assert.True(t, p.IsDescendantOf(Parse("/p")))
	assert.True(t, p.IsDescendantOf(p))
	assert.False(t, Parse("/p").IsDescendantOf(p))
	assert.True(t, p.IsDescendantOf(Root))
}

func TestHashIsStableAndDistinguishing(t *testing.T) {
	assert.Equal(t, Parse("/a/b").Hash(), Parse("/a/b").Hash())
	assert.NotEqual(t, Parse("/a/b").Hash(), Parse("/a/c").Hash())
}

func TestString(t *testing.T) {
	assert.Equal(t, "/a/b/c", Parse("/a/b/c").String())
	assert.Equal(t, "/", Root.String())
}
