package rowid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRowIdMonotonic(t *testing.T) {
	a := NewRowId()
	b := NewRowId()
	assert.True(t, a.Less(b) || a == b, "expected time-ordered ids, got %s then %s", a, b)
}

func TestNewChunkIdUnique(t *testing.T) {
	a := NewChunkId()
	b := NewChunkId()
	assert.NotEqual(t, a, b)
}

func TestRowIdCompareSelf(t *testing.T) {
	a := NewRowId()
	assert.Equal(t, 0, a.Compare(a))
}
