package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rerun-io/chunkstore/component"
	"github.com/rerun-io/chunkstore/entitypath"
	"github.com/rerun-io/chunkstore/rowid"
	"github.com/rerun-io/chunkstore/timeline"
)

var frame = timeline.Intern("frame")
var pos = component.Descriptor{ComponentType: component.Intern("pos")}

func threeRows(times []timeline.TimeInt) ([]rowid.RowId, map[timeline.TimelineName]TimeColumn, map[component.Descriptor]component.Column) {
	ids := []rowid.RowId{rowid.NewRowId(), rowid.NewRowId(), rowid.NewRowId()}
	tl := map[timeline.TimelineName]TimeColumn{
		frame: {Times: times, Range: timeline.AbsoluteTimeRange{Min: times[0], Max: times[len(times)-1]}, Sorted: true},
	}
	cols := map[component.Descriptor]component.Column{
		pos: {component.PresentCell(1), component.PresentCell(2), component.PresentCell(3)},
	}
	return ids, tl, cols
}

func TestNewRejectsLengthMismatch(t *testing.T) {
	ids, tl, cols := threeRows([]timeline.TimeInt{0, 10, 20})
	cols[pos] = cols[pos][:2]
	_, err := New(entitypath.Parse("/a"), ids, tl, cols)
	require.Error(t, err)
}

func TestNewRejectsNonAscendingRowIds(t *testing.T) {
	ids, tl, cols := threeRows([]timeline.TimeInt{0, 10, 20})
	ids[1], ids[2] = ids[2], ids[1]
	_, err := New(entitypath.Parse("/a"), ids, tl, cols)
	require.Error(t, err)
}

func TestNewRejectsBadDeclaredRange(t *testing.T) {
	ids, tl, cols := threeRows([]timeline.TimeInt{0, 10, 20})
	bad := tl[frame]
	bad.Range.Max = 999
	tl[frame] = bad
	_, err := New(entitypath.Parse("/a"), ids, tl, cols)
	require.Error(t, err)
}

func TestNewAcceptsValidChunk(t *testing.T) {
	ids, tl, cols := threeRows([]timeline.TimeInt{0, 10, 20})
	c, err := New(entitypath.Parse("/a"), ids, tl, cols)
	require.NoError(t, err)
	assert.Equal(t, 3, c.NumRows())
	assert.False(t, c.IsStatic())
	assert.Equal(t, uint64(3), c.NumEventsCumulative())
}

func TestStaticChunkHasNoTimelines(t *testing.T) {
	ids := []rowid.RowId{rowid.NewRowId()}
	cols := map[component.Descriptor]component.Column{pos: {component.PresentCell(9)}}
	c, err := New(entitypath.Parse("/a"), ids, nil, cols)
	require.NoError(t, err)
	assert.True(t, c.IsStatic())
}

func TestIterComponentIndices(t *testing.T) {
	ids, tl, cols := threeRows([]timeline.TimeInt{0, 10, 20})
	c, err := New(entitypath.Parse("/a"), ids, tl, cols)
	require.NoError(t, err)
	idxs := c.IterComponentIndices(frame, pos)
	require.Len(t, idxs, 3)
	assert.Equal(t, timeline.TimeInt(10), idxs[1].Time)
}

func TestConcatenatedPreservesRowsInOrder(t *testing.T) {
	ids1, tl1, cols1 := threeRows([]timeline.TimeInt{0, 1, 2})
	ids2, tl2, cols2 := threeRows([]timeline.TimeInt{3, 4, 5})
	c1, err := New(entitypath.Parse("/a"), ids1, tl1, cols1)
	require.NoError(t, err)
	c2, err := New(entitypath.Parse("/a"), ids2, tl2, cols2)
	require.NoError(t, err)

	merged, err := Concatenated(c1, c2)
	require.NoError(t, err)
	assert.Equal(t, 6, merged.NumRows())
	rng, ok := merged.TimeRangeOn(frame)
	require.True(t, ok)
	assert.Equal(t, timeline.AbsoluteTimeRange{Min: 0, Max: 5}, rng)
	tc, ok := merged.TimeColumn(frame)
	require.True(t, ok)
	assert.True(t, tc.Sorted)
}

func TestConcatenatedRejectsDuplicateRowIds(t *testing.T) {
	ids, tl, cols := threeRows([]timeline.TimeInt{0, 1, 2})
	c1, err := New(entitypath.Parse("/a"), ids, tl, cols)
	require.NoError(t, err)
	_, err = Concatenated(c1, c1)
	require.Error(t, err)
}
