package transformcache_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rerun-io/chunkstore/chunk"
	"github.com/rerun-io/chunkstore/component"
	"github.com/rerun-io/chunkstore/entitypath"
	"github.com/rerun-io/chunkstore/rowid"
	"github.com/rerun-io/chunkstore/store"
	"github.com/rerun-io/chunkstore/timeline"
	"github.com/rerun-io/chunkstore/transformcache"
)

func mustChunk(t *testing.T, entity entitypath.EntityPath, tl timeline.TimelineName, times []timeline.TimeInt, desc component.Descriptor, values []any) *chunk.Chunk {
	t.Helper()
	rowIDs := make([]rowid.RowId, len(times))
	for i := range rowIDs {
		rowIDs[i] = rowid.NewRowId()
	}
	col := make(component.Column, len(values))
	for i, v := range values {
		col[i] = component.PresentCell(v)
	}
	timelines := map[timeline.TimelineName]chunk.TimeColumn{
		tl: {Times: times, Range: timeline.AbsoluteTimeRange{Min: times[0], Max: times[len(times)-1]}, Sorted: true},
	}
	c, err := chunk.New(entity, rowIDs, timelines, map[component.Descriptor]component.Column{desc: col})
	require.NoError(t, err)
	return c
}

func mustStaticChunk(t *testing.T, entity entitypath.EntityPath, desc component.Descriptor, value any) *chunk.Chunk {
	t.Helper()
	rowIDs := []rowid.RowId{rowid.NewRowId()}
	col := component.Column{component.PresentCell(value)}
	c, err := chunk.New(entity, rowIDs, nil, map[component.Descriptor]component.Column{desc: col})
	require.NoError(t, err)
	return c
}

func newTestStore() *store.ChunkStore {
	return store.New("test", store.DefaultConfig(), zerolog.Nop(), nil)
}

func TestLatestAtTransformResolvesFromStore(t *testing.T) {
	st := newTestStore()
	cache := transformcache.New(st)
	st.RegisterSubscriber(func() store.Subscriber { return cache })

	frameTl := timeline.Intern("frame")
	entity := entitypath.Parse("/obj")

	c := mustChunk(t, entity, frameTl, []timeline.TimeInt{10, 20}, transformcache.TransformDescriptor, []any{"T@10", "T@20"})
	_, err := st.InsertChunk(c)
	require.NoError(t, err)

	got, ok := cache.LatestAtTransform(entity, frameTl, 15)
	require.True(t, ok)
	assert.Equal(t, "T@10", got.Value)

	got, ok = cache.LatestAtTransform(entity, frameTl, 25)
	require.True(t, ok)
	assert.Equal(t, "T@20", got.Value)

	_, ok = cache.LatestAtTransform(entity, frameTl, 5)
	assert.False(t, ok)
}

func TestLatestAtTransformRepeatedQueryHitsResidentSlot(t *testing.T) {
	st := newTestStore()
	cache := transformcache.New(st)
	st.RegisterSubscriber(func() store.Subscriber { return cache })

	frameTl := timeline.Intern("frame")
	entity := entitypath.Parse("/obj")

	c := mustChunk(t, entity, frameTl, []timeline.TimeInt{10}, transformcache.TransformDescriptor, []any{"T@10"})
	_, err := st.InsertChunk(c)
	require.NoError(t, err)

	first, ok := cache.LatestAtTransform(entity, frameTl, 50)
	require.True(t, ok)
	second, ok := cache.LatestAtTransform(entity, frameTl, 50)
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestStaticTransformClonesIntoNewTimeline(t *testing.T) {
	st := newTestStore()
	cache := transformcache.New(st)
	st.RegisterSubscriber(func() store.Subscriber { return cache })

	entity := entitypath.Parse("/obj")
	c := mustStaticChunk(t, entity, transformcache.TransformDescriptor, "static-T")
	_, err := st.InsertChunk(c)
	require.NoError(t, err)

	frameTl := timeline.Intern("frame")
	got, ok := cache.LatestAtTransform(entity, frameTl, 1000)
	require.True(t, ok)
	assert.Equal(t, "static-T", got.Value)
}

func TestRecursiveClearMasksDescendantTransform(t *testing.T) {
	st := newTestStore()
	cache := transformcache.New(st)
	st.RegisterSubscriber(func() store.Subscriber { return cache })

	frameTl := timeline.Intern("frame")
	parent := entitypath.Parse("/p")
	child := entitypath.Parse("/p/c")

	_, err := st.InsertChunk(mustChunk(t, child, frameTl, []timeline.TimeInt{10}, transformcache.TransformDescriptor, []any{"child-T"}))
	require.NoError(t, err)

	// Resolve the child's transform once so its slot at t=10 is
	// Resident; the recursive clear below has to overwrite it.
	_, ok := cache.LatestAtTransform(child, frameTl, 10)
	require.True(t, ok)

	clearDesc := component.Descriptor{ComponentType: component.Clear}
	clearChunk := mustChunk(t, parent, frameTl, []timeline.TimeInt{10}, clearDesc, []any{true})
	_, err = st.InsertChunk(clearChunk)
	require.NoError(t, err)

	_, ok = cache.LatestAtTransform(child, frameTl, 11)
	assert.False(t, ok)
}
