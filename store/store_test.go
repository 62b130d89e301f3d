package store_test

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
)

var posDescriptor = component.Descriptor{ComponentType: component.Intern("pos")}

type vec2 struct{ x, y int }

func singleRowChunk(t *testing.T, entity entitypath.EntityPath, tl timeline.TimelineName, at timeline.TimeInt, v vec2) *chunk.Chunk {
	t.Helper()
	c, err := chunk.New(
		entity,
		[]rowid.RowId{rowid.NewRowId()},
		map[timeline.TimelineName]chunk.TimeColumn{
			tl: {Times: []timeline.TimeInt{at}, Range: timeline.AbsoluteTimeRange{Min: at, Max: at}, Sorted: true},
		},
		map[component.Descriptor]component.Column{posDescriptor: {component.PresentCell(v)}},
	)
	require.NoError(t, err)
	return c
}

func staticChunk(t *testing.T, entity entitypath.EntityPath, v vec2) *chunk.Chunk {
	t.Helper()
	c, err := chunk.New(
		entity,
		[]rowid.RowId{rowid.NewRowId()},
		nil,
		map[component.Descriptor]component.Column{posDescriptor: {component.PresentCell(v)}},
	)
	require.NoError(t, err)
	return c
}

func newStore(cfg store.Config) *store.ChunkStore {
	return store.New("rec", cfg, zerolog.Nop(), nil)
}

// S1 — latest-at across splits.
func TestLatestAtAcrossBucketSplits(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.BucketRows = 25
	s := newStore(cfg)
	entity := entitypath.Parse("/a")
	tl := timeline.Intern("frame")

	splits := 0
	for i := 0; i < 100; i++ {
		at := timeline.TimeInt(i * 10)
		events, err := s.InsertChunk(singleRowChunk(t, entity, tl, at, vec2{int(at), 0}))
		require.NoError(t, err)
		for _, ev := range events {
			if ev.Lineage.Kind == store.SplitFrom {
				splits++
			}
		}
	}
	require.Greater(t, splits, 0, "expected at least one bucket split")

	cell, ok := s.LatestAt(entity, tl, 55, posDescriptor)
	require.True(t, ok)
	assert.Equal(t, vec2{50, 0}, cell.Value)
	assert.Equal(t, timeline.TimeInt(50), cell.Time)
}

// S2 — static shadows temporal, and reverts once the static state is
// dropped.
func TestStaticShadowsTemporalUntilDropped(t *testing.T) {
	s := newStore(store.DefaultConfig())
	entity := entitypath.Parse("/a")
	tl := timeline.Intern("frame")

	_, err := s.InsertChunk(singleRowChunk(t, entity, tl, 10, vec2{1, 1}))
	require.NoError(t, err)
	_, err = s.InsertChunk(staticChunk(t, entity, vec2{9, 9}))
	require.NoError(t, err)

	cell, ok := s.LatestAt(entity, tl, 100, posDescriptor)
	require.True(t, ok)
	assert.Equal(t, vec2{9, 9}, cell.Value)

	s.DropEntityPath(entity)
	// DropEntityPath removes temporal data too in this implementation;
	// reinsert the original temporal row to observe static-only removal.
	_, err = s.InsertChunk(singleRowChunk(t, entity, tl, 10, vec2{1, 1}))
	require.NoError(t, err)

	cell, ok = s.LatestAt(entity, tl, 100, posDescriptor)
	require.True(t, ok)
	assert.Equal(t, vec2{1, 1}, cell.Value)
}

// S3 — compaction preserves semantics: a range query spanning the
// compacted region still yields every logged row in order, and the
// compaction actually ran, replacing several single-row chunks with a
// merged chunk.
func TestCompactionPreservesRangeSemantics(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.CompactionMinChunks = 2
	cfg.CompactionTargetRows = 8
	cfg.BucketRows = 1000
	s := newStore(cfg)
	entity := entitypath.Parse("/a")
	tl := timeline.Intern("frame")

	var compactions []store.Event
	for i := 0; i < 8; i++ {
		events, err := s.InsertChunk(singleRowChunk(t, entity, tl, timeline.TimeInt(i), vec2{i, i}))
		require.NoError(t, err)
		for _, ev := range events {
			if ev.Lineage.Kind == store.CompactedFrom {
				compactions = append(compactions, ev)
			}
		}
	}
	require.NotEmpty(t, compactions, "expected at least one compaction to fire")

	last := compactions[len(compactions)-1]
	assert.GreaterOrEqual(t, last.ChunkAfterProcessing.NumRows(), 2)
	assert.NotEmpty(t, last.Lineage.CompactedFromChunks)
	assert.Less(t, s.Stats().NumChunks, uint64(8))

	cells := s.Range(entity, tl, timeline.AbsoluteTimeRange{Min: 0, Max: 7}, posDescriptor)
	require.Len(t, cells, 8)
	for i, cell := range cells {
		assert.Equal(t, vec2{i, i}, cell.Value)
	}
}

// S6 — compaction lineage reaches subscribers: a registered subscriber
// observes a CompactedFrom addition naming the chunks it replaced.
func TestCompactionLineageDeliveredToSubscriber(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.CompactionMinChunks = 2
	cfg.CompactionTargetRows = 8
	cfg.BucketRows = 1000
	s := newStore(cfg)
	entity := entitypath.Parse("/a")
	tl := timeline.Intern("frame")

	var seen []store.Event
	s.RegisterSubscriber(func() store.Subscriber {
		return subscriberFunc(func(events []store.Event) {
			seen = append(seen, events...)
		})
	})

	for i := 0; i < 8; i++ {
		_, err := s.InsertChunk(singleRowChunk(t, entity, tl, timeline.TimeInt(i), vec2{i, i}))
		require.NoError(t, err)
	}

	var compacted *store.Event
	for i := range seen {
		if seen[i].Lineage.Kind == store.CompactedFrom {
			compacted = &seen[i]
		}
	}
	require.NotNil(t, compacted, "expected subscriber to observe a CompactedFrom event")
	assert.Equal(t, store.Addition, compacted.Kind)
	assert.NotEmpty(t, compacted.Lineage.CompactedFromChunks)
	for id, c := range compacted.Lineage.CompactedFromChunks {
		assert.Equal(t, id, c.ID())
	}
}

// S4 — a recursive clear masks both the cleared entity and its
// descendants, until a later value is logged.
func TestRecursiveClearMasksSelfAndDescendants(t *testing.T) {
	s := newStore(store.DefaultConfig())
	tl := timeline.Intern("frame")
	parent := entitypath.Parse("/p")
	child := entitypath.Parse("/p/c")

	colorDescriptor := component.Descriptor{ComponentType: component.Intern("color")}
	pointDescriptor := component.Descriptor{ComponentType: component.Intern("point")}

	mk := func(entity entitypath.EntityPath, at timeline.TimeInt, d component.Descriptor, v any) *chunk.Chunk {
		c, err := chunk.New(entity,
			[]rowid.RowId{rowid.NewRowId()},
			map[timeline.TimelineName]chunk.TimeColumn{tl: {Times: []timeline.TimeInt{at}, Range: timeline.AbsoluteTimeRange{Min: at, Max: at}, Sorted: true}},
			map[component.Descriptor]component.Column{d: {component.PresentCell(v)}})
		require.NoError(t, err)
		return c
	}

	_, err := s.InsertChunk(mk(parent, 10, colorDescriptor, "red"))
	require.NoError(t, err)
	_, err = s.InsertChunk(mk(child, 10, pointDescriptor, vec2{1, 1}))
	require.NoError(t, err)

	clearDescriptor := component.Descriptor{ComponentType: component.Clear}
	_, err = s.InsertChunk(mk(parent, 10, clearDescriptor, true))
	require.NoError(t, err)

	_, ok := s.LatestAt(parent, tl, 11, colorDescriptor)
	assert.False(t, ok)
	_, ok = s.LatestAt(child, tl, 11, pointDescriptor)
	assert.False(t, ok)

	_, err = s.InsertChunk(mk(child, 20, pointDescriptor, vec2{2, 2}))
	require.NoError(t, err)

	cell, ok := s.LatestAt(child, tl, 21, pointDescriptor)
	require.True(t, ok)
	assert.Equal(t, vec2{2, 2}, cell.Value)
}

// S5 — garbage collection honors a protected time range: no surviving
// chunk's range falls entirely below the protection boundary.
func TestGarbageCollectionHonorsProtectedRange(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.BucketRows = 50
	cfg.CompactionTargetRows = 0
	cfg.CompactionTargetBytes = 0
	s := newStore(cfg)
	entity := entitypath.Parse("/a")
	tl := timeline.Intern("frame")

	const n = 200
	for i := 0; i < n; i++ {
		at := timeline.TimeInt(i * 50)
		_, err := s.InsertChunk(singleRowChunk(t, entity, tl, at, vec2{i, i}))
		require.NoError(t, err)
	}

	report, _ := s.GarbageCollect(store.GCOptions{
		TargetBytes: 0,
		ProtectedTimeRanges: map[timeline.TimelineName]timeline.AbsoluteTimeRange{
			tl: {Min: 5000, Max: 10000},
		},
	})
	assert.Greater(t, report.ChunksFreed, uint64(0))

	remaining := s.Range(entity, tl, timeline.AbsoluteTimeRange{Min: timeline.MinTimeInt + 1, Max: timeline.MaxTimeInt - 1}, posDescriptor)
	for _, cell := range remaining {
		assert.GreaterOrEqual(t, int64(cell.Time), int64(5000))
	}
}

// Subscriber panics are isolated: the triggering write still commits,
// the panicking subscriber stops receiving further events, and the
// incident is recorded.
func TestSubscriberPanicIsIsolated(t *testing.T) {
	s := newStore(store.DefaultConfig())
	entity := entitypath.Parse("/a")
	tl := timeline.Intern("frame")

	calls := 0
	s.RegisterSubscriber(func() store.Subscriber {
		return subscriberFunc(func(events []store.Event) {
			calls++
			panic("boom")
		})
	})

	_, err := s.InsertChunk(singleRowChunk(t, entity, tl, 10, vec2{1, 1}))
	require.NoError(t, err)
	_, err = s.InsertChunk(singleRowChunk(t, entity, tl, 20, vec2{2, 2}))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)

	incidents := s.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, "boom", incidents[0].Recovered)

	cell, ok := s.LatestAt(entity, tl, 25, posDescriptor)
	require.True(t, ok)
	assert.Equal(t, vec2{2, 2}, cell.Value)
}

func TestInsertChunkRejectsSchemaMismatch(t *testing.T) {
	s := newStore(store.DefaultConfig())
	entity := entitypath.Parse("/a")
	tl := timeline.Intern("frame")

	_, err := s.InsertChunk(singleRowChunk(t, entity, tl, 10, vec2{1, 1}))
	require.NoError(t, err)

	c, err := chunk.New(entity,
		[]rowid.RowId{rowid.NewRowId()},
		map[timeline.TimelineName]chunk.TimeColumn{tl: {Times: []timeline.TimeInt{20}, Range: timeline.AbsoluteTimeRange{Min: 20, Max: 20}, Sorted: true}},
		map[component.Descriptor]component.Column{posDescriptor: {component.PresentCell("not-a-vec2")}},
	)
	require.NoError(t, err)

	_, err = s.InsertChunk(c)
	assert.Error(t, err)
}

type subscriberFunc func(events []store.Event)

func (f subscriberFunc) OnEvents(events []store.Event) { f(events) }
