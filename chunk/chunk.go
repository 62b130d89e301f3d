// Package chunk implements the immutable, sorted-by-time row batch
// that is the store's unit of storage: a Chunk.
package chunk

import (
	"sort"

	"github.com/rerun-io/chunkstore/component"
	"github.com/rerun-io/chunkstore/entitypath"
	"github.com/rerun-io/chunkstore/rowid"
	"github.com/rerun-io/chunkstore/storeerr"
	"github.com/rerun-io/chunkstore/timeline"
)

// TimeColumn holds one timeline's worth of per-row time values for a
// chunk, plus the cached range and sortedness used by the index.
type TimeColumn struct {
	Times  []timeline.TimeInt
	Range  timeline.AbsoluteTimeRange
	Sorted bool
}

// Chunk is an immutable, column-oriented batch of rows for one entity.
// A chunk with zero timelines is static: it attaches to an entity
// without reference to any timeline.
type Chunk struct {
	id         rowid.ChunkId
	entityPath entitypath.EntityPath
	rowIDs     []rowid.RowId
	timelines  map[timeline.TimelineName]TimeColumn
	components map[component.Descriptor]component.Column
	sizeBytes  uint64
}

// New validates and constructs a chunk. It fails with ErrMalformedChunk
// if column lengths disagree, RowIds are not strictly ascending, or a
// time column's declared range disagrees with its values.
func New(
	entityPath entitypath.EntityPath,
	rowIDs []rowid.RowId,
	timelines map[timeline.TimelineName]TimeColumn,
	components map[component.Descriptor]component.Column,
) (*Chunk, error) {
	n := len(rowIDs)
	if n == 0 {
		return nil, storeerr.Malformed("chunk must have at least one row")
	}

	for i := 1; i < n; i++ {
		if !rowIDs[i-1].Less(rowIDs[i]) {
			return nil, storeerr.Malformed("row ids must strictly increase within a chunk")
		}
	}

	for name, tc := range timelines {
		if len(tc.Times) != n {
			return nil, storeerr.Malformed("time column " + name.String() + " length disagrees with row count")
		}
		if tc.Sorted && !sort.SliceIsSorted(tc.Times, func(i, j int) bool { return tc.Times[i] < tc.Times[j] }) {
			return nil, storeerr.Malformed("time column " + name.String() + " flagged sorted but is not nondecreasing")
		}
		actual := actualRange(tc.Times)
		if actual != tc.Range {
			return nil, storeerr.Malformed("time column " + name.String() + " declared range disagrees with data")
		}
	}

	for desc, col := range components {
		if len(col) != n {
			return nil, storeerr.Malformed("component column " + desc.String() + " length disagrees with row count")
		}
	}

	c := &Chunk{
		id:         rowid.NewChunkId(),
		entityPath: entityPath,
		rowIDs:     append([]rowid.RowId(nil), rowIDs...),
		timelines:  cloneTimelines(timelines),
		components: cloneComponents(components),
	}
	c.sizeBytes = estimateSize(c)
	return c, nil
}

func actualRange(times []timeline.TimeInt) timeline.AbsoluteTimeRange {
	lo, hi := times[0], times[0]
	for _, t := range times[1:] {
		if t < lo {
			lo = t
		}
		if t > hi {
			hi = t
		}
	}
	return timeline.AbsoluteTimeRange{Min: lo, Max: hi}
}

func cloneTimelines(in map[timeline.TimelineName]TimeColumn) map[timeline.TimelineName]TimeColumn {
	out := make(map[timeline.TimelineName]TimeColumn, len(in))
	for k, v := range in {
		times := append([]timeline.TimeInt(nil), v.Times...)
		out[k] = TimeColumn{Times: times, Range: v.Range, Sorted: v.Sorted}
	}
	return out
}

func cloneComponents(in map[component.Descriptor]component.Column) map[component.Descriptor]component.Column {
	out := make(map[component.Descriptor]component.Column, len(in))
	for k, v := range in {
		out[k] = append(component.Column(nil), v...)
	}
	return out
}

// ID returns the chunk's identity.
func (c *Chunk) ID() rowid.ChunkId { return c.id }

// EntityPath returns the entity the chunk's rows belong to.
func (c *Chunk) EntityPath() entitypath.EntityPath { return c.entityPath }

// RowIDs returns the chunk's row ids in storage order.
func (c *Chunk) RowIDs() []rowid.RowId { return c.rowIDs }

// NumRows returns the number of rows in the chunk.
func (c *Chunk) NumRows() int { return len(c.rowIDs) }

// SizeBytes returns an approximate in-memory size, used for bucket and
// compaction thresholds and the GC byte budget.
func (c *Chunk) SizeBytes() uint64 { return c.sizeBytes }

// IsStatic reports whether the chunk carries no timelines.
func (c *Chunk) IsStatic() bool { return len(c.timelines) == 0 }

// Timelines returns the names of the timelines the chunk has data on,
// sorted by name.
func (c *Chunk) Timelines() []timeline.TimelineName {
	out := make([]timeline.TimelineName, 0, len(c.timelines))
	for name := range c.timelines {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// TimeColumn returns the chunk's time column for the given timeline.
func (c *Chunk) TimeColumn(t timeline.TimelineName) (TimeColumn, bool) {
	tc, ok := c.timelines[t]
	return tc, ok
}

// TimeRangeOn returns the chunk's time range on the given timeline, if
// the chunk carries data there.
func (c *Chunk) TimeRangeOn(t timeline.TimelineName) (timeline.AbsoluteTimeRange, bool) {
	tc, ok := c.timelines[t]
	if !ok {
		return timeline.AbsoluteTimeRange{}, false
	}
	return tc.Range, true
}

// Components returns the set of component descriptors present on the
// chunk.
func (c *Chunk) Components() []component.Descriptor {
	out := make([]component.Descriptor, 0, len(c.components))
	for d := range c.components {
		out = append(out, d)
	}
	return out
}

// Column returns the component column for a descriptor, if present on
// this chunk.
func (c *Chunk) Column(d component.Descriptor) (component.Column, bool) {
	col, ok := c.components[d]
	return col, ok
}

// Cell returns the cell for descriptor d at row index i.
func (c *Chunk) Cell(d component.Descriptor, i int) component.Cell {
	col, ok := c.components[d]
	if !ok || i < 0 || i >= len(col) {
		return component.AbsentCell
	}
	return col[i]
}

// NumEventsCumulative counts present cells summed across all component
// columns.
func (c *Chunk) NumEventsCumulative() uint64 {
	var n uint64
	for _, col := range c.components {
		for _, cell := range col {
			if cell.Present {
				n++
			}
		}
	}
	return n
}

// ComponentIndex is one (time, rowid) pair yielded while scanning a
// column on a given timeline.
type ComponentIndex struct {
	Time  timeline.TimeInt
	RowID rowid.RowId
}

// IterComponentIndices yields (time, rowid) pairs for every present
// cell of descriptor d on timeline t, in storage order. Used by
// subscribers that need per-row timing without the cell values.
func (c *Chunk) IterComponentIndices(t timeline.TimelineName, d component.Descriptor) []ComponentIndex {
	tc, ok := c.timelines[t]
	if !ok {
		return nil
	}
	col, ok := c.components[d]
	if !ok {
		return nil
	}
	out := make([]ComponentIndex, 0, len(col))
	for i, cell := range col {
		if cell.Present {
			out = append(out, ComponentIndex{Time: tc.Times[i], RowID: c.rowIDs[i]})
		}
	}
	return out
}

// SortIfUnsorted returns a new chunk with every row (RowId, every
// timeline's time, every component cell) permuted into ascending time
// order on t, or c itself if t's time column is already sorted. Rows
// need not stay RowId-ascending afterward — logging order and time
// order are independent — so the result is built directly rather than
// through New, which enforces RowId ascension for freshly logged data.
func (c *Chunk) SortIfUnsorted(t timeline.TimelineName) *Chunk {
	tc, ok := c.timelines[t]
	if !ok || tc.Sorted {
		return c
	}

	n := len(c.rowIDs)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return tc.Times[idx[i]] < tc.Times[idx[j]] })

	rowIDs := make([]rowid.RowId, n)
	for i, j := range idx {
		rowIDs[i] = c.rowIDs[j]
	}

	timelines := make(map[timeline.TimelineName]TimeColumn, len(c.timelines))
	for name, col := range c.timelines {
		times := make([]timeline.TimeInt, n)
		for i, j := range idx {
			times[i] = col.Times[j]
		}
		timelines[name] = TimeColumn{
			Times:  times,
			Range:  col.Range,
			Sorted: sort.SliceIsSorted(times, func(i, j int) bool { return times[i] < times[j] }),
		}
	}

	components := make(map[component.Descriptor]component.Column, len(c.components))
	for d, col := range c.components {
		newCol := make(component.Column, n)
		for i, j := range idx {
			newCol[i] = col[j]
		}
		components[d] = newCol
	}

	return &Chunk{
		id:         c.id,
		entityPath: c.entityPath,
		rowIDs:     rowIDs,
		timelines:  timelines,
		components: components,
		sizeBytes:  c.sizeBytes,
	}
}

// Concatenated merges the given chunks, in order, into one new chunk. All
// inputs must share the same entity and a disjoint set of RowIds; used
// by the compactor to merge adjacent chunks within a bucket.
func Concatenated(chunks ...*Chunk) (*Chunk, error) {
	if len(chunks) == 0 {
		return nil, storeerr.Malformed("concatenated requires at least one chunk")
	}
	first := chunks[0]
	seen := make(map[rowid.RowId]struct{})
	var totalRows int
	for _, c := range chunks {
		if !c.entityPath.Equal(first.entityPath) {
			return nil, storeerr.Malformed("concatenated requires a shared entity path")
		}
		for _, id := range c.rowIDs {
			if _, dup := seen[id]; dup {
				return nil, storeerr.Malformed("concatenated requires disjoint row id sets")
			}
			seen[id] = struct{}{}
		}
		totalRows += c.NumRows()
	}

	rowIDs := make([]rowid.RowId, 0, totalRows)
	for _, c := range chunks {
		rowIDs = append(rowIDs, c.rowIDs...)
	}

	timelineNames := make(map[timeline.TimelineName]struct{})
	componentDescs := make(map[component.Descriptor]struct{})
	for _, c := range chunks {
		for name := range c.timelines {
			timelineNames[name] = struct{}{}
		}
		for d := range c.components {
			componentDescs[d] = struct{}{}
		}
	}

	timelines := make(map[timeline.TimelineName]TimeColumn, len(timelineNames))
	for name := range timelineNames {
		times := make([]timeline.TimeInt, 0, totalRows)
		sortedInputs := true
		for _, c := range chunks {
			tc, ok := c.timelines[name]
			if !ok {
				return nil, storeerr.Malformed("concatenated requires every input to carry timeline " + name.String())
			}
			if !tc.Sorted {
				sortedInputs = false
			}
			times = append(times, tc.Times...)
		}
		rng := actualRange(times)
		nonOverlapping := rangesNonOverlapping(chunks, name)
		timelines[name] = TimeColumn{
			Times:  times,
			Range:  rng,
			Sorted: sortedInputs && nonOverlapping,
		}
	}

	components := make(map[component.Descriptor]component.Column, len(componentDescs))
	for d := range componentDescs {
		col := make(component.Column, 0, totalRows)
		for _, c := range chunks {
			if existing, ok := c.components[d]; ok {
				col = append(col, existing...)
			} else {
				for range c.rowIDs {
					col = append(col, component.AbsentCell)
				}
			}
		}
		components[d] = col
	}

	c := &Chunk{
		id:         rowid.NewChunkId(),
		entityPath: first.entityPath,
		rowIDs:     rowIDs,
		timelines:  timelines,
		components: components,
	}
	c.sizeBytes = estimateSize(c)
	return c, nil
}

func rangesNonOverlapping(chunks []*Chunk, name timeline.TimelineName) bool {
	for i := 1; i < len(chunks); i++ {
		prev, ok := chunks[i-1].timelines[name]
		if !ok {
			return false
		}
		cur, ok := chunks[i].timelines[name]
		if !ok {
			return false
		}
		if prev.Range.Max > cur.Range.Min {
			return false
		}
	}
	return true
}

func estimateSize(c *Chunk) uint64 {
	const rowIDBytes = 16
	const timeIntBytes = 8
	size := uint64(len(c.rowIDs)) * rowIDBytes
	for _, tc := range c.timelines {
		size += uint64(len(tc.Times)) * timeIntBytes
	}
	for _, col := range c.components {
		for _, cell := range col {
			if cell.Present {
				size += cellSize(cell.Value)
			}
		}
	}
	return size
}

// cellSize is a coarse, reflection-free heuristic: the core treats
// component values as opaque, so exact accounting is a job for the
// type system layered on top. A fixed per-cell estimate keeps bucket
// and compaction thresholds meaningful without inspecting value
// internals.
func cellSize(v any) uint64 {
	switch val := v.(type) {
	case []byte:
		return uint64(len(val))
	case string:
		return uint64(len(val))
	default:
		return 32
	}
}
