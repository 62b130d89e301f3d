package store

import (
	"sort"

	"github.com/rerun-io/chunkstore/chunk"
	"github.com/rerun-io/chunkstore/component"
	"github.com/rerun-io/chunkstore/rowid"
	"github.com/rerun-io/chunkstore/timeline"
)

// IndexedBucket holds an ordered set of chunks covering a contiguous
// time sub-range of one (entity, timeline) IndexedTable.
type IndexedBucket struct {
	timelineName timeline.TimelineName

	// key is the bucket's identity in the owning table's ordered map;
	// it never changes except when the bucket is created by a split.
	key timeline.TimeInt

	// chunks is kept sorted ascending by each chunk's min time on
	// timelineName, which is what the latest-at binary search and the
	// range scan rely on.
	chunks []*chunk.Chunk

	timeRange timeline.AbsoluteTimeRange
	numRows   uint64
	sizeBytes uint64
}

func newIndexedBucket(timelineName timeline.TimelineName, key timeline.TimeInt) *IndexedBucket {
	return &IndexedBucket{timelineName: timelineName, key: key}
}

func (b *IndexedBucket) minTimeOf(c *chunk.Chunk) timeline.TimeInt {
	tc, ok := c.TimeColumn(b.timelineName)
	if !ok {
		return timeline.MaxTimeInt
	}
	return tc.Range.Min
}

// append inserts c, keeping b.chunks sorted by min time, and refreshes
// the cached aggregates.
func (b *IndexedBucket) append(c *chunk.Chunk) {
	minT := b.minTimeOf(c)
	idx := sort.Search(len(b.chunks), func(i int) bool { return b.minTimeOf(b.chunks[i]) > minT })
	b.chunks = append(b.chunks, nil)
	copy(b.chunks[idx+1:], b.chunks[idx:])
	b.chunks[idx] = c
	b.recompute()
}

// remove drops the chunk with the given id, if present.
func (b *IndexedBucket) remove(id rowid.ChunkId) {
	out := b.chunks[:0]
	for _, c := range b.chunks {
		if c.ID() != id {
			out = append(out, c)
		}
	}
	b.chunks = out
	b.recompute()
}

func (b *IndexedBucket) recompute() {
	var rows, size uint64
	var rng timeline.AbsoluteTimeRange
	for i, c := range b.chunks {
		rows += uint64(c.NumRows())
		size += c.SizeBytes()
		if tc, ok := c.TimeColumn(b.timelineName); ok {
			if i == 0 {
				rng = tc.Range
			} else {
				rng = rng.Union(tc.Range)
			}
		}
	}
	b.numRows = rows
	b.sizeBytes = size
	b.timeRange = rng
}

func (b *IndexedBucket) isEmpty() bool { return len(b.chunks) == 0 }

// latestAt binary-searches the per-chunk time ranges to find the last
// chunk whose min_time <= at, then linearly scans chunks (newest to
// oldest) for a present cell on descriptor d at a time <= at, picking
// the candidate with the greatest time, breaking ties by the greatest
// RowId.
func (b *IndexedBucket) latestAt(d component.Descriptor, at timeline.TimeInt) (component.UnitCell, bool) {
	idx := sort.Search(len(b.chunks), func(i int) bool { return b.minTimeOf(b.chunks[i]) > at })
	var best component.UnitCell
	found := false
	for i := idx - 1; i >= 0; i-- {
		cell, ok := latestAtInChunk(b.chunks[i], b.timelineName, d, at)
		if !ok {
			continue
		}
		if !found || cell.Time > best.Time || (cell.Time == best.Time && cell.RowId.Compare(best.RowId) > 0) {
			best, found = cell, true
		}
	}
	return best, found
}

func latestAtInChunk(c *chunk.Chunk, t timeline.TimelineName, d component.Descriptor, at timeline.TimeInt) (component.UnitCell, bool) {
	tc, ok := c.TimeColumn(t)
	if !ok {
		return component.UnitCell{}, false
	}
	col, ok := c.Column(d)
	if !ok {
		return component.UnitCell{}, false
	}

	bestIdx := -1
	for i := len(tc.Times) - 1; i >= 0; i-- {
		if tc.Times[i] > at {
			continue
		}
		if !col[i].Present {
			continue
		}
		if bestIdx == -1 {
			bestIdx = i
			continue
		}
		if tc.Times[i] > tc.Times[bestIdx] {
			bestIdx = i
		} else if tc.Times[i] == tc.Times[bestIdx] && c.RowIDs()[i].Compare(c.RowIDs()[bestIdx]) > 0 {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return component.UnitCell{}, false
	}
	return component.UnitCell{
		RowId: c.RowIDs()[bestIdx],
		Time:  tc.Times[bestIdx],
		Value: col[bestIdx].Value,
	}, true
}

// rangeChunks returns every chunk overlapping q, in ascending time
// order. Trimming to the exact query range is the caller's
// responsibility.
func (b *IndexedBucket) rangeChunks(q timeline.AbsoluteTimeRange) []*chunk.Chunk {
	var out []*chunk.Chunk
	for _, c := range b.chunks {
		tc, ok := c.TimeColumn(b.timelineName)
		if !ok {
			continue
		}
		if tc.Range.Intersects(q) {
			out = append(out, c)
		}
	}
	return out
}

// needsSplit reports whether the bucket exceeds its configured
// thresholds.
func (b *IndexedBucket) needsSplit(cfg Config) bool {
	return b.numRows > cfg.BucketRows || b.sizeBytes > cfg.BucketBytes
}

// split partitions the bucket at the median time (by row). It returns
// the new right-hand bucket and the set of split events produced by
// any chunk straddling the midpoint; ok is false if no split could be
// performed (e.g. every row shares the same time).
func (b *IndexedBucket) split() (*IndexedBucket, []Event, bool) {
	times := make([]timeline.TimeInt, 0, b.numRows)
	for _, c := range b.chunks {
		tc, ok := c.TimeColumn(b.timelineName)
		if !ok {
			continue
		}
		times = append(times, tc.Times...)
	}
	if len(times) == 0 {
		return nil, nil, false
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	mid := times[len(times)/2]

	if mid == times[0] || mid >= times[len(times)-1] {
		// Every row falls on one side of a naive midpoint: splitting
		// here would leave one half empty.
		allSame := true
		for _, t := range times {
			if t != times[0] {
				allSame = false
				break
			}
		}
		if allSame {
			return nil, nil, false
		}
	}

	right := newIndexedBucket(b.timelineName, mid+1)

	var events []Event
	var remaining []*chunk.Chunk
	for _, c := range b.chunks {
		tc, ok := c.TimeColumn(b.timelineName)
		if !ok {
			remaining = append(remaining, c)
			continue
		}
		switch {
		case tc.Range.Max <= mid:
			remaining = append(remaining, c)
		case tc.Range.Min > mid:
			right.chunks = append(right.chunks, c)
		default:
			leftHalf, rightHalf, ok := splitChunkAt(c, b.timelineName, mid)
			if !ok {
				remaining = append(remaining, c)
				continue
			}
			remaining = append(remaining, leftHalf)
			right.chunks = append(right.chunks, rightHalf)
			events = append(events,
				Event{Kind: Addition, ChunkAfterProcessing: leftHalf, Lineage: Lineage{Kind: SplitFrom, SplitFromChunk: c.ID()}},
				Event{Kind: Addition, ChunkAfterProcessing: rightHalf, Lineage: Lineage{Kind: SplitFrom, SplitFromChunk: c.ID()}},
			)
		}
	}
	if right.isEmpty() || len(remaining) == 0 {
		return nil, nil, false
	}

	b.chunks = remaining
	b.recompute()
	right.recompute()
	return right, events, true
}

// splitChunkAt sorts c if necessary and splits it row-wise at the
// given timeline midpoint; rows with time <= mid go left.
func splitChunkAt(c *chunk.Chunk, t timeline.TimelineName, mid timeline.TimeInt) (*chunk.Chunk, *chunk.Chunk, bool) {
	sorted := c.SortIfUnsorted(t)
	tc, ok := sorted.TimeColumn(t)
	if !ok {
		return nil, nil, false
	}

	var leftIdx, rightIdx []int
	for i, tm := range tc.Times {
		if tm <= mid {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}
	if len(leftIdx) == 0 || len(rightIdx) == 0 {
		return nil, nil, false
	}

	left, err := sliceChunk(sorted, leftIdx)
	if err != nil {
		return nil, nil, false
	}
	right, err := sliceChunk(sorted, rightIdx)
	if err != nil {
		return nil, nil, false
	}
	return left, right, true
}

func sliceChunk(c *chunk.Chunk, idx []int) (*chunk.Chunk, error) {
	rowIDs := make([]rowid.RowId, len(idx))
	for i, j := range idx {
		rowIDs[i] = c.RowIDs()[j]
	}

	timelines := make(map[timeline.TimelineName]chunk.TimeColumn)
	for _, name := range c.Timelines() {
		tc, _ := c.TimeColumn(name)
		times := make([]timeline.TimeInt, len(idx))
		for i, j := range idx {
			times[i] = tc.Times[j]
		}
		rng := times[0]
		lo, hi := rng, rng
		sorted := true
		for i, tm := range times {
			if tm < lo {
				lo = tm
			}
			if tm > hi {
				hi = tm
			}
			if i > 0 && times[i-1] > tm {
				sorted = false
			}
		}
		timelines[name] = chunk.TimeColumn{Times: times, Range: timeline.AbsoluteTimeRange{Min: lo, Max: hi}, Sorted: sorted}
	}

	components := make(map[component.Descriptor]component.Column)
	for _, d := range c.Components() {
		col, _ := c.Column(d)
		newCol := make(component.Column, len(idx))
		for i, j := range idx {
			newCol[i] = col[j]
		}
		components[d] = newCol
	}

	return chunk.New(c.EntityPath(), rowIDs, timelines, components)
}
