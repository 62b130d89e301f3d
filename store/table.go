package store

import (
	"github.com/google/btree"

	"github.com/rerun-io/chunkstore/chunk"
	"github.com/rerun-io/chunkstore/component"
	"github.com/rerun-io/chunkstore/rowid"
	"github.com/rerun-io/chunkstore/timeline"
)

func bucketLess(a, b *IndexedBucket) bool { return a.key < b.key }

// IndexedTable is the per-(entity, timeline) sorted index of chunks:
// an ordered map from bucket_min to IndexedBucket, backed by a
// google/btree generic tree so that both the "locate bucket containing
// time T" and "largest bucket key <= T" queries are O(log n).
type IndexedTable struct {
	timelineName timeline.TimelineName
	buckets      *btree.BTreeG[*IndexedBucket]

	bucketsNumRows   uint64
	bucketsSizeBytes uint64
}

func newIndexedTable(t timeline.TimelineName) *IndexedTable {
	return &IndexedTable{timelineName: t, buckets: btree.NewG[*IndexedBucket](32, bucketLess)}
}

func (it *IndexedTable) floor(at timeline.TimeInt) (*IndexedBucket, bool) {
	var found *IndexedBucket
	pivot := &IndexedBucket{key: at}
	it.buckets.DescendLessOrEqual(pivot, func(b *IndexedBucket) bool {
		found = b
		return false
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

func (it *IndexedTable) recomputeTotals() {
	var rows, size uint64
	it.buckets.Ascend(func(b *IndexedBucket) bool {
		rows += b.numRows
		size += b.sizeBytes
		return true
	})
	it.bucketsNumRows = rows
	it.bucketsSizeBytes = size
}

// insert locates or creates the bucket whose range contains c's min
// time on this table's timeline, appends c, and splits the bucket if
// it now exceeds its configured thresholds. Any events the split
// produced (chunks that straddled the new boundary) are returned.
func (it *IndexedTable) insert(c *chunk.Chunk, cfg Config) []Event {
	tc, ok := c.TimeColumn(it.timelineName)
	if !ok {
		return nil
	}
	minT := tc.Range.Min

	b, ok := it.floor(minT)
	if !ok {
		b = newIndexedBucket(it.timelineName, minT)
		it.buckets.ReplaceOrInsert(b)
	}
	b.append(c)

	var events []Event
	if b.needsSplit(cfg) {
		if right, splitEvents, ok := b.split(); ok {
			it.buckets.ReplaceOrInsert(right)
			events = append(events, splitEvents...)
		}
	}
	it.recomputeTotals()
	return events
}

// latestAt finds the bucket whose range contains at (or the last
// bucket with min <= at), scanning backward through older buckets
// until a candidate is found or the table is exhausted.
func (it *IndexedTable) latestAt(d component.Descriptor, at timeline.TimeInt) (component.UnitCell, bool) {
	var result component.UnitCell
	found := false
	pivot := &IndexedBucket{key: at}
	it.buckets.DescendLessOrEqual(pivot, func(b *IndexedBucket) bool {
		if cell, ok := b.latestAt(d, at); ok {
			result, found = cell, true
			return false
		}
		return true
	})
	return result, found
}

// rangeChunks yields chunks from every bucket overlapping q, in
// ascending time order.
func (it *IndexedTable) rangeChunks(q timeline.AbsoluteTimeRange) []*chunk.Chunk {
	var out []*chunk.Chunk
	it.buckets.Ascend(func(b *IndexedBucket) bool {
		if b.timeRange.Intersects(q) {
			out = append(out, b.rangeChunks(q)...)
		}
		return true
	})
	return out
}

// allChunks returns every chunk referenced by this table, across all
// buckets.
func (it *IndexedTable) allChunks() []*chunk.Chunk {
	var out []*chunk.Chunk
	it.buckets.Ascend(func(b *IndexedBucket) bool {
		out = append(out, b.chunks...)
		return true
	})
	return out
}

// removeChunk drops the chunk with the given id from whichever bucket
// holds it, dropping the bucket itself if it becomes empty. Reports
// whether a chunk was actually removed.
func (it *IndexedTable) removeChunk(id rowid.ChunkId) bool {
	removed := false
	var emptyKeys []timeline.TimeInt
	it.buckets.Ascend(func(b *IndexedBucket) bool {
		before := len(b.chunks)
		b.remove(id)
		if len(b.chunks) != before {
			removed = true
		}
		if b.isEmpty() {
			emptyKeys = append(emptyKeys, b.key)
		}
		return true
	})
	for _, k := range emptyKeys {
		it.buckets.Delete(&IndexedBucket{key: k})
	}
	if removed {
		it.recomputeTotals()
	}
	return removed
}

// isEmpty reports whether the table holds no buckets.
func (it *IndexedTable) isEmpty() bool {
	return it.buckets.Len() == 0
}
