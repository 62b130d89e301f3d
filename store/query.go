package store

import (
	"sort"

	"github.com/rerun-io/chunkstore/component"
	"github.com/rerun-io/chunkstore/entitypath"
	"github.com/rerun-io/chunkstore/hash"
	"github.com/rerun-io/chunkstore/timeline"
)

// latestAtCacheKey identifies one memoized LatestAt result.
type latestAtCacheKey struct {
	entity     hash.EntityPathHash
	timeline   timeline.TimelineName
	at         timeline.TimeInt
	descriptor component.Descriptor
}

// latestAtCacheEntry pairs a cached result with the store generation
// it was computed under; a stale generation is treated as a miss
// rather than evicted eagerly, so a burst of inserts doesn't have to
// walk the cache to invalidate it; see ChunkStore.generation.
type latestAtCacheEntry struct {
	generation uint64
	cell       component.UnitCell
	ok         bool
}

// LatestAt resolves the single value visible for (entity, descriptor)
// on timeline t at time at: the static value if one exists and no
// Clear dominates it, otherwise the newest temporal row at or before
// at, unless a Clear dominates that row. Static state is consulted
// first, matching the usual case where most components on most
// entities never change.
// Repeat lookups for the same key hit a generation-stamped LRU cache,
// invalidated in bulk (rather than per-key) on every write.
func (s *ChunkStore) LatestAt(e entitypath.EntityPath, t timeline.TimelineName, at timeline.TimeInt, d component.Descriptor) (component.UnitCell, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := latestAtCacheKey{entity: e.Hash(), timeline: t, at: at, descriptor: d}
	if s.queryCache != nil {
		if entry, hit := s.queryCache.Get(key); hit && entry.generation == s.generation {
			return entry.cell, entry.ok
		}
	}

	cell, ok := s.latestAtLocked(e, t, at, d)

	if s.queryCache != nil {
		s.queryCache.Add(key, latestAtCacheEntry{generation: s.generation, cell: cell, ok: ok})
	}
	return cell, ok
}

func (s *ChunkStore) latestAtLocked(e entitypath.EntityPath, t timeline.TimelineName, at timeline.TimeInt, d component.Descriptor) (component.UnitCell, bool) {
	dominant, hasDominant := s.clearIdx.dominatingMark(e, t, at)

	if cells, ok := s.staticCells[e.Hash()]; ok {
		if cell, ok := cells[d]; ok {
			if !hasDominant || !dominant.dominates(cell.Time, cell.RowId) {
				return cell, true
			}
		}
	}

	table, ok := s.temporal[tableKey{entity: e.Hash(), timeline: t}]
	if !ok {
		return component.UnitCell{}, false
	}
	cell, ok := table.latestAt(d, at)
	if !ok {
		return component.UnitCell{}, false
	}
	if hasDominant && dominant.dominates(cell.Time, cell.RowId) {
		return component.UnitCell{}, false
	}
	return cell, true
}

// Range returns every visible (entity, descriptor) row on timeline t
// whose time falls within q, in ascending (time, rowid) order,
// including the static value (if any and not dominated by a Clear
// at or before q.Min) as the earliest entry. Rows masked by a Clear
// that dominates them at their own logged time are omitted.
func (s *ChunkStore) Range(e entitypath.EntityPath, t timeline.TimelineName, q timeline.AbsoluteTimeRange, d component.Descriptor) []component.UnitCell {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []component.UnitCell

	if cells, ok := s.staticCells[e.Hash()]; ok {
		if cell, ok := cells[d]; ok {
			mark, hasMark := s.clearIdx.dominatingMark(e, t, q.Min)
			if !hasMark || !mark.dominates(cell.Time, cell.RowId) {
				out = append(out, cell)
			}
		}
	}

	table, ok := s.temporal[tableKey{entity: e.Hash(), timeline: t}]
	if !ok {
		return out
	}
	for _, c := range table.rangeChunks(q) {
		tc, ok := c.TimeColumn(t)
		if !ok {
			continue
		}
		col, ok := c.Column(d)
		if !ok {
			continue
		}
		for i, cell := range col {
			if !cell.Present {
				continue
			}
			rt := tc.Times[i]
			if !q.Contains(rt) {
				continue
			}
			rid := c.RowIDs()[i]
			if mark, ok := s.clearIdx.dominatingMark(e, t, rt); ok && mark.dominates(rt, rid) {
				continue
			}
			out = append(out, component.UnitCell{RowId: rid, Time: rt, Value: cell.Value})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].RowId.Compare(out[j].RowId) < 0
	})
	return out
}
