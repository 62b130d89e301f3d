package store

import (
	"github.com/google/btree"

	"github.com/rerun-io/chunkstore/entitypath"
	"github.com/rerun-io/chunkstore/hash"
	"github.com/rerun-io/chunkstore/rowid"
	"github.com/rerun-io/chunkstore/timeline"
)

// clearMark is one recorded Clear observation: at Time, by row RowID,
// with the given recursive flag.
type clearMark struct {
	time      timeline.TimeInt
	rowID     rowid.RowId
	recursive bool
}

func clearMarkLess(a, b clearMark) bool {
	if a.time != b.time {
		return a.time < b.time
	}
	return a.rowID.Compare(b.rowID) < 0
}

// dominates reports whether clear mark m should mask a candidate value
// observed at (time, rowID): a clear at or after the candidate, by the
// (time, rowid) ordering, wins ties in the clear's favor.
func (m clearMark) dominates(time timeline.TimeInt, rowID rowid.RowId) bool {
	if m.time != time {
		return m.time > time
	}
	return m.rowID.Compare(rowID) >= 0
}

// clearIndex maintains, per (entity, timeline), the ordered timeline of
// Clear observations, so the query façade can resolve clear dominance
// in O(depth) instead of scanning raw chunks.
type clearIndex struct {
	byEntityTimeline map[tableKey]*btree.BTreeG[clearMark]
}

func newClearIndex() *clearIndex {
	return &clearIndex{byEntityTimeline: make(map[tableKey]*btree.BTreeG[clearMark])}
}

// observe scans a batch of store events for Clear component additions
// and records them. Only Additions matter: a clear's dominance, once
// logged, persists even across later compaction/GC of the chunk that
// carried it (the index is independent storage, not a view of live
// chunks).
func (idx *clearIndex) observe(events []Event) {
	for _, ev := range events {
		if ev.Kind != Addition || ev.ChunkAfterProcessing == nil {
			continue
		}
		c := ev.ChunkAfterProcessing
		if c.IsStatic() {
			continue
		}
		entityHash := c.EntityPath().Hash()
		for _, desc := range c.Components() {
			if !desc.ComponentType.IsClear() {
				continue
			}
			col, _ := c.Column(desc)
			for _, t := range c.Timelines() {
				tc, _ := c.TimeColumn(t)
				key := tableKey{entity: entityHash, timeline: t}
				tree, ok := idx.byEntityTimeline[key]
				if !ok {
					tree = btree.NewG[clearMark](16, clearMarkLess)
					idx.byEntityTimeline[key] = tree
				}
				for i, cell := range col {
					if !cell.Present {
						continue
					}
					recursive, _ := cell.Value.(bool)
					tree.ReplaceOrInsert(clearMark{time: tc.Times[i], rowID: c.RowIDs()[i], recursive: recursive})
				}
			}
		}
	}
}

// forgetEntity drops every recorded clear mark for entity e, on every
// timeline. Called when e is dropped from the store entirely, so a
// later re-insert under the same path isn't masked by a stale clear.
func (idx *clearIndex) forgetEntity(e hash.EntityPathHash) {
	for key := range idx.byEntityTimeline {
		if key.entity == e {
			delete(idx.byEntityTimeline, key)
		}
	}
}

// dominatingMark returns the strongest clear mark (by time, rowid)
// that applies to entity E on timeline T at or before `at`: E's own
// mark (flat or recursive) and every strict ancestor's recursive mark.
func (idx *clearIndex) dominatingMark(e entitypath.EntityPath, t timeline.TimelineName, at timeline.TimeInt) (clearMark, bool) {
	var best clearMark
	found := false

	consider := func(m clearMark, ok bool) {
		if !ok {
			return
		}
		if !found || clearMarkLess(best, m) {
			best, found = m, true
		}
	}

	if tree, ok := idx.byEntityTimeline[tableKey{entity: e.Hash(), timeline: t}]; ok {
		consider(floorClearMark(tree, at))
	}

	for p := e.Parent(); ; p = p.Parent() {
		if tree, ok := idx.byEntityTimeline[tableKey{entity: p.Hash(), timeline: t}]; ok {
			tree.DescendLessOrEqual(clearMark{time: at, rowID: maxRowID()}, func(m clearMark) bool {
				if !m.recursive {
					return true
				}
				consider(m, true)
				return false
			})
		}
		if p.IsRoot() {
			break
		}
	}

	return best, found
}

func floorClearMark(tree *btree.BTreeG[clearMark], at timeline.TimeInt) (clearMark, bool) {
	var found clearMark
	ok := false
	tree.DescendLessOrEqual(clearMark{time: at, rowID: maxRowID()}, func(m clearMark) bool {
		found = m
		ok = true
		return false
	})
	return found, ok
}

// maxRowID is a pivot value that sorts after every real RowId with the
// same time, so DescendLessOrEqual's pivot comparison only constrains
// on time.
func maxRowID() rowid.RowId {
	var r rowid.RowId
	for i := range r {
		r[i] = 0xff
	}
	return r
}
