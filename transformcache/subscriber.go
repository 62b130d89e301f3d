package transformcache

import (
	"github.com/google/btree"

	"github.com/rerun-io/chunkstore/chunk"
	"github.com/rerun-io/chunkstore/component"
	"github.com/rerun-io/chunkstore/entitypath"
	"github.com/rerun-io/chunkstore/store"
	"github.com/rerun-io/chunkstore/timeline"
)

// OnEvents applies a batch of store events to the cache, satisfying
// store.Subscriber. It is always called under the store's write lock,
// so handlers here must not block or call back into the store.
func (c *Cache) OnEvents(events []store.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ev := range events {
		if ev.ChunkAfterProcessing == nil {
			continue
		}
		switch ev.Lineage.Kind {
		case store.CompactedFrom:
			for _, input := range ev.Lineage.CompactedFromChunks {
				c.onDeletionLocked(input)
			}
			c.onAdditionLocked(ev.ChunkAfterProcessing)
		default:
			switch ev.Kind {
			case store.Addition:
				c.onAdditionLocked(ev.ChunkAfterProcessing)
			case store.Deletion:
				c.onDeletionLocked(ev.ChunkAfterProcessing)
			}
		}
	}
}

// onAdditionLocked invalidates or clears the slots a newly added
// chunk's rows affect. Static chunks update the static baseline
// instead of any per-timeline entry.
func (c *Cache) onAdditionLocked(ch *chunk.Chunk) {
	e := ch.EntityPath()
	frame := e.Hash()
	c.entityOf[frame] = e

	for _, d := range ch.Components() {
		if d.ComponentType.IsClear() {
			c.applyClearLocked(ch, d)
			continue
		}
		k, ok := kindOfDescriptor(d)
		if !ok {
			continue
		}

		if ch.IsStatic() {
			col, _ := ch.Column(d)
			ft := c.staticFrameTimelinesFor(frame)
			for _, cell := range col {
				if !cell.Present {
					continue
				}
				invalidateUnlessCleared(treeFor(ft, k), timeline.Static)
			}
			continue
		}

		for _, t := range ch.Timelines() {
			tc, ok := ch.TimeColumn(t)
			if !ok {
				continue
			}
			col, ok := ch.Column(d)
			if !ok {
				continue
			}
			ft := c.frameTimelinesFor(t, frame, true)
			tree := treeFor(ft, k)
			for i, cell := range col {
				if !cell.Present {
					continue
				}
				invalidateUnlessCleared(tree, tc.Times[i])
			}
		}
	}
}

func invalidateUnlessCleared(tree *btree.BTreeG[slot], at timeline.TimeInt) {
	if existing, ok := tree.Get(slot{time: at}); ok && existing.state == stateCleared {
		return
	}
	tree.ReplaceOrInsert(slot{time: at, state: stateInvalidated})
}

// onDeletionLocked flips the slots touched by a removed chunk's rows
// back to Invalidated, so a future query re-resolves from whatever
// data remains rather than trusting a value the removed chunk may
// have produced. This is deliberately conservative relative to the
// alternative of dropping the slot outright when the chunk was its
// sole contributor: the cache does not track per-slot provenance, so
// it always re-derives rather than risk leaving a stale Resident.
func (c *Cache) onDeletionLocked(ch *chunk.Chunk) {
	e := ch.EntityPath()
	frame := e.Hash()

	for _, d := range ch.Components() {
		if d.ComponentType.IsClear() {
			continue
		}
		k, ok := kindOfDescriptor(d)
		if !ok {
			continue
		}

		if ch.IsStatic() {
			ft := c.static[frame]
			if ft == nil {
				continue
			}
			col, _ := ch.Column(d)
			for _, cell := range col {
				if !cell.Present {
					continue
				}
				invalidateIfPresent(treeFor(ft, k), timeline.Static)
			}
			continue
		}

		for _, t := range ch.Timelines() {
			ft := c.frameTimelinesFor(t, frame, false)
			if ft == nil {
				continue
			}
			tc, ok := ch.TimeColumn(t)
			if !ok {
				continue
			}
			col, ok := ch.Column(d)
			if !ok {
				continue
			}
			tree := treeFor(ft, k)
			for i, cell := range col {
				if !cell.Present {
					continue
				}
				invalidateIfPresent(tree, tc.Times[i])
			}
		}
	}
}

func invalidateIfPresent(tree *btree.BTreeG[slot], at timeline.TimeInt) {
	if _, ok := tree.Get(slot{time: at}); ok {
		tree.ReplaceOrInsert(slot{time: at, state: stateInvalidated})
	}
}

// applyClearLocked inserts Cleared entries at a Clear cell's own time
// for the entity it targets (flat) or the entity and every descendant
// frame the cache has already observed (recursive).
func (c *Cache) applyClearLocked(ch *chunk.Chunk, d component.Descriptor) {
	col, ok := ch.Column(d)
	if !ok {
		return
	}
	e := ch.EntityPath()

	for i, cell := range col {
		if !cell.Present {
			continue
		}
		recursive, _ := cell.Value.(bool)
		t, at := clearTimeOf(ch, i)

		targets := []entitypath.EntityPath{e}
		if recursive {
			for _, path := range c.entityOf {
				if !path.Equal(e) && path.IsDescendantOf(e) {
					targets = append(targets, path)
				}
			}
		}
		for _, target := range targets {
			frame := target.Hash()
			for _, k := range []kind{kindTransform, kindPinhole} {
				var tree *btree.BTreeG[slot]
				if ch.IsStatic() {
					tree = treeFor(c.staticFrameTimelinesFor(frame), k)
				} else {
					tree = treeFor(c.frameTimelinesFor(t, frame, true), k)
				}
				tree.ReplaceOrInsert(slot{time: at, state: stateCleared})
			}
		}
	}
}

func clearTimeOf(ch *chunk.Chunk, row int) (timeline.TimelineName, timeline.TimeInt) {
	for _, t := range ch.Timelines() {
		if tc, ok := ch.TimeColumn(t); ok {
			return t, tc.Times[row]
		}
	}
	return timeline.TimelineName{}, timeline.Static
}

func kindOfDescriptor(d component.Descriptor) (kind, bool) {
	switch d.ComponentType {
	case TransformDescriptor.ComponentType:
		return kindTransform, true
	case PinholeDescriptor.ComponentType:
		return kindPinhole, true
	default:
		return 0, false
	}
}
