// Package transformcache implements the transform resolution cache: a
// store subscriber that accelerates repeated parent-from-child and
// pinhole-projection lookups, lazily resolving and invalidating
// per-(timeline, frame, time) slots as chunk-store events arrive.
package transformcache

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"golang.org/x/sync/singleflight"

	"github.com/rerun-io/chunkstore/component"
	"github.com/rerun-io/chunkstore/entitypath"
	"github.com/rerun-io/chunkstore/hash"
	"github.com/rerun-io/chunkstore/timeline"
)

// FrameId names the coordinate frame defined by an entity: the frame
// its children's transforms are expressed relative to. It is simply
// the defining entity's path hash.
type FrameId = hash.EntityPathHash

// ParentFromChild is the resolved affine transform from a frame's
// parent into the frame itself. The value is opaque to the cache; it
// is whatever the store's transform component carried.
type ParentFromChild struct {
	Value any
}

// PinholeProjection is the resolved camera projection attached to a
// frame, opaque for the same reason as ParentFromChild.
type PinholeProjection struct {
	Value any
}

// TransformDescriptor and PinholeDescriptor name the component columns
// the cache watches and resolves against.
var (
	TransformDescriptor = component.Descriptor{ComponentType: component.Intern("rerun.components.Transform3D")}
	PinholeDescriptor   = component.Descriptor{ComponentType: component.Intern("rerun.components.PinholeProjection")}
)

// Source is the read-only store surface the cache materializes
// Invalidated slots against. *store.ChunkStore satisfies this.
type Source interface {
	LatestAt(e entitypath.EntityPath, t timeline.TimelineName, at timeline.TimeInt, d component.Descriptor) (component.UnitCell, bool)
}

type slotState int

const (
	stateInvalidated slotState = iota
	stateResident
	stateCleared
)

// slot is one entry in a frame's sparse per-timeline timeline, keyed
// by time; the btree orders purely on time so ReplaceOrInsert at an
// existing key overwrites it, giving map<TimeInt, _> semantics.
type slot struct {
	time  timeline.TimeInt
	state slotState
	value any
}

func slotLess(a, b slot) bool { return a.time < b.time }

// frameTimelines holds one frame's two parallel cached timelines.
type frameTimelines struct {
	frameTransforms    *btree.BTreeG[slot]
	pinholeProjections *btree.BTreeG[slot]
}

func newFrameTimelines() *frameTimelines {
	return &frameTimelines{
		frameTransforms:    btree.NewG[slot](16, slotLess),
		pinholeProjections: btree.NewG[slot](16, slotLess),
	}
}

func (ft *frameTimelines) cloneFrom(other *frameTimelines) *frameTimelines {
	out := newFrameTimelines()
	other.frameTransforms.Ascend(func(s slot) bool { out.frameTransforms.ReplaceOrInsert(s); return true })
	other.pinholeProjections.Ascend(func(s slot) bool { out.pinholeProjections.ReplaceOrInsert(s); return true })
	return out
}

type kind int

const (
	kindTransform kind = iota
	kindPinhole
)

func treeFor(ft *frameTimelines, k kind) *btree.BTreeG[slot] {
	if k == kindTransform {
		return ft.frameTransforms
	}
	return ft.pinholeProjections
}

func descriptorFor(k kind) component.Descriptor {
	if k == kindTransform {
		return TransformDescriptor
	}
	return PinholeDescriptor
}

func wrap(k kind, v any) any {
	if k == kindTransform {
		return ParentFromChild{Value: v}
	}
	return PinholeProjection{Value: v}
}

// Cache is a read-mostly, lock-protected transform resolution cache.
// It is driven entirely by chunk-store events delivered through
// OnEvents (satisfying store.Subscriber); it never calls a mutating
// store API, breaking the cyclic data/control coupling between the
// cache and the store it observes.
type Cache struct {
	mu sync.RWMutex

	source Source

	static      map[FrameId]*frameTimelines
	perTimeline map[timeline.TimelineName]map[FrameId]*frameTimelines

	// entityOf lets the Clear handler recover the full entity path
	// for a frame (to test IsDescendantOf when resolving a recursive
	// clear against frames observed so far).
	entityOf map[FrameId]entitypath.EntityPath

	group singleflight.Group
}

// New constructs a cache that resolves against source.
func New(source Source) *Cache {
	return &Cache{
		source:      source,
		static:      make(map[FrameId]*frameTimelines),
		perTimeline: make(map[timeline.TimelineName]map[FrameId]*frameTimelines),
		entityOf:    make(map[FrameId]entitypath.EntityPath),
	}
}

func (c *Cache) frameTimelinesFor(t timeline.TimelineName, frame FrameId, create bool) *frameTimelines {
	perFrame, ok := c.perTimeline[t]
	if !ok {
		if !create {
			return nil
		}
		perFrame = make(map[FrameId]*frameTimelines)
		c.perTimeline[t] = perFrame
	}
	ft, ok := perFrame[frame]
	if !ok {
		if !create {
			return nil
		}
		if base, ok := c.static[frame]; ok {
			ft = newFrameTimelines().cloneFrom(base)
		} else {
			ft = newFrameTimelines()
		}
		perFrame[frame] = ft
	}
	return ft
}

func (c *Cache) staticFrameTimelinesFor(frame FrameId) *frameTimelines {
	ft, ok := c.static[frame]
	if !ok {
		ft = newFrameTimelines()
		c.static[frame] = ft
	}
	return ft
}

// LatestAtTransform resolves the ParentFromChild visible for the frame
// defined by e, on timeline t, at time at.
func (c *Cache) LatestAtTransform(e entitypath.EntityPath, t timeline.TimelineName, at timeline.TimeInt) (ParentFromChild, bool) {
	v, ok := c.latestAt(e, t, at, kindTransform)
	if !ok {
		return ParentFromChild{}, false
	}
	return v.(ParentFromChild), true
}

// LatestAtPinhole resolves the PinholeProjection visible for the frame
// defined by e, on timeline t, at time at.
func (c *Cache) LatestAtPinhole(e entitypath.EntityPath, t timeline.TimelineName, at timeline.TimeInt) (PinholeProjection, bool) {
	v, ok := c.latestAt(e, t, at, kindPinhole)
	if !ok {
		return PinholeProjection{}, false
	}
	return v.(PinholeProjection), true
}

func (c *Cache) latestAt(e entitypath.EntityPath, t timeline.TimelineName, at timeline.TimeInt, k kind) (any, bool) {
	frame := e.Hash()

	c.mu.RLock()
	ft := c.frameTimelinesFor(t, frame, false)
	if ft == nil {
		// No event has touched this frame on this timeline yet; fall
		// back to its static baseline directly rather than reporting a
		// miss outright.
		ft = c.static[frame]
	}
	if ft == nil {
		c.mu.RUnlock()
		return nil, false
	}
	var found slot
	hit := false
	treeFor(ft, k).DescendLessOrEqual(slot{time: at}, func(s slot) bool { found, hit = s, true; return false })
	c.mu.RUnlock()
	if !hit {
		return nil, false
	}

	switch found.state {
	case stateResident:
		return found.value, true
	case stateCleared:
		return nil, false
	default:
		return c.materialize(e, t, frame, found.time, k)
	}
}

// materialize resolves an Invalidated slot by querying the store at
// the slot's own recorded time — not at the caller's `at` — since a
// later Invalidated slot may correspond to a different upstream
// event. Concurrent materializations of the same slot collapse into
// one store query via singleflight.
func (c *Cache) materialize(e entitypath.EntityPath, t timeline.TimelineName, frame FrameId, keyTime timeline.TimeInt, k kind) (any, bool) {
	sfKey := fmt.Sprintf("%s|%s|%d|%d", t.String(), frame.String(), k, keyTime)
	result, _, _ := c.group.Do(sfKey, func() (any, error) {
		cell, ok := c.source.LatestAt(e, t, keyTime, descriptorFor(k))

		c.mu.Lock()
		defer c.mu.Unlock()
		ft := c.frameTimelinesFor(t, frame, true)
		c.entityOf[frame] = e

		var resolved slot
		if ok {
			resolved = slot{time: keyTime, state: stateResident, value: wrap(k, cell.Value)}
		} else {
			resolved = slot{time: keyTime, state: stateCleared}
		}
		treeFor(ft, k).ReplaceOrInsert(resolved)
		if resolved.state == stateCleared {
			return nil, nil
		}
		return resolved.value, nil
	})
	if result == nil {
		return nil, false
	}
	return result, true
}
