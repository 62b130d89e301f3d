// Package store implements ChunkStore: the temporal, columnar chunk
// index that backs a recording. It owns chunk storage, per-(entity,
// timeline) bucketed indices, static (timeless) component state,
// compaction, garbage collection, and an ordered subscriber bus.
package store

import (
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/rerun-io/chunkstore/chunk"
	"github.com/rerun-io/chunkstore/component"
	"github.com/rerun-io/chunkstore/entitypath"
	"github.com/rerun-io/chunkstore/hash"
	"github.com/rerun-io/chunkstore/rowid"
	"github.com/rerun-io/chunkstore/storeerr"
	"github.com/rerun-io/chunkstore/timeline"
)

// tableKey identifies one per-(entity, timeline) IndexedTable, and
// doubles as the key for the clear-observation index.
type tableKey struct {
	entity   hash.EntityPathHash
	timeline timeline.TimelineName
}

// rowMetadata is the metadata registry's value: the TimePoint a row
// was logged at (empty for a static row) and the entity it belongs
// to.
type rowMetadata struct {
	Point  timeline.TimePoint
	Entity hash.EntityPathHash
}

// ChunkStore is the top-level, concurrency-safe owner of one
// recording's chunk data.
type ChunkStore struct {
	id      string
	cfg     Config
	logger  zerolog.Logger
	metrics *Metrics

	mu sync.RWMutex

	chunksByID map[rowid.ChunkId]*chunk.Chunk
	temporal   map[tableKey]*IndexedTable

	// staticCells holds the store's resolved timeless state: for each
	// entity and component descriptor, the value carried by the
	// greatest RowId ever logged for it. Raw static chunks are kept
	// only in chunksByID once folded in here, not in any index — static
	// data is never compacted, split, or garbage collected, so there is
	// nothing an index would buy beyond this resolved view.
	staticCells      map[hash.EntityPathHash]map[component.Descriptor]component.UnitCell
	staticChunkCount uint64
	staticBytes      uint64

	// staticRowIDs is a superset of staticCells' winning RowIds: every
	// RowId ever logged statically for an entity, winner or not. Since
	// a superseded static row is never otherwise destroyed under this
	// resolved-state design, this is what lets DropEntityPath forget
	// its metadata registry entry too.
	staticRowIDs map[hash.EntityPathHash]map[rowid.RowId]struct{}

	typeRegistry map[component.Descriptor]component.DataType

	// metadataRegistry records, for every RowId carried by a live
	// chunk, the TimePoint it was logged at and the entity it belongs
	// to. An entry is retained exactly as long as some live chunk
	// still carries that RowId: compaction and splitting preserve the
	// RowId set they operate on and so never touch this map, but GC
	// and DropEntityPath must purge the rows of every chunk they
	// destroy.
	metadataRegistry map[rowid.RowId]rowMetadata

	entityPaths map[hash.EntityPathHash]entitypath.EntityPath

	clearIdx *clearIndex

	// queryCache memoizes LatestAt results; generation is bumped on
	// every mutation so the whole cache is treated as stale in one
	// comparison instead of hunting down every key a write touched.
	queryCache *lru.Cache[latestAtCacheKey, latestAtCacheEntry]
	generation uint64

	totalBytes uint64

	nextEventID      uint64
	nextSubscriberID uint64
	subscribers      []*subscriberSlot
	incidents        []storeerr.SubscriberIncident

	stats *internalStats
}

// New constructs an empty store. id is an opaque label attached to
// every emitted Event (e.g. a recording id); metrics may be nil to
// disable prometheus instrumentation.
func New(id string, cfg Config, logger zerolog.Logger, metrics *Metrics) *ChunkStore {
	queryCache, _ := lru.New[latestAtCacheKey, latestAtCacheEntry](4096)
	return &ChunkStore{
		id:               id,
		cfg:              cfg,
		logger:           logger.With().Str("store_id", id).Logger(),
		metrics:          metrics,
		chunksByID:       make(map[rowid.ChunkId]*chunk.Chunk),
		temporal:         make(map[tableKey]*IndexedTable),
		staticCells:      make(map[hash.EntityPathHash]map[component.Descriptor]component.UnitCell),
		staticRowIDs:     make(map[hash.EntityPathHash]map[rowid.RowId]struct{}),
		typeRegistry:     make(map[component.Descriptor]component.DataType),
		metadataRegistry: make(map[rowid.RowId]rowMetadata),
		entityPaths:      make(map[hash.EntityPathHash]entitypath.EntityPath),
		clearIdx:         newClearIndex(),
		queryCache:       queryCache,
		stats:            newInternalStats(),
	}
}

// ID returns the store's label.
func (s *ChunkStore) ID() string { return s.id }

func (s *ChunkStore) recordEntity(e entitypath.EntityPath) {
	h := e.Hash()
	if _, ok := s.entityPaths[h]; !ok {
		s.entityPaths[h] = e
	}
}

// checkSchema registers, or validates against, the DataType inferred
// for each of c's component columns, per component type name. A
// disagreement aborts the whole insert: nothing from the chunk is
// applied, including registrations for its other columns.
func (s *ChunkStore) checkSchema(c *chunk.Chunk) error {
	pending := make(map[component.Descriptor]component.DataType)
	for _, d := range c.Components() {
		col, ok := c.Column(d)
		if !ok {
			continue
		}
		dt, ok := component.InferColumnType(d.ComponentType, col)
		if !ok {
			// An all-absent column carries no evidence of its type;
			// nothing to check or register yet.
			continue
		}
		key := component.Descriptor{ComponentType: d.ComponentType}
		existing, seen := s.typeRegistry[key]
		if !seen {
			existing, seen = pending[key]
		}
		if seen {
			if existing.Kind != dt.Kind {
				return storeerr.SchemaMismatch(fmt.Sprintf(
					"descriptor %s: registered kind %q, got %q", d, existing.Kind, dt.Kind))
			}
			continue
		}
		pending[key] = dt
	}
	for key, dt := range pending {
		s.typeRegistry[key] = dt
	}
	return nil
}

// InsertChunk adds c's rows to the store. A RowId already carried by
// a live chunk is a collision: the colliding row is silently dropped
// before anything else happens, and if every row collides the insert
// is a no-op that returns no events and no error. It fails without
// applying anything if c's id already exists in the store or if any
// of its surviving columns disagree with a previously registered
// DataType. On success it returns the ordered events produced: the
// chunk's own Addition, plus any split or compaction events the
// insert triggered as a side effect, in the order they occurred.
func (s *ChunkStore) InsertChunk(c *chunk.Chunk) ([]Event, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.stats.insertLatency.sampleSince(start)

	if _, dup := s.chunksByID[c.ID()]; dup {
		return nil, storeerr.Malformed("chunk id already present in store")
	}

	c, ok := s.dedupeRows(c)
	if !ok {
		return nil, nil
	}

	if err := s.checkSchema(c); err != nil {
		return nil, err
	}

	s.generation++
	s.recordEntity(c.EntityPath())
	s.recordRowMetadata(c)

	// Registered before indexing, so a compaction triggered by this
	// insert removes c from chunksByID along with its other inputs.
	s.chunksByID[c.ID()] = c
	s.totalBytes += c.SizeBytes()

	var events []Event
	if c.IsStatic() {
		events = append(events, s.insertStatic(c))
	} else {
		events = append(events, s.insertTemporal(c)...)
	}

	s.metrics.observeInsert(c.NumRows())

	for i := range events {
		s.nextEventID++
		events[i].StoreID = s.id
		events[i].EventID = s.nextEventID
	}

	s.clearIdx.observe(events)
	s.deliver(events)

	return events, nil
}

// dedupeRows drops every row of c whose RowId already belongs to a
// live chunk, returning a fresh chunk over the surviving rows; ok is
// false if nothing survives. c itself is returned unchanged (same
// identity) when no row collided.
func (s *ChunkStore) dedupeRows(c *chunk.Chunk) (*chunk.Chunk, bool) {
	rowIDs := c.RowIDs()
	idx := make([]int, 0, len(rowIDs))
	for i, rid := range rowIDs {
		if _, live := s.metadataRegistry[rid]; !live {
			idx = append(idx, i)
		}
	}
	if len(idx) == len(rowIDs) {
		return c, true
	}
	if len(idx) == 0 {
		return nil, false
	}
	deduped, err := sliceChunk(c, idx)
	if err != nil {
		return nil, false
	}
	return deduped, true
}

// recordRowMetadata registers c's rows in the metadata registry,
// keyed by RowId. A static chunk's rows get an empty (static)
// TimePoint.
func (s *ChunkStore) recordRowMetadata(c *chunk.Chunk) {
	entity := c.EntityPath().Hash()
	rowIDs := c.RowIDs()
	points := make([]timeline.TimePoint, len(rowIDs))
	for _, t := range c.Timelines() {
		tc, ok := c.TimeColumn(t)
		if !ok {
			continue
		}
		for i, tm := range tc.Times {
			if points[i] == nil {
				points[i] = make(timeline.TimePoint, 1)
			}
			points[i][t] = tm
		}
	}
	for i, rid := range rowIDs {
		s.metadataRegistry[rid] = rowMetadata{Point: points[i], Entity: entity}
	}
}

// forgetRowMetadata purges the metadata registry entries for every
// row of a chunk the caller just destroyed.
func (s *ChunkStore) forgetRowMetadata(c *chunk.Chunk) {
	for _, rid := range c.RowIDs() {
		delete(s.metadataRegistry, rid)
	}
}

func (s *ChunkStore) insertStatic(c *chunk.Chunk) Event {
	h := c.EntityPath().Hash()
	cells, ok := s.staticCells[h]
	if !ok {
		cells = make(map[component.Descriptor]component.UnitCell)
		s.staticCells[h] = cells
	}
	rowIDs, ok := s.staticRowIDs[h]
	if !ok {
		rowIDs = make(map[rowid.RowId]struct{})
		s.staticRowIDs[h] = rowIDs
	}
	for _, d := range c.Components() {
		col, _ := c.Column(d)
		for i, cell := range col {
			if !cell.Present {
				continue
			}
			rid := c.RowIDs()[i]
			rowIDs[rid] = struct{}{}
			if existing, ok := cells[d]; !ok || rid.Compare(existing.RowId) > 0 {
				cells[d] = component.UnitCell{RowId: rid, Time: timeline.Static, Value: cell.Value}
			}
		}
	}
	s.staticChunkCount++
	s.staticBytes += c.SizeBytes()
	return Event{Kind: Addition, ChunkAfterProcessing: c}
}

// insertTemporal indexes c into every IndexedTable for the timelines
// it carries data on. A chunk's first timeline (by name, the order
// Chunk.Timelines returns) is treated as primary: it alone can trigger a bucket split,
// and the resulting halves are then mirrored into the chunk's other
// timeline tables so every table's view stays consistent with what
// the primary table holds. Compaction is likewise only considered on
// the primary table, for the same reason.
func (s *ChunkStore) insertTemporal(c *chunk.Chunk) []Event {
	events := []Event{{Kind: Addition, ChunkAfterProcessing: c}}

	h := c.EntityPath().Hash()
	timelines := c.Timelines()
	tables := make([]*IndexedTable, len(timelines))
	for i, t := range timelines {
		key := tableKey{entity: h, timeline: t}
		table, ok := s.temporal[key]
		if !ok {
			table = newIndexedTable(t)
			s.temporal[key] = table
		}
		tables[i] = table
	}

	primary := tables[0]
	splitEvents := primary.insert(c, s.cfg)
	mirrorCfg := s.cfg
	mirrorCfg.BucketRows, mirrorCfg.BucketBytes = math.MaxUint64, math.MaxUint64
	if len(splitEvents) == 2 {
		s.metrics.observeSplit()
		left, right := splitEvents[0].ChunkAfterProcessing, splitEvents[1].ChunkAfterProcessing
		for _, table := range tables[1:] {
			table.removeChunk(c.ID())
			table.insert(left, mirrorCfg)
			table.insert(right, mirrorCfg)
		}
	} else {
		for _, table := range tables[1:] {
			table.insert(c, mirrorCfg)
		}
	}
	events = append(events, splitEvents...)

	if compacted, ok := s.maybeCompact(primary); ok {
		events = append(events, compacted)
	}
	return events
}

// maybeCompact runs the compaction predicate over every bucket of
// table, applying at most one compaction (the first qualifying
// bucket) per call; a subsequent insert will pick up any bucket still
// eligible afterward.
func (s *ChunkStore) maybeCompact(table *IndexedTable) (Event, bool) {
	var result Event
	found := false
	table.buckets.Ascend(func(b *IndexedBucket) bool {
		if !shouldCompact(s.cfg, b) {
			return true
		}
		replaced, merged, ok := compact(s.cfg, b)
		if !ok {
			return true
		}
		lineageChunks := make(map[rowid.ChunkId]*chunk.Chunk, len(replaced))
		for _, old := range replaced {
			lineageChunks[old.ID()] = old
			delete(s.chunksByID, old.ID())
			s.totalBytes -= old.SizeBytes()
		}
		s.chunksByID[merged.ID()] = merged
		s.totalBytes += merged.SizeBytes()
		s.metrics.observeCompaction()
		result = Event{
			Kind:                 Addition,
			ChunkAfterProcessing: merged,
			Lineage:              Lineage{Kind: CompactedFrom, CompactedFromChunks: lineageChunks},
		}
		found = true
		return false
	})
	return result, found
}

// DropEntityPath removes every table and static entry for e and every
// entity beneath it in the hierarchy, returning the Deletion events
// produced for every affected chunk.
func (s *ChunkStore) DropEntityPath(e entitypath.EntityPath) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++

	affected := make(map[hash.EntityPathHash]struct{})
	for h, path := range s.entityPaths {
		if path.IsDescendantOf(e) {
			affected[h] = struct{}{}
		}
	}

	var events []Event
	for key, table := range s.temporal {
		if _, ok := affected[key.entity]; !ok {
			continue
		}
		for _, c := range table.allChunks() {
			delete(s.chunksByID, c.ID())
			s.totalBytes -= c.SizeBytes()
			s.forgetRowMetadata(c)
			events = append(events, Event{Kind: Deletion, ChunkAfterProcessing: c})
		}
		delete(s.temporal, key)
	}
	for id, c := range s.chunksByID {
		if !c.IsStatic() {
			continue
		}
		if _, ok := affected[c.EntityPath().Hash()]; !ok {
			continue
		}
		delete(s.chunksByID, id)
		s.totalBytes -= c.SizeBytes()
		s.staticChunkCount--
		s.staticBytes -= c.SizeBytes()
		events = append(events, Event{Kind: Deletion, ChunkAfterProcessing: c})
	}
	for h := range affected {
		for rid := range s.staticRowIDs[h] {
			delete(s.metadataRegistry, rid)
		}
		delete(s.staticRowIDs, h)
		delete(s.staticCells, h)
		delete(s.entityPaths, h)
		s.clearIdx.forgetEntity(h)
	}

	for i := range events {
		s.nextEventID++
		events[i].StoreID = s.id
		events[i].EventID = s.nextEventID
	}
	s.deliver(events)
	return events
}

// RowMetadata looks up the TimePoint and entity a RowId was logged
// under, if the row still belongs to a live chunk.
func (s *ChunkStore) RowMetadata(id rowid.RowId) (timeline.TimePoint, hash.EntityPathHash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metadataRegistry[id]
	if !ok {
		return nil, hash.EntityPathHash{}, false
	}
	return m.Point, m.Entity, true
}

// Stats returns a point-in-time snapshot of the store's size and
// latency characteristics.
func (s *ChunkStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entities := make(map[hash.EntityPathHash]struct{})
	timelines := make(map[timeline.TimelineName]struct{})
	var rows uint64
	for key, table := range s.temporal {
		entities[key.entity] = struct{}{}
		timelines[key.timeline] = struct{}{}
		rows += table.bucketsNumRows
	}
	for h := range s.staticCells {
		entities[h] = struct{}{}
	}

	return Stats{
		NumChunks:        uint64(len(s.chunksByID)),
		NumRows:          rows,
		SizeBytes:        s.totalBytes,
		NumEntities:      len(entities),
		NumTimelines:     len(timelines),
		InsertLatencyAvg: time.Duration(s.stats.insertLatency.meanNanos()),
		GCLatencyAvg:     time.Duration(s.stats.gcLatency.meanNanos()),
	}
}
