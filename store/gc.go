package store

import (
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rerun-io/chunkstore/chunk"
	"github.com/rerun-io/chunkstore/rowid"
	"github.com/rerun-io/chunkstore/timeline"
)

// GCOptions configures one GarbageCollect pass.
type GCOptions struct {
	// TargetBytes is the size the store should shrink to, if it is
	// currently larger; GC is a no-op when the store is already at or
	// under this budget.
	TargetBytes uint64

	// ProtectedTimeRanges exempts any chunk whose time range on the
	// given timeline intersects the given range from eviction,
	// regardless of age.
	ProtectedTimeRanges map[timeline.TimelineName]timeline.AbsoluteTimeRange

	// ProtectLatestN, if set, exempts the N most recent chunks (by
	// oldest contained RowId) of every (entity, timeline) table from
	// eviction, so a latest-at query on any protected timeline never
	// regresses to nothing purely because of GC.
	ProtectLatestN *uint32
}

// GCReport summarizes one GarbageCollect pass.
type GCReport struct {
	BytesFreed  uint64
	ChunksFreed uint64
}

// GarbageCollect evicts chunks, oldest-first by their smallest
// contained RowId, until the store's total size is at or under
// opts.TargetBytes or no more unprotected chunks remain. Static state
// is never a GC candidate. It returns the run's report and the
// Deletion events produced, in eviction order.
func (s *ChunkStore) GarbageCollect(opts GCOptions) (GCReport, []Event) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.stats.gcLatency.sampleSince(start)

	if s.totalBytes <= opts.TargetBytes {
		return GCReport{}, nil
	}
	s.generation++

	protected := s.protectedChunkIDs(opts)

	type candidate struct {
		chunk  *chunk.Chunk
		tables []tableKey
	}
	byID := make(map[rowid.ChunkId]*candidate)
	for key, table := range s.temporal {
		for _, c := range table.allChunks() {
			cand, ok := byID[c.ID()]
			if !ok {
				cand = &candidate{chunk: c}
				byID[c.ID()] = cand
			}
			cand.tables = append(cand.tables, key)
		}
	}

	cands := make([]*candidate, 0, len(byID))
	for id, cand := range byID {
		if _, isProtected := protected[id]; isProtected {
			continue
		}
		cands = append(cands, cand)
	}
	sort.Slice(cands, func(i, j int) bool {
		return oldestRowID(cands[i].chunk).Less(oldestRowID(cands[j].chunk))
	})

	var report GCReport
	var events []Event
	for _, cand := range cands {
		if s.totalBytes <= opts.TargetBytes {
			break
		}
		for _, key := range cand.tables {
			table, ok := s.temporal[key]
			if !ok {
				continue
			}
			table.removeChunk(cand.chunk.ID())
			if table.isEmpty() {
				delete(s.temporal, key)
			}
		}
		delete(s.chunksByID, cand.chunk.ID())
		s.totalBytes -= cand.chunk.SizeBytes()
		s.forgetRowMetadata(cand.chunk)
		report.BytesFreed += cand.chunk.SizeBytes()
		report.ChunksFreed++
		events = append(events, Event{Kind: Deletion, ChunkAfterProcessing: cand.chunk})
	}

	for i := range events {
		s.nextEventID++
		events[i].StoreID = s.id
		events[i].EventID = s.nextEventID
	}
	s.metrics.observeGC(report)
	s.logger.Info().
		Uint64("chunks_freed", report.ChunksFreed).
		Str("bytes_freed", humanize.Bytes(report.BytesFreed)).
		Str("remaining", humanize.Bytes(s.totalBytes)).
		Msg("garbage collection complete")
	s.deliver(events)
	return report, events
}

func (s *ChunkStore) protectedChunkIDs(opts GCOptions) map[rowid.ChunkId]struct{} {
	protected := make(map[rowid.ChunkId]struct{})

	for key, table := range s.temporal {
		if rng, ok := opts.ProtectedTimeRanges[key.timeline]; ok {
			for _, c := range table.allChunks() {
				if tc, ok := c.TimeColumn(key.timeline); ok && tc.Range.Intersects(rng) {
					protected[c.ID()] = struct{}{}
				}
			}
		}

		if opts.ProtectLatestN != nil {
			n := int(*opts.ProtectLatestN)
			chunks := table.allChunks()
			sort.Slice(chunks, func(i, j int) bool {
				return oldestRowID(chunks[i]).Less(oldestRowID(chunks[j]))
			})
			for i := len(chunks) - 1; i >= 0 && len(chunks)-i <= n; i-- {
				protected[chunks[i].ID()] = struct{}{}
			}
		}
	}
	return protected
}

func oldestRowID(c *chunk.Chunk) rowid.RowId {
	rowIDs := c.RowIDs()
	oldest := rowIDs[0]
	for _, r := range rowIDs[1:] {
		if r.Less(oldest) {
			oldest = r
		}
	}
	return oldest
}
