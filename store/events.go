package store

import (
	"github.com/rerun-io/chunkstore/chunk"
	"github.com/rerun-io/chunkstore/rowid"
)

// EventKind distinguishes an Addition from a Deletion.
type EventKind int

const (
	Addition EventKind = iota
	Deletion
)

func (k EventKind) String() string {
	if k == Addition {
		return "Addition"
	}
	return "Deletion"
}

// LineageKind distinguishes how a chunk came to be, for subscribers
// that need to reconstruct store state from the event stream alone.
type LineageKind int

const (
	NoLineage LineageKind = iota
	CompactedFrom
	SplitFrom
)

// Lineage is attached to an event when the chunk being added replaces
// others (compaction) or is half of a chunk split across a bucket
// boundary.
type Lineage struct {
	Kind LineageKind

	// CompactedFromChunks holds every chunk the compaction replaced,
	// keyed by ChunkId, when Kind == CompactedFrom.
	CompactedFromChunks map[rowid.ChunkId]*chunk.Chunk

	// SplitFromChunk is the original chunk id this half was split
	// from, when Kind == SplitFrom.
	SplitFromChunk rowid.ChunkId
}

// Event is one entry in a store's ordered change stream.
type Event struct {
	StoreID string
	EventID uint64

	Kind                 EventKind
	ChunkAfterProcessing *chunk.Chunk
	Lineage              Lineage
}
