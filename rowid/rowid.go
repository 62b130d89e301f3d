// Package rowid defines the 128-bit time-ordered identifiers used
// throughout the store: RowId for logical rows, ChunkId for chunk
// instances.
package rowid

import (
	"bytes"

	"github.com/google/uuid"
)

// RowId is a 128-bit time-ordered unique id. Rows within a chunk carry
// strictly ascending RowIds; RowIds are unique across the whole store.
type RowId uuid.UUID

// ChunkId is a 128-bit unique id identifying one chunk instance. A
// chunk produced by compaction gets a fresh ChunkId; its inputs keep
// their original ids for lineage purposes.
type ChunkId uuid.UUID

// NewRowId allocates a fresh, time-ordered RowId.
func NewRowId() RowId {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the global entropy source errors;
		// fall back to a random v4 rather than propagating an error
		// from an id allocator.
		id = uuid.New()
	}
	return RowId(id)
}

// NewChunkId allocates a fresh, time-ordered ChunkId.
func NewChunkId() ChunkId {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ChunkId(id)
}

// Compare orders RowIds; since v7 UUIDs are time-ordered this doubles
// as a (time, tiebreak) comparison.
func (r RowId) Compare(other RowId) int {
	return bytes.Compare(r[:], other[:])
}

// Less reports whether r sorts strictly before other.
func (r RowId) Less(other RowId) bool {
	return r.Compare(other) < 0
}

// String renders the canonical textual form.
func (r RowId) String() string {
	return uuid.UUID(r).String()
}

// Compare orders ChunkIds by their underlying bytes.
func (c ChunkId) Compare(other ChunkId) int {
	return bytes.Compare(c[:], other[:])
}

// String renders the canonical textual form.
func (c ChunkId) String() string {
	return uuid.UUID(c).String()
}
