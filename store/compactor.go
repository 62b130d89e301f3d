package store

import "github.com/rerun-io/chunkstore/chunk"

// shouldCompact reports whether bucket b satisfies the compaction
// predicate: at least CompactionMinChunks chunks, and either the last chunk is smaller than the min-rows-per-chunk
// threshold (derived from CompactionTargetRows, see Config) or the
// last two chunks together are smaller than CompactionTargetBytes.
func shouldCompact(cfg Config, b *IndexedBucket) bool {
	if !cfg.compactionEnabled() {
		return false
	}
	n := len(b.chunks)
	if uint32(n) < cfg.CompactionMinChunks {
		return false
	}

	last := b.chunks[n-1]
	if uint64(last.NumRows()) < cfg.CompactionTargetRows {
		return true
	}
	if n >= 2 {
		combined := last.SizeBytes() + b.chunks[n-2].SizeBytes()
		if combined < cfg.CompactionTargetBytes {
			return true
		}
	}
	return false
}

// compact selects the maximal suffix of b's chunks whose combined size
// stays under CompactionTargetBytes and whose combined rows stay under
// CompactionTargetRows, concatenates them into one new chunk, and
// replaces the inputs with it in place. It reports the inputs that
// were replaced and the chunk that replaced them; ok is false if fewer
// than two chunks qualified.
func compact(cfg Config, b *IndexedBucket) (replaced []*chunk.Chunk, result *chunk.Chunk, ok bool) {
	n := len(b.chunks)
	start := n
	var rows, size uint64
	for i := n - 1; i >= 0; i-- {
		c := b.chunks[i]
		nr := rows + uint64(c.NumRows())
		ns := size + c.SizeBytes()
		if i < n-1 && (nr >= cfg.CompactionTargetRows || ns >= cfg.CompactionTargetBytes) {
			break
		}
		rows, size = nr, ns
		start = i
	}

	if n-start < 2 {
		return nil, nil, false
	}

	inputs := append([]*chunk.Chunk(nil), b.chunks[start:n]...)
	merged, err := chunk.Concatenated(inputs...)
	if err != nil {
		return nil, nil, false
	}

	remaining := append([]*chunk.Chunk(nil), b.chunks[:start]...)
	remaining = append(remaining, merged)
	b.chunks = remaining
	b.recompute()

	return inputs, merged, true
}
