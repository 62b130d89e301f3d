package store

// Config holds the store's tunable thresholds.
type Config struct {
	// BucketRows is the row-count split threshold for an IndexedBucket.
	BucketRows uint64
	// BucketBytes is the byte-size split threshold for an IndexedBucket.
	BucketBytes uint64
	// CompactionMinChunks is the minimum number of chunks a bucket must
	// hold before compaction is considered.
	CompactionMinChunks uint32
	// CompactionTargetRows bounds the size, in rows, of a compacted
	// chunk; also doubles as the minimum-rows-per-chunk threshold
	// below which a bucket's tail chunk qualifies for compaction (see
	// DESIGN.md).
	CompactionTargetRows uint64
	// CompactionTargetBytes bounds the size, in bytes, of a compacted
	// chunk.
	CompactionTargetBytes uint64
}

// DefaultConfig returns reasonable production defaults.
func DefaultConfig() Config {
	return Config{
		BucketRows:            4096,
		BucketBytes:           8 * (1 << 20),
		CompactionMinChunks:   2,
		CompactionTargetRows:  4096,
		CompactionTargetBytes: 1 << 20,
	}
}

// CompactionDisabled returns a config identical to cfg but with
// compaction inhibited entirely.
func (c Config) CompactionDisabled() Config {
	c.CompactionTargetRows = 0
	c.CompactionTargetBytes = 0
	return c
}

// compactionEnabled reports whether this config allows compaction.
func (c Config) compactionEnabled() bool {
	return c.CompactionTargetRows > 0 || c.CompactionTargetBytes > 0
}
