package store

import (
	"fmt"
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"github.com/dustin/go-humanize"
)

// latencyHistogram wraps an hdrhistogram.Histogram behind a mutex so
// latency samples can be recorded concurrently with readers pulling a
// Stats snapshot.
type latencyHistogram struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{hist: hdrhistogram.New(1, 10_000_000_000, 3)}
}

func (h *latencyHistogram) sampleSince(start time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.hist.RecordValue(time.Since(start).Nanoseconds())
}

func (h *latencyHistogram) meanNanos() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Mean()
}

// Stats is a point-in-time, read-only snapshot of a store's size and
// latency characteristics.
type Stats struct {
	NumChunks        uint64
	NumRows          uint64
	SizeBytes        uint64
	NumEntities      int
	NumTimelines     int
	InsertLatencyAvg time.Duration
	GCLatencyAvg     time.Duration
}

// String renders a human-readable one-line summary, suitable for log
// messages that shouldn't print raw byte counts.
func (s Stats) String() string {
	return fmt.Sprintf(
		"chunks=%d rows=%d size=%s entities=%d timelines=%d insert_avg=%s gc_avg=%s",
		s.NumChunks, s.NumRows, humanize.Bytes(s.SizeBytes), s.NumEntities, s.NumTimelines,
		s.InsertLatencyAvg, s.GCLatencyAvg,
	)
}

// internalStats is the store's mutable latency-sampling state.
type internalStats struct {
	insertLatency *latencyHistogram
	gcLatency     *latencyHistogram
}

func newInternalStats() *internalStats {
	return &internalStats{insertLatency: newLatencyHistogram(), gcLatency: newLatencyHistogram()}
}
