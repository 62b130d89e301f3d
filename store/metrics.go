package store

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the store's prometheus instrumentation. A nil
// *Metrics (the zero value of ChunkStore.metrics) disables recording
// entirely, so stores created without a registry pay no overhead.
type Metrics struct {
	insertsTotal     prometheus.Counter
	rowsInsertedTot  prometheus.Counter
	compactionsTotal prometheus.Counter
	splitsTotal      prometheus.Counter
	gcChunksFreed    prometheus.Counter
	gcBytesFreed     prometheus.Counter
}

// NewMetrics builds and registers the store's prometheus collectors
// under the given registerer. Pass prometheus.DefaultRegisterer to use
// the global registry.
func NewMetrics(reg prometheus.Registerer, storeID string) *Metrics {
	labels := prometheus.Labels{"store_id": storeID}
	m := &Metrics{
		insertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkstore", Name: "inserts_total",
			Help:        "Number of insert_chunk calls that added at least one row.",
			ConstLabels: labels,
		}),
		rowsInsertedTot: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkstore", Name: "rows_inserted_total",
			Help:        "Number of rows accepted across all inserts.",
			ConstLabels: labels,
		}),
		compactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkstore", Name: "compactions_total",
			Help:        "Number of compaction runs.",
			ConstLabels: labels,
		}),
		splitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkstore", Name: "bucket_splits_total",
			Help:        "Number of bucket splits.",
			ConstLabels: labels,
		}),
		gcChunksFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkstore", Name: "gc_chunks_freed_total",
			Help:        "Number of chunks evicted by garbage collection.",
			ConstLabels: labels,
		}),
		gcBytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkstore", Name: "gc_bytes_freed_total",
			Help:        "Bytes freed by garbage collection.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.insertsTotal, m.rowsInsertedTot, m.compactionsTotal, m.splitsTotal, m.gcChunksFreed, m.gcBytesFreed)
	}
	return m
}

func (m *Metrics) observeInsert(rows int) {
	if m == nil {
		return
	}
	m.insertsTotal.Inc()
	m.rowsInsertedTot.Add(float64(rows))
}

func (m *Metrics) observeCompaction() {
	if m == nil {
		return
	}
	m.compactionsTotal.Inc()
}

func (m *Metrics) observeSplit() {
	if m == nil {
		return
	}
	m.splitsTotal.Inc()
}

func (m *Metrics) observeGC(report GCReport) {
	if m == nil {
		return
	}
	m.gcChunksFreed.Add(float64(report.ChunksFreed))
	m.gcBytesFreed.Add(float64(report.BytesFreed))
}
