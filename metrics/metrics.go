// Package metrics exposes the ledger core's prometheus instrumentation:
// one struct owning every collector, registered once at construction and
// handed by reference to whichever component needs to record against it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the ledger core updates. Nil-safe callers
// check for a nil *Metrics before calling, so wiring metrics in is opt-in.
type Metrics struct {
	BlocksCommitted  prometheus.Counter
	BlocksDiscarded  prometheus.Counter
	TxnsCommitted    prometheus.Counter
	TxnsRejected     *prometheus.CounterVec // labeled by ledgererr.Kind string
	CacheRepairRuns  prometheus.Counter
	CacheRepairSkips prometheus.Counter
	LastTxnSid       prometheus.Gauge
	LastTxoSid       prometheus.Gauge
	BlockHeight      prometheus.Gauge
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgercore", Name: "blocks_committed_total",
			Help: "Total blocks committed.",
		}),
		BlocksDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgercore", Name: "blocks_discarded_total",
			Help: "Total blocks discarded before finish_block completed.",
		}),
		TxnsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgercore", Name: "transactions_committed_total",
			Help: "Total transactions committed across all blocks.",
		}),
		TxnsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgercore", Name: "transactions_rejected_total",
			Help: "Total transactions rejected, labeled by error kind.",
		}, []string{"kind"}),
		CacheRepairRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgercore", Name: "cache_repair_runs_total",
			Help: "Total cache repair sweeps run.",
		}),
		CacheRepairSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgercore", Name: "cache_repair_skips_total",
			Help: "Total index entries the repair pass could not rebuild.",
		}),
		LastTxnSid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledgercore", Name: "last_txn_sid",
			Help: "Highest fully-indexed transaction serial id, plus one.",
		}),
		LastTxoSid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledgercore", Name: "last_txo_sid",
			Help: "Highest fully-indexed output serial id, plus one.",
		}),
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledgercore", Name: "block_height",
			Help: "Height of the most recently committed block.",
		}),
	}
	reg.MustRegister(
		m.BlocksCommitted, m.BlocksDiscarded, m.TxnsCommitted, m.TxnsRejected,
		m.CacheRepairRuns, m.CacheRepairSkips, m.LastTxnSid, m.LastTxoSid, m.BlockHeight,
	)
	return m
}

// ObserveWatermarks records the cache's advancing watermarks.
func (m *Metrics) ObserveWatermarks(lastTxnSid, lastTxoSid uint64) {
	if m == nil {
		return
	}
	m.LastTxnSid.Set(float64(lastTxnSid))
	m.LastTxoSid.Set(float64(lastTxoSid))
}

// CacheRepairRun records one repair sweep and how many entries it had to
// skip as unrecoverable.
func (m *Metrics) CacheRepairRun(skipped int) {
	if m == nil {
		return
	}
	m.CacheRepairRuns.Inc()
	if skipped > 0 {
		m.CacheRepairSkips.Add(float64(skipped))
	}
}

// RejectTransaction records a per-transaction rejection, labeled by error
// kind string (e.g. "InvalidTransaction", "ConflictWithState").
func (m *Metrics) RejectTransaction(kind string) {
	if m == nil {
		return
	}
	m.TxnsRejected.WithLabelValues(kind).Inc()
}

// CommitBlock records one successfully finalized block carrying n
// transactions, at the given height.
func (m *Metrics) CommitBlock(height uint64, n int) {
	if m == nil {
		return
	}
	m.BlocksCommitted.Inc()
	m.TxnsCommitted.Add(float64(n))
	m.BlockHeight.Set(float64(height))
}

// DiscardBlock records one block discarded before finish_block completed.
func (m *Metrics) DiscardBlock() {
	if m == nil {
		return
	}
	m.BlocksDiscarded.Inc()
}
