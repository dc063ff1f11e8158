// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Eviction reasons reported on the evictions counter.
const (
	ReasonFIFO    = "fifo"
	ReasonExpired = "expired"
	ReasonDedup   = "dedup"
	ReasonScore   = "score"
)

// Collector holds the prometheus instruments for the memory subsystem.
type Collector struct {
	cyclesTotal          prometheus.Counter
	cycleFailuresTotal   prometheus.Counter
	evictionsTotal       *prometheus.CounterVec
	compactedTotal       prometheus.Counter
	compactionBytesSaved prometheus.Counter
	storeEntries         prometheus.Gauge
}

// NewCollector registers the instruments on reg (DefaultRegisterer when nil).
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		cyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimizer_cycles_total",
			Help:      "Total number of optimization cycles run",
		}),
		cycleFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimizer_cycle_failures_total",
			Help:      "Total number of optimization cycles that recovered from a failure",
		}),
		evictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_evicted_total",
			Help:      "Total number of entries evicted, by reason",
		}, []string{"reason"}),
		compactedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_compacted_total",
			Help:      "Total number of entries rewritten by compaction",
		}),
		compactionBytesSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_bytes_saved_total",
			Help:      "Total bytes saved by compaction",
		}),
		storeEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_entries",
			Help:      "Current number of entries in the memory store",
		}),
	}
}

// ObserveCycle records the outcome of one optimization cycle.
func (c *Collector) ObserveCycle(recovered bool) {
	if c == nil {
		return
	}
	c.cyclesTotal.Inc()
	if recovered {
		c.cycleFailuresTotal.Inc()
	}
}

// AddEvictions records n evictions for the given reason.
func (c *Collector) AddEvictions(reason string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.evictionsTotal.WithLabelValues(reason).Add(float64(n))
}

// ObserveCompaction records one compaction pass.
func (c *Collector) ObserveCompaction(entries, bytesSaved int) {
	if c == nil {
		return
	}
	c.compactedTotal.Add(float64(entries))
	if bytesSaved > 0 {
		c.compactionBytesSaved.Add(float64(bytesSaved))
	}
}

// SetStoreEntries updates the store-size gauge.
func (c *Collector) SetStoreEntries(n int) {
	if c == nil {
		return
	}
	c.storeEntries.Set(float64(n))
}
