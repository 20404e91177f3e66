// Package metrics holds the Prometheus collectors exported by the ledger worker
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ff_margin_indexer"

// Metrics is the collector set of the ledger worker
type Metrics struct {
	// EventsProcessed counts committed events by kind
	EventsProcessed *prometheus.CounterVec
	// EventsSkipped counts redelivered events at or below the cursor
	EventsSkipped prometheus.Counter
	// EventFailures counts failed event attempts by kind and reason
	EventFailures *prometheus.CounterVec
	// PositionsInvalidated counts margin positions moved to Unknown at a transaction boundary
	PositionsInvalidated prometheus.Counter
	// ContractsRegistered counts contracts discovered at runtime by kind
	ContractsRegistered *prometheus.CounterVec
	// LastBlock is the block number of the last committed event
	LastBlock prometheus.Gauge
	// ProcessDuration observes the time spent applying and committing one event
	ProcessDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "events_processed_total",
			Help:      "Total events applied and committed, by event kind.",
		}, []string{"kind"}),
		EventsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "events_skipped_total",
			Help:      "Total redelivered events acknowledged without being applied.",
		}),
		EventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "event_failures_total",
			Help:      "Total failed attempts to apply an event, by event kind and reason.",
		}, []string{"kind", "reason"}),
		PositionsInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "positions_invalidated_total",
			Help:      "Total margin positions moved to Unknown by plain trades.",
		}),
		ContractsRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "contracts_registered_total",
			Help:      "Total contracts registered for watching, by contract kind.",
		}, []string{"kind"}),
		LastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "last_committed_block",
			Help:      "Block number of the last committed event.",
		}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "event_process_duration_seconds",
			Help:      "Time spent applying and committing one event.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.EventsProcessed,
		m.EventsSkipped,
		m.EventFailures,
		m.PositionsInvalidated,
		m.ContractsRegistered,
		m.LastBlock,
		m.ProcessDuration,
	)

	return m
}
