// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wgfleet"

// Metrics holds the collectors published on /metrics.
type Metrics struct {
	Syncs            prometheus.Counter
	SyncErrors       prometheus.Counter
	ProbeSweeps      prometheus.Counter
	Allocations      prometheus.Counter
	LifecycleErrors  prometheus.Counter
	ActiveInterfaces prometheus.Gauge
}

// New registers the fleet collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Syncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Completed interface reconciliation passes.",
		}),
		SyncErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_errors_total",
			Help:      "Reconciliation passes that ended in an error.",
		}),
		ProbeSweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_sweeps_total",
			Help:      "Completed MTU probe sweeps.",
		}),
		Allocations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "address_allocations_total",
			Help:      "Peer addresses handed out by the allocator.",
		}),
		LifecycleErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_errors_total",
			Help:      "Interface start/stop operations that failed.",
		}),
		ActiveInterfaces: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_interfaces",
			Help:      "Interfaces currently in the active state.",
		}),
	}
}
