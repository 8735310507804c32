// Package telemetry exposes graph activity as Prometheus metrics. It is a
// graph.Listener like any other external observer and never mutates engine
// state; besides the event stream every listener sees, Refresh reads the
// set's active count and record states once per reactor drain.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lattice-svc/lattice/pkg/graph"
)

// Metrics is a prometheus.Collector-backed graph.Listener.
type Metrics struct {
	reg *prometheus.Registry

	activeServices prometheus.Gauge
	byState        *prometheus.GaugeVec
	events         *prometheus.CounterVec
	startLatency   prometheus.Histogram

	starts map[string]time.Time
}

// New registers lattice's metrics in a fresh registry and returns both the
// registry (for the HTTP handler) and the Listener to attach to every
// record.
func New() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		starts: make(map[string]time.Time),
		activeServices: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "lattice",
			Name:      "active_services",
			Help:      "Number of services currently marked active.",
		}),
		byState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lattice",
			Name:      "services_by_state",
			Help:      "Number of services currently in each lifecycle state.",
		}, []string{"state"}),
		events: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lattice",
			Name:      "service_events_total",
			Help:      "Count of lifecycle events by kind.",
		}, []string{"event"}),
		startLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "lattice",
			Name:      "start_latency_seconds",
			Help:      "Time from start() to reaching STARTED.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	return reg, m
}

// ServiceEvent implements graph.Listener.
func (m *Metrics) ServiceEvent(name string, ev graph.Event) {
	m.events.WithLabelValues(ev.String()).Inc()

	switch ev {
	case graph.EvStarted:
		if t0, ok := m.starts[name]; ok {
			m.startLatency.Observe(time.Since(t0).Seconds())
			delete(m.starts, name)
		}
	case graph.EvStopped, graph.EvFailedStart, graph.EvStartCancelled:
		delete(m.starts, name)
	}
}

// NoteStartRequested should be called whenever start() is invoked on a
// record, so ServiceEvent can later compute its start latency. The event
// loop calls this right alongside Record.Start().
func (m *Metrics) NoteStartRequested(name string) {
	m.starts[name] = time.Now()
}

// Refresh recomputes the gauges from a full snapshot of the set; called
// once per reactor drain by the event loop rather than incrementally, since
// a single transition can move several records at once.
func (m *Metrics) Refresh(set *graph.Set) {
	m.activeServices.Set(float64(set.ActiveCount()))

	counts := map[graph.State]int{}
	for _, r := range set.All() {
		counts[r.State()]++
	}
	for _, st := range []graph.State{graph.Stopped, graph.Starting, graph.Started, graph.Stopping} {
		m.byState.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}
