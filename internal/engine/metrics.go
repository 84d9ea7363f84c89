package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments synchronization passes and status publishing.
// A nil *Metrics records nothing.
type Metrics struct {
	passes     *prometheus.CounterVec // by outcome: ok, catalog_error
	duration   prometheus.Histogram
	devices    *prometheus.GaugeVec // by state
	bindings   prometheus.Gauge
	created    prometheus.Counter
	published  *prometheus.CounterVec // by outcome: ok, error
	suppressed prometheus.Counter
	dropped    prometheus.Counter
}

// NewMetrics registers engine metrics. A nil registerer disables them.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foraknx",
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Synchronization passes, by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "foraknx",
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of completed synchronization passes",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "foraknx",
			Subsystem: "sync",
			Name:      "devices",
			Help:      "Devices in the last pass, by provisioning state",
		}, []string{"state"}),
		bindings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "foraknx",
			Subsystem: "sync",
			Name:      "bindings",
			Help:      "Fieldbus bindings held by the active pass",
		}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foraknx",
			Subsystem: "sync",
			Name:      "datapoints_created_total",
			Help:      "Datapoints created in the catalog",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foraknx",
			Subsystem: "status",
			Name:      "published_total",
			Help:      "Status values published to the bus, by outcome",
		}, []string{"outcome"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foraknx",
			Subsystem: "status",
			Name:      "initial_suppressed_total",
			Help:      "First values after bind that were not published",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foraknx",
			Subsystem: "control",
			Name:      "dropped_total",
			Help:      "Control messages dropped because the dispatch queue was full",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.passes, m.duration, m.devices, m.bindings, m.created, m.published, m.suppressed, m.dropped,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordPass(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.duration.Observe(seconds)
	}
}

func (m *Metrics) recordDevices(devices []DeviceStatus, bindings int) {
	if m == nil {
		return
	}
	counts := map[DeviceState]int{}
	for _, d := range devices {
		counts[d.State]++
	}
	for _, s := range []DeviceState{StateUnprovisioned, StateDatapointsResolving, StateBindingsActive, StateFailed} {
		m.devices.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
	m.bindings.Set(float64(bindings))
}

func (m *Metrics) recordCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *Metrics) recordPublish(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.published.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordSuppressed() {
	if m == nil {
		return
	}
	m.suppressed.Inc()
}

func (m *Metrics) recordControlDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
