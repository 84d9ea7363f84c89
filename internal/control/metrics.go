package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts router activity. A nil *Metrics records nothing.
type Metrics struct {
	dispatched *prometheus.CounterVec // by outcome: written, decode_error, write_error
	echoed     *prometheus.CounterVec // by outcome: ok, error
	unrouted   prometheus.Counter
}

// NewMetrics registers router metrics. A nil registerer disables them.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foraknx",
			Subsystem: "router",
			Name:      "registrations_dispatched_total",
			Help:      "Control messages handed to registrations, by outcome",
		}, []string{"outcome"}),
		echoed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foraknx",
			Subsystem: "router",
			Name:      "echoes_total",
			Help:      "Optimistic status echoes published, by outcome",
		}, []string{"outcome"}),
		unrouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foraknx",
			Subsystem: "router",
			Name:      "unrouted_total",
			Help:      "Control messages on topics with no registration",
		}),
	}

	for _, c := range []prometheus.Collector{m.dispatched, m.echoed, m.unrouted} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordDispatch(outcome string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordEcho(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.echoed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordUnrouted() {
	if m == nil {
		return
	}
	m.unrouted.Inc()
}
