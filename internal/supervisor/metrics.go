package supervisor

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transition outcomes recorded in the mode_transitions_total metric.
const (
	outcomeSuccess  = "success"
	outcomeRollback = "rollback"
	outcomeDefault  = "emergency_default"
	outcomeFailed   = "failed"
)

// metrics holds the supervisor's Prometheus collectors. A nil *metrics
// records nothing.
type metrics struct {
	ticks       *prometheus.CounterVec
	tickLatency prometheus.Histogram
	transitions *prometheus.CounterVec
	currentMode *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &metrics{
		ticks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_ticks_total",
				Help: "Ticks executed, by result (" + strings.Join(tickResults, ", ") + ")",
			},
			[]string{"result"},
		),
		tickLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cortex_tick_duration_seconds",
				Help:    "Wall time of a single tick including the decision engine call",
				Buckets: prometheus.DefBuckets,
			},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_mode_transitions_total",
				Help: "Mode transitions by source mode, target mode and outcome",
			},
			[]string{"from", "to", "outcome"},
		),
		currentMode: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cortex_current_mode",
				Help: "1 for the mode currently running, 0 otherwise",
			},
			[]string{"mode"},
		),
	}
}

func (m *metrics) observeTick(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(result).Inc()
	m.tickLatency.Observe(d.Seconds())
}

func (m *metrics) observeTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, outcome).Inc()
}

func (m *metrics) setMode(modes []string, current string) {
	if m == nil {
		return
	}
	for _, name := range modes {
		v := 0.0
		if name == current {
			v = 1
		}
		m.currentMode.WithLabelValues(name).Set(v)
	}
}
