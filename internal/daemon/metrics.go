package daemon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ccpanes/ccpanes/internal/status"
)

// Metrics are the daemon's prometheus series, on their own registry so tests
// and multiple daemons in one process don't collide.
type Metrics struct {
	registry *prometheus.Registry

	Passes      *prometheus.CounterVec
	Sessions    *prometheus.GaugeVec
	Transitions *prometheus.CounterVec
	TitleWrites *prometheus.CounterVec
	PassSeconds prometheus.Histogram
	LastPass    prometheus.Gauge
	Primary     prometheus.Gauge
}

// NewMetrics registers every series, plus the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ccpanes",
			Name:      "refresh_passes_total",
			Help:      "Refresh passes by result.",
		}, []string{"result"}),
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ccpanes",
			Name:      "sessions",
			Help:      "Detected sessions by status in the current snapshot.",
		}, []string{"status"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ccpanes",
			Name:      "status_transitions_total",
			Help:      "Status transitions by target status (\"ended\" for vanished sessions).",
		}, []string{"to"}),
		TitleWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ccpanes",
			Name:      "tab_title_writes_total",
			Help:      "Tab title updates by result.",
		}, []string{"result"}),
		PassSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ccpanes",
			Name:      "refresh_pass_duration_seconds",
			Help:      "Wall time of successful refresh passes.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		}),
		LastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ccpanes",
			Name:      "last_successful_pass_timestamp_seconds",
			Help:      "Unix time of the last successful refresh pass.",
		}),
		Primary: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ccpanes",
			Name:      "daemon_primary",
			Help:      "1 when this daemon owns tab titles.",
		}),
	}
	reg.MustRegister(
		m.Passes, m.Sessions, m.Transitions, m.TitleWrites, m.PassSeconds, m.LastPass, m.Primary,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, s := range status.All {
		m.Sessions.WithLabelValues(string(s)).Set(0)
	}
	return m
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) setCounts(counts map[status.Status]int) {
	for _, s := range status.All {
		m.Sessions.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
