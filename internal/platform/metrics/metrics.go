package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the PIP controller.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry              *prometheus.Registry
	commandsTotal         *prometheus.CounterVec
	pipStartsTotal        prometheus.Counter
	pipFailuresTotal      prometheus.Counter
	rebindsTotal          prometheus.Counter
	staleCompletionsTotal prometheus.Counter
	supersededOpsTotal    prometheus.Counter
	inPIP                 prometheus.Gauge
	playingStreams        prometheus.Gauge
}

// New creates and registers Prometheus metrics for the controller.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pip_bridge_commands_total",
		Help: "Bridge commands received, by route pattern and response status class",
	}, []string{"route", "status"})
	pipStartsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pip_sessions_started_total",
		Help: "Total number of PIP sessions that became active",
	})
	pipFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pip_failures_total",
		Help: "Total number of PIP bind or platform failures reported to the host",
	})
	rebindsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pip_rebinds_total",
		Help: "Total number of in-place PIP source or render mode switches",
	})
	staleCompletionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pip_stale_completions_total",
		Help: "Pipeline completions dropped because a newer request superseded them",
	})
	supersededOpsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pip_superseded_operations_total",
		Help: "Queued pipeline requests replaced before they were issued",
	})
	inPIP := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pip_active",
		Help: "1 while a PIP session is active, 0 otherwise",
	})
	playingStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pip_playing_streams",
		Help: "Number of normal playback bindings",
	})

	registry.MustRegister(
		commandsTotal,
		pipStartsTotal,
		pipFailuresTotal,
		rebindsTotal,
		staleCompletionsTotal,
		supersededOpsTotal,
		inPIP,
		playingStreams,
	)

	return &Metrics{
		registry:              registry,
		commandsTotal:         commandsTotal,
		pipStartsTotal:        pipStartsTotal,
		pipFailuresTotal:      pipFailuresTotal,
		rebindsTotal:          rebindsTotal,
		staleCompletionsTotal: staleCompletionsTotal,
		supersededOpsTotal:    supersededOpsTotal,
		inPIP:                 inPIP,
		playingStreams:        playingStreams,
	}
}

// IncCommand counts a bridge command for route with the given status class ("2xx", "4xx", ...).
func (m *Metrics) IncCommand(route, status string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(route, status).Inc()
}

// IncPIPStarts increments the started sessions counter.
func (m *Metrics) IncPIPStarts() {
	if m == nil {
		return
	}
	m.pipStartsTotal.Inc()
}

// IncPIPFailures increments the failures counter.
func (m *Metrics) IncPIPFailures() {
	if m == nil {
		return
	}
	m.pipFailuresTotal.Inc()
}

// IncRebinds increments the rebind counter.
func (m *Metrics) IncRebinds() {
	if m == nil {
		return
	}
	m.rebindsTotal.Inc()
}

// IncStaleCompletions increments the stale completion counter.
func (m *Metrics) IncStaleCompletions() {
	if m == nil {
		return
	}
	m.staleCompletionsTotal.Inc()
}

// IncSupersededOps increments the superseded operations counter.
func (m *Metrics) IncSupersededOps() {
	if m == nil {
		return
	}
	m.supersededOpsTotal.Inc()
}

// SetInPIP sets the active session gauge.
func (m *Metrics) SetInPIP(active bool) {
	if m == nil {
		return
	}
	if active {
		m.inPIP.Set(1)
		return
	}
	m.inPIP.Set(0)
}

// SetPlayingStreams sets the playback bindings gauge.
func (m *Metrics) SetPlayingStreams(n int) {
	if m == nil {
		return
	}
	m.playingStreams.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
