// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for probe invocations
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Search phases
const (
	PhaseLoad    = "load"
	PhaseBracket = "bracket"
	PhaseRefine  = "refine"
)

// Metrics holds the Prometheus collectors for the benchmarking engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ProbeInvocations *prometheus.CounterVec
	ResponseTime     *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	SearchTrials     *prometheus.CounterVec
	Snapshots        *prometheus.CounterVec
	MonitorFailures  *prometheus.CounterVec
	Reconstructions  *prometheus.CounterVec
	registry         *prometheus.Registry
}

// New creates the collectors and registers them with a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		ProbeInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capscout_probe_invocations_total",
				Help: "Total number of probe invocations by outcome",
			},
			[]string{"probe", "outcome"},
		),
		ResponseTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capscout_probe_response_seconds",
				Help:    "Client-observed probe response time in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"probe"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "capscout_probe_in_flight",
				Help: "Probe invocations dispatched but not yet finished",
			},
			[]string{"probe"},
		),
		SearchTrials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capscout_search_trials_total",
				Help: "Executions run by the load and throughput searches",
			},
			[]string{"probe", "phase"},
		),
		Snapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capscout_cluster_snapshots_total",
				Help: "Cluster snapshots recorded by the background sampler",
			},
			[]string{"cluster"},
		),
		MonitorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capscout_monitor_failures_total",
				Help: "Failed cluster sample attempts",
			},
			[]string{"cluster"},
		),
		Reconstructions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capscout_cluster_reconstructions_total",
				Help: "Cluster handle reconstructions by result",
			},
			[]string{"cluster", "result"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.ProbeInvocations,
		m.ResponseTime,
		m.InFlight,
		m.SearchTrials,
		m.Snapshots,
		m.MonitorFailures,
		m.Reconstructions,
	)

	return m
}

// ProbeStarted marks one invocation as in flight
func (m *Metrics) ProbeStarted(probe string) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(probe).Inc()
}

// ProbeFinished records the outcome of one invocation
func (m *Metrics) ProbeFinished(probe string, responseTime time.Duration, err error) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(probe).Dec()
	if err != nil {
		m.ProbeInvocations.WithLabelValues(probe, OutcomeFailure).Inc()
		return
	}
	m.ProbeInvocations.WithLabelValues(probe, OutcomeSuccess).Inc()
	m.ResponseTime.WithLabelValues(probe).Observe(responseTime.Seconds())
}

// SearchTrial counts one execution run by a search phase
func (m *Metrics) SearchTrial(probe, phase string) {
	if m == nil {
		return
	}
	m.SearchTrials.WithLabelValues(probe, phase).Inc()
}

// SnapshotRecorded counts a stored cluster snapshot
func (m *Metrics) SnapshotRecorded(cluster string) {
	if m == nil {
		return
	}
	m.Snapshots.WithLabelValues(cluster).Inc()
}

// MonitorFailed counts a failed sample attempt
func (m *Metrics) MonitorFailed(cluster string) {
	if m == nil {
		return
	}
	m.MonitorFailures.WithLabelValues(cluster).Inc()
}

// Reconstructed counts a reconstruction attempt
func (m *Metrics) Reconstructed(cluster string, err error) {
	if m == nil {
		return
	}
	result := OutcomeSuccess
	if err != nil {
		result = OutcomeFailure
	}
	m.Reconstructions.WithLabelValues(cluster, result).Inc()
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
