package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	DiscoveryResults *prometheus.CounterVec
	ProbeOutcomes    *prometheus.CounterVec
	BatchRuns        *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
	BatchSize        prometheus.Histogram
	LifecycleCounts  *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		DiscoveryResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "storescout_discovery_results_total",
			Help: "Discovery calls by result (created, already_exists, invalid_url)",
		}, []string{"result"}),
		ProbeOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "storescout_probe_outcomes_total",
			Help: "Verification and health probes by probe name and outcome",
		}, []string{"probe", "outcome"}),
		BatchRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "storescout_batch_runs_total",
			Help: "Pipeline batch runs by result (completed, rejected, failed)",
		}, []string{"result"}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "storescout_batch_duration_seconds",
			Help:    "Wall-clock duration of pipeline batch runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "storescout_batch_size",
			Help:    "Number of candidates processed per batch run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		LifecycleCounts: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storescout_candidates_by_lifecycle",
			Help: "Current candidate counts per lifecycle status",
		}, []string{"status"}),
	}
}

// ObserveDiscovery increments the discovery result counter.
func (m *Metrics) ObserveDiscovery(result string) {
	m.DiscoveryResults.WithLabelValues(result).Inc()
}

// ObserveProbe increments the probe outcome counter.
func (m *Metrics) ObserveProbe(probe, outcome string) {
	m.ProbeOutcomes.WithLabelValues(probe, outcome).Inc()
}
