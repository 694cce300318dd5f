// Package metrics provides Prometheus metrics instrumentation for the analyzer.
//
// It exposes operational metrics about the collection loop and the analysis
// pipeline, including the duration of each stage (observe, record, analyze),
// the current aggregate risk score, and error tracking. All metrics are
// exposed via the /metrics HTTP endpoint for Prometheus scraping.
//
// Metrics exposed:
//   - auspex_source_observe_seconds: Histogram of metric source observation duration
//   - auspex_history_record_seconds: Histogram of snapshot persistence duration
//   - auspex_analysis_seconds: Histogram of trend and prediction computation duration
//   - auspex_risk_score: Gauge of the current aggregate risk score
//   - auspex_services_tracked: Gauge of services in the monitored topology
//   - auspex_snapshots_stored: Gauge of snapshots currently retained
//   - auspex_at_risk_services: Gauge of services with an active failure prediction
//   - auspex_errors_total: Counter of errors by component and reason
//
// All metrics include the source label to distinguish deployments fed by
// different metric sources.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the analyzer.
type Metrics struct {
	SourceObserveSeconds prometheus.Histogram
	HistoryRecordSeconds prometheus.Histogram
	AnalysisSeconds      prometheus.Histogram
	RiskScore            prometheus.Gauge
	ServicesTracked      prometheus.Gauge
	SnapshotsStored      prometheus.Gauge
	AtRiskServices       prometheus.Gauge
	ErrorsTotal          *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(source string) *Metrics {
	return &Metrics{
		SourceObserveSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "auspex_source_observe_seconds",
			Help: "Time spent observing metrics from the source",
			ConstLabels: prometheus.Labels{
				"source": source,
			},
			Buckets: prometheus.DefBuckets,
		}),

		HistoryRecordSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "auspex_history_record_seconds",
			Help: "Time spent persisting snapshots to the history store",
			ConstLabels: prometheus.Labels{
				"source": source,
			},
			Buckets: prometheus.DefBuckets,
		}),

		AnalysisSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "auspex_analysis_seconds",
			Help: "Time spent computing trends and failure predictions",
			ConstLabels: prometheus.Labels{
				"source": source,
			},
			Buckets: prometheus.DefBuckets,
		}),

		RiskScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auspex_risk_score",
			Help: "Current aggregate risk score (0-100)",
			ConstLabels: prometheus.Labels{
				"source": source,
			},
		}),

		ServicesTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auspex_services_tracked",
			Help: "Number of services in the monitored topology",
			ConstLabels: prometheus.Labels{
				"source": source,
			},
		}),

		SnapshotsStored: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auspex_snapshots_stored",
			Help: "Number of snapshots currently retained in history",
			ConstLabels: prometheus.Labels{
				"source": source,
			},
		}),

		AtRiskServices: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auspex_at_risk_services",
			Help: "Number of services with an active failure prediction",
			ConstLabels: prometheus.Labels{
				"source": source,
			},
		}),

		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auspex_errors_total",
			Help: "Total number of errors by component and reason",
			ConstLabels: prometheus.Labels{
				"source": source,
			},
		}, []string{"component", "reason"}),
	}
}

// RecordObserve records the time spent observing the metric source.
func (m *Metrics) RecordObserve(seconds float64) {
	m.SourceObserveSeconds.Observe(seconds)
}

// RecordStore records the time spent persisting a snapshot.
func (m *Metrics) RecordStore(seconds float64) {
	m.HistoryRecordSeconds.Observe(seconds)
}

// RecordAnalysis records the time spent on trend and prediction computation.
func (m *Metrics) RecordAnalysis(seconds float64) {
	m.AnalysisSeconds.Observe(seconds)
}

// SetRiskScore sets the current aggregate risk score.
func (m *Metrics) SetRiskScore(score float64) {
	m.RiskScore.Set(score)
}

// SetServicesTracked sets the number of services in the topology.
func (m *Metrics) SetServicesTracked(n int) {
	m.ServicesTracked.Set(float64(n))
}

// SetSnapshotsStored sets the number of retained snapshots.
func (m *Metrics) SetSnapshotsStored(n int) {
	m.SnapshotsStored.Set(float64(n))
}

// SetAtRiskServices sets the number of services with an active failure prediction.
func (m *Metrics) SetAtRiskServices(n int) {
	m.AtRiskServices.Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
