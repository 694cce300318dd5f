// Package main implements the core collection loop orchestration.
//
// This file contains the Analyzer type which orchestrates the collection
// pipeline:
//
//	observe → classify → record → predict
//
// The Analyzer runs continuously via Run(), executing Tick() at regular
// intervals. Each tick observes the metric source, derives per-service health
// statuses and the system-wide risk score, records a snapshot in the history
// store, and refreshes the failure-prediction gauges.
//
// The collection loop is instrumented with Prometheus metrics tracking the
// duration of each pipeline stage (observe, record, analyze) and any errors
// encountered during execution.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/auspexhq/auspex/cmd/analyzer/metrics"
	"github.com/auspexhq/auspex/pkg/history"
	"github.com/auspexhq/auspex/pkg/predict"
	"github.com/auspexhq/auspex/pkg/source"
	"github.com/auspexhq/auspex/pkg/topology"
)

// predictionWindow bounds the history queried for each tick's prediction
// refresh. One hour of one-per-minute snapshots is enough for the
// extrapolated time estimates.
const predictionWindow = time.Hour

// Analyzer orchestrates the collection loop: observe → classify → record → predict.
type Analyzer struct {
	src       source.Source
	store     history.Store
	graph     *topology.Graph
	predictor *predict.Predictor
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// now is swappable for tests.
	now func() time.Time
}

// NewAnalyzer creates a new Analyzer.
func NewAnalyzer(
	src source.Source,
	store history.Store,
	graph *topology.Graph,
	predictor *predict.Predictor,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Analyzer{
		src:       src,
		store:     store,
		graph:     graph,
		predictor: predictor,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Run executes the collection loop at regular intervals.
// Blocks until context is canceled.
func (a *Analyzer) Run(ctx context.Context, interval time.Duration) error {
	a.logger.Info("starting collection loop", "interval", interval, "services", a.graph.Len())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := a.Tick(ctx); err != nil {
		a.logger.Error("initial collection tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("collection loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Tick(ctx); err != nil {
				a.logger.Error("collection tick failed", "error", err)
			}
		}
	}
}

// Tick performs one collection cycle.
// Exported for testing purposes.
func (a *Analyzer) Tick(ctx context.Context) error {
	start := time.Now()
	a.logger.Debug("starting collection tick")

	sample, observeDuration, err := a.observe(ctx)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordError("source", "observe_failed")
		}
		return fmt.Errorf("observe: %w", err)
	}

	snapshot, riskScore := a.assemble(sample)

	recordDuration, err := a.record(ctx, snapshot)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordError("history", "record_failed")
		}
		return fmt.Errorf("record: %w", err)
	}

	atRisk, analysisDuration, err := a.refreshPredictions(ctx)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordError("predict", "report_failed")
		}
		return fmt.Errorf("predict: %w", err)
	}

	if a.metrics != nil {
		a.metrics.SetRiskScore(riskScore)
		a.metrics.SetServicesTracked(a.graph.Len())
		a.metrics.SetAtRiskServices(atRisk)

		if stats, err := a.store.Statistics(ctx); err == nil {
			a.metrics.SetSnapshotsStored(stats.TotalSnapshots)
		}
	}

	totalDuration := time.Since(start)
	a.logger.Info("collection tick complete",
		"source", a.src.Name(),
		"risk_score", riskScore,
		"at_risk_services", atRisk,
		"observe_ms", observeDuration.Milliseconds(),
		"record_ms", recordDuration.Milliseconds(),
		"analyze_ms", analysisDuration.Milliseconds(),
		"total_ms", totalDuration.Milliseconds(),
	)

	return nil
}

// observe retrieves the current readings from the metric source.
func (a *Analyzer) observe(ctx context.Context) (source.Sample, time.Duration, error) {
	start := time.Now()

	sample, err := a.src.Observe(ctx)
	if err != nil {
		return source.Sample{}, 0, err
	}

	duration := time.Since(start)

	if a.metrics != nil {
		a.metrics.RecordObserve(duration.Seconds())
	}

	a.logger.Debug("observed metrics",
		"source", a.src.Name(),
		"services", len(sample.CPUUsage),
		"duration_ms", duration.Milliseconds(),
	)

	return sample, duration, nil
}

// assemble classifies each service's readings, derives the system risk
// score, and builds the snapshot to record.
func (a *Analyzer) assemble(sample source.Sample) (history.Snapshot, float64) {
	statuses := make(map[string]topology.Status, a.graph.Len())
	for _, node := range a.graph.Services() {
		statuses[node.ID] = a.graph.Classify(node.ID, topology.ServiceMetrics{
			CPUUsage:    sample.CPUUsage[node.ID],
			MemoryUsage: sample.MemoryUsage[node.ID],
			ErrorRate:   sample.ErrorRate[node.ID],
			LatencyMS:   sample.Latency[node.ID],
		})
	}

	riskScore := topology.RiskScore(statuses)

	snapshot := history.Snapshot{
		Timestamp:   a.now(),
		RiskScore:   riskScore,
		CPUUsage:    sample.CPUUsage,
		MemoryUsage: sample.MemoryUsage,
		ErrorRate:   sample.ErrorRate,
		Latency:     sample.Latency,
	}

	return snapshot, riskScore
}

// record persists the snapshot in the history store.
func (a *Analyzer) record(ctx context.Context, snapshot history.Snapshot) (time.Duration, error) {
	start := time.Now()

	if err := a.store.Record(ctx, snapshot); err != nil {
		return 0, err
	}

	duration := time.Since(start)

	if a.metrics != nil {
		a.metrics.RecordStore(duration.Seconds())
	}

	a.logger.Debug("recorded snapshot", "duration_ms", duration.Milliseconds())
	return duration, nil
}

// refreshPredictions recomputes the failure report over the recent window
// and returns the number of at-risk services.
func (a *Analyzer) refreshPredictions(ctx context.Context) (int, time.Duration, error) {
	start := time.Now()

	snapshots, err := a.store.Query(ctx, predictionWindow)
	if err != nil {
		return 0, 0, err
	}
	if len(snapshots) == 0 {
		return 0, time.Since(start), nil
	}

	report, err := a.predictor.Report(snapshots, a.graph)
	if err != nil {
		return 0, 0, err
	}

	duration := time.Since(start)

	if a.metrics != nil {
		a.metrics.RecordAnalysis(duration.Seconds())
	}

	a.logger.Debug("refreshed predictions",
		"at_risk_services", report.TotalAtRiskServices,
		"cascades", len(report.CascadePredictions),
		"duration_ms", duration.Milliseconds(),
	)

	return report.TotalAtRiskServices, duration, nil
}
