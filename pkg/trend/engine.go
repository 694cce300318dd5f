// Package trend classifies the direction and severity of each tracked
// metric from a window of history snapshots using a deterministic policy
// (endpoint slope, coefficient of variation, per-metric thresholds).
package trend

import (
	"math"
	"time"

	"github.com/auspexhq/auspex/pkg/history"
)

// Direction labels how a metric is moving over the analysis window.
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionStable     Direction = "stable"
	DirectionVolatile   Direction = "volatile"
)

// Severity grades how concerning a metric's current level is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityNormal   Severity = "normal"
)

// Result is the classification of one metric over the window.
type Result struct {
	MetricName   string  `json:"metric_name"`
	CurrentValue float64 `json:"current_value"`
	AvgLastHour  float64 `json:"avg_last_hour"`
	// AvgLastDay is the mean over the whole queried window, whatever its
	// span.
	AvgLastDay     float64   `json:"avg_last_day"`
	TrendDirection Direction `json:"trend_direction"`
	// ChangeRate is the signed rate of change in metric units per minute.
	ChangeRate float64  `json:"change_rate"`
	Severity   Severity `json:"severity"`
}

// Thresholds set the severity cutoffs for one metric. Values at or above
// Critical grade critical, at or above Warning grade warning.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// Policy defines how metric series are classified.
type Policy struct {
	// VolatilityCutoff is the coefficient of variation above which a
	// series is labelled volatile regardless of slope. If <= 0, defaults
	// to 0.30.
	VolatilityCutoff float64

	// SlopeEpsilon is the change rate magnitude (units/min) below which
	// a series is labelled stable. If <= 0, defaults to 0.05.
	SlopeEpsilon float64

	// SeverityThresholds maps metric name to its cutoffs. Metrics with no
	// entry always grade normal. Nil uses DefaultThresholds.
	SeverityThresholds map[string]Thresholds
}

// DefaultThresholds returns the built-in severity cutoffs per metric.
// Usage metrics are percentages, error rates are percent of requests,
// latency is milliseconds, risk score is the 0-100 composite.
func DefaultThresholds() map[string]Thresholds {
	return map[string]Thresholds{
		history.MetricCPUUsage:    {Warning: 75, Critical: 90},
		history.MetricMemoryUsage: {Warning: 75, Critical: 90},
		history.MetricErrorRate:   {Warning: 5, Critical: 10},
		history.MetricLatency:     {Warning: 500, Critical: 1000},
		history.MetricRiskScore:   {Warning: 60, Critical: 80},
	}
}

// Engine computes trend classifications from snapshot windows.
type Engine struct {
	policy Policy
}

// NewEngine creates an engine, filling policy defaults.
func NewEngine(p Policy) *Engine {
	if p.VolatilityCutoff <= 0 {
		p.VolatilityCutoff = 0.30
	}
	if p.SlopeEpsilon <= 0 {
		p.SlopeEpsilon = 0.05
	}
	if p.SeverityThresholds == nil {
		p.SeverityThresholds = DefaultThresholds()
	}
	return &Engine{policy: p}
}

// Compute classifies every tracked metric over the given snapshots.
// Snapshots must be in chronological order, as returned by a Store
// query. One Result per metric is always returned, in the fixed order
// of history.MetricNames; with fewer than two snapshots the direction
// is stable and the change rate zero.
func (e *Engine) Compute(snapshots []history.Snapshot) []Result {
	results := make([]Result, 0, len(history.MetricNames()))
	for _, name := range history.MetricNames() {
		results = append(results, e.computeMetric(name, snapshots))
	}
	return results
}

func (e *Engine) computeMetric(name string, snapshots []history.Snapshot) Result {
	res := Result{
		MetricName:     name,
		TrendDirection: DirectionStable,
		Severity:       SeverityNormal,
	}
	if len(snapshots) == 0 {
		return res
	}

	values := make([]float64, len(snapshots))
	for i, snap := range snapshots {
		values[i] = snap.MetricMean(name)
	}

	newest := snapshots[len(snapshots)-1].Timestamp
	res.CurrentValue = values[len(values)-1]
	res.AvgLastHour = windowMean(snapshots, values, newest, time.Hour)
	res.AvgLastDay = mean(values)
	res.Severity = e.grade(name, res.CurrentValue)

	if len(snapshots) < 2 {
		return res
	}

	elapsed := newest.Sub(snapshots[0].Timestamp)
	if elapsed > 0 {
		res.ChangeRate = (values[len(values)-1] - values[0]) / elapsed.Minutes()
	}

	res.TrendDirection = e.classify(values, res.ChangeRate)
	return res
}

// classify picks a direction from the series shape. Volatility wins over
// slope so a noisy series is never reported as a clean ramp.
func (e *Engine) classify(values []float64, changeRate float64) Direction {
	if coefficientOfVariation(values) > e.policy.VolatilityCutoff {
		return DirectionVolatile
	}
	switch {
	case changeRate > e.policy.SlopeEpsilon:
		return DirectionIncreasing
	case changeRate < -e.policy.SlopeEpsilon:
		return DirectionDecreasing
	default:
		return DirectionStable
	}
}

func (e *Engine) grade(name string, current float64) Severity {
	th, ok := e.policy.SeverityThresholds[name]
	if !ok {
		return SeverityNormal
	}
	switch {
	case current >= th.Critical:
		return SeverityCritical
	case current >= th.Warning:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}

// windowMean averages the values whose snapshot falls within window of
// the newest timestamp.
func windowMean(snapshots []history.Snapshot, values []float64, newest time.Time, window time.Duration) float64 {
	cutoff := newest.Add(-window)
	sum := 0.0
	n := 0
	for i := len(snapshots) - 1; i >= 0; i-- {
		if snapshots[i].Timestamp.Before(cutoff) {
			break
		}
		sum += values[i]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func coefficientOfVariation(values []float64) float64 {
	m := mean(values)
	if m == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		d := v - m
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance) / math.Abs(m)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
