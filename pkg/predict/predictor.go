// Package predict forecasts per-service failures from the latest metric
// readings plus the recent history window, and propagates at-risk
// services through the dependency graph into cascade forecasts.
//
// All constants here (weights, thresholds, decay) are tunable heuristics,
// not a fitted model; overrides come from a rule pack file.
package predict

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/auspexhq/auspex/pkg/history"
)

// ErrInvalidInput reports malformed predictor input, such as an empty
// snapshot window or negative metric values.
var ErrInvalidInput = errors.New("invalid input")

// FailureType names the dominant failure mode forecast for a service.
type FailureType string

const (
	FailureErrorCascade           FailureType = "error_cascade"
	FailureResourceExhaustion     FailureType = "resource_exhaustion"
	FailurePerformanceDegradation FailureType = "performance_degradation"
)

// Severity grades a failure forecast by its probability.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Failure is one per-service forecast.
type Failure struct {
	ServiceID            string      `json:"service_id"`
	FailureProbability   float64     `json:"failure_probability"`
	EstimatedTimeMinutes int         `json:"estimated_time_minutes"`
	FailureType          FailureType `json:"failure_type"`
	ContributingFactors  []string    `json:"contributing_factors"`
	PreventiveActions    []string    `json:"preventive_actions"`
	Severity             Severity    `json:"severity"`
}

// AffectedService is one downstream service inside a cascade forecast.
type AffectedService struct {
	ServiceID          string  `json:"service_id"`
	CascadeProbability float64 `json:"cascade_probability"`
	Hops               int     `json:"hops"`
}

// Cascade forecasts the blast radius of one at-risk service.
type Cascade struct {
	OriginService    string            `json:"origin_service"`
	AffectedServices []AffectedService `json:"affected_services"`
	Recommendation   string            `json:"recommendation"`
}

// Report is the full prediction payload served to clients.
type Report struct {
	FailurePredictions  []Failure `json:"failure_predictions"`
	CascadePredictions  []Cascade `json:"cascade_predictions"`
	PredictionTimestamp time.Time `json:"prediction_timestamp"`
	TotalAtRiskServices int       `json:"total_at_risk_services"`
}

// Topology supplies outbound dependency edges for cascade propagation.
// *topology.Graph satisfies it.
type Topology interface {
	DependenciesOf(id string) []string
}

// factorSpec weighs one metric's contribution to failure probability.
// Slice order is the tie-break priority when contributions are equal.
type factorSpec struct {
	metric  string
	failure FailureType
	weight  float64
	warn    float64
	crit    float64
}

func defaultFactors() []factorSpec {
	return []factorSpec{
		{metric: history.MetricErrorRate, failure: FailureErrorCascade, weight: 0.90, warn: 5, crit: 15},
		{metric: history.MetricCPUUsage, failure: FailureResourceExhaustion, weight: 0.80, warn: 80, crit: 95},
		{metric: history.MetricMemoryUsage, failure: FailureResourceExhaustion, weight: 0.80, warn: 85, crit: 95},
		{metric: history.MetricLatency, failure: FailurePerformanceDegradation, weight: 0.50, warn: 500, crit: 1000},
	}
}

// contribution is one factor evaluated against a service's readings.
type contribution struct {
	spec  factorSpec
	value float64
	score float64
	rank  int
}

// Predictor computes failure reports. Safe for concurrent use.
type Predictor struct {
	rules   *RulePack
	factors []factorSpec
}

// New creates a predictor. A nil rule pack uses the built-in defaults.
func New(rules *RulePack) *Predictor {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Predictor{rules: rules, factors: defaultFactors()}
}

// Report forecasts failures from a chronological snapshot window. The
// newest snapshot supplies each service's current readings; the rest of
// the window feeds the time-to-failure extrapolation. topo may be nil,
// which disables cascade forecasts.
func (p *Predictor) Report(snapshots []history.Snapshot, topo Topology) (Report, error) {
	if len(snapshots) == 0 {
		return Report{}, fmt.Errorf("%w: empty snapshot window", ErrInvalidInput)
	}
	latest := snapshots[len(snapshots)-1]
	if err := latest.Validate(); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	report := Report{
		FailurePredictions: []Failure{},
		CascadePredictions: []Cascade{},
		// Snapshot time, not wall time, so replayed windows stay
		// reproducible.
		PredictionTimestamp: latest.Timestamp,
	}

	for _, serviceID := range serviceIDs(latest) {
		failure, ok := p.forecast(serviceID, snapshots)
		if !ok {
			continue
		}
		report.FailurePredictions = append(report.FailurePredictions, failure)
	}

	sort.SliceStable(report.FailurePredictions, func(i, j int) bool {
		a, b := report.FailurePredictions[i], report.FailurePredictions[j]
		if a.FailureProbability != b.FailureProbability {
			return a.FailureProbability > b.FailureProbability
		}
		return a.ServiceID < b.ServiceID
	})

	report.TotalAtRiskServices = len(report.FailurePredictions)
	report.CascadePredictions = p.cascades(report.FailurePredictions, topo)
	return report, nil
}

// forecast evaluates one service; ok is false when its probability falls
// below the inclusion threshold.
func (p *Predictor) forecast(serviceID string, snapshots []history.Snapshot) (Failure, bool) {
	latest := snapshots[len(snapshots)-1]

	contributions := make([]contribution, 0, len(p.factors))
	probability := 0.0
	for i, spec := range p.factors {
		value := latest.Metric(spec.metric)[serviceID]
		score := spec.weight * stress(value, spec.warn, spec.crit)
		contributions = append(contributions, contribution{spec: spec, value: value, score: score, rank: i})
		probability += score
	}
	if probability > 100 {
		probability = 100
	}
	if probability <= p.rules.InclusionThreshold {
		return Failure{}, false
	}

	dominant := contributions[0]
	for _, c := range contributions[1:] {
		if c.score > dominant.score {
			dominant = c
		}
	}

	severity := gradeSeverity(probability)

	return Failure{
		ServiceID:            serviceID,
		FailureProbability:   round1(probability),
		EstimatedTimeMinutes: p.estimateMinutes(serviceID, dominant, severity, snapshots),
		FailureType:          dominant.spec.failure,
		ContributingFactors:  describeFactors(contributions),
		PreventiveActions:    p.rules.ActionsFor(dominant.spec.failure, serviceID),
		Severity:             severity,
	}, true
}

// estimateMinutes extrapolates minutes until the dominant metric crosses
// its critical threshold. When the metric is not climbing, a fixed
// bucket per severity applies instead.
func (p *Predictor) estimateMinutes(serviceID string, dominant contribution, severity Severity, snapshots []history.Snapshot) int {
	rate := serviceChangeRate(serviceID, dominant.spec.metric, snapshots)
	if rate > slopeEpsilon {
		remaining := dominant.spec.crit - dominant.value
		if remaining <= 0 {
			return 1
		}
		minutes := int(math.Ceil(remaining / rate))
		if minutes < 1 {
			minutes = 1
		}
		return minutes
	}

	switch severity {
	case SeverityCritical:
		return 15
	case SeverityHigh:
		return 60
	case SeverityMedium:
		return 240
	default:
		return 1440
	}
}

// slopeEpsilon mirrors the trend engine's stability cutoff in units per
// minute.
const slopeEpsilon = 0.05

// serviceChangeRate computes the endpoint slope of one service's metric
// over the window, in units per minute. Returns 0 when the window spans
// fewer than two observations of the service.
func serviceChangeRate(serviceID, metric string, snapshots []history.Snapshot) float64 {
	var (
		first, last         float64
		firstAt, lastAt     time.Time
		haveFirst, haveLast bool
	)
	for _, snap := range snapshots {
		v, ok := snap.Metric(metric)[serviceID]
		if !ok {
			continue
		}
		if !haveFirst {
			first, firstAt, haveFirst = v, snap.Timestamp, true
			continue
		}
		last, lastAt, haveLast = v, snap.Timestamp, true
	}
	if !haveFirst || !haveLast {
		return 0
	}
	elapsed := lastAt.Sub(firstAt).Minutes()
	if elapsed <= 0 {
		return 0
	}
	return (last - first) / elapsed
}

// stress maps a raw metric value to a 0-100 pressure score: zero below
// half the warning threshold, climbing to 40 at warning and 100 at
// critical.
func stress(v, warn, crit float64) float64 {
	half := warn / 2
	switch {
	case v <= half:
		return 0
	case v <= warn:
		return 40 * (v - half) / (warn - half)
	case v <= crit:
		return 40 + 60*(v-warn)/(crit-warn)
	default:
		return 100
	}
}

func gradeSeverity(probability float64) Severity {
	switch {
	case probability > 70:
		return SeverityCritical
	case probability > 50:
		return SeverityHigh
	case probability > 30:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// describeFactors renders human-readable contributing factors, strongest
// first; equal scores keep the fixed factor priority order.
func describeFactors(contributions []contribution) []string {
	sorted := append([]contribution(nil), contributions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].score != sorted[j].score {
			return sorted[i].score > sorted[j].score
		}
		return sorted[i].rank < sorted[j].rank
	})

	out := []string{}
	for _, c := range sorted {
		if desc := describeFactor(c); desc != "" {
			out = append(out, desc)
		}
	}
	return out
}

func describeFactor(c contribution) string {
	switch c.spec.metric {
	case history.MetricErrorRate:
		switch {
		case c.value > 10:
			return fmt.Sprintf("High error rate at %.1f%%", c.value)
		case c.value > 5:
			return fmt.Sprintf("Elevated error rate at %.1f%%", c.value)
		case c.value > 2:
			return fmt.Sprintf("Moderate error rate at %.1f%%", c.value)
		}
	case history.MetricCPUUsage:
		switch {
		case c.value > 90:
			return fmt.Sprintf("Critical CPU usage at %.1f%%", c.value)
		case c.value > 80:
			return fmt.Sprintf("High CPU usage at %.1f%%", c.value)
		case c.value > 70:
			return fmt.Sprintf("Elevated CPU usage at %.1f%%", c.value)
		case c.value > 60:
			return fmt.Sprintf("Moderate CPU usage at %.1f%%", c.value)
		}
	case history.MetricMemoryUsage:
		switch {
		case c.value > 90:
			return fmt.Sprintf("Critical memory usage at %.1f%%", c.value)
		case c.value > 85:
			return fmt.Sprintf("High memory usage at %.1f%%", c.value)
		case c.value > 75:
			return fmt.Sprintf("Elevated memory usage at %.1f%%", c.value)
		case c.value > 65:
			return fmt.Sprintf("Moderate memory usage at %.1f%%", c.value)
		}
	case history.MetricLatency:
		switch {
		case c.value > 1000:
			return fmt.Sprintf("High latency at %.0fms", c.value)
		case c.value > 500:
			return fmt.Sprintf("Elevated latency at %.0fms", c.value)
		}
	}
	return ""
}

// serviceIDs lists every service named in the snapshot's per-service
// maps, sorted, excluding the aggregate sentinel.
func serviceIDs(snap history.Snapshot) []string {
	seen := map[string]bool{}
	for _, metric := range history.MetricNames() {
		if metric == history.MetricRiskScore {
			continue
		}
		for id := range snap.Metric(metric) {
			if id != history.AggregateService {
				seen[id] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
