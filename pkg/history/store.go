// Package history provides bounded time-series storage for system health
// snapshots. A snapshot is one timestamped observation of per-service
// metrics plus an aggregate risk score; the store retains a rolling window
// of them (48 hours at a one-per-minute cadence by default) and serves
// recency-bounded range queries to the trend and prediction engines.
package history

import (
	"context"
	"errors"
	"time"
)

// AggregateService is the sentinel service key used when a caller records a
// flat aggregate value with no per-service breakdown. Averaging at read
// time treats it like any other service entry.
const AggregateService = "_aggregate"

// Default retention bounds: 48 hours capped at 2880 entries, i.e. a nominal
// one-snapshot-per-minute cadence.
const (
	DefaultRetention    = 48 * time.Hour
	DefaultMaxSnapshots = 2880
)

// Tracked metric names, in reporting order.
const (
	MetricRiskScore   = "risk_score"
	MetricCPUUsage    = "cpu_usage"
	MetricMemoryUsage = "memory_usage"
	MetricErrorRate   = "error_rate"
	MetricLatency     = "latency"
)

// MetricNames returns the fixed list of tracked metrics in reporting order.
func MetricNames() []string {
	return []string{MetricRiskScore, MetricCPUUsage, MetricMemoryUsage, MetricErrorRate, MetricLatency}
}

var (
	// ErrOutOfOrder is returned by Record when a snapshot's timestamp
	// precedes the newest stored snapshot.
	ErrOutOfOrder = errors.New("snapshot timestamp older than newest stored snapshot")

	// ErrInvalidSnapshot is returned by Record for malformed snapshots:
	// zero timestamp, negative metric values, or a risk score outside [0,100].
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// Snapshot is one sampled observation of system-wide health. Metric fields
// map service id to value; flat aggregates live under AggregateService.
// Snapshots are immutable once recorded.
type Snapshot struct {
	Timestamp   time.Time          `json:"timestamp"`
	RiskScore   float64            `json:"risk_score"`
	CPUUsage    map[string]float64 `json:"cpu_usage"`
	MemoryUsage map[string]float64 `json:"memory_usage"`
	ErrorRate   map[string]float64 `json:"error_rate"`
	Latency     map[string]float64 `json:"latency"`
}

// Metric returns the named per-service mapping, or nil for risk_score and
// unknown names. risk_score has no per-service breakdown.
func (s Snapshot) Metric(name string) map[string]float64 {
	switch name {
	case MetricCPUUsage:
		return s.CPUUsage
	case MetricMemoryUsage:
		return s.MemoryUsage
	case MetricErrorRate:
		return s.ErrorRate
	case MetricLatency:
		return s.Latency
	default:
		return nil
	}
}

// MetricMean returns the mean of the named metric across services, or the
// risk score itself for risk_score. Empty mappings yield zero.
func (s Snapshot) MetricMean(name string) float64 {
	if name == MetricRiskScore {
		return s.RiskScore
	}
	values := s.Metric(name)
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Validate checks the snapshot invariants shared by all store backends.
func (s Snapshot) Validate() error {
	if s.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	if s.RiskScore < 0 || s.RiskScore > 100 {
		return errors.New("risk_score must be within [0,100]")
	}
	for _, name := range []string{MetricCPUUsage, MetricMemoryUsage, MetricErrorRate, MetricLatency} {
		for svc, v := range s.Metric(name) {
			if v < 0 {
				return errors.New(name + " for service " + svc + " is negative")
			}
		}
	}
	return nil
}

// Point is one timestamped value in a per-service series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ServiceSeries holds the historical values of one service across the
// tracked metrics, in chronological order.
type ServiceSeries struct {
	ServiceID      string  `json:"service_id"`
	CPUHistory     []Point `json:"cpu_history"`
	MemoryHistory  []Point `json:"memory_history"`
	ErrorHistory   []Point `json:"error_history"`
	LatencyHistory []Point `json:"latency_history"`
}

// Statistics summarises the stored history. Oldest/Newest are zero times
// when the store is empty.
type Statistics struct {
	TotalSnapshots int       `json:"total_snapshots"`
	Oldest         time.Time `json:"oldest_snapshot"`
	Newest         time.Time `json:"newest_snapshot"`
	CoverageHours  float64   `json:"coverage_hours"`
	MetricsTracked []string  `json:"metrics_tracked"`
}

// Store is the snapshot retention interface. Implementations guarantee that
// Query never observes a partially-appended snapshot and that the returned
// slice is unaffected by later appends or eviction.
type Store interface {
	// Record validates and appends a snapshot, evicting entries older than
	// the retention window and then trimming to the count cap.
	Record(ctx context.Context, snapshot Snapshot) error

	// Query returns all snapshots with timestamp >= now - window, in
	// chronological order. An empty result is not an error.
	Query(ctx context.Context, window time.Duration) ([]Snapshot, error)

	// ServiceSeries extracts one service's value series over the window.
	ServiceSeries(ctx context.Context, serviceID string, window time.Duration) (ServiceSeries, error)

	// Statistics reports stored count, coverage, and tracked metric names.
	Statistics(ctx context.Context) (Statistics, error)
}

// seriesFromSnapshots builds the per-service series shared by both backends.
func seriesFromSnapshots(serviceID string, snapshots []Snapshot) ServiceSeries {
	series := ServiceSeries{ServiceID: serviceID}
	for _, snap := range snapshots {
		if v, ok := snap.CPUUsage[serviceID]; ok {
			series.CPUHistory = append(series.CPUHistory, Point{Timestamp: snap.Timestamp, Value: v})
		}
		if v, ok := snap.MemoryUsage[serviceID]; ok {
			series.MemoryHistory = append(series.MemoryHistory, Point{Timestamp: snap.Timestamp, Value: v})
		}
		if v, ok := snap.ErrorRate[serviceID]; ok {
			series.ErrorHistory = append(series.ErrorHistory, Point{Timestamp: snap.Timestamp, Value: v})
		}
		if v, ok := snap.Latency[serviceID]; ok {
			series.LatencyHistory = append(series.LatencyHistory, Point{Timestamp: snap.Timestamp, Value: v})
		}
	}
	return series
}
