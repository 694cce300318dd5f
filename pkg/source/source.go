// Package source provides metric source connectors that pull per-service
// readings from external systems and normalize them into a common Sample
// structure consumed by the analysis cycle.
//
// Each source implements the Source interface. Available sources:
//   - SyntheticSource: deterministic random walk over a demo topology
//   - HTTPSource: generic connector for any REST API with JSON responses
//   - PrometheusSource: instant queries via the Prometheus HTTP API
//
// Sources are intentionally lightweight: they fetch raw readings and leave
// all trend and failure analysis to the upper layers.
package source

import (
	"context"
	"fmt"

	"github.com/auspexhq/auspex/pkg/topology"
)

// Sample is one observation of every service's current readings. Usage
// metrics are percentages, error rate is percent of requests, latency is
// milliseconds.
type Sample struct {
	CPUUsage    map[string]float64
	MemoryUsage map[string]float64
	ErrorRate   map[string]float64
	Latency     map[string]float64
}

// NewSample returns a Sample with all maps allocated.
func NewSample() Sample {
	return Sample{
		CPUUsage:    make(map[string]float64),
		MemoryUsage: make(map[string]float64),
		ErrorRate:   make(map[string]float64),
		Latency:     make(map[string]float64),
	}
}

// Source is the interface all metric sources implement.
//
// Observe is synchronous and must respect context cancellation and
// deadlines. It must handle transient errors gracefully and never panic.
type Source interface {
	// Observe fetches the current per-service readings.
	Observe(ctx context.Context) (Sample, error)

	// Name returns a short, unique identifier for the source.
	// Example: "synthetic", "http", "prometheus".
	Name() string
}

// New creates a source based on kind and a generic configuration map.
// This is the central extension point for adding new source types.
//
// Supported kinds:
//   - "synthetic": random walk over the given topology
//   - "http": generic HTTP connector
//   - "prometheus": Prometheus instant queries
func New(kind string, config map[string]string, graph *topology.Graph) (Source, error) {
	switch kind {
	case "synthetic":
		return newSyntheticFromConfig(config, graph)
	case "http":
		return newHTTPFromConfig(config)
	case "prometheus":
		return newPrometheusFromConfig(config)
	default:
		return nil, fmt.Errorf("unknown source kind: %s (must be synthetic, http, or prometheus)", kind)
	}
}
