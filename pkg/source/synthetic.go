package source

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/auspexhq/auspex/pkg/topology"
)

// baseline holds the resting point a service's random walk reverts to.
type baseline struct {
	cpu     float64
	memory  float64
	errRate float64
	latency float64
}

// serviceState is the current position of one service's walk.
type serviceState struct {
	baseline
	cpu     float64
	memory  float64
	errRate float64
	latency float64
	// ramp is added to cpu and memory every Observe while the service
	// is under induced stress.
	ramp float64
}

// SyntheticSource emits a mean-reverting random walk for every service
// in a topology. With a fixed seed the series is reproducible, which
// makes it the default source for development and demos.
//
// Individual services can be pushed toward failure with Stress, to
// exercise trend and prediction output without a live system.
type SyntheticSource struct {
	mu    sync.Mutex
	rng   *rand.Rand
	graph *topology.Graph
	state map[string]*serviceState
}

// NewSynthetic creates a synthetic source over the given topology. A
// nil graph uses the built-in demo topology.
func NewSynthetic(graph *topology.Graph, seed int64) *SyntheticSource {
	if graph == nil {
		graph = topology.Demo()
	}
	rng := rand.New(rand.NewSource(seed))

	state := make(map[string]*serviceState)
	for _, node := range graph.Services() {
		b := baselineFor(node, rng)
		state[node.ID] = &serviceState{
			baseline: b,
			cpu:      b.cpu,
			memory:   b.memory,
			errRate:  b.errRate,
			latency:  b.latency,
		}
	}
	return &SyntheticSource{rng: rng, graph: graph, state: state}
}

// baselineFor draws a resting point per node kind. Databases idle a bit
// hotter on memory, externals are latency-heavy.
func baselineFor(node topology.Node, rng *rand.Rand) baseline {
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
	switch node.Kind {
	case topology.KindDatabase:
		return baseline{
			cpu:     uniform(10, 30),
			memory:  uniform(30, 50),
			errRate: uniform(0.0, 0.3),
			latency: uniform(5, 30),
		}
	case topology.KindExternal:
		return baseline{
			cpu:     uniform(5, 15),
			memory:  uniform(10, 25),
			errRate: uniform(0.1, 1.0),
			latency: uniform(80, 250),
		}
	default:
		return baseline{
			cpu:     uniform(5, 25),
			memory:  uniform(15, 35),
			errRate: uniform(0.05, 1.0),
			latency: uniform(10, 80),
		}
	}
}

func (s *SyntheticSource) Name() string { return "synthetic" }

// Stress ramps a service's cpu and memory by perTick points on every
// Observe until Relax is called. Unknown IDs are ignored.
func (s *SyntheticSource) Stress(serviceID string, perTick float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state[serviceID]; ok {
		st.ramp = perTick
	}
}

// Relax removes induced stress and lets the walk revert to baseline.
func (s *SyntheticSource) Relax(serviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state[serviceID]; ok {
		st.ramp = 0
	}
}

// Observe implements Source. Each call advances every service's walk by
// one step.
func (s *SyntheticSource) Observe(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sample := NewSample()
	// Walk in sorted node order so a fixed seed yields the same series.
	for _, node := range s.graph.Services() {
		id := node.ID
		st := s.state[id]
		s.step(st)
		sample.CPUUsage[id] = st.cpu
		sample.MemoryUsage[id] = st.memory
		sample.ErrorRate[id] = st.errRate
		sample.Latency[id] = st.latency
	}
	return sample, nil
}

// step advances one walk: gaussian noise plus mean reversion, then the
// stress ramp. Error rate and latency climb with cpu saturation so a
// stressed service degrades the way a real one does.
func (s *SyntheticSource) step(st *serviceState) {
	revert := func(cur, base float64) float64 {
		return cur + (base-cur)*0.1
	}

	st.cpu = clamp(revert(st.cpu, st.baseline.cpu)+s.rng.NormFloat64()*2+st.ramp, 0, 100)
	st.memory = clamp(revert(st.memory, st.baseline.memory)+s.rng.NormFloat64()*1.5+st.ramp*0.7, 0, 100)

	errBase := st.baseline.errRate
	latBase := st.baseline.latency
	if st.cpu > 80 {
		overload := (st.cpu - 80) / 20
		errBase += overload * 10
		latBase += overload * 500
	}
	st.errRate = clamp(revert(st.errRate, errBase)+s.rng.NormFloat64()*0.2, 0, 100)
	st.latency = clamp(revert(st.latency, latBase)+s.rng.NormFloat64()*5, 0, 60000)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// newSyntheticFromConfig builds a synthetic source from a generic config
// map. Supported keys: "seed" (int), "stress" (comma-separated service
// IDs to ramp), "stressPerTick" (float, default 2).
func newSyntheticFromConfig(config map[string]string, graph *topology.Graph) (*SyntheticSource, error) {
	var seed int64 = 1
	if v := config["seed"]; v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("synthetic source: invalid seed %q: %w", v, err)
		}
		seed = parsed
	}
	src := NewSynthetic(graph, seed)

	if ids := config["stress"]; ids != "" {
		perTick := 2.0
		if v := config["stressPerTick"]; v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("synthetic source: invalid stressPerTick %q: %w", v, err)
			}
			perTick = parsed
		}
		for _, id := range strings.Split(ids, ",") {
			src.Stress(strings.TrimSpace(id), perTick)
		}
	}
	return src, nil
}
