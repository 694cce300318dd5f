package predict

import (
	"fmt"
	"sort"
)

// cascades walks each at-risk service's outbound dependencies breadth
// first, decaying the trigger probability per hop until it sinks below
// the pruning floor. Services already carrying their own forecast are
// skipped; their risk is reported directly, not as a cascade.
func (p *Predictor) cascades(failures []Failure, topo Topology) []Cascade {
	out := []Cascade{}
	if topo == nil || len(failures) == 0 {
		return out
	}

	atRisk := make(map[string]bool, len(failures))
	for _, f := range failures {
		atRisk[f.ServiceID] = true
	}

	for _, f := range failures {
		affected := p.spread(f, topo, atRisk)
		if len(affected) == 0 {
			continue
		}
		out = append(out, Cascade{
			OriginService:    f.ServiceID,
			AffectedServices: affected,
			Recommendation:   fmt.Sprintf("Implement circuit breaker on %s to prevent cascade", f.ServiceID),
		})
	}
	return out
}

func (p *Predictor) spread(origin Failure, topo Topology, atRisk map[string]bool) []AffectedService {
	type hop struct {
		id          string
		probability float64
		depth       int
	}

	visited := map[string]bool{origin.ServiceID: true}
	queue := []hop{{id: origin.ServiceID, probability: origin.FailureProbability, depth: 0}}
	var affected []AffectedService

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		next := cur.probability * p.rules.CascadeDecay
		if next < p.rules.CascadeFloor {
			continue
		}
		for _, dep := range topo.DependenciesOf(cur.id) {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if !atRisk[dep] {
				affected = append(affected, AffectedService{
					ServiceID:          dep,
					CascadeProbability: round1(next),
					Hops:               cur.depth + 1,
				})
			}
			queue = append(queue, hop{id: dep, probability: next, depth: cur.depth + 1})
		}
	}

	sort.SliceStable(affected, func(i, j int) bool {
		if affected[i].CascadeProbability != affected[j].CascadeProbability {
			return affected[i].CascadeProbability > affected[j].CascadeProbability
		}
		return affected[i].ServiceID < affected[j].ServiceID
	})
	return affected
}
