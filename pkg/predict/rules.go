package predict

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxActions caps the preventive action list per forecast.
const maxActions = 6

// RulePack holds the tunable prediction knobs and the preventive action
// templates. Templates may reference "{service}", replaced with the
// service ID at render time.
type RulePack struct {
	// InclusionThreshold drops forecasts whose probability does not
	// exceed it.
	InclusionThreshold float64 `yaml:"inclusion_threshold"`

	// CascadeDecay multiplies the probability per dependency hop,
	// CascadeFloor prunes branches that fall below it.
	CascadeDecay float64 `yaml:"cascade_decay"`
	CascadeFloor float64 `yaml:"cascade_floor"`

	// Actions maps failure type to its action templates. CommonActions
	// are appended to every forecast.
	Actions       map[string][]string `yaml:"actions"`
	CommonActions []string            `yaml:"common_actions"`
}

// DefaultRules returns the built-in rule pack.
func DefaultRules() *RulePack {
	return &RulePack{
		InclusionThreshold: 30,
		CascadeDecay:       0.6,
		CascadeFloor:       10,
		Actions: map[string][]string{
			string(FailureResourceExhaustion): {
				"Scale {service} vertically and horizontally",
				"Activate load shedding or graceful degradation",
				"Review resource allocation for {service}",
				"Enable auto-scaling with CPU threshold at 70%",
			},
			string(FailureErrorCascade): {
				"Implement circuit breaker pattern on {service}",
				"Review error logs for root cause",
				"Add retry logic with exponential backoff",
				"Deploy health checks and automatic recovery",
			},
			string(FailurePerformanceDegradation): {
				"Profile {service} to locate slow paths",
				"Add caching for hot query paths",
				"Review recent deployments for regressions",
				"Alert on latency percentiles for {service}",
			},
		},
		CommonActions: []string{
			"Set up real-time alerts for {service}",
			"Prepare rollback plan for {service}",
		},
	}
}

// LoadRules reads a rule pack from a YAML file. An empty path returns
// the defaults; fields absent from the file keep their default values.
func LoadRules(path string) (*RulePack, error) {
	defaults := DefaultRules()
	if path == "" {
		return defaults, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var pack RulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	if pack.InclusionThreshold <= 0 {
		pack.InclusionThreshold = defaults.InclusionThreshold
	}
	if pack.CascadeDecay <= 0 || pack.CascadeDecay >= 1 {
		pack.CascadeDecay = defaults.CascadeDecay
	}
	if pack.CascadeFloor <= 0 {
		pack.CascadeFloor = defaults.CascadeFloor
	}
	if pack.Actions == nil {
		pack.Actions = defaults.Actions
	} else {
		for failureType, actions := range defaults.Actions {
			if _, ok := pack.Actions[failureType]; !ok {
				pack.Actions[failureType] = actions
			}
		}
	}
	if pack.CommonActions == nil {
		pack.CommonActions = defaults.CommonActions
	}
	return &pack, nil
}

// ActionsFor renders the preventive actions for one forecast.
func (p *RulePack) ActionsFor(failureType FailureType, serviceID string) []string {
	templates := p.Actions[string(failureType)]
	out := make([]string, 0, len(templates)+len(p.CommonActions))
	for _, tmpl := range templates {
		out = append(out, strings.ReplaceAll(tmpl, "{service}", serviceID))
	}
	for _, tmpl := range p.CommonActions {
		out = append(out, strings.ReplaceAll(tmpl, "{service}", serviceID))
	}
	if len(out) > maxActions {
		out = out[:maxActions]
	}
	return out
}
