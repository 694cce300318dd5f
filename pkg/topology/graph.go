// Package topology models the service dependency graph: which services
// call which, how healthy each one currently is, and how much risk the
// system as a whole carries.
package topology

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Kind describes what a node is.
type Kind string

const (
	KindService  Kind = "service"
	KindDatabase Kind = "database"
	KindCache    Kind = "cache"
	KindExternal Kind = "external"
)

// Status is a node health classification.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Node is one service in the graph.
type Node struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Kind Kind   `yaml:"kind" json:"kind"`
	Tier string `yaml:"tier" json:"tier"`
}

// Edge records that Source calls Target.
type Edge struct {
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
}

// Graph is an immutable dependency graph. Build one with New, Load or
// Demo; concurrent reads are safe.
type Graph struct {
	nodes map[string]Node
	order []string
	// out[id] lists what id calls, in[id] lists who calls id.
	out map[string][]string
	in  map[string][]string
}

// New builds a graph, rejecting duplicate nodes and edges that reference
// unknown endpoints.
func New(nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]Node, len(nodes)),
		out:   make(map[string][]string),
		in:    make(map[string][]string),
	}
	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node %q has empty id", n.Name)
		}
		if _, ok := g.nodes[n.ID]; ok {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		if n.Kind == "" {
			n.Kind = KindService
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	for _, e := range edges {
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, fmt.Errorf("edge references unknown source %q", e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, fmt.Errorf("edge references unknown target %q", e.Target)
		}
		g.out[e.Source] = append(g.out[e.Source], e.Target)
		g.in[e.Target] = append(g.in[e.Target], e.Source)
	}
	sort.Strings(g.order)
	return g, nil
}

type graphFile struct {
	Services     []Node `yaml:"services"`
	Dependencies []Edge `yaml:"dependencies"`
}

// Load reads a graph from a YAML file with top-level "services" and
// "dependencies" lists.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	var f graphFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse topology file %s: %w", path, err)
	}
	if len(f.Services) == 0 {
		return nil, fmt.Errorf("topology file %s defines no services", path)
	}
	return New(f.Services, f.Dependencies)
}

// Demo returns a built-in three-tier e-commerce topology useful for
// development and the synthetic metric source.
func Demo() *Graph {
	nodes := []Node{
		{ID: "web-app", Name: "Web App", Kind: KindService, Tier: "frontend"},
		{ID: "mobile-api", Name: "Mobile API", Kind: KindService, Tier: "frontend"},
		{ID: "landing-page", Name: "Landing Page", Kind: KindService, Tier: "frontend"},
		{ID: "auth-service", Name: "Auth Service", Kind: KindService, Tier: "backend"},
		{ID: "user-service", Name: "User Service", Kind: KindService, Tier: "backend"},
		{ID: "payment-service", Name: "Payment Service", Kind: KindService, Tier: "backend"},
		{ID: "order-service", Name: "Order Service", Kind: KindService, Tier: "backend"},
		{ID: "search-service", Name: "Search Service", Kind: KindService, Tier: "backend"},
		{ID: "notification-service", Name: "Notification Service", Kind: KindService, Tier: "backend"},
		{ID: "inventory-service", Name: "Inventory Service", Kind: KindService, Tier: "backend"},
		{ID: "primary-db", Name: "Primary DB", Kind: KindDatabase, Tier: "data"},
		{ID: "user-db", Name: "User DB", Kind: KindDatabase, Tier: "data"},
		{ID: "payment-db", Name: "Payment DB", Kind: KindDatabase, Tier: "data"},
		{ID: "search-index", Name: "Search Index", Kind: KindDatabase, Tier: "data"},
		{ID: "cache", Name: "Cache", Kind: KindCache, Tier: "data"},
		{ID: "stripe-api", Name: "Stripe API", Kind: KindExternal, Tier: "external"},
		{ID: "sendgrid", Name: "SendGrid", Kind: KindExternal, Tier: "external"},
		{ID: "twilio", Name: "Twilio", Kind: KindExternal, Tier: "external"},
	}
	edges := []Edge{
		{Source: "web-app", Target: "auth-service"},
		{Source: "web-app", Target: "search-service"},
		{Source: "web-app", Target: "order-service"},
		{Source: "mobile-api", Target: "auth-service"},
		{Source: "mobile-api", Target: "user-service"},
		{Source: "landing-page", Target: "user-service"},
		{Source: "auth-service", Target: "user-db"},
		{Source: "user-service", Target: "user-db"},
		{Source: "user-service", Target: "cache"},
		{Source: "order-service", Target: "payment-service"},
		{Source: "order-service", Target: "inventory-service"},
		{Source: "order-service", Target: "primary-db"},
		{Source: "order-service", Target: "notification-service"},
		{Source: "payment-service", Target: "payment-db"},
		{Source: "payment-service", Target: "stripe-api"},
		{Source: "search-service", Target: "search-index"},
		{Source: "inventory-service", Target: "primary-db"},
		{Source: "notification-service", Target: "sendgrid"},
		{Source: "notification-service", Target: "twilio"},
	}
	g, err := New(nodes, edges)
	if err != nil {
		panic(fmt.Sprintf("invalid demo topology: %v", err))
	}
	return g
}

// Services returns all nodes sorted by ID.
func (g *Graph) Services() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Node looks up a node by ID.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the node count.
func (g *Graph) Len() int { return len(g.nodes) }

// DependenciesOf returns what id calls.
func (g *Graph) DependenciesOf(id string) []string {
	return append([]string(nil), g.out[id]...)
}

// DependentsOf returns who calls id. These are the services a failure of
// id cascades into.
func (g *Graph) DependentsOf(id string) []string {
	return append([]string(nil), g.in[id]...)
}

// ServiceMetrics holds one service's current readings for status
// classification.
type ServiceMetrics struct {
	CPUUsage    float64
	MemoryUsage float64
	ErrorRate   float64
	LatencyMS   float64
}

// Classify grades one node from its current readings. Databases get
// stricter cutoffs than plain services, and external dependencies are
// judged mostly by their error rate.
func (g *Graph) Classify(id string, m ServiceMetrics) Status {
	node, ok := g.nodes[id]
	if !ok {
		node.Kind = KindService
	}
	switch node.Kind {
	case KindDatabase, KindCache:
		if m.CPUUsage > 85 || m.MemoryUsage > 90 {
			return StatusCritical
		}
		if m.CPUUsage > 70 || m.MemoryUsage > 75 {
			return StatusWarning
		}
	case KindExternal:
		if m.CPUUsage > 90 || m.ErrorRate > 15 {
			return StatusCritical
		}
		if m.CPUUsage > 75 || m.ErrorRate > 5 {
			return StatusWarning
		}
	default:
		if m.CPUUsage > 95 || m.MemoryUsage > 95 {
			return StatusCritical
		}
		if m.CPUUsage > 80 || m.MemoryUsage > 80 {
			return StatusWarning
		}
	}
	return StatusHealthy
}

// RiskScore folds per-service statuses into the 0-100 system score
// recorded on every snapshot. A fully healthy system scores a baseline
// 10; each warning adds 5 and each critical adds 20, capped at 100.
func RiskScore(statuses map[string]Status) float64 {
	score := 10.0
	for _, s := range statuses {
		switch s {
		case StatusCritical:
			score += 20
		case StatusWarning:
			score += 5
		}
	}
	if score > 100 {
		return 100
	}
	return score
}
