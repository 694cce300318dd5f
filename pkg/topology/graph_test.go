package topology

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []Node
		edges   []Edge
		wantErr bool
	}{
		{
			name:  "valid graph",
			nodes: []Node{{ID: "a"}, {ID: "b"}},
			edges: []Edge{{Source: "a", Target: "b"}},
		},
		{
			name:    "empty node id",
			nodes:   []Node{{Name: "unnamed"}},
			wantErr: true,
		},
		{
			name:    "duplicate node id",
			nodes:   []Node{{ID: "a"}, {ID: "a"}},
			wantErr: true,
		},
		{
			name:    "edge with unknown source",
			nodes:   []Node{{ID: "a"}},
			edges:   []Edge{{Source: "ghost", Target: "a"}},
			wantErr: true,
		},
		{
			name:    "edge with unknown target",
			nodes:   []Node{{ID: "a"}},
			edges:   []Edge{{Source: "a", Target: "ghost"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.nodes, tt.edges)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGraph_Dependents(t *testing.T) {
	g := Demo()

	dependents := g.DependentsOf("auth-service")
	if len(dependents) != 2 {
		t.Fatalf("DependentsOf(auth-service) = %v, want 2 entries", dependents)
	}
	want := map[string]bool{"web-app": true, "mobile-api": true}
	for _, id := range dependents {
		if !want[id] {
			t.Errorf("unexpected dependent %q", id)
		}
	}

	if deps := g.DependentsOf("web-app"); len(deps) != 0 {
		t.Errorf("DependentsOf(web-app) = %v, want none", deps)
	}
}

func TestGraph_Dependencies(t *testing.T) {
	g := Demo()

	deps := g.DependenciesOf("order-service")
	if len(deps) != 4 {
		t.Fatalf("DependenciesOf(order-service) = %v, want 4 entries", deps)
	}
}

func TestDemo_Shape(t *testing.T) {
	g := Demo()
	if g.Len() != 18 {
		t.Errorf("Len() = %d, want 18", g.Len())
	}

	services := g.Services()
	for i := 1; i < len(services); i++ {
		if services[i].ID < services[i-1].ID {
			t.Fatal("Services() not sorted by ID")
		}
	}

	node, ok := g.Node("primary-db")
	if !ok {
		t.Fatal("primary-db missing from demo graph")
	}
	if node.Kind != KindDatabase {
		t.Errorf("primary-db kind = %q, want database", node.Kind)
	}
}

func TestGraph_Classify(t *testing.T) {
	g := Demo()

	tests := []struct {
		name    string
		id      string
		metrics ServiceMetrics
		want    Status
	}{
		{"idle service", "auth-service", ServiceMetrics{CPUUsage: 20, MemoryUsage: 30}, StatusHealthy},
		{"busy service", "auth-service", ServiceMetrics{CPUUsage: 85, MemoryUsage: 50}, StatusWarning},
		{"saturated service", "auth-service", ServiceMetrics{CPUUsage: 97, MemoryUsage: 50}, StatusCritical},
		{"database gets stricter cutoffs", "primary-db", ServiceMetrics{CPUUsage: 72}, StatusWarning},
		{"database critical", "primary-db", ServiceMetrics{CPUUsage: 86}, StatusCritical},
		{"external judged by errors", "stripe-api", ServiceMetrics{CPUUsage: 10, ErrorRate: 20}, StatusCritical},
		{"external warning", "stripe-api", ServiceMetrics{CPUUsage: 10, ErrorRate: 7}, StatusWarning},
		{"unknown id falls back to service cutoffs", "mystery", ServiceMetrics{CPUUsage: 85}, StatusWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Classify(tt.id, tt.metrics); got != tt.want {
				t.Errorf("Classify(%s) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]Status
		want     float64
	}{
		{"all healthy", map[string]Status{"a": StatusHealthy, "b": StatusHealthy}, 10},
		{"one warning", map[string]Status{"a": StatusWarning}, 15},
		{"one critical", map[string]Status{"a": StatusCritical}, 30},
		{"mixed", map[string]Status{"a": StatusCritical, "b": StatusWarning, "c": StatusHealthy}, 35},
		{
			name: "capped at 100",
			statuses: map[string]Status{
				"a": StatusCritical, "b": StatusCritical, "c": StatusCritical,
				"d": StatusCritical, "e": StatusCritical,
			},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RiskScore(tt.statuses); got != tt.want {
				t.Errorf("RiskScore() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	content := `services:
  - id: api
    name: API
    kind: service
    tier: frontend
  - id: db
    name: DB
    kind: database
    tier: data
dependencies:
  - source: api
    target: db
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	g, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error = %v", err)
	}
	if g.Len() != 2 {
		t.Errorf("Len() = %d, want 2", g.Len())
	}
	if deps := g.DependentsOf("db"); len(deps) != 1 || deps[0] != "api" {
		t.Errorf("DependentsOf(db) = %v, want [api]", deps)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load("/nonexistent/topology.yaml"); err == nil {
		t.Error("Load() on missing file: error = nil, want error")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("services: [not a mapping"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() on malformed yaml: error = nil, want error")
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("dependencies: []"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if _, err := Load(empty); err == nil {
		t.Error("Load() with no services: error = nil, want error")
	}
}
