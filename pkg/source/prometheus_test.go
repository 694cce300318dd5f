package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/auspexhq/auspex/pkg/history"
)

func promServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			http.NotFound(w, r)
			return
		}
		query := r.URL.Query().Get("query")
		body, ok := responses[query]
		if !ok {
			http.Error(w, fmt.Sprintf("unexpected query %q", query), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func vectorResponse(samples map[string]float64) string {
	out := `{"status":"success","data":{"resultType":"vector","result":[`
	first := true
	for service, value := range samples {
		if !first {
			out += ","
		}
		first = false
		out += fmt.Sprintf(`{"metric":{"service":%q},"value":[1725000000,"%g"]}`, service, value)
	}
	return out + `]}}`
}

func TestPrometheusSource_Observe(t *testing.T) {
	server := promServer(t, map[string]string{
		"cpu_query": vectorResponse(map[string]float64{"auth-service": 42.5, "user-db": 15}),
		"err_query": vectorResponse(map[string]float64{"auth-service": 1.5}),
	})
	defer server.Close()

	src := &PrometheusSource{
		ServerURL: server.URL,
		Queries: map[string]string{
			history.MetricCPUUsage:  "cpu_query",
			history.MetricErrorRate: "err_query",
		},
	}

	sample, err := src.Observe(context.Background())
	if err != nil {
		t.Fatalf("Observe() unexpected error = %v", err)
	}
	if got := sample.CPUUsage["auth-service"]; got != 42.5 {
		t.Errorf("cpu for auth-service = %f, want 42.5", got)
	}
	if got := sample.CPUUsage["user-db"]; got != 15 {
		t.Errorf("cpu for user-db = %f, want 15", got)
	}
	if got := sample.ErrorRate["auth-service"]; got != 1.5 {
		t.Errorf("error rate for auth-service = %f, want 1.5", got)
	}
	if len(sample.MemoryUsage) != 0 {
		t.Errorf("memory readings = %d, want 0 without a query", len(sample.MemoryUsage))
	}
}

func TestPrometheusSource_Observe_CustomLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[
			{"metric":{"app":"payments","service":"ignored"},"value":[1725000000,"77"]}
		]}}`))
	}))
	defer server.Close()

	src := &PrometheusSource{
		ServerURL:    server.URL,
		ServiceLabel: "app",
		Queries:      map[string]string{history.MetricCPUUsage: "q"},
	}

	sample, err := src.Observe(context.Background())
	if err != nil {
		t.Fatalf("Observe() unexpected error = %v", err)
	}
	if got := sample.CPUUsage["payments"]; got != 77 {
		t.Errorf("cpu for payments = %f, want 77", got)
	}
}

func TestPrometheusSource_Observe_Errors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer failing.Close()

	notSuccess := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","data":{}}`))
	}))
	defer notSuccess.Close()

	tests := []struct {
		name string
		src  *PrometheusSource
	}{
		{"missing url", &PrometheusSource{Queries: map[string]string{history.MetricCPUUsage: "q"}}},
		{"no queries", &PrometheusSource{ServerURL: failing.URL}},
		{"unknown metric", &PrometheusSource{ServerURL: failing.URL, Queries: map[string]string{"bogus": "q"}}},
		{"bad status", &PrometheusSource{ServerURL: failing.URL, Queries: map[string]string{history.MetricCPUUsage: "q"}}},
		{"error status field", &PrometheusSource{ServerURL: notSuccess.URL, Queries: map[string]string{history.MetricCPUUsage: "q"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.src.Observe(context.Background()); err == nil {
				t.Error("Observe() error = nil, want error")
			}
		})
	}
}

func TestNewPrometheusFromConfig(t *testing.T) {
	src, err := newPrometheusFromConfig(map[string]string{
		"url":           "http://prom:9090",
		"serviceLabel":  "app",
		"queryCpuUsage": "cpu_q",
		"queryLatency":  "lat_q",
	})
	if err != nil {
		t.Fatalf("newPrometheusFromConfig() unexpected error = %v", err)
	}
	if len(src.Queries) != 2 {
		t.Errorf("Queries = %v, want 2 entries", src.Queries)
	}
	if src.ServiceLabel != "app" {
		t.Errorf("ServiceLabel = %q, want app", src.ServiceLabel)
	}

	if _, err := newPrometheusFromConfig(map[string]string{"url": "http://prom:9090"}); err == nil {
		t.Error("config without queries accepted")
	}
}
