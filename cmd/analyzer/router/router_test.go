package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/auspexhq/auspex/pkg/history"
	"github.com/auspexhq/auspex/pkg/predict"
	"github.com/auspexhq/auspex/pkg/topology"
	"github.com/auspexhq/auspex/pkg/trend"
)

func newTestMux(t *testing.T, store history.Store) *http.ServeMux {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	engine := trend.NewEngine(trend.Policy{})
	predictor := predict.New(nil)

	return SetupRoutes(store, engine, predictor, topology.Demo(), logger)
}

func seedStore(t *testing.T, store history.Store, snapshots ...history.Snapshot) {
	t.Helper()
	for _, snap := range snapshots {
		if err := store.Record(context.Background(), snap); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
}

func snapshotAt(ts time.Time, cpu float64) history.Snapshot {
	return history.Snapshot{
		Timestamp:   ts,
		RiskScore:   25,
		CPUUsage:    map[string]float64{"auth-service": cpu},
		MemoryUsage: map[string]float64{"auth-service": 40},
		ErrorRate:   map[string]float64{"auth-service": 0.5},
		Latency:     map[string]float64{"auth-service": 80},
	}
}

func TestTrends(t *testing.T) {
	store := history.NewMemoryStore()
	now := time.Now()
	seedStore(t, store,
		snapshotAt(now.Add(-2*time.Minute), 50),
		snapshotAt(now.Add(-time.Minute), 60),
		snapshotAt(now, 70),
	)
	mux := newTestMux(t, store)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trends?window=60", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		WindowMinutes int                     `json:"window_minutes"`
		ComputedAt    string                  `json:"computed_at"`
		Trends        map[string]trend.Result `json:"trends"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.WindowMinutes != 60 {
		t.Errorf("window_minutes = %d, want 60", resp.WindowMinutes)
	}
	if len(resp.Trends) != len(history.MetricNames()) {
		t.Errorf("got %d trends, want %d", len(resp.Trends), len(history.MetricNames()))
	}

	cpu, ok := resp.Trends[history.MetricCPUUsage]
	if !ok {
		t.Fatal("cpu_usage trend missing")
	}
	if cpu.CurrentValue != 70 {
		t.Errorf("cpu current_value = %v, want 70", cpu.CurrentValue)
	}
	if cpu.TrendDirection != trend.DirectionIncreasing {
		t.Errorf("cpu trend_direction = %q, want %q", cpu.TrendDirection, trend.DirectionIncreasing)
	}
}

func TestTrends_InvalidWindow(t *testing.T) {
	mux := newTestMux(t, history.NewMemoryStore())

	for _, window := range []string{"abc", "-5", "0", "999999"} {
		t.Run(window, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trends?window="+window, nil))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestTrends_EmptyStore(t *testing.T) {
	mux := newTestMux(t, history.NewMemoryStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trends", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Trends map[string]trend.Result `json:"trends"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for name, res := range resp.Trends {
		if res.TrendDirection != trend.DirectionStable {
			t.Errorf("%s trend_direction = %q, want stable on empty store", name, res.TrendDirection)
		}
	}
}

func TestPredictions(t *testing.T) {
	store := history.NewMemoryStore()
	now := time.Now()
	stressed := history.Snapshot{
		Timestamp:   now,
		RiskScore:   80,
		CPUUsage:    map[string]float64{"auth-service": 97},
		MemoryUsage: map[string]float64{"auth-service": 40},
		ErrorRate:   map[string]float64{"auth-service": 1},
		Latency:     map[string]float64{"auth-service": 50},
	}
	seedStore(t, store, stressed)
	mux := newTestMux(t, store)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predictions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var report predict.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(report.FailurePredictions) != 1 {
		t.Fatalf("got %d failure predictions, want 1", len(report.FailurePredictions))
	}
	if report.FailurePredictions[0].ServiceID != "auth-service" {
		t.Errorf("service_id = %q, want auth-service", report.FailurePredictions[0].ServiceID)
	}
	if report.TotalAtRiskServices != 1 {
		t.Errorf("total_at_risk_services = %d, want 1", report.TotalAtRiskServices)
	}
	if len(report.CascadePredictions) == 0 {
		t.Error("expected cascade predictions for auth-service")
	}
}

func TestPredictions_EmptyStore(t *testing.T) {
	mux := newTestMux(t, history.NewMemoryStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predictions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var report predict.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(report.FailurePredictions) != 0 || len(report.CascadePredictions) != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
}

func TestHistory(t *testing.T) {
	store := history.NewMemoryStore()
	now := time.Now()
	seedStore(t, store,
		snapshotAt(now.Add(-10*time.Minute), 50),
		snapshotAt(now.Add(-time.Minute), 60),
		snapshotAt(now, 70),
	)
	mux := newTestMux(t, store)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history?window=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		WindowMinutes int                `json:"window_minutes"`
		Count         int                `json:"count"`
		Snapshots     []history.Snapshot `json:"snapshots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Count != 2 {
		t.Errorf("count = %d, want 2 within 5 minute window", resp.Count)
	}
	if len(resp.Snapshots) != resp.Count {
		t.Errorf("snapshots length %d does not match count %d", len(resp.Snapshots), resp.Count)
	}
}

func TestHistoryStats(t *testing.T) {
	store := history.NewMemoryStore()
	now := time.Now()
	seedStore(t, store, snapshotAt(now.Add(-time.Minute), 50), snapshotAt(now, 60))
	mux := newTestMux(t, store)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var stats history.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.TotalSnapshots != 2 {
		t.Errorf("total_snapshots = %d, want 2", stats.TotalSnapshots)
	}
	if len(stats.MetricsTracked) != len(history.MetricNames()) {
		t.Errorf("metrics_tracked = %v", stats.MetricsTracked)
	}
}

func TestServiceHistory(t *testing.T) {
	store := history.NewMemoryStore()
	now := time.Now()
	seedStore(t, store, snapshotAt(now.Add(-time.Minute), 50), snapshotAt(now, 60))
	mux := newTestMux(t, store)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/services/auth-service/history?window=60", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var series history.ServiceSeries
	if err := json.Unmarshal(rec.Body.Bytes(), &series); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if series.ServiceID != "auth-service" {
		t.Errorf("service_id = %q, want auth-service", series.ServiceID)
	}
	if len(series.CPUHistory) != 2 {
		t.Errorf("got %d cpu points, want 2", len(series.CPUHistory))
	}
}

func TestServiceHistory_InvalidID(t *testing.T) {
	mux := newTestMux(t, history.NewMemoryStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/services/-bad-/history", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestIngest(t *testing.T) {
	store := history.NewMemoryStore()
	mux := newTestMux(t, store)

	body := fmt.Sprintf(`{
		"timestamp": %q,
		"risk_score": 30,
		"cpu_usage": {"auth-service": 55},
		"memory_usage": {"auth-service": 40},
		"error_rate": {"auth-service": 0.2},
		"latency": {"auth-service": 90}
	}`, time.Now().Format(time.RFC3339Nano))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/snapshots", strings.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	stats, err := store.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.TotalSnapshots != 1 {
		t.Errorf("total_snapshots = %d, want 1", stats.TotalSnapshots)
	}
}

func TestIngest_Rejections(t *testing.T) {
	store := history.NewMemoryStore()
	now := time.Now()
	seedStore(t, store, snapshotAt(now, 50))
	mux := newTestMux(t, store)

	tests := []struct {
		name string
		body string
	}{
		{
			name: "malformed JSON",
			body: `{"timestamp": `,
		},
		{
			name: "unknown field",
			body: fmt.Sprintf(`{"timestamp": %q, "risk_score": 10, "replicas": 3}`, now.Add(time.Minute).Format(time.RFC3339Nano)),
		},
		{
			name: "out of order timestamp",
			body: fmt.Sprintf(`{"timestamp": %q, "risk_score": 10}`, now.Add(-time.Hour).Format(time.RFC3339Nano)),
		},
		{
			name: "risk score out of range",
			body: fmt.Sprintf(`{"timestamp": %q, "risk_score": 140}`, now.Add(time.Minute).Format(time.RFC3339Nano)),
		},
		{
			name: "negative metric value",
			body: fmt.Sprintf(`{"timestamp": %q, "risk_score": 10, "cpu_usage": {"auth-service": -1}}`, now.Add(time.Minute).Format(time.RFC3339Nano)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/snapshots", strings.NewReader(tt.body)))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	mux := newTestMux(t, history.NewMemoryStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
