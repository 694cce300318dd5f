package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/auspexhq/auspex/pkg/history"
)

// PrometheusSource fetches per-service readings from the Prometheus HTTP
// API. It issues one /api/v1/query instant query per configured metric
// and groups the resulting vector by a service label.
//
// Queries should return one sample per service, e.g.
//
//	100 * avg by (service) (rate(process_cpu_seconds_total[5m]))
type PrometheusSource struct {
	// ServerURL is the base URL to Prometheus, e.g.
	// http://prometheus.monitoring.svc:9090
	ServerURL string

	// Queries maps tracked metric names (history.MetricCPUUsage etc.) to
	// PromQL expressions. Metrics without a query are left absent.
	Queries map[string]string

	// ServiceLabel is the label holding the service identifier.
	// Defaults to "service".
	ServiceLabel string

	// HTTPClient is optional; if nil a default client with timeout is
	// used.
	HTTPClient *http.Client
}

func (p *PrometheusSource) Name() string { return "prometheus" }

// Observe implements Source. It evaluates every configured query and
// merges the vectors into one Sample. It respects the provided context
// for cancellation and deadlines.
func (p *PrometheusSource) Observe(ctx context.Context) (Sample, error) {
	if p.ServerURL == "" {
		return Sample{}, errors.New("prometheus source: ServerURL is required")
	}
	if len(p.Queries) == 0 {
		return Sample{}, errors.New("prometheus source: at least one query is required")
	}

	sample := NewSample()
	targets := map[string]map[string]float64{
		history.MetricCPUUsage:    sample.CPUUsage,
		history.MetricMemoryUsage: sample.MemoryUsage,
		history.MetricErrorRate:   sample.ErrorRate,
		history.MetricLatency:     sample.Latency,
	}

	for metric, query := range p.Queries {
		dst, ok := targets[metric]
		if !ok {
			return Sample{}, fmt.Errorf("prometheus source: unknown metric %q", metric)
		}
		if err := p.queryInto(ctx, query, dst); err != nil {
			return Sample{}, fmt.Errorf("prometheus query for %s: %w", metric, err)
		}
	}
	return sample, nil
}

func (p *PrometheusSource) queryInto(ctx context.Context, query string, dst map[string]float64) error {
	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query"

	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()

	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("prometheus: status %d", resp.StatusCode)
	}

	var pr prometheusInstantResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return fmt.Errorf("decode prometheus response: %w", err)
	}
	if pr.Status != "success" {
		return fmt.Errorf("prometheus status: %s", pr.Status)
	}

	label := p.ServiceLabel
	if label == "" {
		label = "service"
	}

	for _, s := range pr.Data.Result {
		service := s.Metric[label]
		if service == "" {
			continue
		}
		if len(s.Value) != 2 {
			return fmt.Errorf("invalid value pair length: %d", len(s.Value))
		}
		raw, ok := s.Value[1].(string)
		if !ok {
			return fmt.Errorf("unexpected value type %T", s.Value[1])
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("parse value: %w", err)
		}
		dst[service] = v
	}
	return nil
}

// prometheusInstantResponse represents an instant query response from
// Prometheus (and compatible systems).
type prometheusInstantResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string                   `json:"resultType"`
		Result     []prometheusVectorSample `json:"result"`
	} `json:"data"`
}

// prometheusVectorSample is a single series in a vector result.
// Value is [ <unix_time_float>, "<value_string>" ].
type prometheusVectorSample struct {
	Metric map[string]string `json:"metric"`
	Value  []any             `json:"value"`
}

// queryConfigKeys maps each tracked metric to its config key. risk_score
// is derived from topology status, never queried.
var queryConfigKeys = map[string]string{
	history.MetricCPUUsage:    "queryCpuUsage",
	history.MetricMemoryUsage: "queryMemoryUsage",
	history.MetricErrorRate:   "queryErrorRate",
	history.MetricLatency:     "queryLatency",
}

// newPrometheusFromConfig creates a Prometheus source from a generic
// config map. Recognized keys: "url", "serviceLabel", and one query key
// per tracked metric ("queryCpuUsage", "queryMemoryUsage",
// "queryErrorRate", "queryLatency").
func newPrometheusFromConfig(config map[string]string) (*PrometheusSource, error) {
	serverURL := config["url"]
	if serverURL == "" {
		serverURL = "http://localhost:9090"
	}

	queries := make(map[string]string)
	for metric, key := range queryConfigKeys {
		if q := config[key]; q != "" {
			queries[metric] = q
		}
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("prometheus source requires at least one query config (e.g. queryCpuUsage)")
	}

	return &PrometheusSource{
		ServerURL:    serverURL,
		Queries:      queries,
		ServiceLabel: config["serviceLabel"],
	}, nil
}
