package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPSource is a generic connector that calls any REST API endpoint and
// extracts per-service readings using JSON path expressions.
//
// It supports:
//   - Configurable HTTP method (GET, POST, etc.)
//   - Template-based request body with variables: {{.Now}}, {{.NowRFC3339}}
//   - Custom headers including authentication (Bearer tokens, API keys, etc.)
//   - gjson path extraction: ServicesPath selects the array of service
//     objects, the remaining paths are evaluated relative to each element
//
// Example configuration for a custom metrics API:
//
//	source := &HTTPSource{
//	    URL:          "https://api.example.com/system/metrics",
//	    Headers:      map[string]string{"Authorization": "Bearer {{.Token}}"},
//	    ServicesPath: "services",
//	    IDPath:       "id",
//	    CPUPath:      "cpu_usage",
//	    MemoryPath:   "memory_usage",
//	    ErrorPath:    "error_rate",
//	    LatencyPath:  "latency",
//	}
type HTTPSource struct {
	// URL is the endpoint to call (required).
	URL string

	// Method is the HTTP method. Defaults to GET if empty.
	Method string

	// Headers are custom HTTP headers to include in the request.
	// Values can use template variables like {{.Token}}.
	Headers map[string]string

	// Body is the request body template (for POST/PUT). Supports
	// {{.Now}} (Unix seconds) and {{.NowRFC3339}}, plus TemplateVars.
	Body string

	// ServicesPath is the gjson path selecting the array of service
	// objects in the response (required).
	ServicesPath string

	// IDPath extracts the service identifier from each array element
	// (required). The metric paths below are optional; a missing path
	// leaves that metric absent for the service.
	IDPath      string
	CPUPath     string
	MemoryPath  string
	ErrorPath   string
	LatencyPath string

	// HTTPClient is optional; if nil a default client with timeout is
	// used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in Body and Headers
	// templates. Use this to pass tokens, API keys, etc.
	TemplateVars map[string]string
}

func (h *HTTPSource) Name() string { return "http" }

// Observe implements Source. It calls the configured endpoint and
// extracts one reading per service object.
func (h *HTTPSource) Observe(ctx context.Context) (Sample, error) {
	if err := h.ValidateConfig(); err != nil {
		return Sample{}, fmt.Errorf("http source: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	templateData := map[string]any{
		"Now":        now.Unix(),
		"NowRFC3339": now.Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		rendered, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return Sample{}, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return Sample{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return Sample{}, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Sample{}, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sample{}, fmt.Errorf("read response: %w", err)
	}

	services := gjson.GetBytes(respBody, h.ServicesPath)
	if !services.Exists() {
		return Sample{}, fmt.Errorf("services path %q not found in response", h.ServicesPath)
	}

	sample := NewSample()
	for _, element := range services.Array() {
		id := element.Get(h.IDPath).String()
		if id == "" {
			return Sample{}, fmt.Errorf("id path %q yielded empty id", h.IDPath)
		}
		setMetric(sample.CPUUsage, element, h.CPUPath, id)
		setMetric(sample.MemoryUsage, element, h.MemoryPath, id)
		setMetric(sample.ErrorRate, element, h.ErrorPath, id)
		setMetric(sample.Latency, element, h.LatencyPath, id)
	}
	return sample, nil
}

func setMetric(dst map[string]float64, element gjson.Result, path, id string) {
	if path == "" {
		return
	}
	if v := element.Get(path); v.Exists() {
		dst[id] = v.Float()
	}
}

// ValidateConfig checks if the source configuration is valid.
func (h *HTTPSource) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.ServicesPath == "" {
		return errors.New("servicesPath is required")
	}
	if h.IDPath == "" {
		return errors.New("idPath is required")
	}
	return nil
}

// renderTemplate renders a text template with the given data.
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// newHTTPFromConfig creates an HTTPSource from a generic config map.
// "headers" and "templateVars" hold JSON-encoded string maps.
func newHTTPFromConfig(config map[string]string) (*HTTPSource, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("http source requires 'url' config")
	}
	servicesPath := config["servicesPath"]
	idPath := config["idPath"]
	if servicesPath == "" || idPath == "" {
		return nil, fmt.Errorf("http source requires 'servicesPath' and 'idPath' config")
	}

	var headers map[string]string
	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}
	var templateVars map[string]string
	if varsJSON := config["templateVars"]; varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &templateVars); err != nil {
			return nil, fmt.Errorf("invalid 'templateVars' JSON: %w", err)
		}
	}

	return &HTTPSource{
		URL:          url,
		Method:       config["method"],
		Headers:      headers,
		Body:         config["body"],
		ServicesPath: servicesPath,
		IDPath:       idPath,
		CPUPath:      config["cpuPath"],
		MemoryPath:   config["memoryPath"],
		ErrorPath:    config["errorPath"],
		LatencyPath:  config["latencyPath"],
		TemplateVars: templateVars,
	}, nil
}
