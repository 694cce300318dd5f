// Package router configures HTTP routes for the analyzer's HTTP API.
//
// The analyzer exposes an HTTP server on port 8080 (configurable) that provides
// trend reports, failure predictions, history access, health checks, and
// Prometheus metrics. This package sets up the routes for that HTTP server.
//
// Routes configured:
//   - GET  /api/v1/trends?window=<minutes> - Trend analysis over the window
//   - GET  /api/v1/predictions - Failure and cascade predictions
//   - GET  /api/v1/history?window=<minutes> - Raw snapshot history
//   - GET  /api/v1/history/stats - History store statistics
//   - GET  /api/v1/services/{id}/history?window=<minutes> - Per-service series
//   - POST /api/v1/snapshots - External snapshot ingestion
//   - GET  /healthz - Health check endpoint (returns 200 OK)
//   - GET  /metrics - Prometheus metrics endpoint
//
// The window parameter is expressed in minutes and defaults to 1440 (one day).
// Error bodies use the {"error": "..."} shape throughout.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auspexhq/auspex/pkg/history"
	"github.com/auspexhq/auspex/pkg/httpx"
	"github.com/auspexhq/auspex/pkg/predict"
	"github.com/auspexhq/auspex/pkg/topology"
	"github.com/auspexhq/auspex/pkg/trend"
)

var serviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,251}[a-zA-Z0-9])?$`)

const (
	defaultWindowMinutes = 1440
	maxWindowMinutes     = 7 * 24 * 60
	queryTimeout         = 2 * time.Second
)

// SetupRoutes configures HTTP endpoints for the analyzer.
func SetupRoutes(store history.Store, engine *trend.Engine, predictor *predict.Predictor, graph *topology.Graph, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandler())

	mux.HandleFunc("GET /api/v1/trends", handleTrends(store, engine, logger))
	mux.HandleFunc("GET /api/v1/predictions", handlePredictions(store, predictor, graph, logger))
	mux.HandleFunc("GET /api/v1/history", handleHistory(store, logger))
	mux.HandleFunc("GET /api/v1/history/stats", handleHistoryStats(store, logger))
	mux.HandleFunc("GET /api/v1/services/{id}/history", handleServiceHistory(store, logger))
	mux.HandleFunc("POST /api/v1/snapshots", handleIngest(store, logger))

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// windowParam parses the window query parameter in minutes.
func windowParam(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return defaultWindowMinutes * time.Minute, nil
	}

	minutes, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("window must be an integer number of minutes, got %q", raw)
	}
	if minutes <= 0 {
		return 0, fmt.Errorf("window must be positive, got %d", minutes)
	}
	if minutes > maxWindowMinutes {
		return 0, fmt.Errorf("window must not exceed %d minutes, got %d", maxWindowMinutes, minutes)
	}

	return time.Duration(minutes) * time.Minute, nil
}

// handleTrends returns a handler for GET /api/v1/trends?window=<minutes>.
func handleTrends(store history.Store, engine *trend.Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window, err := windowParam(r)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
		defer cancel()

		snapshots, err := store.Query(ctx, window)
		if err != nil {
			logger.Error("failed to query history", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		results := engine.Compute(snapshots)
		trends := make(map[string]trend.Result, len(results))
		for _, res := range results {
			trends[res.MetricName] = res
		}

		resp := map[string]any{
			"window_minutes": int(window.Minutes()),
			"computed_at":    time.Now().UTC().Format(time.RFC3339),
			"trends":         trends,
		}

		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handlePredictions returns a handler for GET /api/v1/predictions.
func handlePredictions(store history.Store, predictor *predict.Predictor, graph *topology.Graph, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
		defer cancel()

		snapshots, err := store.Query(ctx, defaultWindowMinutes*time.Minute)
		if err != nil {
			logger.Error("failed to query history", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if len(snapshots) == 0 {
			empty := predict.Report{
				FailurePredictions: []predict.Failure{},
				CascadePredictions: []predict.Cascade{},
			}
			if err := httpx.WriteJSON(w, http.StatusOK, empty); err != nil {
				logger.Error("failed to write JSON response", "error", err)
			}
			return
		}

		report, err := predictor.Report(snapshots, graph)
		if err != nil {
			logger.Error("failed to compute predictions", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, report); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleHistory returns a handler for GET /api/v1/history?window=<minutes>.
func handleHistory(store history.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window, err := windowParam(r)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
		defer cancel()

		snapshots, err := store.Query(ctx, window)
		if err != nil {
			logger.Error("failed to query history", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if snapshots == nil {
			snapshots = []history.Snapshot{}
		}

		resp := map[string]any{
			"window_minutes": int(window.Minutes()),
			"count":          len(snapshots),
			"snapshots":      snapshots,
		}

		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleHistoryStats returns a handler for GET /api/v1/history/stats.
func handleHistoryStats(store history.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
		defer cancel()

		stats, err := store.Statistics(ctx)
		if err != nil {
			logger.Error("failed to compute history statistics", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, stats); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleServiceHistory returns a handler for GET /api/v1/services/{id}/history.
func handleServiceHistory(store history.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID := r.PathValue("id")
		if !serviceIDRegex.MatchString(serviceID) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid service id format")
			return
		}

		window, err := windowParam(r)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
		defer cancel()

		series, err := store.ServiceSeries(ctx, serviceID, window)
		if err != nil {
			logger.Error("failed to query service history", "service", serviceID, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, series); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleIngest returns a handler for POST /api/v1/snapshots.
func handleIngest(store history.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var snapshot history.Snapshot

		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&snapshot); err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("malformed snapshot: %v", err))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
		defer cancel()

		if err := store.Record(ctx, snapshot); err != nil {
			if errors.Is(err, history.ErrInvalidSnapshot) || errors.Is(err, history.ErrOutOfOrder) {
				httpx.WriteError(w, http.StatusBadRequest, err)
				return
			}
			logger.Error("failed to record snapshot", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if err := httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"}); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}
