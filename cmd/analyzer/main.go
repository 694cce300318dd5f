// Command analyzer implements the Auspex predictive failure analyzer.
//
// The analyzer runs a continuous collection loop that:
//  1. Observes per-service metrics from a configurable source
//  2. Classifies each service's health against its topology role
//  3. Derives a system-wide risk score and records a history snapshot
//  4. Computes failure and cascade predictions over the recent history
//  5. Exposes trends, predictions, and history via HTTP API
//
// The analyzer serves an HTTP API on port 8080 (configurable) providing:
//   - GET  /api/v1/trends?window=<minutes> - Metric trend analysis
//   - GET  /api/v1/predictions - Failure and cascade predictions
//   - GET  /api/v1/history?window=<minutes> - Raw snapshot history
//   - GET  /api/v1/history/stats - History store statistics
//   - GET  /api/v1/services/{id}/history - Per-service metric series
//   - POST /api/v1/snapshots - External snapshot ingestion
//   - GET  /healthz - Health check endpoint
//   - GET  /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	analyzer \
//	  -source=prometheus \
//	  -storage=redis \
//	  -redis-addr=redis:6379 \
//	  -topology-file=topology.yaml \
//	  -interval=1m
//
// Environment variables:
//
//	LISTEN         - HTTP listen address (default: :8080)
//	GRPC_LISTEN    - gRPC listen address (empty disables gRPC)
//	STORAGE        - History backend: memory or redis (default: memory)
//	REDIS_ADDR     - Redis server address
//	RETENTION      - Snapshot retention window (default: 48h)
//	MAX_SNAPSHOTS  - Maximum retained snapshots (default: 2880)
//	SOURCE         - Metric source: synthetic, http, prometheus
//	SOURCE_*       - Source-specific settings (e.g. SOURCE_URL)
//	TOPOLOGY_FILE  - Topology YAML path (empty uses the demo topology)
//	RULES_FILE     - Prediction rules YAML path (empty uses defaults)
//	INTERVAL       - Collection loop interval (default: 30s)
//	LOG_LEVEL      - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT     - Logging format: text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/auspexhq/auspex/cmd/analyzer/config"
	"github.com/auspexhq/auspex/cmd/analyzer/logger"
	"github.com/auspexhq/auspex/cmd/analyzer/metrics"
	"github.com/auspexhq/auspex/cmd/analyzer/router"
	"github.com/auspexhq/auspex/pkg/history"
	"github.com/auspexhq/auspex/pkg/httpx"
	"github.com/auspexhq/auspex/pkg/predict"
	"github.com/auspexhq/auspex/pkg/source"
	"github.com/auspexhq/auspex/pkg/tls"
	"github.com/auspexhq/auspex/pkg/topology"
	"github.com/auspexhq/auspex/pkg/trend"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting auspex analyzer",
		"version", version,
		"source", cfg.Source,
		"storage", cfg.Storage,
		"interval", cfg.Interval,
	)

	store := newStore(cfg, log)
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Error("failed to close store", "error", err)
			}
		}()
	}

	graph := newGraph(cfg, log)

	src, err := source.New(cfg.Source, cfg.SourceConfig, graph)
	if err != nil {
		log.Error("failed to create metric source", "error", err)
		os.Exit(1)
	}

	rules, err := predict.LoadRules(cfg.RulesFile)
	if err != nil {
		log.Error("failed to load prediction rules", "path", cfg.RulesFile, "error", err)
		os.Exit(1)
	}
	predictor := predict.New(rules)

	engine := trend.NewEngine(trend.Policy{})

	a := NewAnalyzer(src, store, graph, predictor, log, metrics.New(cfg.Source))

	mux := router.SetupRoutes(store, engine, predictor, graph, log)
	handler := httpx.LoggingMiddleware(log)(httpx.RecoveryMiddleware(log)(mux))
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	if cfg.TLS.Enabled {
		tlsConfig, err := tls.NewServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
		if err != nil {
			log.Error("failed to build TLS configuration", "error", err)
			os.Exit(1)
		}
		httpServer.SetTLSConfig(tlsConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := a.Run(ctx, cfg.Interval); err != nil && err != context.Canceled {
			log.Error("collection loop failed", "error", err)
		}
	}()

	grpcServer := startGRPC(cfg, log)

	serverErr := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			serverErr <- httpServer.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErr <- httpServer.Start()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	log.Info("shutting down")
	cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

// newStore builds the configured history backend.
func newStore(cfg *config.Config, log *slog.Logger) history.Store {
	switch cfg.Storage {
	case "redis":
		store, err := history.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix, cfg.Retention, cfg.MaxSnapshots)
		if err != nil {
			log.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		log.Info("using redis history store", "addr", cfg.RedisAddr, "prefix", cfg.RedisPrefix)
		return store
	default:
		log.Info("using in-memory history store", "retention", cfg.Retention, "max_snapshots", cfg.MaxSnapshots)
		return history.NewMemoryStoreWithBounds(cfg.Retention, cfg.MaxSnapshots)
	}
}

// newGraph loads the topology file, or falls back to the demo topology.
func newGraph(cfg *config.Config, log *slog.Logger) *topology.Graph {
	if cfg.TopologyFile == "" {
		log.Info("using built-in demo topology")
		return topology.Demo()
	}

	graph, err := topology.Load(cfg.TopologyFile)
	if err != nil {
		log.Error("failed to load topology", "path", cfg.TopologyFile, "error", err)
		os.Exit(1)
	}

	log.Info("loaded topology", "path", cfg.TopologyFile, "services", graph.Len())
	return graph
}

// startGRPC starts the optional gRPC health listener. Returns nil when
// disabled.
func startGRPC(cfg *config.Config, log *slog.Logger) *grpc.Server {
	if cfg.GRPCListen == "" {
		return nil
	}

	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCListen)
	if err != nil {
		log.Error("failed to listen for grpc", "address", cfg.GRPCListen, "error", err)
		os.Exit(1)
	}

	go func() {
		log.Info("grpc server listening", "address", cfg.GRPCListen)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc server failed", "error", err)
		}
	}()

	return grpcServer
}
