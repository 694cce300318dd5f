// Package config provides configuration parsing and management for the analyzer.
//
// It handles both command-line flags and environment variables, with flags taking
// precedence over environment variables. The Config struct contains all runtime
// configuration for the analyzer including:
//   - HTTP and optional gRPC listen addresses
//   - History store selection (memory or redis) and retention bounds
//   - Metric source selection (synthetic, http, prometheus) and its settings
//   - Topology and prediction rule file locations
//   - Timing configuration (collection interval)
//   - Logging configuration (level, format)
//   - TLS configuration (cert, key, CA files)
//
// Source-specific settings are passed via SOURCE_* environment variables and
// collected into a lowerCamelCase keyed map, e.g. SOURCE_SERVICES_PATH becomes
// servicesPath.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
//
// Example usage:
//
//	cfg := config.ParseFlags()
//	// cfg contains validated analyzer configuration
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/auspexhq/auspex/pkg/tls"
)

// Config holds all analyzer configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	Retention     time.Duration
	MaxSnapshots  int

	Source       string
	SourceConfig map[string]string

	TopologyFile string
	RulesFile    string

	Interval time.Duration

	TLS tls.Config
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Flags take precedence over environment variables.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ""), "gRPC listen address (empty disables the gRPC server)")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "History store backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.StringVar(&cfg.RedisPrefix, "redis-prefix", getEnv("REDIS_PREFIX", "auspex"), "Redis key prefix")
	flag.DurationVar(&cfg.Retention, "retention", getEnvDuration("RETENTION", 48*time.Hour), "Snapshot retention window")
	flag.IntVar(&cfg.MaxSnapshots, "max-snapshots", getEnvInt("MAX_SNAPSHOTS", 2880), "Maximum snapshots kept in history")

	flag.StringVar(&cfg.Source, "source", getEnv("SOURCE", "synthetic"), "Metric source: synthetic, http, or prometheus")

	flag.StringVar(&cfg.TopologyFile, "topology-file", getEnv("TOPOLOGY_FILE", ""), "Path to topology YAML (empty uses the built-in demo topology)")
	flag.StringVar(&cfg.RulesFile, "rules-file", getEnv("RULES_FILE", ""), "Path to prediction rules YAML (empty uses defaults)")

	flag.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 30*time.Second), "Collection loop interval")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for the HTTP server")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert", getEnv("TLS_CERT_FILE", ""), "Path to TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key", getEnv("TLS_KEY_FILE", ""), "Path to TLS key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca", getEnv("TLS_CA_FILE", ""), "Path to TLS CA file")

	flag.Parse()

	cfg.SourceConfig = parseSourceConfig()

	validateConfig(cfg)

	return cfg
}

// validateConfig checks configuration values and exits on invalid input.
func validateConfig(cfg *Config) {
	switch cfg.Storage {
	case "memory", "redis":
	default:
		fmt.Fprintf(os.Stderr, "Error: -storage must be memory or redis, got %q\n", cfg.Storage)
		os.Exit(1)
	}

	switch cfg.Source {
	case "synthetic", "http", "prometheus":
	default:
		fmt.Fprintf(os.Stderr, "Error: -source must be synthetic, http, or prometheus, got %q\n", cfg.Source)
		os.Exit(1)
	}

	if cfg.Storage == "redis" && cfg.RedisAddr == "" {
		fmt.Fprintln(os.Stderr, "Error: -redis-addr is required when -storage=redis")
		os.Exit(1)
	}

	if cfg.Retention <= 0 {
		fmt.Fprintf(os.Stderr, "Error: -retention must be positive, got %v\n", cfg.Retention)
		os.Exit(1)
	}

	if cfg.MaxSnapshots <= 0 {
		fmt.Fprintf(os.Stderr, "Error: -max-snapshots must be positive, got %d\n", cfg.MaxSnapshots)
		os.Exit(1)
	}

	if cfg.Interval <= 0 {
		fmt.Fprintf(os.Stderr, "Error: -interval must be positive, got %v\n", cfg.Interval)
		os.Exit(1)
	}

	if err := cfg.TLS.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid TLS configuration: %v\n", err)
		os.Exit(1)
	}
}

// parseSourceConfig collects SOURCE_* environment variables into a config map.
// SOURCE_SERVICES_PATH becomes servicesPath, SOURCE_URL becomes url.
func parseSourceConfig() map[string]string {
	config := make(map[string]string)

	for _, env := range os.Environ() {
		key, value := splitEnv(env)
		if !strings.HasPrefix(key, "SOURCE_") || key == "SOURCE" {
			continue
		}
		name := toLowerCamelCase(strings.TrimPrefix(key, "SOURCE_"))
		if name != "" {
			config[name] = value
		}
	}

	return config
}

// splitEnv splits an environment entry of the form KEY=VALUE.
func splitEnv(env string) (string, string) {
	for i := 0; i < len(env); i++ {
		if env[i] == '=' {
			return env[:i], env[i+1:]
		}
	}
	return env, ""
}

// toLowerCamelCase converts SCREAMING_SNAKE_CASE to lowerCamelCase.
func toLowerCamelCase(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 0 {
		return ""
	}

	result := toLower(parts[0])
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		result += strings.ToUpper(part[:1]) + toLower(part[1:])
	}

	return result
}

func toLower(s string) string {
	return strings.ToLower(s)
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as a bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
