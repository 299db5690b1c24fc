// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/claviger/config.yaml",
	"/etc/claviger/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8710,
			Host:              "0.0.0.0",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			RequestsPerMinute: 600,
			CORSOrigins:       []string{"*"},
			Environment:       "development", // Set ENVIRONMENT=production for production checks
		},
		Auth: AuthConfig{
			JWTSecret:   "",
			Issuer:      "claviger",
			Audience:    "",
			ClockSkew:   30 * time.Second,
			DefaultTier: "free",
		},
		Admin: AdminConfig{
			TokenHash: "", // Empty disables admin endpoints
		},
		Pipeline: PipelineConfig{
			MaxHierarchyDepth: 5,
			StrictIdentifiers: false,
			EgressBlocklist:   []string{},
			DecisionTimeout:   2 * time.Second,
			PolicyVersion:     "v1",
		},
		Cache: CacheConfig{
			L1: L1Config{
				MaxEntries:      50000,
				MaxBytes:        64 << 20, // 64MB
				JanitorInterval: 30 * time.Second,
			},
			Redis: RedisConfig{
				Enabled:   false,
				Addr:      "127.0.0.1:6379",
				Password:  "",
				DB:        0,
				PoolSize:  10,
				KeyPrefix: "claviger",
				Timeout:   100 * time.Millisecond,
			},
			Views: ViewsConfig{
				Enabled:         false,
				QueryTimeout:    500 * time.Millisecond,
				RefreshInterval: time.Minute,
				RefreshRate:     200,
			},
		},
		RateLimit: RateLimitConfig{
			Backend:        "memory",
			Window:         time.Minute,
			Anonymous:      10,
			Free:           60,
			Pro:            300,
			Enterprise:     1200,
			Internal:       6000,
			AbuseThreshold: 20,
			MaxKeys:        100000,
		},
		Breaker: BreakerConfig{
			MaxRequests:      3,
			Interval:         60 * time.Second,
			OpenTimeout:      10 * time.Second,
			FailureThreshold: 5,
		},
		Audit: AuditConfig{
			BufferSize:         4096,
			DrainTimeout:       5 * time.Second,
			SpoolPath:          "", // Empty disables the durable spool
			SpoolRetryInterval: 15 * time.Second,
			LogSink:            true,
			NATSSink:           false,
			StoreSink:          false,
			Topic:              "audit.decisions",
			RetentionDays:      30,
			HashSubjects:       false,
		},
		Suspension: SuspensionConfig{
			Path:            "", // Empty keeps suspensions in memory
			BaseDuration:    time.Minute,
			MaxDuration:     time.Hour,
			JanitorInterval: time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/claviger.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		NATS: NATSConfig{
			Enabled:           false,
			URL:               "nats://127.0.0.1:4222",
			EmbeddedServer:    false,
			StoreDir:          "/data/nats/jetstream",
			MaxMemory:         1 << 30,  // 1GB
			MaxStore:          10 << 30, // 10GB
			InvalidationTopic: "cache.invalidation",
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// This function is the preferred way to load configuration and provides:
//   - Type-safe configuration unmarshaling
//   - Clear precedence: ENV > File > Defaults
//   - Support for nested configuration via koanf struct tags
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// JWT_SECRET -> auth.jwt_secret
	// CACHE_REDIS_ADDR -> cache.redis.addr
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"server.cors_origins",
	"pipeline.egress_blocklist",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// If it's already a slice (from YAML file), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		// If it's a string, split by comma
		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - JWT_SECRET -> auth.jwt_secret
//   - CACHE_REDIS_ADDR -> cache.redis.addr
//   - RATE_LIMIT_PRO -> rate_limit.pro
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_port":                "server.port",
		"http_host":                "server.host",
		"http_read_timeout":        "server.read_timeout",
		"http_write_timeout":       "server.write_timeout",
		"http_shutdown_timeout":    "server.shutdown_timeout",
		"http_requests_per_minute": "server.requests_per_minute",
		"cors_origins":             "server.cors_origins",
		"environment":              "server.environment",

		// Auth mappings
		"jwt_secret":        "auth.jwt_secret",
		"jwt_issuer":        "auth.issuer",
		"jwt_audience":      "auth.audience",
		"jwt_clock_skew":    "auth.clock_skew",
		"auth_default_tier": "auth.default_tier",

		// Admin mappings
		"admin_token_hash": "admin.token_hash",

		// Pipeline mappings
		"pipeline_max_hierarchy_depth": "pipeline.max_hierarchy_depth",
		"pipeline_strict_identifiers":  "pipeline.strict_identifiers",
		"pipeline_egress_blocklist":    "pipeline.egress_blocklist",
		"pipeline_decision_timeout":    "pipeline.decision_timeout",
		"pipeline_policy_version":      "pipeline.policy_version",

		// Cache: Tier 1 mappings
		"cache_l1_max_entries":      "cache.l1.max_entries",
		"cache_l1_max_bytes":        "cache.l1.max_bytes",
		"cache_l1_janitor_interval": "cache.l1.janitor_interval",

		// Cache: Tier 2 (Redis) mappings
		"cache_redis_enabled":    "cache.redis.enabled",
		"cache_redis_addr":       "cache.redis.addr",
		"cache_redis_password":   "cache.redis.password",
		"cache_redis_db":         "cache.redis.db",
		"cache_redis_pool_size":  "cache.redis.pool_size",
		"cache_redis_key_prefix": "cache.redis.key_prefix",
		"cache_redis_timeout":    "cache.redis.timeout",

		// Cache: Tier 3 (views) mappings
		"cache_views_enabled":          "cache.views.enabled",
		"cache_views_query_timeout":    "cache.views.query_timeout",
		"cache_views_refresh_interval": "cache.views.refresh_interval",
		"cache_views_refresh_rate":     "cache.views.refresh_rate",

		// Rate limit mappings
		"rate_limit_backend":         "rate_limit.backend",
		"rate_limit_window":          "rate_limit.window",
		"rate_limit_anonymous":       "rate_limit.anonymous",
		"rate_limit_free":            "rate_limit.free",
		"rate_limit_pro":             "rate_limit.pro",
		"rate_limit_enterprise":      "rate_limit.enterprise",
		"rate_limit_internal":        "rate_limit.internal",
		"rate_limit_abuse_threshold": "rate_limit.abuse_threshold",
		"rate_limit_max_keys":        "rate_limit.max_keys",

		// Breaker mappings
		"breaker_max_requests":      "breaker.max_requests",
		"breaker_interval":          "breaker.interval",
		"breaker_open_timeout":      "breaker.open_timeout",
		"breaker_failure_threshold": "breaker.failure_threshold",

		// Audit mappings
		"audit_buffer_size":          "audit.buffer_size",
		"audit_drain_timeout":        "audit.drain_timeout",
		"audit_spool_path":           "audit.spool_path",
		"audit_spool_retry_interval": "audit.spool_retry_interval",
		"audit_log_sink":             "audit.log_sink",
		"audit_nats_sink":            "audit.nats_sink",
		"audit_store_sink":           "audit.store_sink",
		"audit_topic":                "audit.topic",
		"audit_retention_days":       "audit.retention_days",
		"audit_hash_subjects":        "audit.hash_subjects",

		// Suspension mappings
		"suspension_path":             "suspension.path",
		"suspension_base_duration":    "suspension.base_duration",
		"suspension_max_duration":     "suspension.max_duration",
		"suspension_janitor_interval": "suspension.janitor_interval",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// NATS mappings
		"nats_enabled":            "nats.enabled",
		"nats_url":                "nats.url",
		"nats_embedded":           "nats.embedded_server",
		"nats_store_dir":          "nats.store_dir",
		"nats_max_memory":         "nats.max_memory",
		"nats_max_store":          "nats.max_store",
		"nats_invalidation_topic": "nats.invalidation_topic",

		// API mappings
		"api_default_page_size": "api.default_page_size",
		"api_max_page_size":     "api.max_page_size",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them
	// This prevents random environment variables from polluting config
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// Note: The caller is responsible for mutex protection when accessing
// configuration during reloads.
//
// Example usage:
//
//	var cfgMu sync.RWMutex
//	var cfg *Config
//
//	err := WatchConfigFile(configPath, func() {
//	    cfgMu.Lock()
//	    defer cfgMu.Unlock()
//	    newCfg, err := LoadWithKoanf()
//	    if err != nil {
//	        log.Printf("Config reload failed: %v", err)
//	        return
//	    }
//	    cfg = newCfg
//	})
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	// Start watching the file for changes
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
