// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	// Server defaults
	if cfg.Server.Port != 8710 {
		t.Errorf("Server.Port = %d, want 8710", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "*" {
		t.Errorf("Server.CORSOrigins = %v, want [*]", cfg.Server.CORSOrigins)
	}

	// Auth defaults (secret empty - required only in production)
	if cfg.Auth.JWTSecret != "" {
		t.Errorf("Auth.JWTSecret should be empty by default, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.Issuer != "claviger" {
		t.Errorf("Auth.Issuer = %q, want claviger", cfg.Auth.Issuer)
	}
	if cfg.Auth.DefaultTier != "free" {
		t.Errorf("Auth.DefaultTier = %q, want free", cfg.Auth.DefaultTier)
	}

	// Pipeline defaults
	if cfg.Pipeline.MaxHierarchyDepth != 5 {
		t.Errorf("Pipeline.MaxHierarchyDepth = %d, want 5", cfg.Pipeline.MaxHierarchyDepth)
	}
	if cfg.Pipeline.DecisionTimeout != 2*time.Second {
		t.Errorf("Pipeline.DecisionTimeout = %v, want 2s", cfg.Pipeline.DecisionTimeout)
	}

	// Cache defaults (L1 always on, remote tiers off)
	if cfg.Cache.L1.MaxEntries != 50000 {
		t.Errorf("Cache.L1.MaxEntries = %d, want 50000", cfg.Cache.L1.MaxEntries)
	}
	if cfg.Cache.L1.MaxBytes != 64<<20 {
		t.Errorf("Cache.L1.MaxBytes = %d, want 64MB", cfg.Cache.L1.MaxBytes)
	}
	if cfg.Cache.Redis.Enabled {
		t.Errorf("Cache.Redis.Enabled should be false by default")
	}
	if cfg.Cache.Redis.Timeout != 100*time.Millisecond {
		t.Errorf("Cache.Redis.Timeout = %v, want 100ms", cfg.Cache.Redis.Timeout)
	}
	if cfg.Cache.Views.Enabled {
		t.Errorf("Cache.Views.Enabled should be false by default")
	}
	if cfg.Cache.Views.QueryTimeout != 500*time.Millisecond {
		t.Errorf("Cache.Views.QueryTimeout = %v, want 500ms", cfg.Cache.Views.QueryTimeout)
	}

	// Rate limit defaults
	if cfg.RateLimit.Backend != "memory" {
		t.Errorf("RateLimit.Backend = %q, want memory", cfg.RateLimit.Backend)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Errorf("RateLimit.Window = %v, want 1m", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.Anonymous != 10 {
		t.Errorf("RateLimit.Anonymous = %d, want 10", cfg.RateLimit.Anonymous)
	}
	if cfg.RateLimit.Free != 60 {
		t.Errorf("RateLimit.Free = %d, want 60", cfg.RateLimit.Free)
	}
	if cfg.RateLimit.Pro != 300 {
		t.Errorf("RateLimit.Pro = %d, want 300", cfg.RateLimit.Pro)
	}
	if cfg.RateLimit.Enterprise != 1200 {
		t.Errorf("RateLimit.Enterprise = %d, want 1200", cfg.RateLimit.Enterprise)
	}
	if cfg.RateLimit.Internal != 6000 {
		t.Errorf("RateLimit.Internal = %d, want 6000", cfg.RateLimit.Internal)
	}

	// Breaker defaults
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.OpenTimeout != 10*time.Second {
		t.Errorf("Breaker.OpenTimeout = %v, want 10s", cfg.Breaker.OpenTimeout)
	}

	// Audit defaults
	if cfg.Audit.BufferSize != 4096 {
		t.Errorf("Audit.BufferSize = %d, want 4096", cfg.Audit.BufferSize)
	}
	if !cfg.Audit.LogSink {
		t.Errorf("Audit.LogSink should be true by default")
	}
	if cfg.Audit.Topic != "audit.decisions" {
		t.Errorf("Audit.Topic = %q, want audit.decisions", cfg.Audit.Topic)
	}

	// Suspension defaults
	if cfg.Suspension.BaseDuration != time.Minute {
		t.Errorf("Suspension.BaseDuration = %v, want 1m", cfg.Suspension.BaseDuration)
	}
	if cfg.Suspension.MaxDuration != time.Hour {
		t.Errorf("Suspension.MaxDuration = %v, want 1h", cfg.Suspension.MaxDuration)
	}

	// Database defaults
	if cfg.Database.Path != "/data/claviger.duckdb" {
		t.Errorf("Database.Path = %q, want /data/claviger.duckdb", cfg.Database.Path)
	}
	if cfg.Database.MaxMemory != "2GB" {
		t.Errorf("Database.MaxMemory = %q, want 2GB", cfg.Database.MaxMemory)
	}

	// NATS defaults (disabled - in-process bus by default)
	if cfg.NATS.Enabled {
		t.Errorf("NATS.Enabled should be false by default")
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("NATS.URL = %q, want nats://127.0.0.1:4222", cfg.NATS.URL)
	}
	if cfg.NATS.InvalidationTopic != "cache.invalidation" {
		t.Errorf("NATS.InvalidationTopic = %q, want cache.invalidation", cfg.NATS.InvalidationTopic)
	}

	// API defaults
	if cfg.API.DefaultPageSize != 20 {
		t.Errorf("API.DefaultPageSize = %d, want 20", cfg.API.DefaultPageSize)
	}
	if cfg.API.MaxPageSize != 100 {
		t.Errorf("API.MaxPageSize = %d, want 100", cfg.API.MaxPageSize)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

// TestEnvTransformFunc verifies environment variable name transformations
func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Server
		{"HTTP_PORT", "server.port"},
		{"HTTP_HOST", "server.host"},
		{"CORS_ORIGINS", "server.cors_origins"},
		{"ENVIRONMENT", "server.environment"},

		// Auth
		{"JWT_SECRET", "auth.jwt_secret"},
		{"JWT_ISSUER", "auth.issuer"},
		{"AUTH_DEFAULT_TIER", "auth.default_tier"},
		{"ADMIN_TOKEN_HASH", "admin.token_hash"},

		// Pipeline
		{"PIPELINE_MAX_HIERARCHY_DEPTH", "pipeline.max_hierarchy_depth"},
		{"PIPELINE_EGRESS_BLOCKLIST", "pipeline.egress_blocklist"},

		// Cache
		{"CACHE_L1_MAX_ENTRIES", "cache.l1.max_entries"},
		{"CACHE_REDIS_ENABLED", "cache.redis.enabled"},
		{"CACHE_REDIS_ADDR", "cache.redis.addr"},
		{"CACHE_VIEWS_ENABLED", "cache.views.enabled"},
		{"CACHE_VIEWS_REFRESH_INTERVAL", "cache.views.refresh_interval"},

		// Rate limit
		{"RATE_LIMIT_BACKEND", "rate_limit.backend"},
		{"RATE_LIMIT_WINDOW", "rate_limit.window"},
		{"RATE_LIMIT_PRO", "rate_limit.pro"},
		{"RATE_LIMIT_ABUSE_THRESHOLD", "rate_limit.abuse_threshold"},

		// Breaker
		{"BREAKER_OPEN_TIMEOUT", "breaker.open_timeout"},

		// Audit
		{"AUDIT_BUFFER_SIZE", "audit.buffer_size"},
		{"AUDIT_SPOOL_PATH", "audit.spool_path"},
		{"AUDIT_NATS_SINK", "audit.nats_sink"},

		// Suspension
		{"SUSPENSION_BASE_DURATION", "suspension.base_duration"},

		// Database
		{"DUCKDB_PATH", "database.path"},
		{"DUCKDB_MAX_MEMORY", "database.max_memory"},

		// NATS
		{"NATS_ENABLED", "nats.enabled"},
		{"NATS_URL", "nats.url"},
		{"NATS_EMBEDDED", "nats.embedded_server"},
		{"NATS_INVALIDATION_TOPIC", "nats.invalidation_topic"},

		// Logging
		{"LOG_LEVEL", "logging.level"},
		{"LOG_FORMAT", "logging.format"},

		// Unknown (should return empty)
		{"RANDOM_VAR", ""},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := envTransformFunc(tt.input)
			if result != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestFindConfigFile verifies config file discovery
func TestFindConfigFile(t *testing.T) {
	// Create a temporary directory for test files
	tmpDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	// Save original working directory
	origDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	defer func() {
		if err := os.Chdir(origDir); err != nil {
			t.Errorf("Failed to restore working directory: %v", err)
		}
	}()

	// Change to temp directory
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change to temp directory: %v", err)
	}

	t.Run("no config file exists", func(t *testing.T) {
		os.Unsetenv(ConfigPathEnvVar)
		result := findConfigFile()
		if result != "" {
			t.Errorf("findConfigFile() = %q, want empty string", result)
		}
	})

	t.Run("config.yaml exists", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "config.yaml")
		if err := os.WriteFile(configPath, []byte("test: true"), 0644); err != nil {
			t.Fatalf("Failed to create config file: %v", err)
		}
		defer os.Remove(configPath)

		os.Unsetenv(ConfigPathEnvVar)
		result := findConfigFile()
		if result != "config.yaml" {
			t.Errorf("findConfigFile() = %q, want config.yaml", result)
		}
	})

	t.Run("CONFIG_PATH env var takes precedence", func(t *testing.T) {
		customPath := filepath.Join(tmpDir, "custom_config.yaml")
		if err := os.WriteFile(customPath, []byte("test: true"), 0644); err != nil {
			t.Fatalf("Failed to create custom config file: %v", err)
		}
		defer os.Remove(customPath)

		os.Setenv(ConfigPathEnvVar, customPath)
		defer os.Unsetenv(ConfigPathEnvVar)

		result := findConfigFile()
		if result != customPath {
			t.Errorf("findConfigFile() = %q, want %q", result, customPath)
		}
	})

	t.Run("CONFIG_PATH env var with non-existent file", func(t *testing.T) {
		os.Setenv(ConfigPathEnvVar, "/non/existent/config.yaml")
		defer os.Unsetenv(ConfigPathEnvVar)

		result := findConfigFile()
		// Should fall back to default paths (which don't exist in temp dir)
		if result != "" {
			t.Errorf("findConfigFile() = %q, want empty string", result)
		}
	})
}

// TestLoadWithKoanfEnvVars tests loading configuration from environment variables
func TestLoadWithKoanfEnvVars(t *testing.T) {
	os.Clearenv()

	// Set some custom values to override defaults
	os.Setenv("HTTP_PORT", "9000")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("RATE_LIMIT_PRO", "500")
	os.Setenv("CACHE_L1_MAX_ENTRIES", "1024")
	os.Setenv("PIPELINE_MAX_HIERARCHY_DEPTH", "8")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	// Verify custom overrides
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.RateLimit.Pro != 500 {
		t.Errorf("RateLimit.Pro = %d, want 500", cfg.RateLimit.Pro)
	}
	if cfg.Cache.L1.MaxEntries != 1024 {
		t.Errorf("Cache.L1.MaxEntries = %d, want 1024", cfg.Cache.L1.MaxEntries)
	}
	if cfg.Pipeline.MaxHierarchyDepth != 8 {
		t.Errorf("Pipeline.MaxHierarchyDepth = %d, want 8", cfg.Pipeline.MaxHierarchyDepth)
	}

	// Verify defaults are still applied for unset values
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0 (default)", cfg.Server.Host)
	}
	if cfg.Database.MaxMemory != "2GB" {
		t.Errorf("Database.MaxMemory = %q, want 2GB (default)", cfg.Database.MaxMemory)
	}
	if cfg.RateLimit.Free != 60 {
		t.Errorf("RateLimit.Free = %d, want 60 (default)", cfg.RateLimit.Free)
	}
}

// TestLoadWithKoanfConfigFile tests loading configuration from a YAML file
func TestLoadWithKoanfConfigFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `
server:
  port: 8888
  host: "127.0.0.1"

cache:
  redis:
    enabled: true
    addr: "redis.internal:6379"

rate_limit:
  backend: "redis"
  enterprise: 2400

logging:
  level: "warn"
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	// Clear environment and set CONFIG_PATH
	os.Clearenv()
	os.Setenv(ConfigPathEnvVar, configPath)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	// Verify values from config file
	if cfg.Server.Port != 8888 {
		t.Errorf("Server.Port = %d, want 8888", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if !cfg.Cache.Redis.Enabled {
		t.Errorf("Cache.Redis.Enabled = false, want true")
	}
	if cfg.Cache.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Cache.Redis.Addr = %q, want redis.internal:6379", cfg.Cache.Redis.Addr)
	}
	if cfg.RateLimit.Backend != "redis" {
		t.Errorf("RateLimit.Backend = %q, want redis", cfg.RateLimit.Backend)
	}
	if cfg.RateLimit.Enterprise != 2400 {
		t.Errorf("RateLimit.Enterprise = %d, want 2400", cfg.RateLimit.Enterprise)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}

	// Verify defaults are still applied for unset values
	if cfg.Database.Path != "/data/claviger.duckdb" {
		t.Errorf("Database.Path = %q, want /data/claviger.duckdb (default)", cfg.Database.Path)
	}
}

// TestLoadWithKoanfEnvOverridesFile tests that env vars override config file
func TestLoadWithKoanfEnvOverridesFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `
server:
  port: 8888

rate_limit:
  pro: 400

logging:
  level: "warn"
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	// Clear environment and set CONFIG_PATH + override values
	os.Clearenv()
	os.Setenv(ConfigPathEnvVar, configPath)
	os.Setenv("HTTP_PORT", "9999")                  // Override port from config file
	os.Setenv("LOG_LEVEL", "error")                 // Override log level from config file
	os.Setenv("DUCKDB_PATH", "/custom/db.duckdb")   // Override a default value
	os.Setenv("CORS_ORIGINS", "https://app.local,https://admin.local")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	// Verify values from config file (not overridden by env)
	if cfg.RateLimit.Pro != 400 {
		t.Errorf("RateLimit.Pro = %d, want 400 (from file)", cfg.RateLimit.Pro)
	}

	// Verify env vars override config file
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999 (env override)", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %q, want error (env override)", cfg.Logging.Level)
	}

	// Verify env vars override defaults
	if cfg.Database.Path != "/custom/db.duckdb" {
		t.Errorf("Database.Path = %q, want /custom/db.duckdb (env override)", cfg.Database.Path)
	}

	// Verify comma-separated slice handling
	if len(cfg.Server.CORSOrigins) != 2 {
		t.Fatalf("Server.CORSOrigins = %v, want 2 entries", cfg.Server.CORSOrigins)
	}
	if cfg.Server.CORSOrigins[0] != "https://app.local" || cfg.Server.CORSOrigins[1] != "https://admin.local" {
		t.Errorf("Server.CORSOrigins = %v, want [https://app.local https://admin.local]", cfg.Server.CORSOrigins)
	}
}

// TestLoadWithKoanfValidation tests that validation still works
func TestLoadWithKoanfValidation(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			envVars: map[string]string{},
			wantErr: false,
		},
		{
			name: "short JWT secret rejected",
			envVars: map[string]string{
				"JWT_SECRET": "too-short",
			},
			wantErr: true,
		},
		{
			name: "production requires JWT secret",
			envVars: map[string]string{
				"ENVIRONMENT": "production",
			},
			wantErr: true,
		},
		{
			name: "redis limiter requires redis tier",
			envVars: map[string]string{
				"RATE_LIMIT_BACKEND": "redis",
			},
			wantErr: true,
		},
		{
			name: "invalid egress CIDR rejected",
			envVars: map[string]string{
				"PIPELINE_EGRESS_BLOCKLIST": "10.0.0.0/8,not-a-cidr",
			},
			wantErr: true,
		},
		{
			name: "valid production configuration",
			envVars: map[string]string{
				"ENVIRONMENT":  "production",
				"JWT_SECRET":   "k8hj2l3k4j5h6g7f8d9s0a1p2o3i4u5y",
				"CORS_ORIGINS": "https://app.example.com",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			_, err := LoadWithKoanf()

			if tt.wantErr && err == nil {
				t.Error("LoadWithKoanf() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("LoadWithKoanf() unexpected error = %v", err)
			}
		})
	}
}
