// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
Package config provides centralized configuration management for Claviger.

This package handles loading, validation, and parsing of configuration for all
application components. It layers three sources through Koanf v2 and provides
sensible defaults for every optional setting.

# Configuration Sources

Configuration is loaded in strict precedence order:

 1. Built-in defaults (structs provider)
 2. Optional YAML config file (config.yaml, or CONFIG_PATH)
 3. Environment variables (highest priority)

# Configuration Structure

The package organizes configuration into logical groups:

  - ServerConfig: HTTP server settings (host, port, timeouts, CORS)
  - AuthConfig: Session-token verification (JWT secret, issuer, clock skew)
  - AdminConfig: Administrative endpoint credentials
  - PipelineConfig: Layer pipeline bounds (hierarchy depth, egress blocklist)
  - CacheConfig: Tiered decision cache (L1 in-process, Redis, DuckDB views)
  - RateLimitConfig: Sliding-window ceilings per subject tier
  - BreakerConfig: Circuit breaker thresholds for remote backends
  - AuditConfig: Async audit emitter, spool, and sink toggles
  - SuspensionConfig: Abuse suspension storage and escalation
  - DatabaseConfig: DuckDB settings (views, audit store)
  - NATSConfig: Event bus for invalidation fan-out
  - APIConfig: Decision query API pagination
  - LoggingConfig: Log levels and output formats

# Usage Example

Basic configuration loading:

	import "github.com/claviger-project/claviger/internal/config"

	cfg, err := config.LoadWithKoanf()
	if err != nil {
	    log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("Starting server on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Redis tier enabled: %v\n", cfg.Cache.Redis.Enabled)

Testing with custom configuration:

	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("RATE_LIMIT_PRO", "500")
	t.Setenv("JWT_SECRET", "test-secret-at-least-32-characters-long")

	cfg, err := config.LoadWithKoanf()
	// Use cfg for testing

# Validation

LoadWithKoanf validates the fully merged configuration before returning:

  - Numeric ranges: HTTP_PORT (1-65535), tier ceilings, buffer sizes
  - Duration ranges: tier timeouts, windows, suspension escalation
  - Ordering: tier ceilings must be monotonic, MaxDuration ≥ BaseDuration
  - Formats: NATS URL schemes, Redis host:port, egress CIDRs, bcrypt hashes
  - Security: JWT_SECRET ≥32 chars, no placeholder values, no wildcard CORS
    with auth in production, JWT_SECRET required in production

# Thread Safety

The Config struct is immutable after LoadWithKoanf() returns, making it safe
for concurrent access from multiple goroutines without synchronization.

# See Also

  - config.example.yaml: Complete configuration template
  - internal/logging: Consumes LoggingConfig at startup
*/
package config
