// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	if err := c.validatePipeline(); err != nil {
		return err
	}

	if err := c.validateCache(); err != nil {
		return err
	}

	if err := c.validateRateLimit(); err != nil {
		return err
	}

	if err := c.validateBreaker(); err != nil {
		return err
	}

	if err := c.validateAudit(); err != nil {
		return err
	}

	if err := c.validateSuspension(); err != nil {
		return err
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateNATS(); err != nil {
		return err
	}

	return c.validateLogging()
}

// validateServer validates HTTP server configuration
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.RequestsPerMinute < 1 {
		return fmt.Errorf("HTTP_REQUESTS_PER_MINUTE must be at least 1")
	}
	return c.validateCORS()
}

// validateCORS validates CORS configuration for security best practices.
// In production mode with a JWT secret set, wildcard CORS is rejected as it
// lets any origin replay stolen credentials against protected resources.
func (c *Config) validateCORS() error {
	if c.Auth.JWTSecret != "" && c.hasWildcardCORS() && c.IsProduction() {
		return fmt.Errorf("CORS_ORIGINS=* (wildcard) is not allowed in production with authentication enabled. " +
			"Either set specific origins: CORS_ORIGINS=https://yourdomain.com " +
			"or use ENVIRONMENT=development for testing purposes")
	}
	return nil
}

// hasWildcardCORS checks if CORS is configured with wildcard origins
func (c *Config) hasWildcardCORS() bool {
	for _, origin := range c.Server.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// validateAuth validates session-token verification configuration
func (c *Config) validateAuth() error {
	if err := c.validateJWTSecret(); err != nil {
		return err
	}
	return c.validateAdminTokenHash()
}

// validateJWTSecret validates the JWT secret configuration.
// An empty secret disables the security layer's token check, which is refused
// in production.
func (c *Config) validateJWTSecret() error {
	if c.Auth.JWTSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET is required when ENVIRONMENT=production")
		}
		return nil
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters for security")
	}
	if containsPlaceholder(c.Auth.JWTSecret) {
		return fmt.Errorf("JWT_SECRET contains a placeholder value - generate a secure secret with: openssl rand -base64 32")
	}
	return nil
}

// validateAdminTokenHash validates the admin token hash when set.
// bcrypt hashes start with $2a$, $2b$ or $2y$ and are 60 bytes.
func (c *Config) validateAdminTokenHash() error {
	hash := c.Admin.TokenHash
	if hash == "" {
		return nil // Admin endpoints disabled
	}
	if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") && !strings.HasPrefix(hash, "$2y$") {
		return fmt.Errorf("ADMIN_TOKEN_HASH must be a bcrypt hash - generate one with: htpasswd -bnBC 12 '' <token>")
	}
	if len(hash) != 60 {
		return fmt.Errorf("ADMIN_TOKEN_HASH has invalid length %d, expected 60", len(hash))
	}
	return nil
}

// Pipeline limit constants
const (
	minHierarchyDepth = 1
	maxHierarchyDepth = 64
	minDecisionBudget = 10 * time.Millisecond
	maxDecisionBudget = time.Minute
)

// validatePipeline validates layer pipeline bounds
func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxHierarchyDepth < minHierarchyDepth || c.Pipeline.MaxHierarchyDepth > maxHierarchyDepth {
		return fmt.Errorf("PIPELINE_MAX_HIERARCHY_DEPTH must be between %d and %d", minHierarchyDepth, maxHierarchyDepth)
	}
	if c.Pipeline.DecisionTimeout < minDecisionBudget || c.Pipeline.DecisionTimeout > maxDecisionBudget {
		return fmt.Errorf("PIPELINE_DECISION_TIMEOUT must be between %v and %v", minDecisionBudget, maxDecisionBudget)
	}
	if c.Pipeline.PolicyVersion == "" {
		return fmt.Errorf("PIPELINE_POLICY_VERSION must not be empty")
	}
	return c.validateEgressBlocklist()
}

// validateEgressBlocklist validates that every blocklist entry parses as a CIDR
func (c *Config) validateEgressBlocklist() error {
	for _, cidr := range c.Pipeline.EgressBlocklist {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("PIPELINE_EGRESS_BLOCKLIST entry %q is not a valid CIDR: %w", cidr, err)
		}
	}
	return nil
}

// Cache limit constants
const (
	minL1Entries    = 16
	minL1Bytes      = 1 << 20 // 1MB
	minTierTimeout  = time.Millisecond
	maxTierTimeout  = 10 * time.Second
	minRefreshEvery = time.Second
)

// validateCache validates tiered cache configuration
func (c *Config) validateCache() error {
	if err := c.validateL1(); err != nil {
		return err
	}
	if err := c.validateRedisTier(); err != nil {
		return err
	}
	return c.validateViewTier()
}

// validateL1 validates the in-process tier bounds
func (c *Config) validateL1() error {
	if c.Cache.L1.MaxEntries < minL1Entries {
		return fmt.Errorf("CACHE_L1_MAX_ENTRIES must be at least %d", minL1Entries)
	}
	if c.Cache.L1.MaxBytes < minL1Bytes {
		return fmt.Errorf("CACHE_L1_MAX_BYTES must be at least %d (1MB)", minL1Bytes)
	}
	if c.Cache.L1.JanitorInterval < time.Second {
		return fmt.Errorf("CACHE_L1_JANITOR_INTERVAL must be at least 1s")
	}
	return nil
}

// validateRedisTier validates Tier 2 configuration (only if enabled)
func (c *Config) validateRedisTier() error {
	if !c.Cache.Redis.Enabled {
		return nil
	}
	if err := validateHostPort(c.Cache.Redis.Addr); err != nil {
		return fmt.Errorf("CACHE_REDIS_ADDR is invalid: %w", err)
	}
	if c.Cache.Redis.Timeout < minTierTimeout || c.Cache.Redis.Timeout > maxTierTimeout {
		return fmt.Errorf("CACHE_REDIS_TIMEOUT must be between %v and %v", minTierTimeout, maxTierTimeout)
	}
	if c.Cache.Redis.PoolSize < 1 {
		return fmt.Errorf("CACHE_REDIS_POOL_SIZE must be at least 1")
	}
	return nil
}

// validateViewTier validates Tier 3 configuration (only if enabled)
func (c *Config) validateViewTier() error {
	if !c.Cache.Views.Enabled {
		return nil
	}
	if c.Cache.Views.QueryTimeout < minTierTimeout || c.Cache.Views.QueryTimeout > maxTierTimeout {
		return fmt.Errorf("CACHE_VIEWS_QUERY_TIMEOUT must be between %v and %v", minTierTimeout, maxTierTimeout)
	}
	if c.Cache.Views.RefreshInterval < minRefreshEvery {
		return fmt.Errorf("CACHE_VIEWS_REFRESH_INTERVAL must be at least %v", minRefreshEvery)
	}
	if c.Cache.Views.RefreshRate <= 0 {
		return fmt.Errorf("CACHE_VIEWS_REFRESH_RATE must be positive")
	}
	return nil
}

// validRateLimitBackends defines the allowed rate limiter backends
var validRateLimitBackends = map[string]bool{
	"redis":  true,
	"memory": true,
}

// Rate limit constants
const (
	minRateLimitWindow = time.Second
	maxRateLimitWindow = time.Hour
	maxTierCeiling     = 1000000
)

// validateRateLimit validates rate limiting configuration bounds
func (c *Config) validateRateLimit() error {
	if !validRateLimitBackends[c.RateLimit.Backend] {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be one of: redis, memory")
	}
	if c.RateLimit.Backend == "redis" && !c.Cache.Redis.Enabled {
		return fmt.Errorf("RATE_LIMIT_BACKEND=redis requires CACHE_REDIS_ENABLED=true (the limiter shares the Redis client)")
	}
	if c.RateLimit.Window < minRateLimitWindow || c.RateLimit.Window > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	if err := c.validateTierCeilings(); err != nil {
		return err
	}
	if c.RateLimit.AbuseThreshold < 1 {
		return fmt.Errorf("RATE_LIMIT_ABUSE_THRESHOLD must be at least 1")
	}
	if c.RateLimit.MaxKeys < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX_KEYS must be at least 1")
	}
	return nil
}

// validateTierCeilings validates each tier ceiling and their ordering.
// Higher tiers must not have lower ceilings than the ones below them.
func (c *Config) validateTierCeilings() error {
	ceilings := []struct {
		name  string
		value int
	}{
		{"RATE_LIMIT_ANONYMOUS", c.RateLimit.Anonymous},
		{"RATE_LIMIT_FREE", c.RateLimit.Free},
		{"RATE_LIMIT_PRO", c.RateLimit.Pro},
		{"RATE_LIMIT_ENTERPRISE", c.RateLimit.Enterprise},
		{"RATE_LIMIT_INTERNAL", c.RateLimit.Internal},
	}

	prev := 0
	for _, ceiling := range ceilings {
		if ceiling.value < 1 || ceiling.value > maxTierCeiling {
			return fmt.Errorf("%s must be between 1 and %d", ceiling.name, maxTierCeiling)
		}
		if ceiling.value < prev {
			return fmt.Errorf("%s must not be lower than the tier below it", ceiling.name)
		}
		prev = ceiling.value
	}
	return nil
}

// validateBreaker validates circuit breaker thresholds
func (c *Config) validateBreaker() error {
	if c.Breaker.MaxRequests < 1 {
		return fmt.Errorf("BREAKER_MAX_REQUESTS must be at least 1")
	}
	if c.Breaker.OpenTimeout < time.Second {
		return fmt.Errorf("BREAKER_OPEN_TIMEOUT must be at least 1s")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	return nil
}

// Audit limit constants
const (
	minAuditBuffer = 64
	maxAuditBuffer = 1 << 20
)

// validateAudit validates audit emitter configuration
func (c *Config) validateAudit() error {
	if c.Audit.BufferSize < minAuditBuffer || c.Audit.BufferSize > maxAuditBuffer {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be between %d and %d", minAuditBuffer, maxAuditBuffer)
	}
	if c.Audit.DrainTimeout < time.Second {
		return fmt.Errorf("AUDIT_DRAIN_TIMEOUT must be at least 1s")
	}
	if c.Audit.NATSSink && !c.NATS.Enabled {
		return fmt.Errorf("AUDIT_NATS_SINK=true requires NATS_ENABLED=true")
	}
	if c.Audit.Topic == "" {
		return fmt.Errorf("AUDIT_TOPIC must not be empty")
	}
	if c.Audit.RetentionDays < 1 || c.Audit.RetentionDays > 3650 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be between 1 and 3650")
	}
	return nil
}

// validateSuspension validates suspension escalation bounds
func (c *Config) validateSuspension() error {
	if c.Suspension.BaseDuration < time.Second {
		return fmt.Errorf("SUSPENSION_BASE_DURATION must be at least 1s")
	}
	if c.Suspension.MaxDuration < c.Suspension.BaseDuration {
		return fmt.Errorf("SUSPENSION_MAX_DURATION must not be lower than SUSPENSION_BASE_DURATION")
	}
	if c.Suspension.JanitorInterval < time.Second {
		return fmt.Errorf("SUSPENSION_JANITOR_INTERVAL must be at least 1s")
	}
	return nil
}

// validateDatabase validates DuckDB configuration.
// The database is required whenever a component that lives in it is enabled.
func (c *Config) validateDatabase() error {
	needsDB := c.Cache.Views.Enabled || c.Audit.StoreSink
	if needsDB && c.Database.Path == "" {
		return fmt.Errorf("DUCKDB_PATH is required when CACHE_VIEWS_ENABLED=true or AUDIT_STORE_SINK=true")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must be non-negative (0 = all cores)")
	}
	return nil
}

// NATS limit constants
const (
	natsMinMemory = 64 * 1024 * 1024  // 64MB
	natsMinStore  = 100 * 1024 * 1024 // 100MB
)

// validateNATS validates NATS configuration (only if enabled)
func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}

	if err := validateNATSURL(c.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	if c.NATS.EmbeddedServer {
		if c.NATS.MaxMemory < natsMinMemory {
			return fmt.Errorf("NATS_MAX_MEMORY must be at least 64MB (67108864 bytes)")
		}
		if c.NATS.MaxStore < natsMinStore {
			return fmt.Errorf("NATS_MAX_STORE must be at least 100MB (104857600 bytes)")
		}
	}
	if c.NATS.InvalidationTopic == "" {
		return fmt.Errorf("NATS_INVALIDATION_TOPIC must not be empty")
	}
	return nil
}

// validLogLevels defines the allowed log levels
var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats defines the allowed log formats
var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// validateLogging validates logging configuration
func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format == "" {
		return nil
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// IsProduction returns true if the application is running in production mode.
// Production mode is determined by the ENVIRONMENT environment variable.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "production" || env == "prod"
}

// IsDevelopment returns true if the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "" || env == "development" || env == "dev"
}

// placeholderPatterns defines common placeholder patterns that indicate
// the user forgot to set a real value. This prevents accidental deployment
// with insecure default credentials.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"YOUR_PASSWORD",
	"PLACEHOLDER",
	"TODO",
	"FIXME",
	"XXX",
	"EXAMPLE",
}

// containsPlaceholder checks if a value contains common placeholder patterns
// that indicate the user forgot to set a real value.
func containsPlaceholder(value string) bool {
	upperValue := strings.ToUpper(value)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(upperValue, pattern) {
			return true
		}
	}
	return false
}
