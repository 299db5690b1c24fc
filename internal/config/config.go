// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package config

import (
	"time"
)

// Config holds all application configuration loaded from defaults, an optional
// YAML config file, and environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting via environment variables
//
// Configuration Categories:
//
//  1. Decision Path:
//     - Pipeline: Layer pipeline bounds (hierarchy depth, identifier strictness, egress blocklist)
//     - Cache: Tiered decision cache (in-process L1, Redis L2, DuckDB view L3)
//     - RateLimit: Sliding-window admission ceilings per subject tier
//     - Breaker: Circuit breaker thresholds shared by all remote backends
//
//  2. Infrastructure:
//     - Database: DuckDB configuration (decision views, audit store)
//     - NATS: Event bus for invalidation fan-out and the audit sink
//     - Audit: Async audit emitter, durable spool, sink toggles
//     - Suspension: Abuse suspension store and escalation windows
//
//  3. Surfaces & Security:
//     - Server: HTTP server (port, host, timeouts, CORS)
//     - Auth: Session-token verification (JWT secret, issuer, audience)
//     - Admin: Administrative endpoint credentials
//     - API: Pagination limits for the decision query API
//
//  4. Observability:
//     - Logging: Log levels and output formats
//
// Example - Load configuration:
//
//	cfg, err := config.LoadWithKoanf()
//	if err != nil {
//	    log.Fatal("Failed to load config:", err)
//	}
//	// cfg.Cache.Redis.Addr, cfg.RateLimit.Pro, etc. are now populated
//
// Thread Safety:
// Config is immutable after LoadWithKoanf() and safe for concurrent read
// access from multiple goroutines.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Auth       AuthConfig       `koanf:"auth"`
	Admin      AdminConfig      `koanf:"admin"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Cache      CacheConfig      `koanf:"cache"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Breaker    BreakerConfig    `koanf:"breaker"`
	Audit      AuditConfig      `koanf:"audit"`
	Suspension SuspensionConfig `koanf:"suspension"`
	Database   DatabaseConfig   `koanf:"database"`
	NATS       NATSConfig       `koanf:"nats"`
	API        APIConfig        `koanf:"api"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
//
// Environment Variables:
//   - HTTP_PORT: Listen port (default: 8710)
//   - HTTP_HOST: Bind address (default: 0.0.0.0)
//   - HTTP_READ_TIMEOUT: Request read timeout (default: 10s)
//   - HTTP_WRITE_TIMEOUT: Response write timeout (default: 30s)
//   - HTTP_SHUTDOWN_TIMEOUT: Graceful shutdown budget (default: 15s)
//   - HTTP_REQUESTS_PER_MINUTE: Per-IP pre-limit in front of the engine (default: 600)
//   - CORS_ORIGINS: Comma-separated allowed origins (default: *)
//   - ENVIRONMENT: development or production (default: development)
type ServerConfig struct {
	Port              int           `koanf:"port"`
	Host              string        `koanf:"host"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	RequestsPerMinute int           `koanf:"requests_per_minute"` // Per-IP HTTP pre-limit, distinct from engine admission
	CORSOrigins       []string      `koanf:"cors_origins"`
	Environment       string        `koanf:"environment"`
}

// AuthConfig holds session-token verification settings used by the security
// layer. Tokens are HS256 JWTs carrying the subject and its rate tier.
//
// Environment Variables:
//   - JWT_SECRET: HMAC signing secret, 32+ characters (required in production)
//   - JWT_ISSUER: Expected iss claim (default: claviger)
//   - JWT_AUDIENCE: Expected aud claim (empty disables the check)
//   - JWT_CLOCK_SKEW: Accepted clock skew for exp/nbf (default: 30s)
//   - AUTH_DEFAULT_TIER: Tier assumed when a token carries none (default: free)
type AuthConfig struct {
	JWTSecret   string        `koanf:"jwt_secret"`
	Issuer      string        `koanf:"issuer"`
	Audience    string        `koanf:"audience"`
	ClockSkew   time.Duration `koanf:"clock_skew"`
	DefaultTier string        `koanf:"default_tier"`
}

// AdminConfig gates the administrative HTTP surface (invalidation, suspension
// management). The token is compared against a bcrypt hash so the plaintext
// never lives in config.
//
// Environment Variables:
//   - ADMIN_TOKEN_HASH: bcrypt hash of the admin bearer token (empty disables admin endpoints)
type AdminConfig struct {
	TokenHash string `koanf:"token_hash"`
}

// PipelineConfig bounds the layer pipeline.
//
// Environment Variables:
//   - PIPELINE_MAX_HIERARCHY_DEPTH: Parent-chain walk bound (default: 5)
//   - PIPELINE_STRICT_IDENTIFIERS: Require time-ordered identifiers (default: false)
//   - PIPELINE_EGRESS_BLOCKLIST: Comma-separated CIDRs denied by the security layer
//   - PIPELINE_DECISION_TIMEOUT: Overall per-call budget applied by the HTTP surface (default: 2s)
//   - PIPELINE_POLICY_VERSION: Version stamp partitioning cache keys; bump on policy rollover (default: v1)
type PipelineConfig struct {
	MaxHierarchyDepth int           `koanf:"max_hierarchy_depth"`
	StrictIdentifiers bool          `koanf:"strict_identifiers"`
	EgressBlocklist   []string      `koanf:"egress_blocklist"`
	DecisionTimeout   time.Duration `koanf:"decision_timeout"`
	PolicyVersion     string        `koanf:"policy_version"`
}

// CacheConfig holds the tiered decision cache configuration. Tier 1 is always
// on; Tiers 2 and 3 are optional and the engine degrades through them in
// order.
type CacheConfig struct {
	L1    L1Config    `koanf:"l1"`
	Redis RedisConfig `koanf:"redis"`
	Views ViewsConfig `koanf:"views"`
}

// L1Config bounds the in-process cache tier.
//
// Environment Variables:
//   - CACHE_L1_MAX_ENTRIES: Entry-count capacity (default: 50000)
//   - CACHE_L1_MAX_BYTES: Total payload byte capacity (default: 64MB)
//   - CACHE_L1_JANITOR_INTERVAL: Expired-entry sweep interval (default: 30s)
type L1Config struct {
	MaxEntries      int           `koanf:"max_entries"`
	MaxBytes        int64         `koanf:"max_bytes"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// RedisConfig holds the Tier 2 shared cache connection. The same client also
// backs the Redis rate limiter.
//
// Environment Variables:
//   - CACHE_REDIS_ENABLED: Enable the Redis tier (default: false)
//   - CACHE_REDIS_ADDR: host:port (default: 127.0.0.1:6379)
//   - CACHE_REDIS_PASSWORD: Optional AUTH password
//   - CACHE_REDIS_DB: Logical database index (default: 0)
//   - CACHE_REDIS_POOL_SIZE: Connection pool size (default: 10)
//   - CACHE_REDIS_KEY_PREFIX: Namespace prefix for all keys (default: claviger)
//   - CACHE_REDIS_TIMEOUT: Per-call budget enforced via the breaker wrapper (default: 100ms)
type RedisConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Addr      string        `koanf:"addr"`
	Password  string        `koanf:"password"`
	DB        int           `koanf:"db"`
	PoolSize  int           `koanf:"pool_size"`
	KeyPrefix string        `koanf:"key_prefix"`
	Timeout   time.Duration `koanf:"timeout"`
}

// ViewsConfig holds the Tier 3 materialized decision view configuration.
// Views live in DuckDB (see DatabaseConfig) and are written only by the
// background refresher; the request path reads them under QueryTimeout.
//
// Environment Variables:
//   - CACHE_VIEWS_ENABLED: Enable the view tier (default: false)
//   - CACHE_VIEWS_QUERY_TIMEOUT: Read budget on the request path (default: 500ms)
//   - CACHE_VIEWS_REFRESH_INTERVAL: Background recompute interval (default: 1m)
//   - CACHE_VIEWS_REFRESH_RATE: Max view rows recomputed per second (default: 200)
type ViewsConfig struct {
	Enabled         bool          `koanf:"enabled"`
	QueryTimeout    time.Duration `koanf:"query_timeout"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	RefreshRate     float64       `koanf:"refresh_rate"`
}

// RateLimitConfig holds sliding-window admission ceilings per subject tier,
// expressed as requests per Window.
//
// Environment Variables:
//   - RATE_LIMIT_BACKEND: redis or memory (default: memory)
//   - RATE_LIMIT_WINDOW: Window length (default: 1m)
//   - RATE_LIMIT_ANONYMOUS..RATE_LIMIT_INTERNAL: Per-tier ceilings
//   - RATE_LIMIT_ABUSE_THRESHOLD: Rejections inside one window that escalate to suspension (default: 20)
//   - RATE_LIMIT_MAX_KEYS: Bound on tracked keys in the memory backend (default: 100000)
type RateLimitConfig struct {
	Backend        string        `koanf:"backend"`
	Window         time.Duration `koanf:"window"`
	Anonymous      int           `koanf:"anonymous"`
	Free           int           `koanf:"free"`
	Pro            int           `koanf:"pro"`
	Enterprise     int           `koanf:"enterprise"`
	Internal       int           `koanf:"internal"`
	AbuseThreshold int           `koanf:"abuse_threshold"`
	MaxKeys        int           `koanf:"max_keys"`
}

// BreakerConfig holds circuit breaker thresholds shared by every remote
// backend (Redis tier, view tier, NATS sink). Per-backend call budgets live
// with the backend configs.
//
// Environment Variables:
//   - BREAKER_MAX_REQUESTS: Probes allowed half-open (default: 3)
//   - BREAKER_INTERVAL: Closed-state counter reset interval (default: 60s)
//   - BREAKER_OPEN_TIMEOUT: Open state duration before half-open (default: 10s)
//   - BREAKER_FAILURE_THRESHOLD: Consecutive failures that trip the breaker (default: 5)
type BreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
}

// AuditConfig holds the async audit emitter configuration. Exactly one event
// is emitted per authorization call; the decision path never blocks on a sink.
//
// Environment Variables:
//   - AUDIT_BUFFER_SIZE: In-flight event channel capacity (default: 4096)
//   - AUDIT_DRAIN_TIMEOUT: Shutdown flush budget (default: 5s)
//   - AUDIT_SPOOL_PATH: Badger directory for the durable spool (empty disables spooling)
//   - AUDIT_SPOOL_RETRY_INTERVAL: Spool redelivery interval (default: 15s)
//   - AUDIT_LOG_SINK: Emit events to the structured log (default: true)
//   - AUDIT_NATS_SINK: Publish events on the event bus (default: false)
//   - AUDIT_STORE_SINK: Persist events to DuckDB for the query API (default: false)
//   - AUDIT_TOPIC: Event bus topic for decisions (default: audit.decisions)
//   - AUDIT_RETENTION_DAYS: Stored-event retention (default: 30)
//   - AUDIT_HASH_SUBJECTS: SHA-256 hash subject IDs in emitted events (default: false)
type AuditConfig struct {
	BufferSize         int           `koanf:"buffer_size"`
	DrainTimeout       time.Duration `koanf:"drain_timeout"`
	SpoolPath          string        `koanf:"spool_path"`
	SpoolRetryInterval time.Duration `koanf:"spool_retry_interval"`
	LogSink            bool          `koanf:"log_sink"`
	NATSSink           bool          `koanf:"nats_sink"`
	StoreSink          bool          `koanf:"store_sink"`
	Topic              string        `koanf:"topic"`
	RetentionDays      int           `koanf:"retention_days"`
	HashSubjects       bool          `koanf:"hash_subjects"`
}

// SuspensionConfig holds abuse suspension storage and escalation settings.
// Suspensions double per repeat offense from BaseDuration up to MaxDuration.
//
// Environment Variables:
//   - SUSPENSION_PATH: Badger directory for persisted suspensions (empty keeps them in memory)
//   - SUSPENSION_BASE_DURATION: First-offense duration (default: 1m)
//   - SUSPENSION_MAX_DURATION: Escalation cap (default: 1h)
//   - SUSPENSION_JANITOR_INTERVAL: Expired-record sweep interval (default: 1m)
type SuspensionConfig struct {
	Path            string        `koanf:"path"`
	BaseDuration    time.Duration `koanf:"base_duration"`
	MaxDuration     time.Duration `koanf:"max_duration"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// DatabaseConfig holds DuckDB settings shared by the view tier and the audit
// store.
//
// Environment Variables:
//   - DUCKDB_PATH: Database file path (default: /data/claviger.duckdb)
//   - DUCKDB_MAX_MEMORY: Memory limit passed to DuckDB (default: 2GB)
//   - DUCKDB_THREADS: Worker threads, 0 = runtime.NumCPU() (default: 0)
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// NATSConfig holds the event bus configuration. When disabled, an in-process
// bus carries invalidation fan-out so single-node deployments need no broker.
//
// Environment Variables:
//   - NATS_ENABLED: Use NATS JetStream instead of the in-process bus (default: false)
//   - NATS_URL: Server URL (default: nats://127.0.0.1:4222)
//   - NATS_EMBEDDED: Run an embedded NATS server in-process (default: false)
//   - NATS_STORE_DIR: JetStream storage directory (default: /data/nats/jetstream)
//   - NATS_MAX_MEMORY / NATS_MAX_STORE: JetStream limits
//   - NATS_INVALIDATION_TOPIC: Cache invalidation fan-out topic (default: cache.invalidation)
type NATSConfig struct {
	Enabled           bool   `koanf:"enabled"`
	URL               string `koanf:"url"`
	EmbeddedServer    bool   `koanf:"embedded_server"`
	StoreDir          string `koanf:"store_dir"`
	MaxMemory         int64  `koanf:"max_memory"`
	MaxStore          int64  `koanf:"max_store"`
	InvalidationTopic string `koanf:"invalidation_topic"`
}

// APIConfig holds pagination limits for the decision query API.
//
// Environment Variables:
//   - API_DEFAULT_PAGE_SIZE: Default page size (default: 20)
//   - API_MAX_PAGE_SIZE: Maximum page size (default: 100)
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// LoggingConfig holds logging output settings.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json or console (default: json)
//   - LOG_CALLER: Include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// TierCeiling returns the configured per-window ceiling for a named tier.
// Unknown tiers fall back to the anonymous ceiling, the most restrictive one.
func (c *RateLimitConfig) TierCeiling(tier string) int {
	switch tier {
	case "anonymous":
		return c.Anonymous
	case "free":
		return c.Free
	case "pro":
		return c.Pro
	case "enterprise":
		return c.Enterprise
	case "internal":
		return c.Internal
	default:
		return c.Anonymous
	}
}
