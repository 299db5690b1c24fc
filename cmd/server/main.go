// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

// Package main is the entry point for the Claviger authorization server.
//
// Claviger answers authorization questions through an eight-layer decision
// pipeline fronted by a tiered decision cache. Startup wires the components
// in dependency order:
//
//  1. Configuration: layered load from defaults, config.yaml, and environment (Koanf v2)
//  2. Database: DuckDB backing grants, hierarchy, the Tier 3 view, and the audit store
//  3. Cache tiers: in-process L1, optional Redis Tier 2, optional DuckDB view Tier 3
//  4. Event bus: in-process by default, NATS (embedded or external) for multi-node coherence
//  5. Rate limiter: sliding-window admission, Redis-backed when a shared backend is configured
//  6. Audit: async emitter with log/store/bus sinks and an optional Badger spool
//  7. Engine: the layer pipeline plus everything above, behind a single Authorize call
//  8. HTTP server: decision endpoint, admin surface, probes, and metrics
//
// The supervision tree (suture) owns every long-running component; SIGINT and
// SIGTERM tear the tree down gracefully within the configured shutdown budget.
//
// # Example Usage
//
// Single node, in-memory everything:
//
//	export JWT_SECRET=$(openssl rand -base64 32)
//	./claviger
//
// Multi-node with shared Redis tier and embedded NATS:
//
//	export CACHE_REDIS_ENABLED=true
//	export CACHE_REDIS_ADDR=redis:6379
//	export RATE_LIMIT_BACKEND=redis
//	export NATS_ENABLED=true
//	export NATS_EMBEDDED_SERVER=true
//	./claviger
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/claviger-project/claviger/internal/api"
	"github.com/claviger-project/claviger/internal/audit"
	"github.com/claviger-project/claviger/internal/auth"
	"github.com/claviger-project/claviger/internal/authz"
	"github.com/claviger-project/claviger/internal/breaker"
	"github.com/claviger-project/claviger/internal/cache"
	"github.com/claviger-project/claviger/internal/config"
	"github.com/claviger-project/claviger/internal/eventbus"
	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/ratelimit"
	"github.com/claviger-project/claviger/internal/store"
	"github.com/claviger-project/claviger/internal/supervisor"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("policy_version", cfg.Pipeline.PolicyVersion).
		Str("db_path", cfg.Database.Path).
		Str("environment", cfg.Server.Environment).
		Msg("Starting Claviger")

	// Database backs the grant providers, the Tier 3 decision view, and the
	// audit store. Everything else can degrade; this cannot.
	db, err := store.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var breakers []*breaker.Breaker

	// Tier 2: shared Redis cache. The same client backs the Redis rate
	// limiter so both share one connection pool and one circuit breaker.
	var (
		redisClient  *redis.Client
		redisBreaker *breaker.Breaker
		warm         cache.WarmTier
	)
	if cfg.Cache.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(cfg.Cache.Redis)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing Redis client")
			}
		}()
		redisBreaker = breaker.New(breaker.Options{
			Name:             "redis",
			Timeout:          cfg.Cache.Redis.Timeout,
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
		})
		breakers = append(breakers, redisBreaker)
		warm = cache.NewTier2(redisClient, cfg.Cache.Redis.KeyPrefix, redisBreaker)
		logging.Info().Str("addr", cfg.Cache.Redis.Addr).Msg("Tier 2 cache enabled")
	}

	// Tier 3: the persisted decision view. Read through a breaker so a
	// wedged database cannot stall the decision path.
	var cold cache.ColdTier
	if cfg.Cache.Views.Enabled {
		viewBreaker := breaker.New(breaker.Options{
			Name:             "duckdb-views",
			Timeout:          cfg.Cache.Views.QueryTimeout,
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
		})
		breakers = append(breakers, viewBreaker)
		cold = cache.NewTier3(db, viewBreaker)
		logging.Info().Msg("Tier 3 decision view enabled")
	}

	// Event bus carries cross-node invalidations and, optionally, audit
	// events. In-process bus keeps single-node deployments dependency-free.
	var bus eventbus.Bus
	if cfg.NATS.Enabled {
		natsCfg := cfg.NATS
		if natsCfg.EmbeddedServer {
			embedded, err := eventbus.NewEmbeddedServer(natsCfg)
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
			}
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := embedded.Shutdown(shutdownCtx); err != nil {
					logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
				}
			}()
			natsCfg.URL = embedded.ClientURL()
			logging.Info().Str("url", natsCfg.URL).Msg("Embedded NATS server started")
		}
		natsBus, err := eventbus.NewNATS(natsCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer func() {
			if err := natsBus.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing NATS connection")
			}
		}()
		bus = natsBus
		logging.Info().Str("url", natsCfg.URL).Msg("NATS event bus connected")
	} else {
		bus = eventbus.NewInProcess()
		logging.Info().Msg("In-process event bus enabled")
	}

	// Publisher and consumer share an origin ID so a node never applies its
	// own invalidations twice.
	origin := uuid.NewString()
	invalidationPub := eventbus.NewPublisher(bus, cfg.NATS.InvalidationTopic, origin)

	l1 := cache.NewL1(cache.L1Options{
		MaxEntries:      cfg.Cache.L1.MaxEntries,
		MaxBytes:        cfg.Cache.L1.MaxBytes,
		JanitorInterval: cfg.Cache.L1.JanitorInterval,
	})
	tiered := cache.NewTiered(l1, warm, cold, invalidationPub)
	invalidationConsumer := eventbus.NewConsumer(bus, cfg.NATS.InvalidationTopic, origin, tiered)

	// Rate limiter: memory fallback is built in, so a nil primary backend
	// means single-node sliding windows.
	var limiterBackend *ratelimit.Redis
	if cfg.RateLimit.Backend == "redis" {
		if redisClient == nil {
			logging.Fatal().Msg("RATE_LIMIT_BACKEND=redis requires CACHE_REDIS_ENABLED=true")
		}
		limiterBackend = ratelimit.NewRedis(redisClient, cfg.Cache.Redis.KeyPrefix, redisBreaker)
		logging.Info().Msg("Redis rate limit backend enabled")
	}
	var limiter *ratelimit.Limiter
	if limiterBackend != nil {
		limiter = ratelimit.New(&cfg.RateLimit, limiterBackend)
	} else {
		limiter = ratelimit.New(&cfg.RateLimit, nil)
	}

	// Audit: sinks are independent toggles; the spool buffers events across
	// sink outages when a path is configured.
	var sinks []audit.Sink
	if cfg.Audit.LogSink {
		sinks = append(sinks, audit.NewLogSink())
	}
	var auditStore audit.Store
	if cfg.Audit.StoreSink {
		duckStore := audit.NewDuckDBStore(db.Conn())
		if err := duckStore.CreateTable(ctx); err != nil {
			logging.Fatal().Err(err).Msg("Failed to create audit table")
		}
		auditStore = duckStore
		sinks = append(sinks, audit.NewStoreSink(duckStore))
	}
	if cfg.Audit.NATSSink {
		busBreaker := breaker.New(breaker.Options{
			Name:             "audit-bus",
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
		})
		breakers = append(breakers, busBreaker)
		sinks = append(sinks, audit.NewBusSink(bus, cfg.Audit.Topic, busBreaker))
	}
	var spool *audit.Spool
	if cfg.Audit.SpoolPath != "" {
		spool, err = audit.OpenSpool(cfg.Audit.SpoolPath)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open audit spool")
		}
		defer func() {
			if err := spool.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing audit spool")
			}
		}()
		logging.Info().Str("path", cfg.Audit.SpoolPath).Msg("Audit spool enabled")
	}
	emitter := audit.NewEmitter(cfg.Audit, spool, sinks...)

	// Session verification. Without a secret every caller is anonymous,
	// which is a legitimate single-tenant deployment mode.
	var verifier *auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier, err = auth.NewVerifier(&cfg.Auth)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize session verifier")
		}
	} else {
		logging.Warn().Msg("JWT_SECRET not set - all callers admitted at the anonymous tier")
	}

	suspensionStore, err := auth.NewSuspensionStore(cfg.Suspension)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open suspension store")
	}
	defer func() {
		if err := suspensionStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing suspension store")
		}
	}()
	suspensions := auth.NewSuspensionManager(cfg.Suspension, suspensionStore)
	suspensions.SetRecorder(emitter)

	enforcer, err := authz.NewEnforcer(nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize capability enforcer")
	}

	securityLayer, err := authz.NewSecurityLayer(verifier, cfg.Pipeline.EgressBlocklist)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize security layer")
	}
	abuseLayer := authz.NewAbuseLayer(
		limiter,
		ratelimit.NewUniqueTracker(cfg.RateLimit.Window, 6),
		suspensions,
	)

	pipeline := authz.NewPipeline(
		authz.NewValidationLayer(cfg.Pipeline.StrictIdentifiers),
		authz.NewOwnershipLayer(db),
		authz.NewCapabilityLayer(enforcer),
		authz.NewSharingLayer(db, db),
		securityLayer,
		authz.NewHierarchyLayer(db, db, db, cfg.Pipeline.MaxHierarchyDepth),
		authz.NewMediaAccessLayer(db),
		abuseLayer,
	)

	engine, err := authz.New(authz.Config{PolicyVersion: cfg.Pipeline.PolicyVersion}, authz.Deps{
		Pipeline: pipeline,
		Cache:    tiered,
		Limiter:  limiter,
		Audit:    emitter,
		Verifier: verifier,
		Denials:  abuseLayer,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to construct authorization engine")
	}

	router, err := api.NewRouter(cfg, api.Deps{
		Engine:      engine,
		AuditStore:  auditStore,
		Audit:       emitter,
		Suspensions: suspensions,
		DB:          db,
		Cache:       tiered,
		Breakers:    breakers,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to construct API router")
	}
	httpServer := api.NewHTTPServer(cfg.Server, router.Handler())

	// Supervision tree. Storage services depend only on the database;
	// coherence services keep the cache and audit trail honest; the API
	// layer stops first on shutdown so in-flight decisions drain cleanly.
	slogLogger := logging.NewSlogLogger()
	treeConfig := supervisor.DefaultTreeConfig()
	treeConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree, err := supervisor.NewTree(slogLogger, treeConfig)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervision tree")
	}

	if cfg.Cache.Views.Enabled {
		refresher := store.NewViewRefresher(db, cfg.Cache.Views, func() string {
			return cfg.Pipeline.PolicyVersion
		})
		tree.AddStorageService(refresher)
	}
	if auditStore != nil && cfg.Audit.RetentionDays > 0 {
		tree.AddStorageService(audit.NewSweeper(auditStore, cfg.Audit.RetentionDays, time.Hour))
	}

	tree.AddCoherenceService(emitter)
	tree.AddCoherenceService(invalidationConsumer)
	tree.AddCoherenceService(l1)
	tree.AddCoherenceService(suspensions.Janitor())

	tree.AddAPIService(supervisor.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	if err := engine.Start(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to start authorization engine")
	}

	// Graceful shutdown on SIGINT/SIGTERM: cancelling the context stops the
	// tree, which shuts every service down in reverse dependency order.
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Claviger listening")

	err = tree.Serve(signalCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervision tree exited with error")
	}

	if err := engine.Stop(context.Background()); err != nil {
		logging.Error().Err(err).Msg("Error stopping authorization engine")
	}
	logging.Info().Msg("Claviger stopped")
}
