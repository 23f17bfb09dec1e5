// Package main is the entry point of the matching engine.
//
// Usage:
//
//	server            run the HTTP API (default)
//	server serve      same as above
//	server migrate    apply Postgres migrations and create the DynamoDB table
//	server seed FILE  load a JSON array of profiles into the profile store
//
// Configuration comes from the environment, see package config.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dentameet/matching-engine/config"
	"github.com/dentameet/matching-engine/internal/application/command"
	"github.com/dentameet/matching-engine/internal/application/query"
	"github.com/dentameet/matching-engine/internal/domain/interaction"
	"github.com/dentameet/matching-engine/internal/domain/matching"
	"github.com/dentameet/matching-engine/internal/domain/profile"
	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/internal/infrastructure/external/webhook"
	"github.com/dentameet/matching-engine/internal/infrastructure/messaging"
	"github.com/dentameet/matching-engine/internal/infrastructure/persistence/dynamo"
	"github.com/dentameet/matching-engine/internal/infrastructure/persistence/memory"
	"github.com/dentameet/matching-engine/internal/infrastructure/persistence/postgres"
	"github.com/dentameet/matching-engine/internal/infrastructure/persistence/redis"
	"github.com/dentameet/matching-engine/internal/infrastructure/scheduler"
	"github.com/dentameet/matching-engine/internal/infrastructure/scheduler/jobs"
	"github.com/dentameet/matching-engine/internal/infrastructure/service"
	httpserver "github.com/dentameet/matching-engine/internal/interface/http"
	"github.com/dentameet/matching-engine/internal/interface/http/handlers"
	"github.com/dentameet/matching-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg, os.Stdout)
	slogger := setupSlog(cfg, os.Stdout)

	switch cmd {
	case "serve":
		return serve(ctx, cfg, log, slogger)
	case "migrate":
		return migrate(ctx, cfg, log)
	case "seed":
		path := cfg.Matching.SeedFile
		if len(args) > 0 {
			path = args[0]
		}
		return seed(ctx, cfg, log, path)
	default:
		return fmt.Errorf("unknown command %q (want serve, migrate or seed)", cmd)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVE
// ══════════════════════════════════════════════════════════════════════════════

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger, slogger *slog.Logger) error {
	log.Info("starting matching engine",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("ledger", string(cfg.Matching.LedgerBackend)),
	)

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 1. STORES
	// ─────────────────────────────────────────────────────────────────────────
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if st.pg != nil {
		health.AddCheck("postgres", handlers.NewPingCheck(st.pg))
	}

	if st.inMemoryProfiles && cfg.Matching.SeedFile != "" {
		n, err := loadSeedFile(ctx, cfg.Matching.SeedFile, st.seeder)
		if err != nil {
			return fmt.Errorf("failed to seed profiles: %w", err)
		}
		log.Info("profiles seeded", logger.Int("count", n), logger.String("file", cfg.Matching.SeedFile))
	}

	profiles := st.profiles

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REDIS (optional): profile cache and cross-instance events
	// ─────────────────────────────────────────────────────────────────────────
	var bus eventBus
	if !cfg.Redis.Disabled {
		cache, err := redis.NewCache(redisConfig(cfg))
		if err != nil {
			log.Warn("failed to connect to Redis, cache and shared events disabled", logger.Err(err))
		} else {
			defer cache.Close()
			health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))

			profiles = redis.NewCachedProfileStore(profiles, cache, cfg.Matching.ProfileCacheTTL, log)

			pubsub := redis.NewPubSubClient(cache)
			redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
				Client:     pubsub,
				InstanceID: cfg.App.InstanceID,
				Local:      messaging.DefaultInMemoryEventBusConfig(),
				Logger:     slogger,
			})
			if err != nil {
				log.Warn("failed to start shared event bus", logger.Err(err))
			} else {
				bus = redisBus
			}
		}
	}
	if bus == nil {
		local := messaging.DefaultInMemoryEventBusConfig()
		local.Logger = slogger
		bus = messaging.NewInMemoryEventBus(local)
	}
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. EVENT DISPATCH: audit log and outbound webhook
	// ─────────────────────────────────────────────────────────────────────────
	dispatcher := messaging.NewDispatcher(messaging.DispatcherConfig{
		Retry: messaging.RetryPolicy{
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
			Timeout:        cfg.Webhook.Timeout,
		},
		DeadLetterQueueSize: 1000,
		LocalOnly:           true,
		Logger:              slogger,
	})
	defer dispatcher.Stop()

	if err := dispatcher.Route(messaging.NewLogSink(log), shared.EventMutualMatch, shared.EventUnmatched); err != nil {
		return err
	}
	if cfg.Webhook.URL != "" {
		hook := webhook.NewClient(webhook.ClientConfig{
			URL:     cfg.Webhook.URL,
			Secret:  cfg.Webhook.Secret,
			Timeout: cfg.Webhook.Timeout,
			RateLimiterConfig: webhook.RateLimiterConfig{
				RequestsPerSecond: cfg.Webhook.RequestsPerSecond,
				BurstSize:         cfg.Webhook.Burst,
				WaitTimeout:       cfg.Webhook.Timeout,
			},
			Logger: log,
		})
		if err := dispatcher.Route(hook, shared.EventMutualMatch, shared.EventUnmatched); err != nil {
			return err
		}
		health.AddOptionalCheck("webhook", handlers.NewCircuitCheck(hook))
		log.Info("match webhook enabled", logger.String("url", cfg.Webhook.URL))
	}
	if err := dispatcher.Start(bus); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	if cfg.Webhook.RedeliverInterval > 0 {
		sched, err := startJobs(ctx, cfg, dispatcher, slogger)
		if err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. APPLICATION HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	discoverer := matching.NewDiscoverer(profiles, matching.DefaultTiers(matching.TierOptions{
		FuzzyRole:    cfg.Matching.FuzzyRoleTier,
		Unrestricted: cfg.Matching.UnrestrictedTier,
	}))

	var actionOpts []command.RecordActionOption
	if cfg.Matching.VerifyTarget {
		actionOpts = append(actionOpts, command.WithProfileCheck(profiles))
	}

	deps := httpserver.Dependencies{
		DiscoverCandidates: query.NewDiscoverCandidatesHandler(profiles, st.ledger, discoverer, query.DiscoverConfig{
			PoolSize:     cfg.Matching.PoolSize,
			DefaultLimit: cfg.Matching.DefaultLimit,
			MaxLimit:     cfg.Matching.MaxLimit,
		}, log),
		ListMatches:   query.NewListMatchesHandler(st.ledger, profiles, log),
		RecordAction:  command.NewRecordActionHandler(st.ledger, service.NewEventMatchNotifier(bus, log), log, actionOpts...),
		Unmatch:       command.NewUnmatchHandler(st.ledger, bus, log),
		HealthChecker: health,
		Logger:        log,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := httpserver.NewServer(httpserver.Config{
		Host:               cfg.HTTP.Host,
		Port:               cfg.HTTP.Port,
		ReadTimeout:        cfg.HTTP.ReadTimeout,
		WriteTimeout:       cfg.HTTP.WriteTimeout,
		IdleTimeout:        cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       cfg.HTTP.MaxBodyBytes,
		RequestTimeout:     cfg.HTTP.RequestTimeout,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		TrustProxyHeaders:  cfg.HTTP.TrustProxyHeaders,
		Version:            cfg.App.Version,
	}, deps)

	addr, err := server.Listen()
	if err != nil {
		return err
	}
	errCh := server.Serve()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("matching engine is running", logger.String("http_address", addr.String()))

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			log.Error("http server error", logger.Err(err))
			return err
		}
	}

	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}

	if n := dispatcher.DeadLetterQueue().Size(); n > 0 {
		log.Warn("undelivered events dropped at shutdown", logger.Int("count", n))
	}
	log.Info("shutdown completed successfully")
	return nil
}

// startJobs schedules dead letter redelivery and delivery stats logging.
func startJobs(ctx context.Context, cfg *config.Config, dispatcher *messaging.Dispatcher, slogger *slog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: slogger})

	every := cfg.Webhook.RedeliverInterval
	if err := sched.Register(jobs.NewRedeliverDeadLettersJob(dispatcher, slogger), scheduler.NewIntervalSchedule(every)); err != nil {
		return nil, err
	}
	if err := sched.Register(jobs.NewReportDeliveryStatsJob(dispatcher, slogger), scheduler.NewIntervalSchedule(5*every)); err != nil {
		return nil, err
	}
	if err := sched.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}
	return sched, nil
}

// eventBus is what serve needs from either bus implementation.
type eventBus interface {
	shared.EventBus
	Close() error
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE & SEED
// ══════════════════════════════════════════════════════════════════════════════

func migrate(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if st.pg != nil {
		applied, err := postgres.NewMigrator(st.pg).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("postgres schema is up to date", logger.Int("applied", applied))
	}
	if st.dynamo != nil {
		if err := st.dynamo.EnsureTable(ctx); err != nil {
			return fmt.Errorf("failed to create dynamodb table: %w", err)
		}
		log.Info("dynamodb table is ready", logger.String("table", cfg.Dynamo.Table))
	}
	if st.pg == nil && st.dynamo == nil {
		log.Warn("nothing to migrate: no persistent store configured")
	}
	return nil
}

func seed(ctx context.Context, cfg *config.Config, log *logger.Logger, path string) error {
	if path == "" {
		return errors.New("seed: no file given and MATCHING_SEED_FILE is empty")
	}
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if st.inMemoryProfiles {
		return errors.New("seed: DATABASE_URL is required to persist profiles")
	}

	n, err := loadSeedFile(ctx, path, st.seeder)
	if err != nil {
		return err
	}
	log.Info("profiles seeded", logger.Int("count", n), logger.String("file", path))

	// Drop profiles cached by running servers.
	if !cfg.Redis.Disabled {
		cache, err := redis.NewCache(redisConfig(cfg))
		if err != nil {
			log.Warn("profile cache not flushed", logger.Err(err))
			return nil
		}
		defer cache.Close()
		if _, err := redis.NewCachedProfileStore(st.profiles, cache, 0, log).Flush(ctx); err != nil {
			log.Warn("profile cache not flushed", logger.Err(err))
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORES
// ══════════════════════════════════════════════════════════════════════════════

type stores struct {
	profiles         profile.Store
	seeder           profile.Seeder
	inMemoryProfiles bool

	ledger interaction.Repository

	pg     *postgres.Connection
	dynamo *dynamo.InteractionRepository
}

func (s *stores) Close() {
	if s.pg != nil {
		s.pg.Close()
	}
}

// openStores connects the profile store and the ledger chosen by config.
// Profiles live in Postgres when DATABASE_URL is set and in memory otherwise.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	st := &stores{}

	if cfg.Database.URL != "" {
		log.Info("connecting to database")
		conn, err := postgres.NewConnection(ctx, postgresConfig(cfg, log))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		st.pg = conn
		repo := postgres.NewProfileRepository(conn)
		st.profiles, st.seeder = repo, repo
	} else {
		repo := memory.NewProfileRepository()
		st.profiles, st.seeder, st.inMemoryProfiles = repo, repo, true
		log.Warn("DATABASE_URL is empty, profiles are kept in memory")
	}

	switch cfg.Matching.LedgerBackend {
	case config.LedgerPostgres:
		if st.pg == nil {
			st.Close()
			return nil, errors.New("postgres ledger requires DATABASE_URL")
		}
		st.ledger = postgres.NewInteractionRepository(st.pg)

	case config.LedgerDynamoDB:
		client, err := dynamo.NewClient(ctx, dynamo.Config{
			Region:   cfg.Dynamo.Region,
			Table:    cfg.Dynamo.Table,
			Endpoint: cfg.Dynamo.Endpoint,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create dynamodb client: %w", err)
		}
		st.dynamo = dynamo.NewInteractionRepository(client, cfg.Dynamo.Table)
		if cfg.Dynamo.CreateTable {
			if err := st.dynamo.EnsureTable(ctx); err != nil {
				st.Close()
				return nil, fmt.Errorf("failed to create dynamodb table: %w", err)
			}
		}
		st.ledger = st.dynamo

	case config.LedgerMemory:
		st.ledger = memory.NewInteractionRepository()
		log.Warn("interaction ledger is in memory, decisions are lost on restart")

	default:
		st.Close()
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Matching.LedgerBackend)
	}

	return st, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func postgresConfig(cfg *config.Config, log *logger.Logger) postgres.Config {
	pg := postgres.DefaultConfig(cfg.Database.URL)
	pg.SlowQueryThreshold = cfg.Database.SlowQueryThreshold
	pg.Logger = log
	if cfg.Database.MaxOpenConns > 0 {
		pg.MaxConns = int32(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		pg.MinConns = int32(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		pg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}
	return pg
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		rc.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns > 0 {
		rc.MinIdleConns = cfg.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout > 0 {
		rc.DialTimeout = cfg.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.Redis.WriteTimeout
	}
	return rc
}

// setupLogger builds the application logger.
func setupLogger(cfg *config.Config, out io.Writer) *logger.Logger {
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}

	return logger.New(logger.Options{
		Output:    out,
		Level:     level,
		Format:    logger.Format(cfg.Observability.LogFormat),
		AddCaller: cfg.App.Debug,
	}).With(logger.String("service", cfg.App.Name))
}

// setupSlog builds the slog logger used by the event bus and dispatcher.
func setupSlog(cfg *config.Config, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == string(logger.FormatText) {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name)
	slog.SetDefault(log)
	return log
}
