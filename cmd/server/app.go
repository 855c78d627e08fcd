package main

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
	db "github.com/JonMunkholm/csvimport/internal/database"
	"github.com/JonMunkholm/csvimport/internal/importers"
)

// tickLoop is a scheduler that can also run the ticks it holds.
type tickLoop interface {
	core.Scheduler
	Run(ctx context.Context, tick core.TickFunc)
}

// app holds the wired service and the resources it owns.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client

	registry  *prometheus.Registry
	scheduler tickLoop
	runner    *core.Runner
	service   *core.Service
	rateStore limiter.Store
}

// newApp connects to the configured backends and wires the import service.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Storage.Driver == config.DriverPostgres {
		pool, err := connectDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.pool = pool

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				a.Close()
				return nil, err
			}
		}
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, errors.Wrap(err, "parse REDIS_URL")
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, errors.Wrap(err, "ping redis")
		}
		store, err := sredis.NewStoreWithOptions(a.redis, limiter.StoreOptions{
			Prefix: cfg.Redis.KeyPrefix + ":rate",
		})
		if err != nil {
			a.Close()
			return nil, errors.Wrap(err, "create redis rate store")
		}
		a.rateStore = store
		logger.Info("using redis for leases and rate limits")
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := core.NewMetrics(a.registry)
	events := core.NewEventBus(logger, core.LogObserver(logger), metrics)

	access, err := core.NewAuthorizer(core.AuthzOptions{
		ModelPath:  cfg.Authz.ModelPath,
		PolicyPath: cfg.Authz.PolicyPath,
		Roles:      cfg.Authz.RoleMap(),
		Logger:     logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		store core.Store
		sink  importers.Sink
	)
	schedOpts := core.SchedulerOptions{
		Delay:        cfg.Import.TickDelay,
		PollInterval: cfg.Import.PollInterval,
		ClaimLimit:   cfg.Import.ClaimLimit,
		Visibility:   cfg.Import.LeaseTTL,
		Logger:       logger,
		Metrics:      metrics,
	}
	if a.pool != nil {
		store = core.NewPgStore(a.pool)
		sink = db.New(a.pool)
		a.scheduler = core.NewPgScheduler(a.pool, schedOpts)
	} else {
		store = core.NewMemoryStore()
		sink = importers.NewMemorySink()
		a.scheduler = core.NewMemoryScheduler(schedOpts)
		logger.Warn("using in-memory storage; records are lost on restart")
	}

	reg, err := core.RegisterAll(importers.Source(sink, logger))
	if err != nil {
		a.Close()
		return nil, err
	}

	var lease core.Lease = core.NewLocalLease()
	if a.redis != nil {
		lease = core.NewRedisLease(a.redis, cfg.Redis.KeyPrefix)
	}

	a.runner, err = core.NewRunner(core.RunnerOptions{
		Store:     store,
		Registry:  reg,
		Scheduler: a.scheduler,
		Access:    access,
		Lease:     lease,
		LeaseTTL:  cfg.Import.LeaseTTL,
		Sizer:     core.NewBatchSizer(core.RegistrySizeFunc(reg, cfg.Import.BatchSize)),
		Events:    events,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service, err = core.NewService(core.ServiceOptions{
		Store:       store,
		Registry:    reg,
		Runner:      a.runner,
		Access:      access,
		Limiter:     core.NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		Events:      events,
		Metrics:     metrics,
		Logger:      logger,
		MaxFileSize: cfg.Upload.MaxFileSize,
		PreviewRows: cfg.Upload.PreviewRows,
		Timeout:     cfg.Upload.Timeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("importers registered", "count", reg.Len())
	for _, imp := range reg.All() {
		logger.Debug("importer", "slug", imp.Slug, "inert", imp.Inert(), "capability", imp.Capability)
	}
	return a, nil
}

// health pings the backends the service depends on.
func (a *app) health(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return errors.Wrap(err, "database")
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis")
		}
	}
	return nil
}

// Close releases backend connections.
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func connectDB(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database URL")
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}
