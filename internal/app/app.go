// Package app wires configuration, storage backends, the event bus and the
// HTTP server into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/edu-progress/config"
	"github.com/alem-hub/edu-progress/internal/application/command"
	"github.com/alem-hub/edu-progress/internal/application/query"
	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
	"github.com/alem-hub/edu-progress/internal/domain/progress"
	"github.com/alem-hub/edu-progress/internal/domain/quota"
	"github.com/alem-hub/edu-progress/internal/infrastructure/background"
	"github.com/alem-hub/edu-progress/internal/infrastructure/messaging"
	"github.com/alem-hub/edu-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/edu-progress/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/edu-progress/internal/infrastructure/persistence/redis"
	httpapi "github.com/alem-hub/edu-progress/internal/interface/http"
	"github.com/alem-hub/edu-progress/internal/interface/http/handlers"
	"github.com/alem-hub/edu-progress/pkg/circuitbreaker"
	"github.com/alem-hub/edu-progress/pkg/retry"
	"github.com/alem-hub/edu-progress/pkg/timeutil"
)

// Options tweak New.
type Options struct {
	// Migrate applies pending Postgres migrations before serving.
	Migrate bool
}

// App is a fully wired service.
type App struct {
	Config  *config.Config
	Server  *httpapi.Server
	Bus     *messaging.InMemoryEventBus
	Runner  *background.Runner
	Catalog config.Catalog

	logger  *slog.Logger
	db      *postgres.Connection
	cache   *redis.Cache
	backend string
}

// tierStore is the durable quota store that also knows tiers.
type tierStore interface {
	quota.Store
	entitlement.TierSource
}

// New connects the configured backends and builds every handler.
// On error, everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Options) (_ *App, err error) {
	a := &App{Config: cfg, logger: log.With("component", "app")}
	defer func() {
		if err != nil {
			a.closeStores()
		}
	}()

	a.Catalog, err = config.LoadCatalog(cfg.Progress.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// DURABLE STORE: Postgres or in-process maps
	// ─────────────────────────────────────────────────────────────────────────
	var (
		durable tierStore
		stats   progress.StatsRepository
	)
	if cfg.Database.URL != "" {
		a.db, err = ConnectPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if opts.Migrate {
			applied, err := postgres.NewMigrator(a.db).Migrate(ctx)
			if err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			a.logger.Info("migrations applied", "versions", applied)
		}
		retryOpts := []retry.Option{
			retry.WithMaxAttempts(cfg.Database.RetryAttempts),
			retry.WithInitialDelay(cfg.Database.RetryInitialDelay),
			retry.WithMaxDelay(cfg.Database.RetryMaxDelay),
		}
		durable = postgres.NewQuotaRepository(a.db, log, retryOpts...)
		stats = postgres.NewStatsRepository(a.db, log, retryOpts...)
		health.AddReport("postgres", poolReport(a.db))
		a.backend = "postgres"
	} else {
		a.logger.Warn("DATABASE_URL not set, registered identities are kept in memory")
		durable = memory.NewDurableQuotaStore()
		stats = memory.NewStatsRepository()
		a.backend = "memory"
	}

	// ─────────────────────────────────────────────────────────────────────────
	// EPHEMERAL STORE: Redis or LRU
	// ─────────────────────────────────────────────────────────────────────────
	var ephemeral quota.Store
	if !cfg.Redis.Disabled {
		a.cache, err = redis.NewCache(ctx, redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   redis.DefaultConfig().MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			if cfg.IsProduction() {
				return nil, fmt.Errorf("connect redis: %w", err)
			}
			a.logger.Warn("redis unavailable, anonymous quotas use the in-process LRU", "error", err)
			a.cache, err = nil, nil
		}
	}
	if a.cache != nil {
		ephemeral = redis.NewQuotaStore(a.cache, cfg.Quota.GuestTTL)
		health.AddCheck("redis", handlers.NewPingCheck(a.cache))
	} else {
		ephemeral = memory.NewEphemeralQuotaStore(cfg.Quota.LRUSize, cfg.Quota.GuestTTL)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// BACKGROUND RUNNER & EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	a.Runner = background.NewRunner(background.Config{
		MaxConcurrent: cfg.Quota.BackgroundWorkers,
		TaskTimeout:   cfg.Quota.BackgroundTimeout,
		Logger:        log,
	})

	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.AsyncMode = true
	busCfg.Logger = log
	a.Bus = messaging.NewInMemoryEventBus(busCfg)
	if err := a.Bus.SubscribeAll(messaging.LogHandler(log)); err != nil {
		return nil, err
	}
	health.AddReport("background", handlers.NewStatsReport(a.Runner.Snapshot))
	health.AddReport("event_bus", handlers.NewStatsReport(a.Bus.Metrics().Snapshot))
	if a.cache != nil && cfg.Redis.EventChannel != "" {
		breaker := circuitbreaker.EventForwarderBreaker(func(name string, from, to circuitbreaker.State) {
			a.logger.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		})
		fwd := messaging.NewRedisForwarder(a.cache.Client(), cfg.Redis.EventChannel, messaging.WithBreaker(breaker))
		if err := a.Bus.SubscribeAll(fwd.Handle); err != nil {
			return nil, err
		}
		health.AddReport("event_forwarder", handlers.NewStatsReport(breaker.Snapshot))
		a.logger.Info("mirroring events to redis", "channel", fwd.Channel())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.NewSystemClock(cfg.App.Location())
	ledger := quota.NewLedger(ephemeral, durable, clock, quota.WithTaskRunner(a.Runner))
	resolver := entitlement.NewResolver(durable)

	a.Server = httpapi.NewServer(httpapi.Config{
		Addr:          cfg.HTTP.Addr,
		ReadTimeout:   cfg.HTTP.ReadTimeout,
		WriteTimeout:  cfg.HTTP.WriteTimeout,
		IdleTimeout:   cfg.HTTP.IdleTimeout,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		StrictUserIDs: cfg.HTTP.StrictUserIDs,
		Version:       cfg.App.Version,
	}, httpapi.Dependencies{
		CompleteActivity: command.NewCompleteActivityHandler(
			resolver, ledger, stats, a.Catalog.Badges, a.Catalog.Mastery, a.Bus, log,
			command.CompleteActivityHandlerConfig{BadgeRewards: cfg.Progress.BadgeRewards},
		),
		ChargeUsage:   command.NewChargeUsageHandler(resolver, ledger, a.Bus, log),
		GetQuota:      query.NewGetQuotaHandler(resolver, ledger, log),
		GetProgress:   query.NewGetProgressHandler(stats, a.Catalog.Mastery),
		ListBadges:    query.NewListBadgesHandler(stats, a.Catalog.Badges),
		HealthChecker: health,
		Logger:        log,
	})

	ephemeralBackend := "lru"
	if a.cache != nil {
		ephemeralBackend = "redis"
	}
	a.logger.Info("service wired",
		"durable", a.backend,
		"ephemeral", ephemeralBackend,
		"badges", a.Catalog.Badges.Len(),
		"timezone", cfg.App.Location().String(),
	)
	return a, nil
}

// Run serves HTTP until ctx is cancelled, then shuts everything down within
// the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down", "timeout", a.Config.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.App.ShutdownTimeout)
		defer cancel()
		return a.Close(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops the server, drains background work and events, then closes
// the stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Server != nil {
		errs = append(errs, a.Server.Shutdown(ctx))
	}
	if a.Runner != nil {
		if err := a.Runner.Close(ctx); err != nil && !errors.Is(err, background.ErrRunnerClosed) {
			errs = append(errs, err)
		}
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil && !errors.Is(err, messaging.ErrEventBusClosed) {
			errs = append(errs, err)
		}
	}
	a.closeStores()
	return errors.Join(errs...)
}

func (a *App) closeStores() {
	if a.cache != nil {
		_ = a.cache.Close()
		a.cache = nil
	}
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

// poolReport fails when the database does not answer a ping and always
// includes the pool stats.
func poolReport(db *postgres.Connection) handlers.ReportFunc {
	return func(ctx context.Context) (any, error) {
		h := db.Health(ctx)
		if !h.Healthy {
			return h, errors.New(h.Error)
		}
		return h, nil
	}
}

// ConnectPostgres opens the pool described by cfg.
func ConnectPostgres(ctx context.Context, cfg config.DatabaseConfig) (*postgres.Connection, error) {
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.URL
	pgCfg.MaxConns = cfg.MaxConns
	pgCfg.MinConns = cfg.MinConns
	pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	pgCfg.ConnectTimeout = cfg.ConnectTimeout

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return conn, nil
}
