package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/idc-core/idc/engine/action"
	"github.com/idc-core/idc/engine/infra/cache"
	"github.com/idc-core/idc/engine/infra/monitoring"
	"github.com/idc-core/idc/engine/infra/postgres"
	"github.com/idc-core/idc/engine/infra/pubsub"
	"github.com/idc-core/idc/engine/infra/sqlite"
	"github.com/idc-core/idc/engine/infra/store"
	"github.com/idc-core/idc/engine/lock"
	"github.com/idc-core/idc/engine/publish"
	"github.com/idc-core/idc/engine/tasks"
	"github.com/idc-core/idc/engine/version"
	"github.com/idc-core/idc/pkg/config"
	"github.com/idc-core/idc/pkg/logger"
	"github.com/idc-core/idc/pkg/tplengine"
)

// NATSURLEmbedded selects the in-process JetStream server.
const NATSURLEmbedded = "embedded"

const tracerName = "idc/action"

// Dependencies holds every collaborator the engine needs at runtime. Close
// releases them in reverse order of creation.
type Dependencies struct {
	Store      store.Store
	Executor   *action.Executor
	Monitoring *monitoring.Service
	Publisher  *publish.Publisher
	Bus        pubsub.Provider
	cleanups   []func(context.Context)
}

func (d *Dependencies) onClose(fn func(context.Context)) {
	d.cleanups = append(d.cleanups, fn)
}

// Close runs the registered cleanups, newest first.
func (d *Dependencies) Close(ctx context.Context) {
	for i := len(d.cleanups) - 1; i >= 0; i-- {
		d.cleanups[i](ctx)
	}
	d.cleanups = nil
}

// BuildDependencies wires store, redis, lock manager, message bus, publisher
// and executor from cfg. Partially built dependencies are closed on error.
func BuildDependencies(ctx context.Context, cfg *config.Config) (_ *Dependencies, err error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	deps := &Dependencies{}
	defer func() {
		if err != nil {
			deps.Close(context.WithoutCancel(ctx))
		}
	}()
	deps.Monitoring = setupMonitoring(ctx, cfg)
	deps.onClose(func(ctx context.Context) {
		if err := deps.Monitoring.Shutdown(ctx); err != nil {
			logger.FromContext(ctx).Error("Failed to shutdown monitoring service", "error", err)
		}
	})
	if deps.Store, err = setupStore(ctx, cfg, deps); err != nil {
		return nil, err
	}
	client, err := setupRedis(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	leases, err := cache.NewRedisLockManager(client, cache.RetryPolicy{
		Count:  cfg.Lock.RetryCount,
		Delay:  cfg.Lock.RetryDelay,
		Jitter: cfg.Lock.RetryJitter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lock backend: %w", err)
	}
	locks, err := lock.NewManager(leases, cfg.Lock.TTL, deps.Monitoring.Engine())
	if err != nil {
		return nil, fmt.Errorf("failed to create lock manager: %w", err)
	}
	if deps.Bus, err = setupBus(ctx, cfg, client, deps); err != nil {
		return nil, err
	}
	deps.Publisher = publish.NewPublisher(deps.Bus, publish.Options{
		MaxInFlight: cfg.Bus.MaxInFlight,
		Timeout:     cfg.Bus.PublishTimeout,
		Recorder:    deps.Monitoring.Engine(),
	})
	deps.onClose(func(ctx context.Context) {
		if err := deps.Publisher.Flush(ctx); err != nil {
			logger.FromContext(ctx).Warn("Pending publishes did not complete", "error", err)
		}
	})
	evaluator, err := tplengine.NewEvaluator(tplengine.Options{
		CacheSize:    cfg.Templates.CacheSize,
		CELCostLimit: cfg.Templates.CELCostLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create template evaluator: %w", err)
	}
	registry, err := tasks.NewRegistry(tasks.Dependencies{
		Versions:   version.NewService(locks, nil),
		HTTPClient: resty.New().SetTimeout(cfg.Tasks.HTTPTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register tasks: %w", err)
	}
	deps.Executor, err = action.NewExecutor(action.Options{
		Registry:  registry,
		Evaluator: evaluator,
		Publisher: deps.Publisher,
		Recorder:  deps.Monitoring.Engine(),
		Tracer:    otel.Tracer(tracerName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create action executor: %w", err)
	}
	return deps, nil
}

func setupMonitoring(ctx context.Context, cfg *config.Config) *monitoring.Service {
	log := logger.FromContext(ctx)
	start := time.Now()
	service := monitoring.NewMonitoringServiceWithFallback(ctx, &monitoring.Config{
		Enabled: cfg.Monitoring.Enabled,
		Path:    cfg.Monitoring.Path,
	})
	if service.IsInitialized() {
		log.Info("Monitoring service initialized",
			"path", service.Path(),
			"duration", time.Since(start))
	} else {
		log.Info("Monitoring is disabled in the configuration")
	}
	return service
}

type migrator interface {
	Migrate(ctx context.Context) error
}

func setupStore(ctx context.Context, cfg *config.Config, deps *Dependencies) (store.Store, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.onClose(func(ctx context.Context) {
		if err := st.Close(ctx); err != nil {
			logger.FromContext(ctx).Error("Failed to close store", "error", err)
		}
	})
	if pg, ok := st.(*postgres.Store); ok {
		if err := deps.Monitoring.Register(pg.Collector()); err != nil {
			logger.FromContext(ctx).Warn("Failed to register database pool metrics", "error", err)
		}
	}
	return st, nil
}

// OpenStore connects the configured document store and migrates it when
// auto_migrate is set. The caller owns the returned store.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	var (
		st     store.Store
		fields []any
	)
	switch strings.TrimSpace(cfg.Database.Driver) {
	case config.DriverPostgres:
		pg, err := postgres.NewStore(ctx, postgres.FromAppConfig(&cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		st = pg
		fields = []any{"host", cfg.Database.Host, "database", cfg.Database.DBName}
	case config.DriverSQLite, "":
		lite, err := sqlite.NewStore(ctx, sqlite.FromAppConfig(&cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		st = lite
		fields = []any{"path", cfg.Database.Path}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.AutoMigrate {
		if m, ok := st.(migrator); ok {
			if err := m.Migrate(ctx); err != nil {
				_ = st.Close(ctx)
				return nil, fmt.Errorf("failed to migrate store: %w", err)
			}
		}
	}
	fields = append(fields, "driver", cfg.Database.Driver, "duration", time.Since(start))
	log.Info("Database store initialized", fields...)
	return st, nil
}

func setupRedis(ctx context.Context, cfg *config.Config, deps *Dependencies) (redis.UniversalClient, error) {
	if cfg.Redis.Mode == config.RedisModeExternal {
		r, err := cache.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		deps.onClose(func(ctx context.Context) {
			if err := r.Close(); err != nil {
				logger.FromContext(ctx).Error("Failed to close redis client", "error", err)
			}
		})
		return r.Client(), nil
	}
	embedded, err := cache.NewMiniredisEmbedded(ctx)
	if err != nil {
		return nil, err
	}
	deps.onClose(func(ctx context.Context) {
		if err := embedded.Close(ctx); err != nil {
			logger.FromContext(ctx).Error("Failed to stop embedded redis", "error", err)
		}
	})
	return embedded.Client(), nil
}

func setupBus(
	ctx context.Context,
	cfg *config.Config,
	client redis.UniversalClient,
	deps *Dependencies,
) (pubsub.Provider, error) {
	var (
		provider pubsub.Provider
		err      error
	)
	switch cfg.Bus.Driver {
	case config.BusDriverNATS:
		provider, err = setupJetStream(ctx, cfg, deps)
	default:
		provider, err = pubsub.NewRedisProvider(client)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create message bus: %w", err)
	}
	deps.onClose(func(ctx context.Context) {
		if err := provider.Close(); err != nil {
			logger.FromContext(ctx).Error("Failed to close message bus", "error", err)
		}
	})
	logger.FromContext(ctx).Info("Message bus ready", "driver", cfg.Bus.Driver)
	return provider, nil
}

func setupJetStream(ctx context.Context, cfg *config.Config, deps *Dependencies) (pubsub.Provider, error) {
	opts := pubsub.StreamOptions{Name: cfg.Bus.StreamName}
	if cfg.Bus.NATSURL != NATSURLEmbedded {
		return pubsub.ConnectJetStream(ctx, cfg.Bus.NATSURL, opts)
	}
	embedded, err := pubsub.NewEmbeddedNATS(pubsub.EmbeddedNATSOptions{StoreDir: cfg.Bus.NATSStoreDir})
	if err != nil {
		return nil, err
	}
	deps.onClose(func(context.Context) {
		embedded.Shutdown()
	})
	return pubsub.NewJetStreamProvider(ctx, embedded.Conn, opts)
}
