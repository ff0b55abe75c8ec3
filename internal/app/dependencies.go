package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/cache"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/donation-reconciler/internal/health"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/storage/memory"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/storage/postgres"
)

const redisConnectTimeout = 3 * time.Second

// runtimeDependencies — хранилище и кэш, выбранные по конфигурации.
type runtimeDependencies struct {
	store       domain.Store
	outboxRepo  domain.OutboxRepository
	statusCache cache.StatusCache

	storageChecker healthcheck.Checker
	// cacheChecker равен nil, если Redis не настроен.
	cacheChecker healthcheck.Checker

	closeFns []func() error
}

// Close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for i := len(d.closeFns) - 1; i >= 0; i-- {
		if err := d.closeFns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closeFns = nil
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{statusCache: cache.Noop{}}

	if err := initStorage(ctx, cfg, logger, deps); err != nil {
		_ = deps.Close()
		return nil, err
	}
	initStatusCache(ctx, cfg, logger, deps)

	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies) error {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore()
		deps.store = store
		deps.outboxRepo = store
		deps.storageChecker = healthcheck.PingChecker("storage", store)
		logger.Warn("using in-memory storage, data is lost on restart")
		return nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres storage: %w", err)
		}
		deps.closeFns = append(deps.closeFns, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}

		deps.store = store
		deps.outboxRepo = store
		deps.storageChecker = healthcheck.PingChecker("storage", store)
		logger.Info("using postgres storage")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// initStatusCache подключает Redis, если он настроен. Кэш необязателен:
// при недоступном Redis сервис работает напрямую с хранилищем.
func initStatusCache(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies) {
	if cfg.RedisAddr == "" {
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	statusCache := cache.NewRedis(client,
		cache.WithTTL(cfg.StatusCacheTTL),
		cache.WithLogger(logger.WithField("layer", "status-cache")),
	)

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := statusCache.Ping(pingCtx); err != nil {
		logger.WithError(err).WithField("redis_addr", cfg.RedisAddr).Warn("redis is unavailable, status cache disabled")
		_ = client.Close()
		return
	}

	deps.statusCache = statusCache
	deps.cacheChecker = healthcheck.PingChecker("status-cache", statusCache)
	deps.closeFns = append(deps.closeFns, client.Close)
	logger.WithField("redis_addr", cfg.RedisAddr).Info("redis status cache enabled")
}
