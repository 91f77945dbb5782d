package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderflow/internal/health"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/orderflow/internal/storage/redis"
)

// runtimeDependencies — хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	customers domain.CustomerRepository
	products  domain.ProductRepository
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
	// uow == nil, если AtomicPlacement выключен.
	uow domain.UnitOfWork

	idempotency domain.IdempotencyRepository
	// Redis удаляет ключи по TTL сам, воркер очистки ему не нужен.
	idempotencyNeedsCleanup bool

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	var pgStore *postgres.Store
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore()
		deps.customers = store.Customers()
		deps.products = store.Products()
		deps.orders = store.Orders()
		deps.outbox = store.Outbox()
		if cfg.AtomicPlacement {
			deps.uow = store.UnitOfWork()
		}
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", cfg.StorageDriver)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithMaxConns(cfg.PostgresMaxConns))
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				deps.close(logger)
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}

		pgStore = store
		deps.customers = postgres.NewCustomerRepository(store)
		deps.products = postgres.NewProductRepository(store)
		deps.orders = postgres.NewOrderRepository(store)
		deps.outbox = postgres.NewOutboxRepository(store)
		if cfg.AtomicPlacement {
			deps.uow = postgres.NewUnitOfWork(store)
		}
		deps.checkers["postgres"] = healthcheck.Critical(store.Ping)
		logger.Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}

	switch cfg.IdempotencyDriver {
	case IdempotencyDriverMemory, "":
		deps.idempotency = memory.NewIdempotencyRepository()
		deps.idempotencyNeedsCleanup = true
	case IdempotencyDriverPostgres:
		if pgStore == nil {
			deps.close(logger)
			return nil, fmt.Errorf("idempotency driver %q requires postgres storage", cfg.IdempotencyDriver)
		}
		deps.idempotency = postgres.NewIdempotencyRepository(pgStore)
		deps.idempotencyNeedsCleanup = true
	case IdempotencyDriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		deps.closers = append(deps.closers, client.Close)

		repo := redisstore.NewIdempotencyRepository(client)
		if err := repo.Ping(ctx); err != nil {
			deps.close(logger)
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		deps.idempotency = repo
		deps.checkers["redis"] = healthcheck.Critical(repo.Ping)
		logger.WithField("addr", cfg.RedisAddr).Info("using redis for idempotency keys")
	default:
		deps.close(logger)
		return nil, fmt.Errorf("unsupported idempotency driver: %q", cfg.IdempotencyDriver)
	}

	return deps, nil
}

// close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close storage resource")
		}
	}
	d.closers = nil
}
