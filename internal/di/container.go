package di

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/eventhive/internal/handler"
	"github.com/prohmpiriya/eventhive/internal/repository"
	"github.com/prohmpiriya/eventhive/internal/service"
	"github.com/prohmpiriya/eventhive/internal/worker"
	"github.com/prohmpiriya/eventhive/pkg/config"
	"github.com/prohmpiriya/eventhive/pkg/database"
	"github.com/prohmpiriya/eventhive/pkg/kafka"
	"github.com/prohmpiriya/eventhive/pkg/logger"
	"github.com/prohmpiriya/eventhive/pkg/middleware"
	pkgredis "github.com/prohmpiriya/eventhive/pkg/redis"
	"github.com/prohmpiriya/eventhive/pkg/retry"
)

// Container holds all dependencies for the booking service
type Container struct {
	// Infrastructure
	DB       *database.PostgresDB
	Redis    *pkgredis.Client
	Producer *kafka.Producer

	// Repositories
	Catalog repository.EventRepository
	Ledger  repository.EventRepository
	Store   repository.BookingStore

	// Publishers
	EventPublisher service.EventPublisher

	// Services
	BookingService service.BookingService

	// Workers, nil unless the postgres backend runs with Kafka
	OutboxWorker *worker.OutboxWorker

	// Handlers
	HealthHandler  *handler.HealthHandler
	BookingHandler *handler.BookingHandler
	EventHandler   *handler.EventHandler

	Router *gin.Engine
}

// ContainerConfig contains configuration for building the container.
// DB, Redis and Producer are nil when the matching integration is off.
type ContainerConfig struct {
	Config   *config.Config
	DB       *database.PostgresDB
	Redis    *pkgredis.Client
	Producer *kafka.Producer
	Logger   *logger.Logger
}

// NewContainer wires the storage backend selected by BOOKING_BACKEND
func NewContainer(ctx context.Context, cfg *ContainerConfig) (*Container, error) {
	appCfg := cfg.Config
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	c := &Container{
		DB:       cfg.DB,
		Redis:    cfg.Redis,
		Producer: cfg.Producer,
	}

	var syncer service.EventSyncer
	switch appCfg.Booking.Backend {
	case config.BackendMemory:
		store := repository.NewMemoryStore()
		c.Catalog, c.Ledger, c.Store = store, store, store

	case config.BackendPostgres:
		if c.DB == nil {
			return nil, fmt.Errorf("postgres backend requires a database connection")
		}
		pool := c.DB.Pool()
		outbox := repository.NewPostgresOutboxRepository(pool)
		c.Catalog = repository.NewPostgresEventRepository(pool)
		c.Ledger = c.Catalog
		c.Store = repository.NewPostgresBookingStore(pool, outbox, appCfg.Booking.LockTimeout)

		if c.Producer != nil {
			dlq := retry.NewKafkaDLQPublisher(c.Producer, &retry.DLQConfig{
				TopicSuffix: ".dlq",
				Source:      appCfg.App.Name,
			})
			c.OutboxWorker = worker.NewOutboxWorker(outbox, c.Producer, dlq, &worker.OutboxWorkerConfig{
				PollInterval:         appCfg.Outbox.PollInterval,
				BatchSize:            appCfg.Outbox.BatchSize,
				RetryInterval:        appCfg.Outbox.RetryInterval,
				CleanupInterval:      worker.DefaultOutboxWorkerConfig().CleanupInterval,
				CleanupRetentionDays: appCfg.Outbox.RetentionDays,
			}, log)
		}

	case config.BackendRedis:
		if c.Redis == nil {
			return nil, fmt.Errorf("redis backend requires a redis connection")
		}
		store := repository.NewRedisBookingStore(c.Redis)
		if err := store.LoadScripts(ctx); err != nil {
			return nil, fmt.Errorf("failed to load redis scripts: %w", err)
		}
		ledger := repository.NewRedisEventRepository(c.Redis)
		c.Ledger, c.Store = ledger, store
		c.Catalog = ledger
		if c.DB != nil {
			c.Catalog = repository.NewPostgresEventRepository(c.DB.Pool())
			syncer = service.NewEventSyncer(c.Catalog, ledger)
		}

	default:
		return nil, fmt.Errorf("unknown booking backend: %q", appCfg.Booking.Backend)
	}

	// The postgres outbox already carries events; publishing directly would double them.
	c.EventPublisher = service.NewNoOpEventPublisher()
	if c.Producer != nil && appCfg.Booking.Backend != config.BackendPostgres {
		publisher, err := service.NewKafkaEventPublisher(c.Producer, &service.EventPublisherConfig{
			Topic:       appCfg.Kafka.Topic,
			ServiceName: appCfg.App.Name,
		})
		if err != nil {
			return nil, err
		}
		c.EventPublisher = publisher
	}

	c.BookingService = service.NewBookingService(&service.Dependencies{
		Catalog:   c.Catalog,
		Ledger:    c.Ledger,
		Store:     c.Store,
		Syncer:    syncer,
		Publisher: c.EventPublisher,
		Logger:    log,
	}, &service.BookingServiceConfig{
		MaxAttempts:      appCfg.Booking.MaxAttempts,
		RetryInterval:    appCfg.Booking.RetryInterval,
		EnforceOwnership: appCfg.Booking.OwnershipCheck,
	})

	c.HealthHandler = handler.NewHealthHandler(appCfg.Booking.Backend, c.checkers())
	c.BookingHandler = handler.NewBookingHandler(c.BookingService)
	c.EventHandler = handler.NewEventHandler(c.BookingService)

	routerCfg := &handler.RouterConfig{
		Booking: c.BookingHandler,
		Event:   c.EventHandler,
		Health:  c.HealthHandler,
		JWT: &middleware.JWTConfig{
			Enabled: appCfg.JWT.Enabled,
			Secret:  appCfg.JWT.Secret,
			Issuer:  appCfg.JWT.Issuer,
		},
		Log:         log,
		ServiceName: appCfg.OTel.ServiceName,
		Tracing:     appCfg.OTel.Enabled,
	}
	if c.Redis != nil {
		routerCfg.Idempotency = &middleware.IdempotencyConfig{
			Redis: c.Redis,
			TTL:   appCfg.Booking.IdempotencyTTL,
		}
	}
	c.Router = handler.NewRouter(routerCfg)

	log.Info("container ready",
		zap.String("backend", appCfg.Booking.Backend),
		zap.Bool("database", c.DB != nil),
		zap.Bool("redis", c.Redis != nil),
		zap.Bool("kafka", c.Producer != nil),
		zap.Bool("outbox_worker", c.OutboxWorker != nil),
		zap.Bool("ledger_sync", syncer != nil),
	)
	return c, nil
}

// checkers lists only the integrations that are actually connected
func (c *Container) checkers() map[string]handler.Checker {
	checkers := make(map[string]handler.Checker)
	if c.DB != nil {
		checkers["database"] = c.DB
	}
	if c.Redis != nil {
		checkers["redis"] = c.Redis
	}
	if c.Producer != nil {
		checkers["kafka"] = handler.CheckerFunc(c.Producer.Ping)
	}
	return checkers
}
