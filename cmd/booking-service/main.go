package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/eventhive/internal/di"
	"github.com/prohmpiriya/eventhive/internal/metrics"
	"github.com/prohmpiriya/eventhive/migrations"
	"github.com/prohmpiriya/eventhive/pkg/config"
	"github.com/prohmpiriya/eventhive/pkg/database"
	"github.com/prohmpiriya/eventhive/pkg/kafka"
	"github.com/prohmpiriya/eventhive/pkg/logger"
	pkgredis "github.com/prohmpiriya/eventhive/pkg/redis"
	"github.com/prohmpiriya/eventhive/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
		OutputPath:  "stdout",
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("starting booking service",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("backend", cfg.Booking.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("telemetry disabled", zap.Error(err))
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn("failed to register metrics", zap.Error(err))
	}

	var db *database.PostgresDB
	if cfg.Database.Enabled {
		db, err = database.NewPostgres(ctx, database.FromConfig(&cfg.Database, cfg.OTel.Enabled))
		if err != nil {
			appLog.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()
		appLog.Info("database connected")

		if cfg.Database.AutoMigrate {
			if err := migrations.Apply(ctx, db.Pool()); err != nil {
				appLog.Fatal("migrations failed", zap.Error(err))
			}
		}
	}

	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, pkgredis.FromConfig(&cfg.Redis))
		if err != nil {
			appLog.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisClient.Close()
		appLog.Info("redis connected")
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producerCfg := kafka.DefaultProducerConfig()
		producerCfg.Brokers = cfg.Kafka.Brokers
		producerCfg.ClientID = cfg.Kafka.ClientID
		producer, err = kafka.NewProducer(ctx, producerCfg)
		if err != nil {
			// bookings still work; events are dropped until restart
			appLog.Warn("kafka unavailable, booking events disabled", zap.Error(err))
			producer = nil
		} else {
			defer producer.Close()
			appLog.Info("kafka connected", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	container, err := di.NewContainer(ctx, &di.ContainerConfig{
		Config:   cfg,
		DB:       db,
		Redis:    redisClient,
		Producer: producer,
		Logger:   appLog,
	})
	if err != nil {
		appLog.Fatal("failed to build container", zap.Error(err))
	}

	if container.OutboxWorker != nil {
		if err := container.OutboxWorker.Start(ctx); err != nil {
			appLog.Fatal("failed to start outbox worker", zap.Error(err))
		}
		defer container.OutboxWorker.Stop()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      container.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLog.Info("booking service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("server forced to shutdown", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("telemetry shutdown failed", zap.Error(err))
	}

	appLog.Info("server exited gracefully")
}
