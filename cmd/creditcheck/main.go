package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gartstein/creditcheck/internal/creditcheck/auth"
	"github.com/gartstein/creditcheck/internal/creditcheck/controller"
	gorm "github.com/gartstein/creditcheck/internal/creditcheck/db"
	e "github.com/gartstein/creditcheck/internal/creditcheck/errors"
	"github.com/gartstein/creditcheck/internal/creditcheck/events"
	"github.com/gartstein/creditcheck/internal/creditcheck/handlers"
	"github.com/gartstein/creditcheck/internal/creditcheck/lock"
	"github.com/gartstein/creditcheck/internal/creditcheck/metrics"
	"github.com/gartstein/creditcheck/internal/creditcheck/models"
	"github.com/gartstein/creditcheck/internal/creditcheck/provider"
	"github.com/gartstein/creditcheck/internal/creditcheck/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// documentStore is a storage backend that owns resources.
type documentStore interface {
	storage.Store
	Close() error
}

func main() {
	logger := initLogger()
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer repo.Close()

	locker, closeLocker := initLocker(cfg, logger)
	defer closeLocker()

	store, err := initStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize document storage", zap.Error(err))
	}
	defer store.Close()

	producer, err := events.NewProducer(cfg.KafkaBrokers, logger, cfg.Topic)
	if err != nil {
		logger.Fatal("failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	creditCheckSvc := controller.NewCreditCheckService(
		repo,
		provider.NewClient(providerConfig(cfg), logger),
		store,
		locker,
		producer,
		m,
		logger,
		controller.WithLockWait(cfg.LockWait),
	)

	if cfg.PurchaseTopic != "" {
		consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, cfg.PurchaseTopic, logger)
		consumer.RegisterHandler(purchaseHandler(creditCheckSvc))
		consumer.Start(ctx)
		defer consumer.Close()
	}

	authInterceptor := auth.NewAuthInterceptor(cfg.JWTSecret)
	server := handlers.NewServer(cfg.GRPCPort, cfg.HTTPPort, logger,
		grpc.ChainUnaryInterceptor(authInterceptor.Unary()),
		grpc.ChainStreamInterceptor(authInterceptor.Stream()),
	)

	creditCheckHandler := handlers.NewCreditCheckHandler(creditCheckSvc, logger)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	if err := server.RegisterHTTPGateway(creditCheckHandler, cfg.JWTSecret, metricsHandler); err != nil {
		logger.Fatal("Failed to register HTTP gateway", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}

	server.Stop(cfg.ShutdownTimeout)
	logger.Info("Servers stopped properly")
}

// initLogger initializes a Zap production logger.
func initLogger() *zap.Logger {
	logger, _ := zap.NewProduction()
	return logger
}

// connectDatabase opens the repository, retrying while the database comes up.
func connectDatabase(ctx context.Context, cfg *Config, logger *zap.Logger) (*gorm.Repository, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.DBRetryLimit

	var repo *gorm.Repository
	err := backoff.RetryNotify(func() error {
		var err error
		repo, err = gorm.NewRepository(initDatabase(cfg))
		return err
	}, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		logger.Warn("Database not ready, retrying", zap.Error(err), zap.Duration("next", next))
	})
	return repo, err
}

// initLocker picks the Redis lock when Redis is configured.
func initLocker(cfg *Config, logger *zap.Logger) (lock.Locker, func()) {
	if len(cfg.RedisAddrs) == 0 {
		logger.Warn("REDIS_ADDRS not set, purchases are serialized per process only")
		return lock.NewMemoryLocker(), func() {}
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.RedisAddrs,
		Password: cfg.RedisPassword,
	})
	return lock.NewRedisLocker(client, cfg.LockTTL, logger), func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", zap.Error(err))
		}
	}
}

func initStorage(ctx context.Context, cfg *Config) (documentStore, error) {
	if cfg.StorageBackend == storageGCS {
		return storage.NewGCSStore(ctx, cfg.StorageBucket)
	}
	return storage.NewBoltStore(cfg.StorageBoltPath, "")
}

// purchaseHandler adapts the service to the purchase request consumer.
// Requests that can never succeed are skipped; other failures are redelivered.
func purchaseHandler(svc *controller.CreditCheckService) events.PurchaseHandler {
	return func(ctx context.Context, req *models.PurchaseRequest) error {
		_, err := svc.PurchaseAndSave(ctx, req)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, e.ErrDuplicatePurchase),
			errors.Is(err, e.ErrInvalidInput),
			errors.Is(err, e.ErrExternalPurchase),
			errors.Is(err, e.ErrPersist):
			return errors.Join(events.ErrSkip, err)
		default:
			return err
		}
	}
}
