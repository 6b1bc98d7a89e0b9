package app

import (
	"context"
	"fmt"
	"time"

	"restaurant-order-service/internal/config"
	"restaurant-order-service/internal/repository"
	"restaurant-order-service/internal/service"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Stores is the backend selected by STORE_DRIVER.
type Stores struct {
	Orders   service.OrderStore
	Counters service.CounterStore
	// Sweeper is nil when the backend expires counters natively.
	Sweeper service.ExpiredCounterDeleter
	Close   func(ctx context.Context) error
}

func OpenStores(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		db := client.Database(cfg.MongoDBName)
		if err := repository.EnsureMongoIndexes(connectCtx, db); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		log.Infof("Stores: using mongo database %s", cfg.MongoDBName)
		return &Stores{
			Orders:   repository.NewMongoOrderStore(db, log),
			Counters: repository.NewMongoCounterStore(db, cfg.CounterRetention, log),
			Close:    client.Disconnect,
		}, nil

	case "postgres":
		db, err := repository.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := repository.EnsurePostgresSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("Stores: using postgres")
		counters := repository.NewPostgresCounterStore(db, cfg.CounterRetention, log)
		return &Stores{
			Orders:   repository.NewPostgresOrderStore(db, log),
			Counters: counters,
			Sweeper:  counters,
			Close:    func(context.Context) error { return db.Close() },
		}, nil

	case "mysql":
		db, err := repository.OpenMySQL(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("mysql handle: %w", err)
		}
		if err := repository.EnsureMySQLSchema(db); err != nil {
			sqlDB.Close()
			return nil, err
		}
		log.Info("Stores: using mysql")
		counters := repository.NewMySQLCounterStore(db, cfg.CounterRetention, log)
		return &Stores{
			Orders:   repository.NewMySQLOrderStore(db, log),
			Counters: counters,
			Sweeper:  counters,
			Close:    func(context.Context) error { return sqlDB.Close() },
		}, nil

	case "memory":
		log.Warn("Stores: using in-memory store, data is lost on restart")
		counters := repository.NewMemoryCounterStore(cfg.CounterRetention)
		return &Stores{
			Orders:   repository.NewMemoryOrderStore(),
			Counters: counters,
			Sweeper:  counters,
			Close:    func(context.Context) error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

// NewLogger builds the JSON logrus logger used by every binary.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		logger.Warnf("Invalid LOG_LEVEL '%s', using default: %s", level, lvl)
	}
	logger.SetLevel(lvl)
	return logger
}

// NewOrderService wires the allocator and order service from cfg.
func NewOrderService(cfg *config.Config, stores *Stores, events service.EventPublisher, log *logrus.Logger) (*service.OrderService, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	alloc := service.NewAllocator(stores.Counters, service.ClockFunc(time.Now), loc, cfg.CounterAttempts, cfg.OrderRetryBackoff, log)
	return service.NewOrderService(stores.Orders, stores.Counters, alloc, events, service.Options{
		MaxAttempts:  cfg.OrderMaxAttempts,
		RetryBackoff: cfg.OrderRetryBackoff,
		Timeout:      cfg.OrderTimeout,
	}, log), nil
}
