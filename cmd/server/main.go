package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"restaurant-order-service/internal/app"
	"restaurant-order-service/internal/config"
	"restaurant-order-service/internal/controller"
	"restaurant-order-service/internal/middleware"
	"restaurant-order-service/internal/rabbit"
	"restaurant-order-service/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Config: %v", err)
	}
	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("Starting Restaurant Order Service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Stores: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stores.Close(closeCtx); err != nil {
			logger.Warnf("Stores: close failed: %v", err)
		}
	}()

	var (
		events   service.EventPublisher
		rabbitCh *amqp091.Channel
	)
	if cfg.RabbitURL != "" {
		conn, err := amqp091.Dial(cfg.RabbitURL)
		if err != nil {
			logger.Fatalf("Rabbit: connect failed: %v", err)
		}
		defer conn.Close()

		pubCh, err := conn.Channel()
		if err != nil {
			logger.Fatalf("Rabbit: open publish channel: %v", err)
		}
		if err := rabbit.DeclareTopology(pubCh, logger); err != nil {
			logger.Fatalf("Rabbit: %v", err)
		}
		events = rabbit.NewPublisher(pubCh, logger)

		if rabbitCh, err = conn.Channel(); err != nil {
			logger.Fatalf("Rabbit: open consume channel: %v", err)
		}
	} else {
		logger.Warn("Rabbit: RABBIT_URL not set, events and order intake disabled")
	}

	orderService, err := app.NewOrderService(cfg, stores, events, logger)
	if err != nil {
		logger.Fatalf("Service: %v", err)
	}
	authService := service.NewAuthService(cfg.AuthURL, logger)
	ctrl := controller.NewOrderController(orderService, logger)

	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(logger))

	admin := r.Group("/")
	admin.Use(middleware.AuthMiddleware(authService, logger), middleware.AdminOnly())
	ctrl.RegisterRoutes(r, admin)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Restaurant Order Service listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("Shutting down HTTP server...")
		return srv.Shutdown(shutdownCtx)
	})
	if rabbitCh != nil {
		g.Go(func() error {
			return rabbit.NewIntakeConsumer(orderService, logger).Consume(gctx, rabbitCh)
		})
	}
	if stores.Sweeper != nil {
		g.Go(func() error {
			return service.RunCounterSweeper(gctx, stores.Sweeper, cfg.CounterSweepInterval, service.ClockFunc(time.Now), logger)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Errorf("Server stopped: %v", err)
		return
	}
	logger.Info("Server stopped")
}
