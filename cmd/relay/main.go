package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cfprelay/cfprelay/pkg/config"
	"github.com/cfprelay/cfprelay/pkg/delivery"
	"github.com/cfprelay/cfprelay/pkg/dlq"
	"github.com/cfprelay/cfprelay/pkg/eventbus"
	"github.com/cfprelay/cfprelay/pkg/store/postgres"
	redisclient "github.com/cfprelay/cfprelay/pkg/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	redis, err := redisclient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()

	bus := eventbus.NewBus(redis.Client())
	sender := delivery.NewSender(cfg.Delivery.Timeout, logger)
	entries := postgres.NewEntryRepository(db.DB())

	manager := dlq.NewManager(entries, sender, bus, logger, cfg.Delivery.Parallelism, cfg.Delivery.ClaimLease)
	runner := dlq.NewRunner(manager, logger, cfg.Relay.PollInterval, cfg.Relay.BatchSize, cfg.Relay.CleanupInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := runner.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("relay stopped with error", zap.Error(err))
		}
	}()

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics server", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("relay shutting down")
	metricsServer.Close()
}
