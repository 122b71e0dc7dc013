package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cfprelay/cfprelay/pkg/config"
	"github.com/cfprelay/cfprelay/pkg/dlq"
	"github.com/cfprelay/cfprelay/pkg/ingest"
	"github.com/cfprelay/cfprelay/pkg/store/postgres"
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

	entries := postgres.NewEntryRepository(db.DB())
	manager := dlq.NewManager(entries, nil, nil, logger, cfg.Delivery.Parallelism, cfg.Delivery.ClaimLease)
	consumer := ingest.NewConsumer(&cfg.Kafka, manager, logger)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("ingest consumer stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("ingest consumer shutting down")
}
