package dlq

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cfprelay/cfprelay/pkg/metrics"
	"github.com/cfprelay/cfprelay/pkg/model"
)

// Runner drives the manager on a fixed cadence. Each tick is a bounded unit
// of work; a failed batch is simply retried on the next tick.
type Runner struct {
	manager         *Manager
	logger          *zap.Logger
	pollInterval    time.Duration
	batchSize       int
	cleanupInterval time.Duration
}

func NewRunner(manager *Manager, logger *zap.Logger, pollInterval time.Duration, batchSize int, cleanupInterval time.Duration) *Runner {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 1 * time.Hour
	}
	return &Runner{
		manager:         manager,
		logger:          logger,
		pollInterval:    pollInterval,
		batchSize:       batchSize,
		cleanupInterval: cleanupInterval,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("webhook relay starting",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
		zap.Duration("cleanup_interval", r.cleanupInterval),
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	cleanup := time.NewTicker(r.cleanupInterval)
	defer cleanup.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("webhook relay shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		case <-cleanup.C:
			if _, err := r.manager.CleanupAbandoned(ctx); err != nil {
				r.logger.Error("cleanup sweep failed", zap.Error(err))
			}
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	processed, err := r.manager.ProcessDueRetries(ctx, r.batchSize)
	if err != nil {
		r.logger.Warn("retry batch finished with errors",
			zap.Int("processed", processed),
			zap.Error(err),
		)
	} else if processed > 0 {
		r.logger.Info("retry batch processed", zap.Int("processed", processed))
	}

	r.updateQueueDepth(ctx)
}

func (r *Runner) updateQueueDepth(ctx context.Context) {
	stats, err := r.manager.GetStats(ctx)
	if err != nil {
		r.logger.Warn("failed to collect queue stats", zap.Error(err))
		return
	}
	metrics.QueueDepth.WithLabelValues(string(model.StatusPendingRetry)).Set(float64(stats.PendingRetry))
	metrics.QueueDepth.WithLabelValues(string(model.StatusDeadLetter)).Set(float64(stats.DeadLetter))
	metrics.QueueDepth.WithLabelValues(string(model.StatusSuccess)).Set(float64(stats.SuccessfulRetries))
}
