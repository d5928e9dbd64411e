package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/gr8monk3ys/webhook-engine/internal/engine"
)

// QueuePoller continuously drains ready jobs from the Redis delivery
// queue into the worker pool. Claiming happens inside Queue.Claim, so
// multiple poller instances can run side by side.
type QueuePoller struct {
	queue        *engine.Queue
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

func NewQueuePoller(queue *engine.Queue, pool *Pool, pollInterval time.Duration, batchSize int64, logger *slog.Logger) *QueuePoller {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	return &QueuePoller{
		queue:        queue,
		pool:         pool,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

// Run polls until the context is cancelled.
func (qp *QueuePoller) Run(ctx context.Context) error {
	qp.logger.Info("queue poller started", "poll_interval", qp.pollInterval)

	ticker := time.NewTicker(qp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			qp.logger.Info("queue poller stopping")
			return nil
		case <-ticker.C:
			qp.poll(ctx)
		}
	}
}

func (qp *QueuePoller) poll(ctx context.Context) {
	jobs, err := qp.queue.Claim(ctx, time.Now(), qp.batchSize)
	if err != nil {
		qp.logger.Error("failed to claim delivery jobs", "error", err)
		return
	}

	for _, job := range jobs {
		qp.pool.Submit(job)
	}
}
