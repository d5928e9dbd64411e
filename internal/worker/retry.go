package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/gr8monk3ys/webhook-engine/internal/engine"
)

// RetryClaimer leases due retrying deliveries exclusively so concurrent
// scheduler instances never dispatch the same delivery twice. Implemented
// by store.PostgresStore.
type RetryClaimer interface {
	ClaimDueRetries(ctx context.Context, now time.Time, claimTTL time.Duration, limit int) ([]engine.DeliveryJob, error)
}

// RetryScheduler periodically re-submits due retrying deliveries to the
// delivery queue. Within a single delivery, attempts stay strictly
// sequential: the next attempt exists only because the previous outcome
// was recorded with a next_retry_at.
type RetryScheduler struct {
	claimer   RetryClaimer
	queue     Requeuer
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	claimTTL  time.Duration
}

func NewRetryScheduler(claimer RetryClaimer, queue Requeuer, interval time.Duration, batchSize int, claimTTL time.Duration, logger *slog.Logger) *RetryScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if claimTTL <= 0 {
		claimTTL = 5 * time.Minute
	}
	return &RetryScheduler{
		claimer:   claimer,
		queue:     queue,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		claimTTL:  claimTTL,
	}
}

// Run sweeps until the context is cancelled.
func (rs *RetryScheduler) Run(ctx context.Context) error {
	rs.logger.Info("retry scheduler started", "interval", rs.interval)

	rs.sweep(ctx)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rs.logger.Info("retry scheduler stopping")
			return nil
		case <-ticker.C:
			rs.sweep(ctx)
		}
	}
}

// sweep claims one batch of due deliveries and pushes them onto the
// delivery queue for immediate dispatch.
func (rs *RetryScheduler) sweep(ctx context.Context) {
	now := time.Now()

	jobs, err := rs.claimer.ClaimDueRetries(ctx, now, rs.claimTTL, rs.batchSize)
	if err != nil {
		rs.logger.Error("failed to claim due retries", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	if err := rs.queue.Enqueue(ctx, jobs, now); err != nil {
		// Leases expire after claimTTL, so these deliveries will be
		// reclaimed by a later sweep.
		rs.logger.Error("failed to enqueue retries", "error", err, "count", len(jobs))
		return
	}

	rs.logger.Info("retries dispatched", "count", len(jobs))
}
