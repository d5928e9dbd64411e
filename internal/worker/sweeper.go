package worker

import (
	"context"
	"log/slog"
	"time"
)

// EventPurger deletes event-log rows past retention. Implemented by
// store.PostgresStore.
type EventPurger interface {
	PurgeEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// RetentionSweeper enforces the event log's bounded retention on its own
// schedule, independent of delivery retries.
type RetentionSweeper struct {
	purger    EventPurger
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
}

func NewRetentionSweeper(purger EventPurger, interval, retention time.Duration, logger *slog.Logger) *RetentionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RetentionSweeper{
		purger:    purger,
		logger:    logger,
		interval:  interval,
		retention: retention,
	}
}

// Run purges until the context is cancelled.
func (s *RetentionSweeper) Run(ctx context.Context) error {
	s.logger.Info("retention sweeper started", "interval", s.interval, "retention", s.retention)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopping")
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-s.retention)
			purged, err := s.purger.PurgeEvents(ctx, cutoff)
			if err != nil {
				s.logger.Error("failed to purge events", "error", err)
				continue
			}
			if purged > 0 {
				s.logger.Info("purged expired events", "count", purged)
			}
		}
	}
}
