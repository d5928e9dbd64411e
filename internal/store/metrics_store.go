package store

import (
	"context"
	"fmt"
)

// EngineMetrics holds engine-wide delivery statistics.
type EngineMetrics struct {
	TotalDeliveries     int64   `json:"total_deliveries"`
	DeliveredCount      int64   `json:"delivered_count"`
	FailedCount         int64   `json:"failed_count"`
	RetryingCount       int64   `json:"retrying_count"`
	PendingCount        int64   `json:"pending_count"`
	SuccessRate         float64 `json:"success_rate"`
	AvgDurationMs       float64 `json:"avg_duration_ms"`
	ActiveSubscriptions int64   `json:"active_subscriptions"`
	TotalEvents         int64   `json:"total_events"`
}

// GetEngineMetrics returns aggregated delivery statistics.
func (s *PostgresStore) GetEngineMetrics(ctx context.Context) (*EngineMetrics, error) {
	var m EngineMetrics

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'delivered') AS delivered,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'retrying') AS retrying,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COALESCE(AVG(duration_ms) FILTER (WHERE duration_ms > 0), 0) AS avg_duration_ms
		FROM deliveries
	`).Scan(&m.TotalDeliveries, &m.DeliveredCount, &m.FailedCount, &m.RetryingCount, &m.PendingCount, &m.AvgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("querying delivery metrics: %w", err)
	}

	settled := m.DeliveredCount + m.FailedCount
	if settled > 0 {
		m.SuccessRate = float64(m.DeliveredCount) / float64(settled) * 100
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM subscriptions WHERE is_active
	`).Scan(&m.ActiveSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("querying active subscriptions: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM recent_events
	`).Scan(&m.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("querying total events: %w", err)
	}

	return &m, nil
}
