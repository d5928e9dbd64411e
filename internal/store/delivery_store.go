package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gr8monk3ys/webhook-engine/internal/domain"
	"github.com/gr8monk3ys/webhook-engine/internal/engine"
	"github.com/jackc/pgx/v5"
)

const deliveryColumns = `id, subscription_id, event_type, event_id, status, target_url,
	request_headers, payload, status_code, response_headers, response_body, duration_ms,
	attempt_number, max_attempts, next_retry_at, error_message, created_at, updated_at`

// AttemptResult is the outcome snapshot of one HTTP attempt, recorded on
// the delivery row when it settles or transitions to retrying.
type AttemptResult struct {
	AttemptNumber   int
	StatusCode      *int
	ResponseHeaders map[string]string
	ResponseBody    string
	DurationMs      int
	ErrorMessage    string
}

// CreateDeliveries inserts one pending delivery per subscription and bumps
// each subscription's total_deliveries in the same transaction, then
// returns the queue jobs for the worker pool. Target URL and payload are
// snapshotted on the row.
func (s *PostgresStore) CreateDeliveries(ctx context.Context, ev engine.PublishedEvent, subs []domain.Subscription, maxAttempts int) ([]engine.DeliveryJob, error) {
	if len(subs) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	jobs := make([]engine.DeliveryJob, 0, len(subs))
	batch := &pgx.Batch{}

	for _, sub := range subs {
		deliveryID := uuid.NewString()
		headers := requestHeaderSnapshot(ev, sub.Secret != "")

		batch.Queue(`
			INSERT INTO deliveries (id, subscription_id, event_type, event_id, status, target_url, request_headers, payload, attempt_number, max_attempts)
			VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, 1, $8)
		`, deliveryID, sub.ID, ev.EventType, ev.EventID, sub.TargetURL, headers, ev.Envelope, maxAttempts)

		batch.Queue(`
			UPDATE subscriptions SET total_deliveries = total_deliveries + 1, updated_at = NOW()
			WHERE id = $1
		`, sub.ID)

		jobs = append(jobs, engine.DeliveryJob{
			DeliveryID:     deliveryID,
			SubscriptionID: sub.ID,
			EventID:        ev.EventID,
			EventType:      ev.EventType,
			TargetURL:      sub.TargetURL,
			Payload:        ev.Envelope,
			Secret:         sub.Secret,
			Attempt:        1,
			MaxAttempts:    maxAttempts,
		})
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("inserting deliveries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing deliveries: %w", err)
	}

	return jobs, nil
}

// SettleDelivered moves a delivery to its delivered terminal state and
// increments the owning subscription's success counters in the same
// transaction. The status predicate makes the transition fire at most
// once: settled reports false when the delivery was already terminal, in
// which case no counter moves.
func (s *PostgresStore) SettleDelivered(ctx context.Context, deliveryID, subscriptionID string, res AttemptResult) (settled bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE deliveries
		SET status = 'delivered',
		    attempt_number = $2,
		    status_code = $3,
		    response_headers = $4,
		    response_body = $5,
		    duration_ms = $6,
		    error_message = NULL,
		    next_retry_at = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`, deliveryID, res.AttemptNumber, res.StatusCode, res.ResponseHeaders, nullableString(res.ResponseBody), res.DurationMs)
	if err != nil {
		return false, fmt.Errorf("settling delivery as delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE subscriptions
		SET successful_deliveries = successful_deliveries + 1,
		    last_delivery_at = NOW(),
		    last_success_at = NOW(),
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, subscriptionID)
	if err != nil {
		return false, fmt.Errorf("updating subscription success stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing settlement: %w", err)
	}
	return true, nil
}

// MarkRetrying records a failed attempt that still has retries left:
// attempt_number advances to the next attempt and next_retry_at schedules
// it. The status predicate keeps terminal deliveries untouched.
func (s *PostgresStore) MarkRetrying(ctx context.Context, deliveryID string, nextAttempt int, nextRetryAt time.Time, res AttemptResult) (marked bool, err error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deliveries
		SET status = 'retrying',
		    attempt_number = $2,
		    next_retry_at = $3,
		    status_code = $4,
		    response_headers = $5,
		    response_body = $6,
		    duration_ms = $7,
		    error_message = $8,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'retrying') AND attempt_number < $2
	`, deliveryID, nextAttempt, nextRetryAt, res.StatusCode, res.ResponseHeaders,
		nullableString(res.ResponseBody), res.DurationMs, nullableString(res.ErrorMessage))
	if err != nil {
		return false, fmt.Errorf("marking delivery retrying: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SettleFailed moves a delivery to its failed terminal state after
// exhausting max_attempts and increments the subscription's failure
// counters transactionally, mirroring SettleDelivered.
func (s *PostgresStore) SettleFailed(ctx context.Context, deliveryID, subscriptionID string, res AttemptResult) (settled bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE deliveries
		SET status = 'failed',
		    attempt_number = $2,
		    status_code = $3,
		    response_headers = $4,
		    response_body = $5,
		    duration_ms = $6,
		    error_message = $7,
		    next_retry_at = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`, deliveryID, res.AttemptNumber, res.StatusCode, res.ResponseHeaders,
		nullableString(res.ResponseBody), res.DurationMs, nullableString(res.ErrorMessage))
	if err != nil {
		return false, fmt.Errorf("settling delivery as failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE subscriptions
		SET failed_deliveries = failed_deliveries + 1,
		    last_delivery_at = NOW(),
		    last_failure_at = NOW(),
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, subscriptionID, nullableString(res.ErrorMessage))
	if err != nil {
		return false, fmt.Errorf("updating subscription failure stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing settlement: %w", err)
	}
	return true, nil
}

// ClaimDueRetries leases due retrying deliveries for re-dispatch. Rows are
// locked with FOR UPDATE SKIP LOCKED and stamped with claimed_at inside
// one transaction, so concurrent scheduler instances never claim the same
// delivery; a crashed claimant's lease expires after claimTTL. Pending
// deliveries that never reached the queue (for example a Redis outage
// between insert and enqueue) are rescued once they are older than
// claimTTL.
func (s *PostgresStore) ClaimDueRetries(ctx context.Context, now time.Time, claimTTL time.Duration, limit int) ([]engine.DeliveryJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	leaseCutoff := now.Add(-claimTTL)

	rows, err := tx.Query(ctx, `
		SELECT d.id, d.subscription_id, d.event_id, d.event_type, d.target_url,
		       d.payload, d.attempt_number, d.max_attempts, s.secret
		FROM deliveries d
		JOIN subscriptions s ON s.id = d.subscription_id
		WHERE (d.claimed_at IS NULL OR d.claimed_at < $2)
		  AND (
		        (d.status = 'retrying' AND d.next_retry_at <= $1)
		     OR (d.status = 'pending' AND d.created_at < $2)
		  )
		ORDER BY d.next_retry_at ASC NULLS FIRST
		LIMIT $3
		FOR UPDATE OF d SKIP LOCKED
	`, now, leaseCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting due retries: %w", err)
	}

	var jobs []engine.DeliveryJob
	for rows.Next() {
		var job engine.DeliveryJob
		if err := rows.Scan(
			&job.DeliveryID, &job.SubscriptionID, &job.EventID, &job.EventType,
			&job.TargetURL, &job.Payload, &job.Attempt, &job.MaxAttempts, &job.Secret,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning due retry: %w", err)
		}
		jobs = append(jobs, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating due retries: %w", err)
	}

	if len(jobs) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.DeliveryID
	}

	_, err = tx.Exec(ctx, `
		UPDATE deliveries SET claimed_at = $1, updated_at = NOW() WHERE id = ANY($2)
	`, now, ids)
	if err != nil {
		return nil, fmt.Errorf("leasing due retries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing retry claims: %w", err)
	}

	return jobs, nil
}

// GetDelivery returns a single delivery by ID.
func (s *PostgresStore) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	var d domain.Delivery
	err := s.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1
	`, id).Scan(scanDelivery(&d)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying delivery: %w", err)
	}
	return &d, nil
}

// ListDeliveries returns the delivery audit trail with optional filters.
func (s *PostgresStore) ListDeliveries(ctx context.Context, subscriptionID, eventID, status string, limit int) ([]domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries`
	args := []any{}
	argIdx := 1
	conditions := []string{}

	if subscriptionID != "" {
		conditions = append(conditions, fmt.Sprintf("subscription_id = $%d", argIdx))
		args = append(args, subscriptionID)
		argIdx++
	}
	if eventID != "" {
		conditions = append(conditions, fmt.Sprintf("event_id = $%d", argIdx))
		args = append(args, eventID)
		argIdx++
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, status)
		argIdx++
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		if err := rows.Scan(scanDelivery(&d)...); err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deliveries: %w", err)
	}

	if deliveries == nil {
		deliveries = []domain.Delivery{}
	}
	return deliveries, nil
}

func scanDelivery(d *domain.Delivery) []any {
	return []any{
		&d.ID, &d.SubscriptionID, &d.EventType, &d.EventID, &d.Status, &d.TargetURL,
		&d.RequestHeaders, &d.Payload, &d.StatusCode, &d.ResponseHeaders,
		&d.ResponseBody, &d.DurationMs, &d.AttemptNumber, &d.MaxAttempts,
		&d.NextRetryAt, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt,
	}
}

// requestHeaderSnapshot records the headers the deliverer will send on the
// first attempt. The signature value is derived from the subscription
// secret, so only its presence is recorded.
func requestHeaderSnapshot(ev engine.PublishedEvent, signed bool) map[string]string {
	headers := map[string]string{
		"Content-Type":       "application/json",
		"X-Webhook-Event":    ev.EventType,
		"X-Webhook-Event-Id": ev.EventID,
		"X-Webhook-Attempt":  "1",
	}
	if signed {
		headers["X-Webhook-Signature"] = "[redacted]"
	}
	return headers
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
