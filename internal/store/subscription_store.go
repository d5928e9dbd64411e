package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/gr8monk3ys/webhook-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const subscriptionColumns = `id, user_id, target_url, event_types, secret, is_active, description, metadata,
	total_deliveries, successful_deliveries, failed_deliveries,
	last_delivery_at, last_success_at, last_failure_at, last_error,
	created_at, updated_at`

const uniqueViolation = "23505"

// CreateSubscription validates and inserts a subscription. A second active
// subscription for the same (user, target_url, event_types) tuple is
// rejected with domain.ErrDuplicateSubscription.
func (s *PostgresStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	eventTypes, err := normalizeEventTypes(req.EventTypes)
	if err != nil {
		return nil, err
	}
	if err := validateTargetURL(req.TargetURL); err != nil {
		return nil, err
	}

	metadata := req.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}

	var sub domain.Subscription
	err = s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (user_id, target_url, event_types, secret, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+subscriptionColumns+`
	`, req.UserID, req.TargetURL, eventTypes, req.Secret, req.Description, metadata).Scan(scanSubscription(&sub)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrDuplicateSubscription
		}
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}

	return &sub, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1
	`, id).Scan(scanSubscription(&sub)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ListActiveFor resolves the active subscriptions whose event-type filter
// matches the given event. A "*" entry in the filter matches everything.
func (s *PostgresStore) ListActiveFor(ctx context.Context, userID, eventType string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		  AND is_active
		  AND ($2 = ANY(event_types) OR '*' = ANY(event_types))
	`, userID, eventType)
	if err != nil {
		return nil, fmt.Errorf("matching subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	setClauses := []string{}
	args := []any{}
	argIdx := 1

	if req.TargetURL != nil {
		if err := validateTargetURL(*req.TargetURL); err != nil {
			return nil, err
		}
		setClauses = append(setClauses, fmt.Sprintf("target_url = $%d", argIdx))
		args = append(args, *req.TargetURL)
		argIdx++
	}
	if req.EventTypes != nil {
		eventTypes, err := normalizeEventTypes(req.EventTypes)
		if err != nil {
			return nil, err
		}
		setClauses = append(setClauses, fmt.Sprintf("event_types = $%d", argIdx))
		args = append(args, eventTypes)
		argIdx++
	}
	if req.Secret != nil {
		setClauses = append(setClauses, fmt.Sprintf("secret = $%d", argIdx))
		args = append(args, *req.Secret)
		argIdx++
	}
	if req.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, *req.Description)
		argIdx++
	}
	if req.Metadata != nil {
		setClauses = append(setClauses, fmt.Sprintf("metadata = $%d", argIdx))
		args = append(args, req.Metadata)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetSubscription(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE subscriptions SET %s
		WHERE id = $%d
		RETURNING `+subscriptionColumns,
		strings.Join(setClauses, ", "), argIdx)
	args = append(args, id)

	var sub domain.Subscription
	err := s.pool.QueryRow(ctx, query, args...).Scan(scanSubscription(&sub)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrDuplicateSubscription
		}
		return nil, fmt.Errorf("updating subscription: %w", err)
	}

	return &sub, nil
}

// SetSubscriptionActive flips the is_active flag. Deactivation stops future
// dispatch matching immediately; retries of deliveries already created are
// allowed to drain to a terminal state.
func (s *PostgresStore) SetSubscriptionActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateSubscription
		}
		return fmt.Errorf("updating subscription active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteSubscription removes a subscription and, via ON DELETE CASCADE, its
// delivery history. Deactivation is the audit-preserving alternative.
func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		if err := rows.Scan(scanSubscription(&sub)...); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}

	if subs == nil {
		subs = []domain.Subscription{}
	}
	return subs, nil
}

func scanSubscription(sub *domain.Subscription) []any {
	return []any{
		&sub.ID, &sub.UserID, &sub.TargetURL, &sub.EventTypes, &sub.Secret,
		&sub.IsActive, &sub.Description, &sub.Metadata,
		&sub.TotalDeliveries, &sub.SuccessfulDeliveries, &sub.FailedDeliveries,
		&sub.LastDeliveryAt, &sub.LastSuccessAt, &sub.LastFailureAt, &sub.LastError,
		&sub.CreatedAt, &sub.UpdatedAt,
	}
}

func validateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.ErrInvalidURL
	}
	return nil
}

// normalizeEventTypes trims, deduplicates and sorts the filter so the
// active-duplicate unique index compares tuples consistently.
func normalizeEventTypes(eventTypes []string) ([]string, error) {
	seen := make(map[string]struct{}, len(eventTypes))
	out := make([]string, 0, len(eventTypes))
	for _, et := range eventTypes {
		et = strings.TrimSpace(et)
		if et == "" {
			continue
		}
		if _, ok := seen[et]; ok {
			continue
		}
		seen[et] = struct{}{}
		out = append(out, et)
	}
	if len(out) == 0 {
		return nil, domain.ErrEmptyEventTypes
	}
	sort.Strings(out)
	return out, nil
}
