package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gr8monk3ys/webhook-engine/internal/domain"
)

// RecordEvent appends to the recent-event log. The insert is idempotent:
// a conflict on (user_id, event_id) is ignored and inserted reports false,
// which is how the publisher detects a duplicate Publish.
func (s *PostgresStore) RecordEvent(ctx context.Context, userID, eventType, eventID string, data json.RawMessage) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO recent_events (user_id, event_type, event_id, event_data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT recent_events_user_event_uniq DO NOTHING
	`, userID, eventType, eventID, data)
	if err != nil {
		return false, fmt.Errorf("inserting event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListEventsSince returns a tenant's events created strictly after the
// cursor, oldest first, optionally filtered by event type. Consumers that
// cannot receive pushes poll this and advance their cursor to the
// created_at of the last row.
func (s *PostgresStore) ListEventsSince(ctx context.Context, userID string, since time.Time, eventTypes []string, limit int) ([]domain.Event, error) {
	query := `
		SELECT id, user_id, event_type, event_id, event_data, created_at
		FROM recent_events
		WHERE user_id = $1 AND created_at > $2`
	args := []any{userID, since}
	argIdx := 3

	if len(eventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argIdx)
		args = append(args, eventTypes)
		argIdx++
	}

	query += " ORDER BY created_at ASC, id ASC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &e.EventID, &e.EventData, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}

// PurgeEvents deletes log rows older than the cutoff and returns how many
// were removed. Run by the retention sweeper, not the dispatch path.
func (s *PostgresStore) PurgeEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM recent_events WHERE created_at < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purging events: %w", err)
	}
	return tag.RowsAffected(), nil
}
