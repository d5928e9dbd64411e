package domain

import (
	"encoding/json"
	"time"
)

// Event is one row in the deduplicated recent-event log that backs the
// polling surface. (user_id, event_id) is unique: republishing the same
// event is a no-op.
type Event struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id"`
	EventData json.RawMessage `json:"event_data"`
	CreatedAt time.Time       `json:"created_at"`
}

// WebhookPayload is the wire envelope POSTed to receivers.
type WebhookPayload struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}
