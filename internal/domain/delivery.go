package domain

import (
	"encoding/json"
	"time"
)

// Delivery statuses. Pending and retrying are in-flight; delivered and
// failed are terminal and a delivery never leaves a terminal state.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	DeliveryRetrying  = "retrying"
)

// Delivery is one transmission of a single event to a single subscription,
// including its retry trajectory. The target URL and request payload are
// snapshotted at creation time so later subscription edits don't rewrite
// history.
type Delivery struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	EventType      string `json:"event_type"`
	EventID        string `json:"event_id"`
	Status         string `json:"status"`
	TargetURL      string `json:"target_url"`

	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	Payload        json.RawMessage   `json:"payload"`

	StatusCode      *int              `json:"status_code,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    *string           `json:"response_body,omitempty"`
	DurationMs      *int              `json:"duration_ms,omitempty"`

	AttemptNumber int        `json:"attempt_number"`
	MaxAttempts   int        `json:"max_attempts"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the delivery has settled for good.
func (d *Delivery) IsTerminal() bool {
	return d.Status == DeliveryDelivered || d.Status == DeliveryFailed
}
