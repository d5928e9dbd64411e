package domain

import (
	"encoding/json"
	"time"
)

// Subscription is a registered webhook receiver: a target URL owned by a
// tenant, filtered by event type. Delivery counters are denormalized onto
// the row and updated transactionally when a delivery settles.
type Subscription struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	TargetURL   string          `json:"target_url"`
	EventTypes  []string        `json:"event_types"`
	Secret      string          `json:"secret,omitempty"`
	IsActive    bool            `json:"is_active"`
	Description string          `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`

	TotalDeliveries      int64      `json:"total_deliveries"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	LastDeliveryAt       *time.Time `json:"last_delivery_at,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt        *time.Time `json:"last_failure_at,omitempty"`
	LastError            *string    `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateSubscriptionRequest struct {
	UserID      string          `json:"user_id"`
	TargetURL   string          `json:"target_url"`
	EventTypes  []string        `json:"event_types"`
	Secret      string          `json:"secret,omitempty"`
	Description string          `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type UpdateSubscriptionRequest struct {
	TargetURL   *string         `json:"target_url,omitempty"`
	EventTypes  []string        `json:"event_types,omitempty"`
	Secret      *string         `json:"secret,omitempty"`
	Description *string         `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}
