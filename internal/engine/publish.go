package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gr8monk3ys/webhook-engine/internal/domain"
)

// PublishedEvent is the snapshot handed to the delivery store when a
// publish fans out: the envelope is the exact body receivers will get.
type PublishedEvent struct {
	UserID    string
	EventType string
	EventID   string
	Envelope  json.RawMessage
}

// SubscriptionMatcher resolves the active subscriptions for an event.
type SubscriptionMatcher interface {
	ListActiveFor(ctx context.Context, userID, eventType string) ([]domain.Subscription, error)
}

// EventRecorder appends to the deduplicated event log. inserted is false
// when (userID, eventID) was already recorded.
type EventRecorder interface {
	RecordEvent(ctx context.Context, userID, eventType, eventID string, data json.RawMessage) (inserted bool, err error)
}

// DeliveryCreator persists one pending delivery per matched subscription
// and returns the corresponding queue jobs.
type DeliveryCreator interface {
	CreateDeliveries(ctx context.Context, ev PublishedEvent, subs []domain.Subscription, maxAttempts int) ([]DeliveryJob, error)
}

// Publisher is the single producer-facing entry point. Publish returning
// nil means "event recorded and dispatch initiated", not "delivered".
type Publisher struct {
	registry    SubscriptionMatcher
	events      EventRecorder
	deliveries  DeliveryCreator
	queue       *Queue
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

func NewPublisher(registry SubscriptionMatcher, events EventRecorder, deliveries DeliveryCreator, queue *Queue, maxAttempts int, logger *slog.Logger) *Publisher {
	return &Publisher{
		registry:    registry,
		events:      events,
		deliveries:  deliveries,
		queue:       queue,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Publish records the event and fans out one delivery per matching active
// subscription. Re-publishing an already-recorded (userID, eventID) is a
// no-op: no new log row and no new deliveries. Returns the number of
// deliveries queued.
func (p *Publisher) Publish(ctx context.Context, userID, eventType, eventID string, data json.RawMessage) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("user_id is required")
	}
	if eventType == "" {
		return 0, fmt.Errorf("event_type is required")
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	inserted, err := p.events.RecordEvent(ctx, userID, eventType, eventID, data)
	if err != nil {
		return 0, fmt.Errorf("recording event: %w", err)
	}
	if !inserted {
		p.logger.Info("duplicate event, skipping dispatch",
			"user_id", userID,
			"event_id", eventID,
		)
		return 0, nil
	}

	subs, err := p.registry.ListActiveFor(ctx, userID, eventType)
	if err != nil {
		return 0, fmt.Errorf("matching subscriptions: %w", err)
	}
	if len(subs) == 0 {
		p.logger.Info("no matching subscriptions",
			"user_id", userID,
			"event_type", eventType,
			"event_id", eventID,
		)
		return 0, nil
	}

	envelope, err := json.Marshal(domain.WebhookPayload{
		EventType: eventType,
		EventID:   eventID,
		Data:      data,
		Timestamp: p.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("marshaling payload envelope: %w", err)
	}

	jobs, err := p.deliveries.CreateDeliveries(ctx, PublishedEvent{
		UserID:    userID,
		EventType: eventType,
		EventID:   eventID,
		Envelope:  envelope,
	}, subs, p.maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("creating deliveries: %w", err)
	}

	if err := p.queue.Enqueue(ctx, jobs, p.now()); err != nil {
		// Delivery rows exist but never reached the queue. The retry
		// scheduler rescues stale pending rows after the claim TTL, so
		// these are delayed, not lost.
		return 0, fmt.Errorf("queuing deliveries: %w", err)
	}

	p.logger.Info("fan-out complete",
		"user_id", userID,
		"event_type", eventType,
		"event_id", eventID,
		"deliveries_queued", len(jobs),
	)

	return len(jobs), nil
}
