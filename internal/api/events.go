package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gr8monk3ys/webhook-engine/internal/domain"
)

const (
	defaultEventPageSize = 100
	maxEventPageSize     = 500
)

// EventPublisher is the producer-facing entry point. Implemented by
// engine.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, userID, eventType, eventID string, data json.RawMessage) (int, error)
}

// EventLister serves the polling surface. Implemented by store.PostgresStore.
type EventLister interface {
	ListEventsSince(ctx context.Context, userID string, since time.Time, eventTypes []string, limit int) ([]domain.Event, error)
}

type EventHandler struct {
	publisher EventPublisher
	lister    EventLister
}

func NewEventHandler(publisher EventPublisher, lister EventLister) *EventHandler {
	return &EventHandler{publisher: publisher, lister: lister}
}

type publishRequest struct {
	UserID    string          `json:"user_id"`
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type publishResponse struct {
	EventID          string `json:"event_id"`
	EventType        string `json:"event_type"`
	DeliveriesQueued int    `json:"deliveries_queued"`
}

// Publish accepts a domain event from a producer. The 202 acknowledges
// "recorded and dispatch initiated", never "delivered".
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.EventType == "" {
		respondError(w, http.StatusBadRequest, "event_type is required")
		return
	}
	if req.EventID == "" {
		req.EventID = uuid.NewString()
	}

	queued, err := h.publisher.Publish(r.Context(), req.UserID, req.EventType, req.EventID, req.Payload)
	if err != nil {
		// Publish fails loudly rather than silently dropping an event.
		respondError(w, http.StatusInternalServerError, "failed to publish event")
		return
	}

	respondJSON(w, http.StatusAccepted, publishResponse{
		EventID:          req.EventID,
		EventType:        req.EventType,
		DeliveriesQueued: queued,
	})
}

type listEventsResponse struct {
	Events     []domain.Event `json:"events"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// List is the polling fallback for consumers that cannot receive pushes:
// tenant-scoped events after the cursor, oldest first. The cursor is the
// created_at of the last returned event in RFC 3339 form.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = parsed
	}

	var eventTypes []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				eventTypes = append(eventTypes, t)
			}
		}
	}

	limit := defaultEventPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventPageSize)
	}

	events, err := h.lister.ListEventsSince(r.Context(), userID, since, eventTypes, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	resp := listEventsResponse{Events: events}
	if len(events) > 0 {
		resp.NextCursor = events[len(events)-1].CreatedAt.Format(time.RFC3339Nano)
	}

	respondJSON(w, http.StatusOK, resp)
}
