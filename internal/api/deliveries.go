package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gr8monk3ys/webhook-engine/internal/domain"
)

// DeliveryReader serves the delivery audit trail. Implemented by
// store.PostgresStore.
type DeliveryReader interface {
	GetDelivery(ctx context.Context, id string) (*domain.Delivery, error)
	ListDeliveries(ctx context.Context, subscriptionID, eventID, status string, limit int) ([]domain.Delivery, error)
}

type DeliveryHandler struct {
	store DeliveryReader
}

func NewDeliveryHandler(s DeliveryReader) *DeliveryHandler {
	return &DeliveryHandler{store: s}
}

func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.URL.Query().Get("subscription_id")
	eventID := r.URL.Query().Get("event_id")
	status := r.URL.Query().Get("status")
	limitStr := r.URL.Query().Get("limit")

	limit := 50
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	deliveries, err := h.store.ListDeliveries(r.Context(), subscriptionID, eventID, status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}

	respondJSON(w, http.StatusOK, deliveries)
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	delivery, err := h.store.GetDelivery(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}
	if delivery == nil {
		respondError(w, http.StatusNotFound, "delivery not found")
		return
	}

	respondJSON(w, http.StatusOK, delivery)
}
