package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gr8monk3ys/webhook-engine/internal/domain"
)

// SubscriptionStore is the registry surface the handler needs.
// Implemented by store.PostgresStore.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error)
	SetSubscriptionActive(ctx context.Context, id string, active bool) error
	DeleteSubscription(ctx context.Context, id string) error
}

type SubscriptionHandler struct {
	store SubscriptionStore
}

func NewSubscriptionHandler(s SubscriptionStore) *SubscriptionHandler {
	return &SubscriptionHandler{store: s}
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	sub, err := h.store.CreateSubscription(r.Context(), req)
	if err != nil {
		writeSubscriptionError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	subs, err := h.store.ListSubscriptions(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	respondJSON(w, http.StatusOK, subs)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.store.UpdateSubscription(r.Context(), id, req)
	if err != nil {
		writeSubscriptionError(w, err)
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *SubscriptionHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *SubscriptionHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")

	if err := h.store.SetSubscriptionActive(r.Context(), id, active); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			respondError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeSubscriptionError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"is_active": active})
}

// Delete removes the subscription and its delivery history. Deactivate is
// the audit-preserving alternative.
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteSubscription(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			respondError(w, http.StatusNotFound, "subscription not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeSubscriptionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidURL), errors.Is(err, domain.ErrEmptyEventTypes):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateSubscription):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "subscription operation failed")
	}
}
