package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gr8monk3ys/webhook-engine/internal/domain"
)

type fakeSubscriptionStore struct {
	created *domain.CreateSubscriptionRequest
	sub     *domain.Subscription
	subs    []domain.Subscription
	err     error
}

func (f *fakeSubscriptionStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	f.created = &req
	return f.sub, f.err
}

func (f *fakeSubscriptionStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return f.sub, f.err
}

func (f *fakeSubscriptionStore) ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return f.subs, f.err
}

func (f *fakeSubscriptionStore) UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	return f.sub, f.err
}

func (f *fakeSubscriptionStore) SetSubscriptionActive(ctx context.Context, id string, active bool) error {
	return f.err
}

func (f *fakeSubscriptionStore) DeleteSubscription(ctx context.Context, id string) error {
	return f.err
}

func subscriptionRouter(store SubscriptionStore) http.Handler {
	h := NewSubscriptionHandler(store)
	r := chi.NewRouter()
	r.Post("/subscriptions", h.Create)
	r.Get("/subscriptions", h.List)
	r.Get("/subscriptions/{id}", h.Get)
	r.Patch("/subscriptions/{id}", h.Update)
	r.Delete("/subscriptions/{id}", h.Delete)
	r.Post("/subscriptions/{id}/deactivate", h.Deactivate)
	return r
}

func TestSubscriptionCreate_Success(t *testing.T) {
	store := &fakeSubscriptionStore{sub: &domain.Subscription{
		ID:         "sub-1",
		UserID:     "t1",
		TargetURL:  "https://example.com/hook",
		EventTypes: []string{"content.generated"},
		IsActive:   true,
	}}
	router := subscriptionRouter(store)

	body := `{"user_id":"t1","target_url":"https://example.com/hook","event_types":["content.generated"]}`
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var got domain.Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if got.ID != "sub-1" {
		t.Errorf("response id = %q", got.ID)
	}
	if store.created == nil || store.created.UserID != "t1" {
		t.Errorf("store received %+v", store.created)
	}
}

func TestSubscriptionCreate_MissingUserID(t *testing.T) {
	router := subscriptionRouter(&fakeSubscriptionStore{})

	body := `{"target_url":"https://example.com/hook","event_types":["content.generated"]}`
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSubscriptionCreate_ValidationErrorsMapTo400(t *testing.T) {
	for _, err := range []error{domain.ErrInvalidURL, domain.ErrEmptyEventTypes} {
		router := subscriptionRouter(&fakeSubscriptionStore{err: err})

		body := `{"user_id":"t1","target_url":"ftp://nope","event_types":[]}`
		req := httptest.NewRequest(http.MethodPost, "/subscriptions", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%v: expected 400, got %d", err, rec.Code)
		}
	}
}

func TestSubscriptionCreate_DuplicateMapsTo409(t *testing.T) {
	router := subscriptionRouter(&fakeSubscriptionStore{err: domain.ErrDuplicateSubscription})

	body := `{"user_id":"t1","target_url":"https://example.com/hook","event_types":["content.generated"]}`
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestSubscriptionList_RequiresUserID(t *testing.T) {
	router := subscriptionRouter(&fakeSubscriptionStore{})

	req := httptest.NewRequest(http.MethodGet, "/subscriptions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without user_id, got %d", rec.Code)
	}
}

func TestSubscriptionGet_NotFound(t *testing.T) {
	router := subscriptionRouter(&fakeSubscriptionStore{})

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSubscriptionDeactivate_NotFound(t *testing.T) {
	router := subscriptionRouter(&fakeSubscriptionStore{err: domain.ErrNotFound})

	req := httptest.NewRequest(http.MethodPost, "/subscriptions/missing/deactivate", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSubscriptionDelete_NoContent(t *testing.T) {
	router := subscriptionRouter(&fakeSubscriptionStore{})

	req := httptest.NewRequest(http.MethodDelete, "/subscriptions/sub-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
