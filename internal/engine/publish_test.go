package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gr8monk3ys/webhook-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

type fakeMatcher struct {
	subs []domain.Subscription
	err  error
}

func (f *fakeMatcher) ListActiveFor(ctx context.Context, userID, eventType string) ([]domain.Subscription, error) {
	return f.subs, f.err
}

type fakeRecorder struct {
	inserted bool
	err      error
	calls    int
}

func (f *fakeRecorder) RecordEvent(ctx context.Context, userID, eventType, eventID string, data json.RawMessage) (bool, error) {
	f.calls++
	return f.inserted, f.err
}

type fakeCreator struct {
	jobs  []DeliveryJob
	err   error
	calls int
	ev    PublishedEvent
}

func (f *fakeCreator) CreateDeliveries(ctx context.Context, ev PublishedEvent, subs []domain.Subscription, maxAttempts int) ([]DeliveryJob, error) {
	f.calls++
	f.ev = ev
	if f.err != nil {
		return nil, f.err
	}
	jobs := make([]DeliveryJob, len(subs))
	for i, sub := range subs {
		jobs[i] = DeliveryJob{
			DeliveryID:     "d-" + sub.ID,
			SubscriptionID: sub.ID,
			EventID:        ev.EventID,
			EventType:      ev.EventType,
			TargetURL:      sub.TargetURL,
			Payload:        ev.Envelope,
			Attempt:        1,
			MaxAttempts:    maxAttempts,
		}
	}
	return jobs, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func setupPublisher(t *testing.T, matcher *fakeMatcher, recorder *fakeRecorder, creator *fakeCreator) (*Publisher, *Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	queue := NewQueue(client)
	return NewPublisher(matcher, recorder, creator, queue, 5, discardLogger()), queue
}

func TestPublish_FanOutPerMatchingSubscription(t *testing.T) {
	matcher := &fakeMatcher{subs: []domain.Subscription{
		{ID: "sub-1", TargetURL: "http://a.example.com/hook", IsActive: true},
		{ID: "sub-2", TargetURL: "http://b.example.com/hook", IsActive: true},
	}}
	recorder := &fakeRecorder{inserted: true}
	creator := &fakeCreator{}
	pub, queue := setupPublisher(t, matcher, recorder, creator)

	queued, err := pub.Publish(context.Background(), "t1", "content.generated", "e1", json.RawMessage(`{"id":"c-9"}`))
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if queued != 2 {
		t.Errorf("expected 2 deliveries queued, got %d", queued)
	}

	depth, _ := queue.Depth(context.Background())
	if depth != 2 {
		t.Errorf("expected queue depth 2, got %d", depth)
	}
}

func TestPublish_DuplicateEventSkipsDispatch(t *testing.T) {
	matcher := &fakeMatcher{subs: []domain.Subscription{{ID: "sub-1", IsActive: true}}}
	recorder := &fakeRecorder{inserted: false}
	creator := &fakeCreator{}
	pub, queue := setupPublisher(t, matcher, recorder, creator)

	queued, err := pub.Publish(context.Background(), "t1", "content.generated", "e1", nil)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if queued != 0 {
		t.Errorf("duplicate event should queue nothing, got %d", queued)
	}
	if creator.calls != 0 {
		t.Error("duplicate event should not create deliveries")
	}
	depth, _ := queue.Depth(context.Background())
	if depth != 0 {
		t.Errorf("duplicate event should not enqueue, depth %d", depth)
	}
}

func TestPublish_NoMatchingSubscriptions(t *testing.T) {
	matcher := &fakeMatcher{}
	recorder := &fakeRecorder{inserted: true}
	creator := &fakeCreator{}
	pub, _ := setupPublisher(t, matcher, recorder, creator)

	queued, err := pub.Publish(context.Background(), "t1", "batch.completed", "e2", nil)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if queued != 0 {
		t.Errorf("expected 0 deliveries, got %d", queued)
	}
	if creator.calls != 0 {
		t.Error("no deliveries should be created without matches")
	}
}

func TestPublish_EnvelopeCarriesEventIdentity(t *testing.T) {
	matcher := &fakeMatcher{subs: []domain.Subscription{{ID: "sub-1", IsActive: true}}}
	recorder := &fakeRecorder{inserted: true}
	creator := &fakeCreator{}
	pub, _ := setupPublisher(t, matcher, recorder, creator)

	if _, err := pub.Publish(context.Background(), "t1", "quota.warning", "e3", json.RawMessage(`{"used":95}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	var envelope domain.WebhookPayload
	if err := json.Unmarshal(creator.ev.Envelope, &envelope); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}

	if envelope.EventType != "quota.warning" {
		t.Errorf("envelope event_type = %q", envelope.EventType)
	}
	if envelope.EventID != "e3" {
		t.Errorf("envelope event_id = %q", envelope.EventID)
	}
	if string(envelope.Data) != `{"used":95}` {
		t.Errorf("envelope data = %s", envelope.Data)
	}
	if envelope.Timestamp.IsZero() || time.Since(envelope.Timestamp) > time.Minute {
		t.Errorf("envelope timestamp looks wrong: %v", envelope.Timestamp)
	}
}

func TestPublish_GeneratesEventIDWhenMissing(t *testing.T) {
	matcher := &fakeMatcher{subs: []domain.Subscription{{ID: "sub-1", IsActive: true}}}
	recorder := &fakeRecorder{inserted: true}
	creator := &fakeCreator{}
	pub, _ := setupPublisher(t, matcher, recorder, creator)

	if _, err := pub.Publish(context.Background(), "t1", "content.generated", "", nil); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if creator.ev.EventID == "" {
		t.Error("publisher should assign an event_id when the producer omits one")
	}
}

func TestPublish_RecordErrorPropagates(t *testing.T) {
	matcher := &fakeMatcher{subs: []domain.Subscription{{ID: "sub-1", IsActive: true}}}
	recorder := &fakeRecorder{err: errors.New("db unavailable")}
	creator := &fakeCreator{}
	pub, _ := setupPublisher(t, matcher, recorder, creator)

	if _, err := pub.Publish(context.Background(), "t1", "content.generated", "e1", nil); err == nil {
		t.Fatal("publish should fail loudly when the event log is unavailable")
	}
	if creator.calls != 0 {
		t.Error("no deliveries should be created when recording fails")
	}
}

func TestPublish_RequiresTenantAndType(t *testing.T) {
	pub, _ := setupPublisher(t, &fakeMatcher{}, &fakeRecorder{inserted: true}, &fakeCreator{})

	if _, err := pub.Publish(context.Background(), "", "content.generated", "e1", nil); err == nil {
		t.Error("publish without user_id should fail")
	}
	if _, err := pub.Publish(context.Background(), "t1", "", "e1", nil); err == nil {
		t.Error("publish without event_type should fail")
	}
}
