package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gr8monk3ys/webhook-engine/internal/engine"
)

type fakeClaimer struct {
	jobs  []engine.DeliveryJob
	err   error
	calls int
	limit int
	ttl   time.Duration
}

func (f *fakeClaimer) ClaimDueRetries(ctx context.Context, now time.Time, claimTTL time.Duration, limit int) ([]engine.DeliveryJob, error) {
	f.calls++
	f.limit = limit
	f.ttl = claimTTL
	return f.jobs, f.err
}

func TestRetryScheduler_SweepEnqueuesClaimedJobs(t *testing.T) {
	claimer := &fakeClaimer{jobs: []engine.DeliveryJob{
		{DeliveryID: "d-1", SubscriptionID: "sub-1", Attempt: 2, MaxAttempts: 5},
		{DeliveryID: "d-2", SubscriptionID: "sub-2", Attempt: 3, MaxAttempts: 5},
	}}
	queue := &fakeRequeuer{}

	rs := NewRetryScheduler(claimer, queue, 30*time.Second, 100, 5*time.Minute, testLogger())
	rs.sweep(context.Background())

	if len(queue.jobs) != 2 {
		t.Fatalf("expected 2 jobs enqueued, got %d", len(queue.jobs))
	}
	if queue.jobs[0].DeliveryID != "d-1" || queue.jobs[1].DeliveryID != "d-2" {
		t.Errorf("claimed jobs should be enqueued as-is: %+v", queue.jobs)
	}
	if claimer.limit != 100 {
		t.Errorf("expected batch size 100, got %d", claimer.limit)
	}
	if claimer.ttl != 5*time.Minute {
		t.Errorf("expected claim TTL 5m, got %v", claimer.ttl)
	}
}

func TestRetryScheduler_SweepNothingDue(t *testing.T) {
	claimer := &fakeClaimer{}
	queue := &fakeRequeuer{}

	rs := NewRetryScheduler(claimer, queue, 30*time.Second, 100, 5*time.Minute, testLogger())
	rs.sweep(context.Background())

	if len(queue.jobs) != 0 {
		t.Errorf("nothing due, nothing should be enqueued: got %d", len(queue.jobs))
	}
}

func TestRetryScheduler_ClaimErrorTolerated(t *testing.T) {
	claimer := &fakeClaimer{err: errors.New("db unavailable")}
	queue := &fakeRequeuer{}

	rs := NewRetryScheduler(claimer, queue, 30*time.Second, 100, 5*time.Minute, testLogger())
	rs.sweep(context.Background())

	if len(queue.jobs) != 0 {
		t.Errorf("claim failure should skip the sweep, got %d jobs", len(queue.jobs))
	}
}

func TestRetryScheduler_RunStopsOnCancel(t *testing.T) {
	rs := NewRetryScheduler(&fakeClaimer{}, &fakeRequeuer{}, 10*time.Millisecond, 100, 5*time.Minute, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rs.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
