package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryQueueKey is the Redis sorted set holding pending delivery jobs,
// scored by the time (unix micros) at which they become ready.
const DeliveryQueueKey = "webhook:delivery_queue"

// DeliveryJob is a single attempt order queued for the worker pool. It
// carries everything the deliverer needs so an attempt touches Postgres
// only to settle the outcome.
type DeliveryJob struct {
	DeliveryID     string          `json:"delivery_id"`
	SubscriptionID string          `json:"subscription_id"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	TargetURL      string          `json:"target_url"`
	Payload        json.RawMessage `json:"payload"`
	Secret         string          `json:"secret,omitempty"`
	Attempt        int             `json:"attempt"`
	MaxAttempts    int             `json:"max_attempts"`
}

// Queue is the Redis-backed delivery work queue shared by the publisher,
// the retry scheduler and the worker pool.
type Queue struct {
	client *redis.Client
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Enqueue adds jobs to the queue, ready at readyAt. All jobs go out in a
// single pipeline so one Publish fan-out is one round trip.
func (q *Queue) Enqueue(ctx context.Context, jobs []DeliveryJob, readyAt time.Time) error {
	if len(jobs) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()
	score := float64(readyAt.UnixMicro())

	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshaling delivery job: %w", err)
		}
		pipe.ZAdd(ctx, DeliveryQueueKey, redis.Z{
			Score:  score,
			Member: string(data),
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queuing delivery jobs: %w", err)
	}
	return nil
}

// Claim pops up to limit ready jobs. Each member is removed with ZRem
// before it is returned: if a concurrent instance already removed it,
// ZRem reports zero and the job is skipped, so a job is handed to at
// most one worker.
func (q *Queue) Claim(ctx context.Context, now time.Time, limit int64) ([]DeliveryJob, error) {
	results, err := q.client.ZRangeByScore(ctx, DeliveryQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMicro(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("polling delivery queue: %w", err)
	}

	var jobs []DeliveryJob
	for _, member := range results {
		removed, err := q.client.ZRem(ctx, DeliveryQueueKey, member).Result()
		if err != nil {
			return jobs, fmt.Errorf("claiming delivery job: %w", err)
		}
		if removed == 0 {
			// Another instance claimed it first.
			continue
		}

		var job DeliveryJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			return jobs, fmt.Errorf("unmarshaling delivery job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Depth returns the number of jobs currently queued.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, DeliveryQueueKey).Result()
}
