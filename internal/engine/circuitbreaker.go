package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// CircuitBreaker keeps per-subscription circuit state in Redis so every
// engine instance sees the same view of a misbehaving receiver.
// Transitions: closed → open → half-open → closed.
//
// An open circuit does not pause the retry schedule: the deliverer treats
// a short-circuited attempt as a failed attempt, so deliveries to a dead
// endpoint still drain to their terminal state.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
}

// CircuitState is the externally visible breaker state for a subscription.
type CircuitState struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

func NewCircuitBreaker(redisClient *redis.Client, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: 5,
		cooldownPeriod:   30 * time.Second,
	}
}

func cbKey(subscriptionID string) string {
	return fmt.Sprintf("webhook:cb:%s", subscriptionID)
}

// AllowRequest reports whether an attempt against this subscription's
// endpoint may proceed, transitioning open circuits to half-open once the
// cooldown has elapsed.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context, subscriptionID string) (string, bool) {
	key := cbKey(subscriptionID)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		return StateClosed, true
	}

	state := data["state"]
	lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)

	switch state {
	case StateOpen:
		if time.Now().Unix()-lastFailedAt >= int64(cb.cooldownPeriod.Seconds()) {
			cb.redisClient.HSet(ctx, key, "state", StateHalfOpen)
			cb.logger.Info("circuit breaker half-open", "subscription_id", subscriptionID)
			return StateHalfOpen, true
		}
		return StateOpen, false

	case StateHalfOpen:
		return StateHalfOpen, true

	default:
		return StateClosed, true
	}
}

// RecordSuccess resets the circuit to closed.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, subscriptionID string) {
	key := cbKey(subscriptionID)

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	cb.redisClient.HSet(ctx, key,
		"state", StateClosed,
		"failures", 0,
	)

	if state == StateHalfOpen {
		cb.logger.Info("circuit breaker closed (recovered)", "subscription_id", subscriptionID)
	}
}

// RecordFailure counts a failed attempt, opening the circuit when the
// threshold is reached or a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, subscriptionID string) {
	key := cbKey(subscriptionID)

	failures, err := cb.redisClient.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		cb.logger.Error("failed to record circuit breaker failure", "error", err)
		return
	}

	cb.redisClient.HSet(ctx, key, "last_failed_at", time.Now().Unix())

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	switch {
	case state == StateHalfOpen:
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("circuit breaker re-opened (half-open probe failed)",
			"subscription_id", subscriptionID,
		)
	case failures >= int64(cb.failureThreshold):
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("circuit breaker opened",
			"subscription_id", subscriptionID,
			"failures", failures,
			"threshold", cb.failureThreshold,
		)
	case state == "":
		cb.redisClient.HSet(ctx, key, "state", StateClosed)
	}
}

// GetState returns the current breaker state for a subscription.
func (cb *CircuitBreaker) GetState(ctx context.Context, subscriptionID string) CircuitState {
	key := cbKey(subscriptionID)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		return CircuitState{State: StateClosed}
	}

	failures, _ := strconv.Atoi(data["failures"])
	state := data["state"]
	if state == "" {
		state = StateClosed
	}

	if state == StateOpen {
		lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
		if time.Now().Unix()-lastFailedAt >= int64(cb.cooldownPeriod.Seconds()) {
			state = StateHalfOpen
		}
	}

	result := CircuitState{
		State:    state,
		Failures: failures,
	}

	if ts, ok := data["last_failed_at"]; ok && ts != "" {
		lastFailed, _ := strconv.ParseInt(ts, 10, 64)
		if lastFailed > 0 {
			result.LastFailedAt = time.Unix(lastFailed, 0).Format(time.RFC3339)
		}
	}

	return result
}
