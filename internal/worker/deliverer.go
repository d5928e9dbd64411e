package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gr8monk3ys/webhook-engine/internal/engine"
	"github.com/gr8monk3ys/webhook-engine/internal/store"
)

// Settler records attempt outcomes against the delivery state machine.
// Implemented by store.PostgresStore.
type Settler interface {
	SettleDelivered(ctx context.Context, deliveryID, subscriptionID string, res store.AttemptResult) (bool, error)
	MarkRetrying(ctx context.Context, deliveryID string, nextAttempt int, nextRetryAt time.Time, res store.AttemptResult) (bool, error)
	SettleFailed(ctx context.Context, deliveryID, subscriptionID string, res store.AttemptResult) (bool, error)
}

// Breaker is the per-subscription circuit breaker consulted before each
// attempt. Implemented by engine.CircuitBreaker.
type Breaker interface {
	AllowRequest(ctx context.Context, subscriptionID string) (string, bool)
	RecordSuccess(ctx context.Context, subscriptionID string)
	RecordFailure(ctx context.Context, subscriptionID string)
}

// Limiter caps outbound attempts per subscription. Implemented by
// engine.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, subscriptionID string, limit int) bool
}

// Requeuer puts a job back on the delivery queue without consuming an
// attempt (used when a job is rate limited).
type Requeuer interface {
	Enqueue(ctx context.Context, jobs []engine.DeliveryJob, readyAt time.Time) error
}

// DelivererConfig tunes attempt behaviour.
type DelivererConfig struct {
	Timeout            time.Duration
	ResponseBodyCap    int64
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	RateLimitPerSecond int
}

// Deliverer performs one signed HTTP attempt per job and settles the
// outcome through the delivery state machine: 2xx settles delivered,
// anything else marks retrying until max attempts, then settles failed.
type Deliverer struct {
	httpClient *http.Client
	settler    Settler
	breaker    Breaker
	limiter    Limiter
	queue      Requeuer
	logger     *slog.Logger
	cfg        DelivererConfig

	now  func() time.Time
	seed func() int64
}

// NewDeliverer creates a deliverer with a configured HTTP client. breaker
// and limiter may be nil to disable those guards.
func NewDeliverer(settler Settler, breaker Breaker, limiter Limiter, queue Requeuer, cfg DelivererConfig, logger *slog.Logger) *Deliverer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ResponseBodyCap <= 0 {
		cfg.ResponseBodyCap = 10 * 1024
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Hour
	}
	return &Deliverer{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		settler:    settler,
		breaker:    breaker,
		limiter:    limiter,
		queue:      queue,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		seed:       func() int64 { return time.Now().UnixNano() },
	}
}

// Deliver executes one attempt for the job. Slow or dead receivers only
// block their own goroutine; fan-out across subscriptions stays
// independent.
func (d *Deliverer) Deliver(ctx context.Context, job engine.DeliveryJob) {
	if d.limiter != nil && !d.limiter.Allow(ctx, job.SubscriptionID, d.cfg.RateLimitPerSecond) {
		// Rate limited: push back without consuming an attempt.
		if err := d.queue.Enqueue(ctx, []engine.DeliveryJob{job}, d.now().Add(time.Second)); err != nil {
			d.logger.Error("failed to requeue rate-limited job",
				"error", err,
				"delivery_id", job.DeliveryID,
			)
		}
		return
	}

	if d.breaker != nil {
		if state, allowed := d.breaker.AllowRequest(ctx, job.SubscriptionID); !allowed {
			// Short-circuited attempts still consume a retry slot so
			// deliveries to a dead endpoint drain to failed.
			d.recordFailure(ctx, job, store.AttemptResult{
				AttemptNumber: job.Attempt,
				ErrorMessage:  fmt.Sprintf("circuit breaker %s for subscription", state),
			})
			return
		}
	}

	start := d.now()
	res, ok := d.attempt(ctx, job)
	res.DurationMs = int(time.Since(start).Milliseconds())
	res.AttemptNumber = job.Attempt

	if ok {
		d.recordSuccess(ctx, job, res)
	} else {
		d.recordFailure(ctx, job, res)
	}
}

// attempt performs the HTTP POST and reports whether the receiver
// acknowledged with a 2xx.
func (d *Deliverer) attempt(ctx context.Context, job engine.DeliveryJob) (store.AttemptResult, bool) {
	var res store.AttemptResult

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.TargetURL, bytes.NewReader(job.Payload))
	if err != nil {
		res.ErrorMessage = fmt.Sprintf("building request: %v", err)
		return res, false
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", job.EventType)
	req.Header.Set("X-Webhook-Event-Id", job.EventID)
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(job.Attempt))
	if job.Secret != "" {
		req.Header.Set("X-Webhook-Signature", computeSignature(job.Payload, job.Secret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		res.ErrorMessage = fmt.Sprintf("request failed: %v", err)
		return res, false
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, d.cfg.ResponseBodyCap))
	res.StatusCode = &resp.StatusCode
	res.ResponseBody = string(body)
	res.ResponseHeaders = flattenHeaders(resp.Header)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return res, true
	}

	res.ErrorMessage = fmt.Sprintf("receiver returned status %d", resp.StatusCode)
	return res, false
}

func (d *Deliverer) recordSuccess(ctx context.Context, job engine.DeliveryJob, res store.AttemptResult) {
	if d.breaker != nil {
		d.breaker.RecordSuccess(ctx, job.SubscriptionID)
	}

	settled, err := d.settler.SettleDelivered(ctx, job.DeliveryID, job.SubscriptionID, res)
	if err != nil {
		d.logger.Error("failed to settle delivery",
			"error", err,
			"delivery_id", job.DeliveryID,
			"subscription_id", job.SubscriptionID,
		)
		return
	}
	if !settled {
		d.logger.Warn("delivery already terminal, outcome discarded",
			"delivery_id", job.DeliveryID,
		)
		return
	}

	d.logger.Info("delivery successful",
		"delivery_id", job.DeliveryID,
		"subscription_id", job.SubscriptionID,
		"event_id", job.EventID,
		"attempt", job.Attempt,
		"duration_ms", res.DurationMs,
	)
}

func (d *Deliverer) recordFailure(ctx context.Context, job engine.DeliveryJob, res store.AttemptResult) {
	if d.breaker != nil {
		d.breaker.RecordFailure(ctx, job.SubscriptionID)
	}

	if job.Attempt >= job.MaxAttempts {
		settled, err := d.settler.SettleFailed(ctx, job.DeliveryID, job.SubscriptionID, res)
		if err != nil {
			d.logger.Error("failed to settle delivery",
				"error", err,
				"delivery_id", job.DeliveryID,
			)
			return
		}
		if settled {
			d.logger.Warn("delivery exhausted retries",
				"delivery_id", job.DeliveryID,
				"subscription_id", job.SubscriptionID,
				"event_id", job.EventID,
				"attempts", job.Attempt,
				"error", res.ErrorMessage,
			)
		}
		return
	}

	delay := engine.NextRetryDelay(job.Attempt, d.cfg.BackoffBase, d.cfg.BackoffCap, d.seed())
	nextRetryAt := d.now().Add(delay)

	marked, err := d.settler.MarkRetrying(ctx, job.DeliveryID, job.Attempt+1, nextRetryAt, res)
	if err != nil {
		d.logger.Error("failed to mark delivery retrying",
			"error", err,
			"delivery_id", job.DeliveryID,
		)
		return
	}
	if !marked {
		return
	}

	d.logger.Warn("delivery failed, scheduled retry",
		"delivery_id", job.DeliveryID,
		"subscription_id", job.SubscriptionID,
		"event_id", job.EventID,
		"attempt", job.Attempt,
		"next_retry_at", nextRetryAt,
		"error", res.ErrorMessage,
	)
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
