package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/platformhq/webhook-delivery/internal/domain"
	"github.com/platformhq/webhook-delivery/internal/engine"
	ws "github.com/platformhq/webhook-delivery/internal/websocket"
	"github.com/redis/go-redis/v9"
)

// maxResponseRead caps how much of a response body is read off the
// wire. Larger than the stored truncation limit so the recorder, not
// the transport, decides the cut.
const maxResponseRead = 64 << 10

// rateLimitRequeueDelay is how long a rate-limited job waits before it
// re-enters the queue. Being throttled is not an attempt, so no attempt
// budget is spent.
const rateLimitRequeueDelay = time.Second

// Deliverer performs one signed HTTP delivery attempt per job and hands
// the outcome to the Recorder. It never returns an error to the caller;
// every failure mode becomes an attempt outcome.
type Deliverer struct {
	httpClient     *http.Client
	recorder       *Recorder
	circuitBreaker *engine.CircuitBreaker
	rateLimiter    *engine.RateLimiter
	redisClient    *redis.Client
	hub            *ws.Hub
	logger         *slog.Logger
}

func NewDeliverer(
	timeout time.Duration,
	recorder *Recorder,
	cb *engine.CircuitBreaker,
	rl *engine.RateLimiter,
	redisClient *redis.Client,
	hub *ws.Hub,
	logger *slog.Logger,
) *Deliverer {
	return &Deliverer{
		httpClient:     &http.Client{Timeout: timeout},
		recorder:       recorder,
		circuitBreaker: cb,
		rateLimiter:    rl,
		redisClient:    redisClient,
		hub:            hub,
		logger:         logger,
	}
}

// Deliver executes one attempt for the job: rate-limit gate, circuit
// gate, signed POST, outcome recording, breaker bookkeeping, and a hub
// broadcast.
func (d *Deliverer) Deliver(ctx context.Context, job engine.DeliveryJob) {
	if d.rateLimiter != nil && !d.rateLimiter.Allow(ctx, job.EndpointID, job.RateLimitPerSecond) {
		d.requeue(ctx, job)
		return
	}

	if d.circuitBreaker != nil {
		if state, allowed := d.circuitBreaker.AllowRequest(ctx, job.EndpointID); !allowed {
			// Short-circuited attempts consume budget and follow the
			// normal backoff path like any other failure.
			d.record(ctx, job, AttemptOutcome{
				Error: fmt.Sprintf("circuit breaker %s: delivery short-circuited", state),
			})
			return
		}
	}

	start := time.Now()
	outcome := d.attempt(ctx, job)
	outcome.Duration = time.Since(start)

	d.record(ctx, job, outcome)
}

// attempt issues the signed HTTP POST and captures the raw outcome.
func (d *Deliverer) attempt(ctx context.Context, job engine.DeliveryJob) AttemptOutcome {
	body := []byte(job.Body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.URL, bytes.NewReader(body))
	if err != nil {
		return AttemptOutcome{Error: fmt.Sprintf("failed to create request: %v", err)}
	}

	for k, v := range job.Headers {
		req.Header.Set(k, v)
	}
	// The signature covers the exact stored body, so retries carry the
	// same signature as the first attempt.
	req.Header.Set("X-Webhook-Signature", computeHMAC(body, job.Secret))
	req.Header.Set("X-Webhook-Event", job.EventType)
	req.Header.Set("X-Webhook-ID", job.EventID)
	req.Header.Set("X-Webhook-Attempt", fmt.Sprintf("%d", job.Attempt))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return AttemptOutcome{Error: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseRead))

	return AttemptOutcome{
		Status:  &resp.StatusCode,
		Headers: flattenHeaders(resp.Header),
		Body:    string(respBody),
	}
}

// record persists the outcome and emits breaker state, logs, and the
// hub broadcast.
func (d *Deliverer) record(ctx context.Context, job engine.DeliveryJob, outcome AttemptOutcome) {
	delivery, err := d.recorder.Record(ctx, job, outcome)
	if err != nil {
		d.logger.Error("failed to record delivery attempt",
			"error", err,
			"delivery_id", job.DeliveryID,
			"endpoint_id", job.EndpointID,
		)
		return
	}
	if delivery == nil {
		return
	}

	if d.circuitBreaker != nil {
		if outcome.Succeeded() {
			d.circuitBreaker.RecordSuccess(ctx, job.EndpointID)
		} else {
			d.circuitBreaker.RecordFailure(ctx, job.EndpointID)
		}
	}

	durationMs := outcome.Duration.Milliseconds()

	if outcome.Succeeded() {
		d.logger.Info("delivery successful",
			"delivery_id", job.DeliveryID,
			"endpoint_id", job.EndpointID,
			"attempt", delivery.AttemptCount,
			"status_code", outcome.Status,
			"duration_ms", durationMs,
		)
	} else {
		d.logger.Warn("delivery failed",
			"delivery_id", job.DeliveryID,
			"endpoint_id", job.EndpointID,
			"attempt", delivery.AttemptCount,
			"status_code", outcome.Status,
			"error", outcome.Error,
			"duration_ms", durationMs,
			"next_retry_at", delivery.NextRetryAt,
		)
	}

	if d.hub != nil {
		d.hub.Broadcast(ws.DeliveryEvent{
			Type:       eventTypeFor(delivery, job.MaxAttempts),
			DeliveryID: job.DeliveryID,
			EndpointID: job.EndpointID,
			EventType:  job.EventType,
			EventID:    job.EventID,
			Attempt:    delivery.AttemptCount,
			StatusCode: outcome.Status,
			DurationMs: durationMs,
			Error:      outcome.Error,
			Timestamp:  time.Now(),
		})
	}
}

// requeue puts a rate-limited job back onto the queue with a short delay.
func (d *Deliverer) requeue(ctx context.Context, job engine.DeliveryJob) {
	if err := engine.EnqueueJobs(ctx, d.redisClient, time.Now().Add(rateLimitRequeueDelay), []engine.DeliveryJob{job}); err != nil {
		d.logger.Error("failed to requeue rate-limited job",
			"error", err,
			"delivery_id", job.DeliveryID,
		)
	}
}

func eventTypeFor(delivery *domain.Delivery, maxAttempts int) string {
	switch {
	case delivery.Delivered:
		return "delivery_success"
	case delivery.Exhausted(maxAttempts):
		return "delivery_exhausted"
	default:
		return "delivery_retrying"
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, values := range h {
		out[k] = strings.Join(values, ", ")
	}
	return out
}

// computeHMAC generates an HMAC-SHA256 signature for the payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
