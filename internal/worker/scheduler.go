package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/platformhq/webhook-delivery/internal/engine"
	"github.com/platformhq/webhook-delivery/internal/store"
	"github.com/redis/go-redis/v9"
)

// RetryStore claims due retries from the delivery ledger. The handoff
// runs inside the claim; an error from it must abort the claim so the
// rows stay due for a later scan.
type RetryStore interface {
	ClaimDueRetries(ctx context.Context, now time.Time, limit int, handoff func([]store.ClaimedRetry) error) ([]store.ClaimedRetry, error)
}

// Scheduler periodically scans for deliveries whose retry is due and
// re-enqueues them. The store claim clears next_retry_at under a row
// lock, so a slow tick and a concurrent second tick can never
// double-send the same delivery.
type Scheduler struct {
	store       RetryStore
	redisClient *redis.Client
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
}

func NewScheduler(s RetryStore, redisClient *redis.Client, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:       s,
		redisClient: redisClient,
		logger:      logger,
		interval:    interval,
		batchSize:   100,
	}
}

// Start begins the retry scan loop. It runs until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("retry scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopping")
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// scan claims one batch of due retries and queues a reattempt for
// each. The enqueue happens inside the claim handoff: if Redis is
// unreachable the claim is abandoned and the rows stay due, never
// silently dropped.
func (s *Scheduler) scan(ctx context.Context) {
	now := time.Now()

	claims, err := s.store.ClaimDueRetries(ctx, now, s.batchSize, func(claims []store.ClaimedRetry) error {
		return engine.EnqueueJobs(ctx, s.redisClient, now, retryJobs(claims))
	})
	if err != nil {
		s.logger.Error("failed to schedule retries", "error", err)
		return
	}
	if len(claims) > 0 {
		s.logger.Info("retries scheduled", "count", len(claims))
	}
}

// retryJobs shapes claimed rows into queue jobs carrying the original
// request snapshot and the next attempt number.
func retryJobs(claims []store.ClaimedRetry) []engine.DeliveryJob {
	jobs := make([]engine.DeliveryJob, 0, len(claims))
	for _, c := range claims {
		jobs = append(jobs, engine.DeliveryJob{
			DeliveryID:         c.Delivery.ID,
			EndpointID:         c.Delivery.EndpointID,
			URL:                c.Delivery.RequestURL,
			Secret:             c.Secret,
			EventType:          c.Delivery.EventType,
			EventID:            c.Delivery.EventID,
			Body:               c.Delivery.RequestBody,
			Headers:            c.Delivery.RequestHeaders,
			Attempt:            c.Delivery.AttemptCount + 1,
			MaxAttempts:        c.MaxAttempts,
			RetryEnabled:       c.RetryEnabled,
			RateLimitPerSecond: c.RateLimitPerSecond,
		})
	}
	return jobs
}
