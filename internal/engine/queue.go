package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DeliveryQueueKey = "delivery_queue"

// DeliveryJob is one attempt's worth of work queued in Redis. It
// carries the request snapshot and the endpoint fields the executor
// needs so an attempt never re-reads the endpoint row.
type DeliveryJob struct {
	DeliveryID         string            `json:"delivery_id"`
	EndpointID         string            `json:"endpoint_id"`
	URL                string            `json:"url"`
	Secret             string            `json:"secret"`
	EventType          string            `json:"event_type"`
	EventID            string            `json:"event_id"`
	Body               string            `json:"body"`
	Headers            map[string]string `json:"headers,omitempty"`
	Attempt            int               `json:"attempt"`
	MaxAttempts        int               `json:"max_attempts"`
	RetryEnabled       bool              `json:"retry_enabled"`
	RateLimitPerSecond int               `json:"rate_limit_per_second"`
}

// EnqueueJobs adds jobs to the delivery queue scored by their due time.
// Jobs due now get the current timestamp so pollers pick them up on the
// next tick.
func EnqueueJobs(ctx context.Context, client *redis.Client, due time.Time, jobs []DeliveryJob) error {
	if len(jobs) == 0 {
		return nil
	}

	pipe := client.Pipeline()
	score := float64(due.UnixMicro())

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

// QueueDepth returns the number of jobs waiting in the delivery queue.
func QueueDepth(ctx context.Context, client *redis.Client) (int64, error) {
	return client.ZCard(ctx, DeliveryQueueKey).Result()
}
