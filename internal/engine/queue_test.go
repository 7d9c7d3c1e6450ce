package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestEnqueueJobs_ScoredByDueTime(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	jobs := []DeliveryJob{
		{DeliveryID: "d-1", EndpointID: "ep-1", URL: "http://example.com/a", Attempt: 1},
		{DeliveryID: "d-2", EndpointID: "ep-2", URL: "http://example.com/b", Attempt: 1},
	}

	if err := EnqueueJobs(context.Background(), redisClient, due, jobs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	depth, err := QueueDepth(context.Background(), redisClient)
	if err != nil {
		t.Fatalf("reading queue depth: %v", err)
	}
	if depth != 2 {
		t.Fatalf("queue depth = %d, want 2", depth)
	}

	entries, err := redisClient.ZRangeWithScores(context.Background(), DeliveryQueueKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("reading queue: %v", err)
	}
	wantScore := float64(due.UnixMicro())
	for _, e := range entries {
		if e.Score != wantScore {
			t.Errorf("score = %v, want %v", e.Score, wantScore)
		}
	}
}

func TestEnqueueJobs_EmptyBatch(t *testing.T) {
	// No Redis client needed: an empty batch returns before touching it.
	if err := EnqueueJobs(context.Background(), nil, time.Now(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
