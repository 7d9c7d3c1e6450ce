package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/platformhq/webhook-delivery/internal/engine"
	"github.com/redis/go-redis/v9"
)

// Poller continuously drains the Redis delivery queue into the worker
// pool. Claiming is the ZRem: if another instance removed the member
// first, this one skips it, so a job is handed to exactly one worker.
type Poller struct {
	redisClient  *redis.Client
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

// NewPoller creates a poller that pulls due jobs from the Redis sorted set.
func NewPoller(redisClient *redis.Client, pool *Pool, logger *slog.Logger) *Poller {
	return &Poller{
		redisClient:  redisClient,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("queue poller started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("queue poller stopping")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll fetches a batch of due jobs and submits the ones it wins.
func (p *Poller) poll(ctx context.Context) {
	now := float64(time.Now().UnixMicro())

	results, err := p.redisClient.ZRangeByScore(ctx, engine.DeliveryQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   formatFloat(now),
		Count: p.batchSize,
	}).Result()
	if err != nil {
		p.logger.Error("failed to poll delivery queue", "error", err)
		return
	}

	for _, member := range results {
		removed, err := p.redisClient.ZRem(ctx, engine.DeliveryQueueKey, member).Result()
		if err != nil {
			p.logger.Error("failed to remove job from queue", "error", err)
			continue
		}
		if removed == 0 {
			// Another poller instance already claimed this job
			continue
		}

		var job engine.DeliveryJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			p.logger.Error("failed to unmarshal job", "error", err)
			continue
		}

		p.pool.Submit(job)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
