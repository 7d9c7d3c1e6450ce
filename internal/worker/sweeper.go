package worker

import (
	"context"
	"log/slog"
	"time"
)

// PurgeStore deletes deliveries older than a cutoff.
type PurgeStore interface {
	PurgeDeliveries(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper enforces the delivery-history retention horizon on a fixed
// interval. Purging is idempotent: once a window is gone, sweeping it
// again removes nothing.
type Sweeper struct {
	store         PurgeStore
	logger        *slog.Logger
	retentionDays int
	interval      time.Duration
}

func NewSweeper(s PurgeStore, retentionDays int, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:         s,
		logger:        logger,
		retentionDays: retentionDays,
		interval:      interval,
	}
}

// Start runs one sweep immediately, then on every tick until the
// context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("retention sweeper started",
		"retention_days", s.retentionDays,
		"interval", s.interval,
	)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	removed, err := s.store.PurgeDeliveries(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to purge old deliveries", "error", err)
		return
	}

	if removed > 0 {
		s.logger.Info("old deliveries purged",
			"removed", removed,
			"cutoff", cutoff,
		)
	}
}
