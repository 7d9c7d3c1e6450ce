package store

import (
	"context"
	"fmt"
	"time"
)

// DeliveryCounts holds raw windowed delivery figures for one endpoint.
// Rate computation lives in the engine package so it is testable
// without a database.
type DeliveryCounts struct {
	Total         int
	Successful    int
	Failed        int
	AvgDurationMs *float64
}

// CountDeliveries aggregates the endpoint's deliveries triggered at or
// after since. Average duration covers delivered rows only and is nil
// when none delivered.
func (s *PostgresStore) CountDeliveries(ctx context.Context, endpointID string, since time.Time) (*DeliveryCounts, error) {
	var c DeliveryCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE delivered = true) AS successful,
			AVG(duration_ms) FILTER (WHERE delivered = true) AS avg_duration_ms
		FROM webhook_deliveries
		WHERE endpoint_id = $1 AND triggered_at >= $2
	`, endpointID, since).Scan(&c.Total, &c.Successful, &c.AvgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("querying delivery counts: %w", err)
	}

	c.Failed = c.Total - c.Successful
	return &c, nil
}

// SystemMetrics holds whole-system figures for the metrics endpoint.
type SystemMetrics struct {
	TotalDeliveries int     `json:"total_deliveries"`
	SuccessCount    int     `json:"success_count"`
	FailedCount     int     `json:"failed_count"`
	ExhaustedCount  int     `json:"exhausted_count"`
	SuccessRate     float64 `json:"success_rate"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	ActiveEndpoints int     `json:"active_endpoints"`
	TotalEvents     int     `json:"total_events"`
}

// GetSystemMetrics returns aggregate delivery statistics across all
// endpoints. Exhausted rows are undelivered with the attempt budget
// spent: either no retry is scheduled, or the attempt count already
// reached the endpoint's cap so the scheduler will never pick them up.
func (s *PostgresStore) GetSystemMetrics(ctx context.Context) (*SystemMetrics, error) {
	var m SystemMetrics

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE d.delivered = true) AS success,
			COUNT(*) FILTER (WHERE d.delivered = false) AS failed,
			COUNT(*) FILTER (
				WHERE d.delivered = false AND d.attempt_count > 0
					AND (d.next_retry_at IS NULL OR d.attempt_count >= e.max_attempts)
			) AS exhausted,
			COALESCE(AVG(d.duration_ms) FILTER (WHERE d.delivered = true), 0) AS avg_duration_ms
		FROM webhook_deliveries d
		JOIN webhook_endpoints e ON e.id = d.endpoint_id
	`).Scan(&m.TotalDeliveries, &m.SuccessCount, &m.FailedCount, &m.ExhaustedCount, &m.AvgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("querying delivery metrics: %w", err)
	}

	if m.TotalDeliveries > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalDeliveries) * 100
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM webhook_endpoints WHERE active = true
	`).Scan(&m.ActiveEndpoints)
	if err != nil {
		return nil, fmt.Errorf("querying active endpoints: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM webhook_events
	`).Scan(&m.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("querying total events: %w", err)
	}

	return &m, nil
}
