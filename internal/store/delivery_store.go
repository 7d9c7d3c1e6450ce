package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/platformhq/webhook-delivery/internal/domain"
)

const deliveryColumns = `id, endpoint_id, event_type, event_id, request_url, request_headers,
	request_body, response_status, response_headers, response_body,
	delivered, attempt_count, duration_ms, error_message,
	triggered_at, delivered_at, next_retry_at`

func scanDelivery(row pgx.Row) (*domain.Delivery, error) {
	var d domain.Delivery
	err := row.Scan(
		&d.ID, &d.EndpointID, &d.EventType, &d.EventID, &d.RequestURL, &d.RequestHeaders,
		&d.RequestBody, &d.ResponseStatus, &d.ResponseHeaders, &d.ResponseBody,
		&d.Delivered, &d.AttemptCount, &d.DurationMs, &d.ErrorMessage,
		&d.TriggeredAt, &d.DeliveredAt, &d.NextRetryAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDelivery inserts the request snapshot for one (endpoint, event)
// pair with attempt_count 0 and delivered false.
func (s *PostgresStore) CreateDelivery(ctx context.Context, d *domain.Delivery) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_deliveries
			(id, endpoint_id, event_type, event_id, request_url, request_headers, request_body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING triggered_at
	`, d.ID, d.EndpointID, d.EventType, d.EventID, d.RequestURL, d.RequestHeaders, d.RequestBody,
	).Scan(&d.TriggeredAt)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries WHERE id = $1
	`, id)

	d, err := scanDelivery(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying delivery: %w", err)
	}
	return d, nil
}

// ListDeliveries returns an endpoint's delivery history, newest first.
func (s *PostgresStore) ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]domain.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE endpoint_id = $1
		ORDER BY triggered_at DESC
		LIMIT $2 OFFSET $3
	`, endpointID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []domain.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}

	return deliveries, rows.Err()
}

// AttemptUpdate carries the outcome of one delivery attempt plus the
// retry decision already made by the recorder.
type AttemptUpdate struct {
	DeliveryID      string
	EndpointID      string
	Delivered       bool
	ResponseStatus  *int
	ResponseHeaders map[string]string
	ResponseBody    *string
	DurationMs      int64
	ErrorMessage    *string
	NextRetryAt     *time.Time
	Now             time.Time
}

// ApplyAttempt persists an attempt outcome: the delivery row and the
// owning endpoint's denormalized counters are updated in a single
// transaction. Returns the updated delivery, or (nil, nil) when the
// delivery row no longer exists.
func (s *PostgresStore) ApplyAttempt(ctx context.Context, u AttemptUpdate) (*domain.Delivery, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var deliveredAt *time.Time
	if u.Delivered {
		deliveredAt = &u.Now
	}

	row := tx.QueryRow(ctx, `
		UPDATE webhook_deliveries SET
			attempt_count = attempt_count + 1,
			response_status = $2,
			response_headers = $3,
			response_body = $4,
			duration_ms = $5,
			error_message = $6,
			delivered = $7,
			delivered_at = $8,
			next_retry_at = $9
		WHERE id = $1
		RETURNING `+deliveryColumns,
		u.DeliveryID, u.ResponseStatus, u.ResponseHeaders, u.ResponseBody,
		u.DurationMs, u.ErrorMessage, u.Delivered, deliveredAt, u.NextRetryAt,
	)

	d, err := scanDelivery(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("updating delivery: %w", err)
	}

	if u.Delivered {
		_, err = tx.Exec(ctx, `
			UPDATE webhook_endpoints SET
				delivery_count = delivery_count + 1,
				success_count = success_count + 1,
				last_triggered_at = $2,
				last_success_at = $2
			WHERE id = $1
		`, u.EndpointID, u.Now)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE webhook_endpoints SET
				delivery_count = delivery_count + 1,
				failure_count = failure_count + 1,
				last_triggered_at = $2,
				last_failure_at = $2
			WHERE id = $1
		`, u.EndpointID, u.Now)
	}
	if err != nil {
		return nil, fmt.Errorf("updating endpoint counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing attempt: %w", err)
	}

	return d, nil
}

// ClaimedRetry is a due delivery claimed for reattempt, joined with the
// endpoint fields the executor needs.
type ClaimedRetry struct {
	Delivery           domain.Delivery
	Secret             string
	RetryEnabled       bool
	MaxAttempts        int
	RateLimitPerSecond int
}

// ClaimDueRetries selects due retries oldest-first, clears their
// next_retry_at, and invokes handoff with the claimed rows before
// committing. If handoff fails the claim rolls back and the rows stay
// due, so a delivery is only consumed once its reattempt is durably
// queued. FOR UPDATE SKIP LOCKED keeps two concurrent scan ticks off
// the same rows; a claimed row is invisible to subsequent scans until
// the recorder either marks it delivered or schedules the next retry.
func (s *PostgresStore) ClaimDueRetries(ctx context.Context, now time.Time, limit int, handoff func([]ClaimedRetry) error) ([]ClaimedRetry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT d.id, d.endpoint_id, d.event_type, d.event_id, d.request_url,
			   d.request_headers, d.request_body, d.attempt_count, d.triggered_at,
			   e.secret, e.retry_enabled, e.max_attempts, e.rate_limit_per_second
		FROM webhook_deliveries d
		JOIN webhook_endpoints e ON e.id = d.endpoint_id
		WHERE d.delivered = false
		  AND d.next_retry_at IS NOT NULL
		  AND d.next_retry_at <= $1
		  AND d.attempt_count < e.max_attempts
		  AND e.retry_enabled = true
		  AND e.active = true
		ORDER BY d.next_retry_at ASC
		LIMIT $2
		FOR UPDATE OF d SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("querying due retries: %w", err)
	}

	var claims []ClaimedRetry
	var ids []string
	for rows.Next() {
		var c ClaimedRetry
		err := rows.Scan(
			&c.Delivery.ID, &c.Delivery.EndpointID, &c.Delivery.EventType,
			&c.Delivery.EventID, &c.Delivery.RequestURL, &c.Delivery.RequestHeaders,
			&c.Delivery.RequestBody, &c.Delivery.AttemptCount, &c.Delivery.TriggeredAt,
			&c.Secret, &c.RetryEnabled, &c.MaxAttempts, &c.RateLimitPerSecond,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning due retry: %w", err)
		}
		claims = append(claims, c)
		ids = append(ids, c.Delivery.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading due retries: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE webhook_deliveries SET next_retry_at = NULL WHERE id = ANY($1)
	`, ids); err != nil {
		return nil, fmt.Errorf("claiming due retries: %w", err)
	}

	// The commit happens only after the handoff succeeds; on error the
	// deferred rollback restores next_retry_at and a later scan picks
	// the rows up again.
	if err := handoff(claims); err != nil {
		return nil, fmt.Errorf("handing off claimed retries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	return claims, nil
}

// PurgeDeliveries removes every delivery triggered before the cutoff,
// regardless of outcome, and returns the number removed.
func (s *PostgresStore) PurgeDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM webhook_deliveries WHERE triggered_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging deliveries: %w", err)
	}
	return result.RowsAffected(), nil
}
