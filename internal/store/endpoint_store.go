package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/platformhq/webhook-delivery/internal/domain"
)

const defaultMaxAttempts = 3

// endpointColumns are the fields safe to return from read paths. The
// secret is deliberately absent: it is exposed exactly once, at
// creation.
const endpointColumns = `id, org_id, name, description, url, events, headers, active,
	retry_enabled, max_attempts, rate_limit_per_second,
	delivery_count, success_count, failure_count,
	last_triggered_at, last_success_at, last_failure_at,
	created_at, updated_at`

func scanEndpoint(row pgx.Row) (*domain.Endpoint, error) {
	var e domain.Endpoint
	err := row.Scan(
		&e.ID, &e.OrgID, &e.Name, &e.Description, &e.URL, &e.Events, &e.Headers,
		&e.Active, &e.RetryEnabled, &e.MaxAttempts, &e.RateLimitPerSecond,
		&e.DeliveryCount, &e.SuccessCount, &e.FailureCount,
		&e.LastTriggeredAt, &e.LastSuccessAt, &e.LastFailureAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEndpoint inserts a new endpoint with a server-generated secret.
// The returned Endpoint carries the plaintext secret; this is the only
// read path that does.
func (s *PostgresStore) CreateEndpoint(ctx context.Context, req domain.CreateEndpointRequest) (*domain.Endpoint, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}

	retryEnabled := true
	if req.RetryEnabled != nil {
		retryEnabled = *req.RetryEnabled
	}
	maxAttempts := defaultMaxAttempts
	if req.MaxAttempts != nil && *req.MaxAttempts > 0 {
		maxAttempts = *req.MaxAttempts
	}
	rateLimit := 0
	if req.RateLimitPerSecond != nil && *req.RateLimitPerSecond > 0 {
		rateLimit = *req.RateLimitPerSecond
	}
	headers := req.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_endpoints
			(id, org_id, name, description, url, secret, events, headers,
			 retry_enabled, max_attempts, rate_limit_per_second)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+endpointColumns,
		uuid.NewString(), req.OrgID, req.Name, req.Description, req.URL,
		secret, req.Events, headers, retryEnabled, maxAttempts, rateLimit,
	)

	e, err := scanEndpoint(row)
	if err != nil {
		return nil, fmt.Errorf("inserting endpoint: %w", err)
	}
	e.Secret = secret
	return e, nil
}

func (s *PostgresStore) GetEndpoint(ctx context.Context, orgID, id string) (*domain.Endpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+endpointColumns+`
		FROM webhook_endpoints WHERE id = $1 AND org_id = $2
	`, id, orgID)

	e, err := scanEndpoint(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying endpoint: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListEndpoints(ctx context.Context, orgID string) ([]domain.Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+endpointColumns+`
		FROM webhook_endpoints
		WHERE org_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := []domain.Endpoint{}
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		endpoints = append(endpoints, *e)
	}

	return endpoints, rows.Err()
}

// ListActiveEndpoints returns every active endpoint for the org,
// including secrets. Delivery-path use only; never exposed over the API.
func (s *PostgresStore) ListActiveEndpoints(ctx context.Context, orgID string) ([]domain.Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+endpointColumns+`, secret
		FROM webhook_endpoints
		WHERE org_id = $1 AND active = true
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying active endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []domain.Endpoint
	for rows.Next() {
		var e domain.Endpoint
		err := rows.Scan(
			&e.ID, &e.OrgID, &e.Name, &e.Description, &e.URL, &e.Events, &e.Headers,
			&e.Active, &e.RetryEnabled, &e.MaxAttempts, &e.RateLimitPerSecond,
			&e.DeliveryCount, &e.SuccessCount, &e.FailureCount,
			&e.LastTriggeredAt, &e.LastSuccessAt, &e.LastFailureAt,
			&e.CreatedAt, &e.UpdatedAt,
			&e.Secret,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning active endpoint: %w", err)
		}
		endpoints = append(endpoints, e)
	}

	return endpoints, rows.Err()
}

func (s *PostgresStore) UpdateEndpoint(ctx context.Context, orgID, id string, req domain.UpdateEndpointRequest) (*domain.Endpoint, error) {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	add := func(col string, val interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, argIdx))
		args = append(args, val)
		argIdx++
	}

	if req.Name != nil {
		add("name", *req.Name)
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.URL != nil {
		add("url", *req.URL)
	}
	if req.Events != nil {
		add("events", *req.Events)
	}
	if req.Headers != nil {
		add("headers", *req.Headers)
	}
	if req.RetryEnabled != nil {
		add("retry_enabled", *req.RetryEnabled)
	}
	if req.MaxAttempts != nil {
		add("max_attempts", *req.MaxAttempts)
	}
	if req.RateLimitPerSecond != nil {
		add("rate_limit_per_second", *req.RateLimitPerSecond)
	}

	if len(setClauses) == 0 {
		return s.GetEndpoint(ctx, orgID, id)
	}

	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE webhook_endpoints SET %s
		WHERE id = $%d AND org_id = $%d
		RETURNING `+endpointColumns,
		strings.Join(setClauses, ", "), argIdx, argIdx+1)
	args = append(args, id, orgID)

	e, err := scanEndpoint(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("updating endpoint: %w", err)
	}
	return e, nil
}

// SetEndpointActive flips the active flag. Deactivation soft-disables
// the endpoint; deliveries referencing it are never orphaned by a hard
// delete.
func (s *PostgresStore) SetEndpointActive(ctx context.Context, orgID, id string, active bool) (*domain.Endpoint, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE webhook_endpoints SET active = $3, updated_at = NOW()
		WHERE id = $1 AND org_id = $2
		RETURNING `+endpointColumns,
		id, orgID, active)

	e, err := scanEndpoint(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("setting endpoint active state: %w", err)
	}
	return e, nil
}

func generateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(bytes), nil
}
