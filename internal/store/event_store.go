package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/platformhq/webhook-delivery/internal/domain"
)

// CreateEvent records an ingested event. eventID is the producer's
// idempotency key; a fresh one is generated when absent.
func (s *PostgresStore) CreateEvent(ctx context.Context, orgID, eventType, eventID string, payload []byte, source string) (*domain.Event, error) {
	if eventID == "" {
		eventID = uuid.NewString()
	}

	var event domain.Event
	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (id, org_id, event_type, event_id, payload, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, org_id, event_type, event_id, payload, source, created_at
	`, uuid.NewString(), orgID, eventType, eventID, payload, source).Scan(
		&event.ID, &event.OrgID, &event.EventType, &event.EventID,
		&event.Payload, &event.Source, &event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}
	return &event, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, orgID, id string) (*domain.Event, error) {
	var event domain.Event
	err := s.pool.QueryRow(ctx, `
		SELECT id, org_id, event_type, event_id, payload, source, created_at
		FROM webhook_events WHERE id = $1 AND org_id = $2
	`, id, orgID).Scan(
		&event.ID, &event.OrgID, &event.EventType, &event.EventID,
		&event.Payload, &event.Source, &event.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return &event, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, orgID, eventType string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, org_id, event_type, event_id, payload, source, created_at FROM webhook_events WHERE org_id = $1`
	args := []interface{}{orgID}

	if eventType != "" {
		query += " AND event_type = $2"
		args = append(args, eventType)
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		err := rows.Scan(&e.ID, &e.OrgID, &e.EventType, &e.EventID, &e.Payload, &e.Source, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
