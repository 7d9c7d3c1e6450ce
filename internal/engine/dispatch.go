package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/platformhq/webhook-delivery/internal/domain"
	"github.com/platformhq/webhook-delivery/internal/pattern"
	"github.com/redis/go-redis/v9"
)

// EndpointSource lists the active delivery targets for an org.
type EndpointSource interface {
	ListActiveEndpoints(ctx context.Context, orgID string) ([]domain.Endpoint, error)
}

// DeliveryCreator persists new delivery records.
type DeliveryCreator interface {
	CreateDelivery(ctx context.Context, d *domain.Delivery) error
}

// Dispatcher fans an event out to every matching active endpoint: one
// delivery row per match, each immediately queued for a first attempt.
type Dispatcher struct {
	endpoints   EndpointSource
	deliveries  DeliveryCreator
	redisClient *redis.Client
	logger      *slog.Logger
}

func NewDispatcher(endpoints EndpointSource, deliveries DeliveryCreator, redisClient *redis.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		endpoints:   endpoints,
		deliveries:  deliveries,
		redisClient: redisClient,
		logger:      logger,
	}
}

// deliveryBody is the outbound wire format. On retry the exact stored
// serialization is resent, never regenerated, so receivers can dedupe
// on event_id.
type deliveryBody struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id"`
	Data      json.RawMessage `json:"data"`
}

// Dispatch matches the event against the org's active endpoints and
// creates one delivery per match. Zero matches is a no-op, not an
// error. Returns the created deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, event *domain.Event) ([]domain.Delivery, error) {
	endpoints, err := d.endpoints.ListActiveEndpoints(ctx, event.OrgID)
	if err != nil {
		return nil, fmt.Errorf("loading active endpoints: %w", err)
	}

	body, err := json.Marshal(deliveryBody{
		EventType: event.EventType,
		EventID:   event.EventID,
		Data:      event.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("serializing delivery body: %w", err)
	}

	var deliveries []domain.Delivery
	var jobs []DeliveryJob

	for _, ep := range endpoints {
		if !pattern.MatchAny(ep.Events, event.EventType) {
			continue
		}

		// Custom headers first; the body is always the serialized JSON
		// envelope, so Content-Type is fixed and cannot be overridden.
		headers := make(map[string]string, len(ep.Headers)+1)
		for k, v := range ep.Headers {
			headers[k] = v
		}
		headers["Content-Type"] = "application/json"

		delivery := domain.Delivery{
			ID:             uuid.NewString(),
			EndpointID:     ep.ID,
			EventType:      event.EventType,
			EventID:        event.EventID,
			RequestURL:     ep.URL,
			RequestHeaders: headers,
			RequestBody:    string(body),
		}

		if err := d.deliveries.CreateDelivery(ctx, &delivery); err != nil {
			return nil, fmt.Errorf("creating delivery for endpoint %s: %w", ep.ID, err)
		}

		deliveries = append(deliveries, delivery)
		jobs = append(jobs, DeliveryJob{
			DeliveryID:         delivery.ID,
			EndpointID:         ep.ID,
			URL:                ep.URL,
			Secret:             ep.Secret,
			EventType:          event.EventType,
			EventID:            event.EventID,
			Body:               delivery.RequestBody,
			Headers:            headers,
			Attempt:            1,
			MaxAttempts:        ep.MaxAttempts,
			RetryEnabled:       ep.RetryEnabled,
			RateLimitPerSecond: ep.RateLimitPerSecond,
		})
	}

	if len(jobs) == 0 {
		d.logger.Info("no matching endpoints",
			"org_id", event.OrgID,
			"event_type", event.EventType,
		)
		return deliveries, nil
	}

	if err := EnqueueJobs(ctx, d.redisClient, time.Now(), jobs); err != nil {
		return nil, err
	}

	d.logger.Info("fan-out complete",
		"org_id", event.OrgID,
		"event_type", event.EventType,
		"deliveries_queued", len(jobs),
	)

	return deliveries, nil
}
