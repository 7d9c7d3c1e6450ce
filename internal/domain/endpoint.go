package domain

import (
	"time"
)

// Endpoint is an organization-owned HTTP delivery target subscribed to
// one or more event patterns.
type Endpoint struct {
	ID                 string            `json:"id"`
	OrgID              string            `json:"org_id"`
	Name               string            `json:"name"`
	Description        string            `json:"description,omitempty"`
	URL                string            `json:"url"`
	Secret             string            `json:"secret,omitempty"`
	Events             []string          `json:"events"`
	Headers            map[string]string `json:"headers,omitempty"`
	Active             bool              `json:"active"`
	RetryEnabled       bool              `json:"retry_enabled"`
	MaxAttempts        int               `json:"max_attempts"`
	RateLimitPerSecond int               `json:"rate_limit_per_second"`
	DeliveryCount      int64             `json:"delivery_count"`
	SuccessCount       int64             `json:"success_count"`
	FailureCount       int64             `json:"failure_count"`
	LastTriggeredAt    *time.Time        `json:"last_triggered_at,omitempty"`
	LastSuccessAt      *time.Time        `json:"last_success_at,omitempty"`
	LastFailureAt      *time.Time        `json:"last_failure_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

type CreateEndpointRequest struct {
	OrgID              string            `json:"org_id"`
	Name               string            `json:"name"`
	Description        string            `json:"description,omitempty"`
	URL                string            `json:"url"`
	Events             []string          `json:"events"`
	Headers            map[string]string `json:"headers,omitempty"`
	RetryEnabled       *bool             `json:"retry_enabled,omitempty"`
	MaxAttempts        *int              `json:"max_attempts,omitempty"`
	RateLimitPerSecond *int              `json:"rate_limit_per_second,omitempty"`
}

type UpdateEndpointRequest struct {
	Name               *string            `json:"name,omitempty"`
	Description        *string            `json:"description,omitempty"`
	URL                *string            `json:"url,omitempty"`
	Events             *[]string          `json:"events,omitempty"`
	Headers            *map[string]string `json:"headers,omitempty"`
	RetryEnabled       *bool              `json:"retry_enabled,omitempty"`
	MaxAttempts        *int               `json:"max_attempts,omitempty"`
	RateLimitPerSecond *int               `json:"rate_limit_per_second,omitempty"`
}

// CreateEndpointResponse is the only place the plaintext secret is ever
// returned. Subsequent reads omit it.
type CreateEndpointResponse struct {
	ID     string `json:"id"`
	OrgID  string `json:"org_id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Secret string `json:"secret"`
}
