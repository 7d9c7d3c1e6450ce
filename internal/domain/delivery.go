package domain

import (
	"time"
)

// Delivery is the mutable record of one event's delivery attempts to one
// endpoint. The request snapshot is captured at creation so retries
// resend the exact original payload; outcome fields are overwritten on
// each attempt.
type Delivery struct {
	ID              string            `json:"id"`
	EndpointID      string            `json:"endpoint_id"`
	EventType       string            `json:"event_type"`
	EventID         string            `json:"event_id"`
	RequestURL      string            `json:"request_url"`
	RequestHeaders  map[string]string `json:"request_headers"`
	RequestBody     string            `json:"request_body"`
	ResponseStatus  *int              `json:"response_status,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    *string           `json:"response_body,omitempty"`
	Delivered       bool              `json:"delivered"`
	AttemptCount    int               `json:"attempt_count"`
	DurationMs      *int64            `json:"duration_ms,omitempty"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	TriggeredAt     time.Time         `json:"triggered_at"`
	DeliveredAt     *time.Time        `json:"delivered_at,omitempty"`
	NextRetryAt     *time.Time        `json:"next_retry_at,omitempty"`
}

// Exhausted reports whether the delivery spent its attempt budget
// without succeeding. Terminal either way: no retry is scheduled, or
// the attempt count reached the endpoint's cap so the retry scan will
// never pick the row up again.
func (d *Delivery) Exhausted(maxAttempts int) bool {
	if d.Delivered || d.AttemptCount == 0 {
		return false
	}
	return d.NextRetryAt == nil || d.AttemptCount >= maxAttempts
}
