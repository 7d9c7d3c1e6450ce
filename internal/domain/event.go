package domain

import (
	"encoding/json"
	"time"
)

// Event is a domain occurrence dispatched to subscribed endpoints.
// EventID is externally supplied where the producer has one (receivers
// use it to dedupe); a fresh one is generated at ingest otherwise.
type Event struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"org_id"`
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id"`
	Payload   json.RawMessage `json:"payload"`
	Source    string          `json:"source,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
