package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/platformhq/webhook-delivery/internal/engine"
	"github.com/platformhq/webhook-delivery/internal/store"
)

type EventHandler struct {
	store      *store.PostgresStore
	dispatcher *engine.Dispatcher
}

func NewEventHandler(s *store.PostgresStore, d *engine.Dispatcher) *EventHandler {
	return &EventHandler{store: s, dispatcher: d}
}

type createEventRequest struct {
	OrgID     string          `json:"org_id"`
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Source    string          `json:"source,omitempty"`
}

type createEventResponse struct {
	ID                string `json:"id"`
	EventID           string `json:"event_id"`
	EventType         string `json:"event_type"`
	DeliveriesCreated int    `json:"deliveries_created"`
}

// Create ingests a domain event and fans it out to subscribed
// endpoints. Delivery failures never surface here; the event producer
// only sees validation errors.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.OrgID == "" {
		respondError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	if req.EventType == "" {
		respondError(w, http.StatusBadRequest, "event_type is required")
		return
	}
	if len(req.Payload) == 0 {
		respondError(w, http.StatusBadRequest, "payload is required")
		return
	}
	if !json.Valid(req.Payload) {
		respondError(w, http.StatusBadRequest, "payload must be valid JSON")
		return
	}

	event, err := h.store.CreateEvent(r.Context(), req.OrgID, req.EventType, req.EventID, req.Payload, req.Source)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	deliveries, err := h.dispatcher.Dispatch(r.Context(), event)
	if err != nil {
		// Event is saved but fan-out failed; it can be replayed later.
		respondJSON(w, http.StatusCreated, createEventResponse{
			ID:        event.ID,
			EventID:   event.EventID,
			EventType: event.EventType,
		})
		return
	}

	respondJSON(w, http.StatusCreated, createEventResponse{
		ID:                event.ID,
		EventID:           event.EventID,
		EventType:         event.EventType,
		DeliveriesCreated: len(deliveries),
	})
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		respondError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	eventType := r.URL.Query().Get("event_type")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.store.ListEvents(r.Context(), orgID, eventType, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	respondJSON(w, http.StatusOK, events)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		respondError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	event, err := h.store.GetEvent(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	respondJSON(w, http.StatusOK, event)
}
