package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/platformhq/webhook-delivery/internal/domain"
	"github.com/platformhq/webhook-delivery/internal/engine"
	"github.com/platformhq/webhook-delivery/internal/store"
)

type EndpointHandler struct {
	store          *store.PostgresStore
	circuitBreaker *engine.CircuitBreaker
}

func NewEndpointHandler(s *store.PostgresStore, cb *engine.CircuitBreaker) *EndpointHandler {
	return &EndpointHandler{store: s, circuitBreaker: cb}
}

// Create registers a new delivery target. Configuration errors are
// rejected here, synchronously; they never reach the delivery pipeline.
// The generated secret appears in this response and nowhere else.
func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.OrgID == "" {
		respondError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !validURL(req.URL) {
		respondError(w, http.StatusBadRequest, "url must be a valid http or https URL")
		return
	}
	if len(req.Events) == 0 {
		respondError(w, http.StatusBadRequest, "at least one event pattern is required")
		return
	}
	for _, ev := range req.Events {
		if ev == "" {
			respondError(w, http.StatusBadRequest, "event patterns must be non-empty")
			return
		}
	}

	ep, err := h.store.CreateEndpoint(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create endpoint")
		return
	}

	respondJSON(w, http.StatusCreated, domain.CreateEndpointResponse{
		ID:     ep.ID,
		OrgID:  ep.OrgID,
		Name:   ep.Name,
		URL:    ep.URL,
		Secret: ep.Secret,
	})
}

func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		respondError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	endpoints, err := h.store.ListEndpoints(r.Context(), orgID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list endpoints")
		return
	}

	respondJSON(w, http.StatusOK, endpoints)
}

func (h *EndpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	ep := h.load(w, r)
	if ep == nil {
		return
	}
	respondJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		respondError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	var req domain.UpdateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL != nil && !validURL(*req.URL) {
		respondError(w, http.StatusBadRequest, "url must be a valid http or https URL")
		return
	}
	if req.Events != nil && len(*req.Events) == 0 {
		respondError(w, http.StatusBadRequest, "events list cannot be empty")
		return
	}

	ep, err := h.store.UpdateEndpoint(r.Context(), orgID, chi.URLParam(r, "id"), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update endpoint")
		return
	}
	if ep == nil {
		respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	respondJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *EndpointHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *EndpointHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		respondError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	ep, err := h.store.SetEndpointActive(r.Context(), orgID, chi.URLParam(r, "id"), active)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update endpoint")
		return
	}
	if ep == nil {
		respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	respondJSON(w, http.StatusOK, ep)
}

// Deliveries returns the endpoint's delivery history, newest first.
func (h *EndpointHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	ep := h.load(w, r)
	if ep == nil {
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	deliveries, err := h.store.ListDeliveries(r.Context(), ep.ID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}

	respondJSON(w, http.StatusOK, deliveries)
}

// Stats returns the endpoint's windowed delivery health. The window
// defaults to the last 24 hours; ?since=RFC3339 overrides it.
func (h *EndpointHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ep := h.load(w, r)
	if ep == nil {
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}

	counts, err := h.store.CountDeliveries(r.Context(), ep.ID, since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	respondJSON(w, http.StatusOK, engine.BuildEndpointStats(ep.ID, since, counts))
}

// Health combines the endpoint's denormalized counters with its current
// circuit breaker state.
func (h *EndpointHandler) Health(w http.ResponseWriter, r *http.Request) {
	ep := h.load(w, r)
	if ep == nil {
		return
	}

	resp := struct {
		EndpointID      string              `json:"endpoint_id"`
		Active          bool                `json:"active"`
		DeliveryCount   int64               `json:"delivery_count"`
		SuccessCount    int64               `json:"success_count"`
		FailureCount    int64               `json:"failure_count"`
		LastTriggeredAt *time.Time          `json:"last_triggered_at,omitempty"`
		LastSuccessAt   *time.Time          `json:"last_success_at,omitempty"`
		LastFailureAt   *time.Time          `json:"last_failure_at,omitempty"`
		Circuit         engine.CircuitState `json:"circuit"`
	}{
		EndpointID:      ep.ID,
		Active:          ep.Active,
		DeliveryCount:   ep.DeliveryCount,
		SuccessCount:    ep.SuccessCount,
		FailureCount:    ep.FailureCount,
		LastTriggeredAt: ep.LastTriggeredAt,
		LastSuccessAt:   ep.LastSuccessAt,
		LastFailureAt:   ep.LastFailureAt,
		Circuit:         h.circuitBreaker.GetState(r.Context(), ep.ID),
	}

	respondJSON(w, http.StatusOK, resp)
}

// load fetches the endpoint scoped to the caller's org, writing the
// error response itself when the lookup fails.
func (h *EndpointHandler) load(w http.ResponseWriter, r *http.Request) *domain.Endpoint {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		respondError(w, http.StatusBadRequest, "org_id is required")
		return nil
	}

	ep, err := h.store.GetEndpoint(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get endpoint")
		return nil
	}
	if ep == nil {
		respondError(w, http.StatusNotFound, "endpoint not found")
		return nil
	}
	return ep
}

func validURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
