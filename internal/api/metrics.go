package api

import (
	"net/http"

	"github.com/platformhq/webhook-delivery/internal/engine"
	"github.com/platformhq/webhook-delivery/internal/store"
	"github.com/redis/go-redis/v9"
)

type MetricsHandler struct {
	store       *store.PostgresStore
	redisClient *redis.Client
}

func NewMetricsHandler(s *store.PostgresStore, redisClient *redis.Client) *MetricsHandler {
	return &MetricsHandler{store: s, redisClient: redisClient}
}

type metricsResponse struct {
	*store.SystemMetrics
	QueueDepth int64 `json:"queue_depth"`
}

// Metrics reports system-wide delivery figures plus the current work
// queue depth.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.GetSystemMetrics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}

	depth, err := engine.QueueDepth(r.Context(), h.redisClient)
	if err != nil {
		depth = -1
	}

	respondJSON(w, http.StatusOK, metricsResponse{SystemMetrics: m, QueueDepth: depth})
}
