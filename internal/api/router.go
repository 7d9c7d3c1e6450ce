package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/platformhq/webhook-delivery/internal/engine"
	"github.com/platformhq/webhook-delivery/internal/store"
	ws "github.com/platformhq/webhook-delivery/internal/websocket"
	"github.com/redis/go-redis/v9"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(pgStore *store.PostgresStore, dispatcher *engine.Dispatcher, cb *engine.CircuitBreaker, redisClient *redis.Client, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware)

	endpointHandler := NewEndpointHandler(pgStore, cb)
	eventHandler := NewEventHandler(pgStore, dispatcher)
	deliveryHandler := NewDeliveryHandler(pgStore)
	metricsHandler := NewMetricsHandler(pgStore, redisClient)

	// Live delivery-event stream for monitoring clients
	r.Get("/ws", hub.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/endpoints", func(r chi.Router) {
			r.Post("/", endpointHandler.Create)
			r.Get("/", endpointHandler.List)
			r.Get("/{id}", endpointHandler.Get)
			r.Patch("/{id}", endpointHandler.Update)
			r.Post("/{id}/activate", endpointHandler.Activate)
			r.Post("/{id}/deactivate", endpointHandler.Deactivate)
			r.Get("/{id}/deliveries", endpointHandler.Deliveries)
			r.Get("/{id}/stats", endpointHandler.Stats)
			r.Get("/{id}/health", endpointHandler.Health)
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/", eventHandler.Create)
			r.Get("/", eventHandler.List)
			r.Get("/{id}", eventHandler.Get)
		})

		r.Get("/deliveries/{id}", deliveryHandler.Get)
		r.Get("/metrics", metricsHandler.Metrics)
	})

	return r
}

// corsMiddleware adds CORS headers for monitoring clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
