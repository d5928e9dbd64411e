package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Stores bundles the handler dependencies.
type Stores struct {
	Subscriptions SubscriptionStore
	Publisher     EventPublisher
	Events        EventLister
	Deliveries    DeliveryReader
	Metrics       MetricsReader
	Queue         QueueDepther
	DB            Pinger
	Cache         Pinger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(deps Stores) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	subHandler := NewSubscriptionHandler(deps.Subscriptions)
	eventHandler := NewEventHandler(deps.Publisher, deps.Events)
	deliveryHandler := NewDeliveryHandler(deps.Deliveries)
	metricsHandler := NewMetricsHandler(deps.Metrics, deps.Queue)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(deps.DB, deps.Cache))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", subHandler.Create)
			r.Get("/", subHandler.List)
			r.Get("/{id}", subHandler.Get)
			r.Patch("/{id}", subHandler.Update)
			r.Delete("/{id}", subHandler.Delete)
			r.Post("/{id}/deactivate", subHandler.Deactivate)
			r.Post("/{id}/reactivate", subHandler.Reactivate)
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/", eventHandler.Publish)
			r.Get("/", eventHandler.List)
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", deliveryHandler.List)
			r.Get("/{id}", deliveryHandler.Get)
		})

		r.Get("/metrics", metricsHandler.Metrics)
	})

	return r
}
