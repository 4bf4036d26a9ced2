package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/cab-fare-service/internal/observability"
)

// NewRouter wires the public routes. /health and /metrics are registered first
// and bypass the rate limiter and request timeout; the quote and location
// routes get both.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(limiter))
	api.Use(TimeoutMiddleware(requestTimeout))
	api.HandleFunc("/quote", h.GetQuote).Methods("GET")
	api.HandleFunc("/quote", h.PostQuote).Methods("POST")
	api.HandleFunc("/locations", h.GetLocations).Methods("GET")
	api.HandleFunc("/locations/{name}/destinations", h.GetDestinations).Methods("GET")
	return router
}
