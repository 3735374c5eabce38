package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/crop-advisor/internal/observability"
)

// NewRouter wires the page, health and metrics routes. Page routes carry
// the request timeout; /health and /metrics do not.
func NewRouter(h *Handler, logger *zap.Logger, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	pages := router.NewRoute().Subrouter()
	pages.Use(TimeoutMiddleware(requestTimeout))
	pages.HandleFunc("/", h.Crop).Methods(http.MethodGet, http.MethodPost)
	pages.HandleFunc("/weather", h.Weather).Methods(http.MethodGet, http.MethodPost)
	return router
}
