package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandler serves liveness and Prometheus metrics endpoints.
type HealthHandler struct {
	registry *prometheus.Registry
}

// NewHealthHandler creates the health handler around the metrics registry.
func NewHealthHandler(registry *prometheus.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

// Routes returns the chi router for health and metrics.
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ping", h.Ping)
	r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	return r
}

// PingResponse is the liveness answer.
type PingResponse struct {
	Status string `json:"status"`
	Time   int64  `json:"time"`
}

// Ping handles GET /ping.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, PingResponse{
		Status: "ok",
		Time:   time.Now().UnixMilli(),
	})
}
