package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/metrics"
)

// SetupRoutes builds the HTTP router: health checks, the WebSocket endpoint,
// username availability and, when enabled, Prometheus metrics.
func SetupRoutes(h *Hub, cfg config.Config, m *metrics.Collectors) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws/{token}", h.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/user-available", h.UserAvailableHandler).Methods(http.MethodGet)
	if cfg.Metrics.Enabled && m != nil {
		r.Handle(cfg.Metrics.Path, m.Handler()).Methods(http.MethodGet)
	}
	return r
}
