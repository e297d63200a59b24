package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthHandler serves /healthz with the acceptor's live-session count and uptime.
type HealthHandler struct {
	srv     *Server
	started time.Time
}

// NewHealthHandler creates a [HealthHandler] reporting on srv.
func NewHealthHandler(srv *Server) *HealthHandler {
	return &HealthHandler{srv: srv, started: time.Now()}
}

// Routes returns the HTTP routes this handler serves.
func (h *HealthHandler) Routes() []string {
	return []string{"/healthz"}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Status   string `json:"status"`
		Sessions int64  `json:"active_sessions"`
		Uptime   string `json:"uptime"`
	}{
		Status:   "ok",
		Sessions: h.srv.Active(),
		Uptime:   time.Since(h.started).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.srv.logger.Warn("failed to write health response", "error", err)
	}
}

// NewOpsRouter builds the operational router: /healthz and, when metrics are enabled, /metrics.
func NewOpsRouter(srv *Server) *BasicRouter {
	router := NewBasicRouter()
	router.Use(Recoverer(srv.logger), RequestLogger(srv.logger))
	router.Handler(NewHealthHandler(srv))
	if srv.metrics != nil {
		router.Handle(http.MethodGet, "/metrics", srv.metrics.Handler())
	}
	return router
}
