package api

import (
	"context"
	"net/http"
)

// Pinger checks reachability of the bucket store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves GET /health. The store being down does not make the
// service unhealthy, only degraded: admission fails open and the API keeps
// serving.
type HealthHandler struct {
	store Pinger
}

// NewHealthHandler creates a health handler. A nil store reports ok.
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok"}
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Store = "unavailable"
		}
	}
	sendJSON(w, http.StatusOK, resp)
}
