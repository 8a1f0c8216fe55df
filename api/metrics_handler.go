package api

import (
	"net/http"

	"github.com/coursegate/coursegate/metrics"
)

// MetricsProvider supplies the current metrics snapshot.
type MetricsProvider interface {
	GetSnapshot() *metrics.Snapshot
}

// MetricsHandler serves GET /metrics.
type MetricsHandler struct {
	provider MetricsProvider
}

// NewMetricsHandler creates a metrics handler.
func NewMetricsHandler(provider MetricsProvider) *MetricsHandler {
	return &MetricsHandler{provider: provider}
}

func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Only GET requests are allowed"})
		return
	}
	sendJSON(w, http.StatusOK, h.provider.GetSnapshot())
}
