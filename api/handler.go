package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coursegate/coursegate/core"
	"github.com/coursegate/coursegate/middleware"
)

// AdmissionChecker is the slice of the gate the check endpoint needs.
type AdmissionChecker interface {
	Check(ctx context.Context, clientKey string, authenticated bool) (core.Decision, middleware.Outcome)
}

// Handler serves explicit admission checks for callers that cannot run the
// in-process middleware (sidecars, other gateways).
type Handler struct {
	checker AdmissionChecker
}

// NewHandler creates a check endpoint backed by the given gate.
func NewHandler(checker AdmissionChecker) *Handler {
	return &Handler{checker: checker}
}

// CheckRequest is the body of POST /v1/admission/check.
type CheckRequest struct {
	ClientKey     string `json:"client_key"`
	Authenticated bool   `json:"authenticated"`
}

// CheckResponse reports the decision for one admission check.
type CheckResponse struct {
	Admitted     bool    `json:"admitted"`
	Remaining    float64 `json:"remaining"`
	Limit        float64 `json:"limit"`
	RetryAfterMs int64   `json:"retry_after_ms,omitempty"`

	// Degraded is set when the store was unreachable and the decision is
	// the configured failure policy rather than real bucket state.
	Degraded bool `json:"degraded,omitempty"`
}

// ErrorResponse is the JSON error shape shared by the API handlers.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CheckAdmission handles POST requests carrying a CheckRequest.
func (h *Handler) CheckAdmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Only POST requests are allowed"})
		return
	}

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON body"})
		return
	}
	if req.ClientKey == "" {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "client_key is required"})
		return
	}

	decision, outcome := h.checker.Check(r.Context(), req.ClientKey, req.Authenticated)

	if outcome == middleware.StoreUnavailable {
		sendJSON(w, http.StatusOK, CheckResponse{Admitted: true, Degraded: true})
		return
	}

	sendJSON(w, http.StatusOK, CheckResponse{
		Admitted:     decision.Admitted,
		Remaining:    decision.Remaining,
		Limit:        decision.Limit,
		RetryAfterMs: decision.RetryAfterMs,
	})
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
