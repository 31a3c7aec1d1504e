package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks a dependency's availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store   Pinger
	version string
}

// NewHealthHandler creates a health handler. store may be nil when no
// shared store is configured (memory mode).
func NewHealthHandler(store Pinger, version string) *HealthHandler {
	return &HealthHandler{store: store, version: version}
}

// Health reports process liveness.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// Ready reports whether the shared store is reachable. Admission can
// still serve fail-open without it, but new instances should not receive
// traffic until the store answers.
// GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.store.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"store":  "unreachable",
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
