package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

const pingTimeout = 2 * time.Second

// HealthHandler serves the liveness probe.
type HealthHandler struct {
	store Pinger
	log   logrus.FieldLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Pinger, log logrus.FieldLogger) *HealthHandler {
	return &HealthHandler{store: store, log: log}
}

// Health pings the store and reports healthy or unhealthy.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	status, code := "healthy", http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("Health check failed")
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
