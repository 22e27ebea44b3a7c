package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"visitstats/internal/container"
)

const (
	serviceName    = "visitstats"
	serviceVersion = "1.0.0"
	healthTimeout  = 3 * time.Second
)

// HealthHandler handles health check requests
type HealthHandler struct {
	container *container.Container
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(container *container.Container) *HealthHandler {
	return &HealthHandler{
		container: container,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Service   string    `json:"service"`
	Store     string    `json:"store"`
	Backend   string    `json:"backend"`
}

// Check handles GET /health. It reports 503 when the visit store is unreachable.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	logger := h.container.GetLogger()

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   serviceVersion,
		Service:   serviceName,
		Store:     "ok",
		Backend:   h.container.GetConfig().StoreBackend,
	}
	status := http.StatusOK

	if err := h.container.GetVisitorService().Health(ctx); err != nil {
		logger.WithError(err).Warn("Visit store health check failed")
		response.Status = "unhealthy"
		response.Store = "unavailable"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.WithError(err).Error("Failed to encode health check response")
	}
}
