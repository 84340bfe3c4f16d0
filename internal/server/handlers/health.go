package handlers

import "context"

// HealthHandler reports daemon liveness.
type HealthHandler struct {
	version string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

// HealthRequest is an empty request.
type HealthRequest struct{}

// HealthResponse reports status and build version.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health returns ok while the daemon is serving.
func (h *HealthHandler) Health(ctx context.Context, req HealthRequest) (*HealthResponse, error) {
	return &HealthResponse{Status: "ok", Version: h.version}, nil
}
