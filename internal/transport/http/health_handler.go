package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness information for the entitlement service.
type HealthHandler struct {
	store   Pinger
	version string
	started time.Time
}

// NewHealthHandler creates a health handler backed by the record store.
func NewHealthHandler(store Pinger, version string) *HealthHandler {
	return &HealthHandler{store: store, version: version, started: time.Now()}
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

// Health handles GET /api/health. The service is degraded, not down, when
// the store is unreachable: license state is cached and the caller should
// keep retrying rather than treat the machine as unlicensed.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    map[string]string{"store": "ok"},
		Timestamp: time.Now(),
	}

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks["store"] = err.Error()
			render.Status(r, http.StatusServiceUnavailable)
		}
	}

	render.JSON(w, r, resp)
}
