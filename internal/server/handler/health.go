package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks liveness of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	db     Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. db may be nil, in which case only
// process liveness is reported.
func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// HealthCheck responds with a JSON status. When a database pinger is wired a
// failing ping degrades the status and the response code.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.WarnContext(r.Context(), "handler: health check db ping failed",
				slog.String("error", err.Error()),
			)
			resp["status"] = "degraded"
			resp["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp["database"] = "ok"
		}
	}

	writeJSON(w, status, resp)
}
