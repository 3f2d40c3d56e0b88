package api

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck handles GET /ops/health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", c.Name).Msg("health check failed")
			deps[c.Name] = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
			continue
		}
		deps[c.Name] = "ok"
	}

	writeJSON(w, code, map[string]interface{}{
		"status":       status,
		"dependencies": deps,
	})
}
