package handler

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// HealthHandler serves the liveness endpoint. Named checks are optional
// backend pings; any failure turns the response into a 503.
type HealthHandler struct {
	checks map[string]func(context.Context) error
	now    func() time.Time
}

// NewHealthHandler creates a HealthHandler. checks may be nil.
func NewHealthHandler(checks map[string]func(context.Context) error) *HealthHandler {
	return &HealthHandler{checks: checks, now: time.Now}
}

// HealthCheck responds with the server time and the result of every check.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	if len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, body)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			continue
		}
		results[name] = "ok"
	}
	body["checks"] = results
	writeJSON(w, status, body)
}
